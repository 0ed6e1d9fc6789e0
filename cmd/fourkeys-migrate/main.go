package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fourkeys/internal/platform/config"
	"fourkeys/internal/platform/logger"
)

func main() {
	if err := config.LoadDotenv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	logger.Init(logger.FromEnv())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := App().RunContext(ctx, os.Args)
	stop()
	if err != nil {
		logger.Get().Error().Err(err).Msg("fourkeys-migrate failed")
		os.Exit(1)
	}
}
