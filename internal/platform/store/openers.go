package store

import (
	"context"
	"fmt"
	"time"

	chx "fourkeys/internal/platform/store/ch"
	"fourkeys/internal/platform/store/pg"
)

// seams for tests
var (
	openPGClient = pg.Open
	openCHClient = chx.Open
	pingPool     = func(ctx context.Context, p *pg.PG) error { return p.Pool.Ping(ctx) }
	sleepCtx     = func(ctx context.Context, d time.Duration) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}
)

const (
	backoffStart   = 250 * time.Millisecond
	backoffCeiling = 8 * time.Second
)

// openPG opens the pool, pings it with exponential backoff and wraps it in the sql adapter
func openPG(ctx context.Context, cfg Config, s *Store) (TxRunner, error) {
	var tracer pg.QueryTracer
	if cfg.PG.LogSQL {
		tracer = pg.Tracer(s.Log)
	}

	p, err := openPGClient(ctx, pg.Config{
		URL:             cfg.PG.URL,
		MaxConns:        cfg.PG.MaxConns,
		SlowMs:          cfg.PG.SlowQueryMs,
		ApplicationName: cfg.AppName,
	}, tracer, nil)
	if err != nil {
		return nil, err
	}

	attempts := cfg.PG.ConnectRetries
	if attempts <= 0 {
		attempts = 6
	}
	pingTimeout := cfg.PG.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}

	var lastErr error
	backoff := backoffStart
	for i := 0; i < attempts; i++ {
		toCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		lastErr = pingPool(toCtx, p)
		cancel()
		if lastErr == nil {
			return newPGAdapter(p), nil
		}
		s.Log.Warn().Err(lastErr).Int("attempt", i+1).Dur("backoff", backoff).Msg("postgres not ready")
		if err := sleepCtx(ctx, backoff); err != nil {
			p.Close()
			return nil, err
		}
		backoff = min(backoff*2, backoffCeiling)
	}

	p.Close()
	return nil, fmt.Errorf("postgres ping failed after %d attempts: %w", attempts, lastErr)
}

func openCH(ctx context.Context, cfg Config, s *Store) (Clickhouse, error) {
	if s.CH != nil {
		return s.CH, nil
	}
	c, err := openCHClient(ctx, chx.Config{
		URL:         cfg.CH.URL,
		Database:    cfg.CH.Database,
		DialTimeout: cfg.CH.DialTimeout,
		ClientInfo:  chx.BuildClientInfo(cfg.CH.Role, cfg.CH.Tag),
		Debug:       cfg.CH.Debug,
		Debugf: func(format string, v ...any) {
			s.Log.Debug().Str("component", "ch").Msgf(format, v...)
		},
	})
	if err != nil {
		return nil, err
	}
	return newCHAdapter(c), nil
}
