package repokit

import (
	"context"
	"fmt"
	"time"
)

// MustGuard runs Guard with a default 10s budget and panics on error; for process startup
func MustGuard(ctx context.Context, st interface{ Guard(context.Context) error }) {
	if st == nil {
		panic("repokit: nil guard")
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}
	if err := st.Guard(ctx); err != nil {
		panic(fmt.Errorf("dependency guard failed: %w", err))
	}
}
