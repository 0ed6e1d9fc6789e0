package guardrails

import (
	"context"
	"time"
)

// Timeouts bounds the phases of one project. Zero means no extra limit.
type Timeouts struct {
	// Project caps everything done for one project
	Project time.Duration

	// Fetch caps each listing call against the host
	Fetch time.Duration

	// DB caps each ledger write
	DB time.Duration
}

// ForProject derives the project scoped context
func (t Timeouts) ForProject(parent context.Context) (context.Context, context.CancelFunc) {
	return Bound(parent, t.Project)
}

// ForFetch derives a context for one host listing
func (t Timeouts) ForFetch(parent context.Context) (context.Context, context.CancelFunc) {
	return Bound(parent, t.Fetch)
}

// ForDB derives a context for one ledger write
func (t Timeouts) ForDB(parent context.Context) (context.Context, context.CancelFunc) {
	return Bound(parent, t.DB)
}

// Remaining is the time left before ctx's deadline, zero when none or passed
func Remaining(ctx context.Context) time.Duration {
	dl, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	return max(time.Until(dl), 0)
}

// Bound returns a child of parent limited to d, never extending the parent's deadline.
// d <= 0 yields a plain cancelable child.
func Bound(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	if rem := Remaining(parent); rem > 0 && rem < d {
		d = rem
	}
	return context.WithTimeout(parent, d)
}
