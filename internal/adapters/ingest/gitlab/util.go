package gitlab

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"
)

// rateLimit is the subset of GitLab's RateLimit-* headers the client acts on
type rateLimit struct {
	remaining  int // -1 when the header is absent
	reset      time.Time
	retryAfter int
}

func parseRateHeaders(h http.Header) rateLimit {
	rl := rateLimit{remaining: -1}
	if s := h.Get("RateLimit-Remaining"); s != "" {
		rl.remaining = atoi(s)
	}
	if sec := atoi(h.Get("RateLimit-Reset")); sec > 0 {
		rl.reset = time.Unix(int64(sec), 0).UTC()
	}
	rl.retryAfter = atoi(h.Get("Retry-After"))
	return rl
}

// limited reports whether a 403 carries rate limit exhaustion rather than a permission failure
func (r rateLimit) limited() bool {
	return r.remaining == 0 || r.retryAfter > 0
}

// wait decides how long to wait based on headers; zero means use backoff
func (r rateLimit) wait(now time.Time) time.Duration {
	if r.retryAfter > 0 {
		return time.Duration(r.retryAfter) * time.Second
	}
	if r.remaining == 0 && r.reset.After(now) {
		return r.reset.Sub(now)
	}
	return 0
}

func atoi(s string) int {
	if s == "" {
		return 0
	}
	i, _ := strconv.Atoi(s)
	return i
}

func drainAndClose(rc io.ReadCloser) error {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 512))
	return rc.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
