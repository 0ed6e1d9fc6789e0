// Package gitlab provides a resilient GitLab REST v4 client for the migration
package gitlab

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	perr "fourkeys/internal/platform/errors"
	"fourkeys/internal/platform/logger"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUA        = "fourkeys-migrate"
	defaultMaxRetry  = 5
	defaultRetryBase = 500 * time.Millisecond
	defaultPerPage   = 100
	maxBackoff       = 30 * time.Second
)

// Options configures the Client
type Options struct {
	// BaseURL is the instance root, e.g. https://gitlab.example.com; /api/v4 is appended
	BaseURL   string
	Token     string
	// OAuth sends Token as an OAuth2 bearer token instead of PRIVATE-TOKEN
	OAuth     bool
	UserAgent string
	Timeout   time.Duration

	// Retry config for transport errors, 5xx and rate limits
	MaxRetries int
	RetryBase  time.Duration

	PerPage int
}

// Client is a minimal GitLab REST client with retries and offset pagination
type Client struct {
	http  *http.Client
	opts  Options
	api   string
	log   logger.Logger
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewClient creates a new Client with sane defaults
func NewClient(o Options) *Client {
	if o.UserAgent == "" {
		o.UserAgent = defaultUA
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetry
	}
	if o.RetryBase <= 0 {
		o.RetryBase = defaultRetryBase
	}
	if o.PerPage <= 0 || o.PerPage > 100 {
		o.PerPage = defaultPerPage
	}
	hc := &http.Client{Timeout: o.Timeout}
	if o.OAuth && o.Token != "" {
		hc = oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: o.Token}))
		hc.Timeout = o.Timeout
	}
	return &Client{
		http:  hc,
		opts:  o,
		api:   strings.TrimRight(o.BaseURL, "/") + "/api/v4",
		log:   *logger.Named("gitlab"),
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// Do issues a GET-style request with auth, retries and rate limit handling
// only 2xx responses are returned; the caller closes the body
func (c *Client) Do(ctx context.Context, method, path string, q url.Values) (*http.Response, error) {
	u := c.api + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, method, u, nil)
		if err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "gitlab new request failed")
		}
		req.Header.Set("User-Agent", c.opts.UserAgent)
		req.Header.Set("Accept", "application/json")
		if c.opts.Token != "" && !c.opts.OAuth {
			req.Header.Set("PRIVATE-TOKEN", c.opts.Token)
		}

		start := c.now()
		resp, err := c.http.Do(req)
		lat := c.now().Sub(start)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt >= c.opts.MaxRetries {
				return nil, perr.Wrapf(err, perr.ErrorCodeUnavailable, "gitlab %s failed", path)
			}
			if err := c.wait(ctx, c.backoff(attempt), attempt, "gitlab transport error retrying"); err != nil {
				return nil, err
			}
			continue
		}

		rl := parseRateHeaders(resp.Header)
		c.log.Debug().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Int("attempt", attempt).
			Dur("latency", lat).
			Int("rate_remaining", rl.remaining).
			Msg("gitlab http response")

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp, nil

		case resp.StatusCode == http.StatusTooManyRequests,
			resp.StatusCode == http.StatusForbidden && rl.limited():
			_ = drainAndClose(resp.Body)
			if attempt >= c.opts.MaxRetries {
				return nil, perr.Newf(perr.ErrorCodeTooManyRequests, "gitlab rate limited on %s", path)
			}
			d := rl.wait(c.now())
			if d <= 0 {
				d = c.backoff(attempt)
			}
			if err := c.wait(ctx, d, attempt, "gitlab rate limited backing off"); err != nil {
				return nil, err
			}

		case resp.StatusCode >= 500:
			_ = drainAndClose(resp.Body)
			if attempt >= c.opts.MaxRetries {
				return nil, perr.Newf(perr.ErrorCodeUnavailable, "gitlab %s returned %d", path, resp.StatusCode)
			}
			if err := c.wait(ctx, c.backoff(attempt), attempt, "gitlab transient error retrying"); err != nil {
				return nil, err
			}

		default:
			return nil, statusError(resp, path)
		}
	}
}

func (c *Client) wait(ctx context.Context, d time.Duration, attempt int, msg string) error {
	c.log.Warn().Dur("retry_in", d).Int("attempt", attempt).Msg(msg)
	return c.sleep(ctx, d)
}

// backoff doubles RetryBase per attempt up to maxBackoff
func (c *Client) backoff(attempt int) time.Duration {
	d := c.opts.RetryBase << uint(min(attempt, 16))
	return min(d, maxBackoff)
}

// statusError maps a terminal non-2xx response to a perr code and closes the body
func statusError(resp *http.Response, path string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	_ = resp.Body.Close()
	msg := strings.TrimSpace(string(body))

	var code perr.ErrorCode
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		code = perr.ErrorCodeUnauthorized
	case http.StatusForbidden:
		code = perr.ErrorCodeForbidden
	case http.StatusNotFound:
		code = perr.ErrorCodeNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		code = perr.ErrorCodeInvalidArgument
	default:
		code = perr.ErrorCodeUnknown
	}
	return perr.WithOp(perr.Newf(code, "gitlab status %d body %s", resp.StatusCode, msg), path)
}
