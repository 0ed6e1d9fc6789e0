// Package cache memoises project snapshots for the lifetime of one migration run
package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"fourkeys/internal/adapters/ingest/gitlab"
	"fourkeys/internal/core/events"
)

// Fetcher loads a project from the host
type Fetcher interface {
	Project(ctx context.Context, id int64) (gitlab.Project, error)
}

// Cache maps project id to snapshot. Safe for concurrent use.
// Concurrent misses on one id share a single fetch; failures are not stored.
type Cache struct {
	fetch   Fetcher
	timeout time.Duration
	group   singleflight.Group

	mu   sync.RWMutex
	byID map[int64]events.Project
}

// Option configures a Cache
type Option func(*Cache)

// WithFetchTimeout bounds each shared fetch; d <= 0 leaves it unbounded
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) { c.timeout = d }
}

// New returns an empty cache backed by f
func New(f Fetcher, opts ...Option) *Cache {
	c := &Cache{fetch: f, byID: map[int64]events.Project{}}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ByID returns the snapshot for id, fetching it on first use.
// The shared fetch runs detached from ctx; ctx only bounds how long this caller waits.
func (c *Cache) ByID(ctx context.Context, id int64) (events.Project, error) {
	if p, ok := c.get(id); ok {
		return p, nil
	}
	ch := c.group.DoChan(strconv.FormatInt(id, 10), func() (any, error) {
		if p, ok := c.get(id); ok {
			return p, nil
		}
		fctx, cancel := c.detach(ctx)
		defer cancel()
		gp, err := c.fetch.Project(fctx, id)
		if err != nil {
			return nil, err
		}
		return c.store(id, Snapshot(gp)), nil
	})
	select {
	case <-ctx.Done():
		return events.Project{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return events.Project{}, r.Err
		}
		return r.Val.(events.Project), nil
	}
}

func (c *Cache) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	fctx := context.WithoutCancel(ctx)
	if c.timeout > 0 {
		return context.WithTimeout(fctx, c.timeout)
	}
	return context.WithCancel(fctx)
}

// FromHandle returns the snapshot for an already fetched project without a
// host call. An entry cached earlier for the same id wins.
func (c *Cache) FromHandle(p gitlab.Project) events.Project {
	if cached, ok := c.get(p.ID); ok {
		return cached
	}
	return c.store(p.ID, Snapshot(p))
}

// Len is the number of cached projects
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

func (c *Cache) get(id int64) (events.Project, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byID[id]
	return p, ok
}

// store keeps the first snapshot written for id and returns whichever is cached
func (c *Cache) store(id int64, p events.Project) events.Project {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.byID[id]; ok {
		return existing
	}
	c.byID[id] = p
	return p
}

// Snapshot maps a host project onto the metadata project block
func Snapshot(p gitlab.Project) events.Project {
	return events.Project{
		ID:                p.ID,
		Name:              p.Name,
		Description:       p.Description,
		WebURL:            p.WebURL,
		AvatarURL:         p.AvatarURL,
		GitSSHURL:         p.SSHURLToRepo,
		GitHTTPURL:        p.HTTPURLToRepo,
		Namespace:         p.Namespace.Name,
		VisibilityLevel:   events.VisibilityLevel,
		PathWithNamespace: p.PathWithNamespace,
		DefaultBranch:     p.DefaultBranch,
		CIConfigPath:      p.CIConfigPath,
		Homepage:          p.WebURL,
		URL:               p.SSHURLToRepo,
		SSHURL:            p.SSHURLToRepo,
		HTTPURL:           p.HTTPURLToRepo,
	}
}
