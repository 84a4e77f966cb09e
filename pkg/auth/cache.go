package auth

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultExpiryWindow is how long before expiry a cached credential is
// refreshed.
const DefaultExpiryWindow = 5 * time.Minute

// Cache holds the current credential snapshot of a source Provider.
// Readers load the snapshot without locking; a refresh runs at most once at
// a time and publishes the complete new snapshot atomically. Snapshots that
// were already handed out are never modified.
type Cache struct {
	source  Provider
	window  time.Duration
	now     func() time.Time
	current atomic.Pointer[Credential]
	group   singleflight.Group
}

type CacheOption func(*Cache)

// WithExpiryWindow sets how early before expiry the snapshot is refreshed.
func WithExpiryWindow(window time.Duration) CacheOption {
	return func(c *Cache) {
		c.window = window
	}
}

// WithCacheClock overrides the clock used for expiry checks.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

// NewCache wraps source in a Cache.
func NewCache(source Provider, opts ...CacheOption) *Cache {
	c := &Cache{
		source: source,
		window: DefaultExpiryWindow,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) fresh() *Credential {
	cur := c.current.Load()
	if cur == nil || cur.ExpiresWithin(c.now(), c.window) {
		return nil
	}
	return cur
}

// Credential returns the cached snapshot, refreshing it from the source when
// it is missing or about to expire.
func (c *Cache) Credential(ctx context.Context) (*Credential, error) {
	if cur := c.fresh(); cur != nil {
		return cur, nil
	}

	// The refresh outlives a single caller's cancellation so concurrent
	// waiters still receive its result.
	refreshCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan("refresh", func() (any, error) {
		if cur := c.fresh(); cur != nil {
			return cur, nil
		}
		cred, err := c.source.Credential(refreshCtx)
		if err != nil {
			return nil, err
		}
		c.current.Store(cred)
		return cred, nil
	})

	select {
	case <-ctx.Done():
		return nil, unavailable("cache", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Credential), nil
	}
}

// Invalidate drops the cached snapshot so the next call refreshes it, for
// example after the service rejected the credential.
func (c *Cache) Invalidate() {
	c.current.Store(nil)
}
