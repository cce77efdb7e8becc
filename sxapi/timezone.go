package sxapi

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// TimezoneCache maps organisation ids to their timezone name. Entries are
// filled on first lookup and never invalidated, so a timezone is treated as
// fixed for the lifetime of the process. One cache may be shared by several
// clients.
type TimezoneCache struct {
	mu    sync.RWMutex
	zones map[string]string
	group singleflight.Group
}

// NewTimezoneCache creates an empty cache
func NewTimezoneCache() *TimezoneCache {
	return &TimezoneCache{zones: make(map[string]string)}
}

// Lookup returns the cached timezone of organisationID, calling fetch once on
// a miss. Concurrent misses for the same id share one fetch, which is not
// cancelled with the caller that started it. Failed fetches are not cached.
func (c *TimezoneCache) Lookup(ctx context.Context, organisationID string, fetch func(context.Context) (string, error)) (string, error) {
	if tz, ok := c.Get(organisationID); ok {
		return tz, nil
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(organisationID, func() (any, error) {
		if tz, ok := c.Get(organisationID); ok {
			return tz, nil
		}

		tz, err := fetch(flightCtx)
		if err != nil {
			return "", err
		}

		c.mu.Lock()
		c.zones[organisationID] = tz
		c.mu.Unlock()
		return tz, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Get returns a cached timezone without fetching
func (c *TimezoneCache) Get(organisationID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tz, ok := c.zones[organisationID]
	return tz, ok
}

// Len returns the number of cached organisations
func (c *TimezoneCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.zones)
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}
