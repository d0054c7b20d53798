package resolver

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/osa030/tunebox/internal/domain/track"
)

// Cached memoizes successful resolutions and collapses concurrent lookups
// of the same ref into one call.
type Cached struct {
	next  Resolver
	cache *expirable.LRU[track.Ref, *track.Resolution]
	group singleflight.Group
}

// NewCached wraps next with a cache of size entries living for ttl.
func NewCached(next Resolver, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = 512
	}
	return &Cached{
		next:  next,
		cache: expirable.NewLRU[track.Ref, *track.Resolution](size, nil, ttl),
	}
}

// Resolve returns a cached resolution or calls the wrapped resolver.
func (c *Cached) Resolve(ctx context.Context, ref track.Ref) (*track.Resolution, error) {
	if res, ok := c.cache.Get(ref); ok {
		return cloneResolution(res), nil
	}

	v, err, _ := c.group.Do(string(ref), func() (interface{}, error) {
		res, err := c.next.Resolve(ctx, ref)
		if err != nil {
			return nil, err
		}
		c.cache.Add(ref, res)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneResolution(v.(*track.Resolution)), nil
}

// Forget drops ref from the cache.
func (c *Cached) Forget(ref track.Ref) {
	c.cache.Remove(ref)
}

// Len returns the number of cached entries.
func (c *Cached) Len() int {
	return c.cache.Len()
}
