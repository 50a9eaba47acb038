package directory

import (
	"context"
	"time"

	"github.com/zjrosen/rostersync/internal/cachemanager"
)

// ProfileSource is anything that can build a Profile.
type ProfileSource interface {
	Profile(ctx context.Context, key string) (Profile, error)
}

// CachedProfiles memoizes ad-hoc profile lookups for a short TTL so repeated
// lookups of the same username do not hit the directory. Failed lookups are
// not cached.
type CachedProfiles struct {
	rt  *cachemanager.ReadThroughCache[string, Profile, string]
	ttl time.Duration
}

// NewCachedProfiles wraps src. A ttl <= 0 disables caching.
func NewCachedProfiles(src ProfileSource, ttl time.Duration) *CachedProfiles {
	cache := cachemanager.NewInMemoryCacheManager[string, Profile]("profiles", ttl, cachemanager.DefaultCleanupInterval)
	return &CachedProfiles{
		rt:  cachemanager.NewReadThroughCache[string, Profile, string](cache, src.Profile, ttl <= 0),
		ttl: ttl,
	}
}

func (c *CachedProfiles) Profile(ctx context.Context, key string) (Profile, error) {
	return c.rt.Get(ctx, key, key, c.ttl)
}

// Forget drops any cached profile for key.
func (c *CachedProfiles) Forget(ctx context.Context, key string) {
	c.rt.Invalidate(ctx, key)
}
