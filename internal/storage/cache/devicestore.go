package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/sylmmhy/Lumi-sub007/pkg/dispatch"
	"github.com/sylmmhy/Lumi-sub007/pkg/push"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or a specific error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the keys.
	Del(ctx context.Context, keys ...string) error
}

// CachedDeviceStore is a decorator that adds read-aside caching to any
// DeviceStore. Reads hit Redis first; writes invalidate so that a
// re-registration or unregister takes effect immediately.
type CachedDeviceStore struct {
	realStore dispatch.DeviceStore
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedDeviceStore(realStore dispatch.DeviceStore, cache CacheClient, ttl time.Duration) *CachedDeviceStore {
	return &CachedDeviceStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- READ PATHS (Read-Aside) ---

func (s *CachedDeviceStore) GetDevice(ctx context.Context, userID string, platform push.Platform) (*push.DeviceRecord, error) {
	key := s.deviceKey(userID, platform)

	var cached push.DeviceRecord
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	fresh, err := s.realStore.GetDevice(ctx, userID, platform)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization, not a transaction: if Redis is down
	// we still serve from the real store.
	_ = s.cache.Set(ctx, key, fresh, s.ttl)
	return fresh, nil
}

func (s *CachedDeviceStore) GetLiveActivityToken(ctx context.Context, userID string) (*push.LiveActivityTarget, error) {
	key := s.liveActivityKey(userID)

	var cached push.LiveActivityTarget
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	fresh, err := s.realStore.GetLiveActivityToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	_ = s.cache.Set(ctx, key, fresh, s.ttl)
	return fresh, nil
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedDeviceStore) RegisterDevice(ctx context.Context, rec push.DeviceRecord) error {
	if err := s.realStore.RegisterDevice(ctx, rec); err != nil {
		return err
	}
	return s.invalidate(ctx, rec.UserID, rec.Platform)
}

func (s *CachedDeviceStore) UnregisterDevice(ctx context.Context, userID string, platform push.Platform) error {
	if err := s.realStore.UnregisterDevice(ctx, userID, platform); err != nil {
		return err
	}
	return s.invalidate(ctx, userID, platform)
}

// --- Helpers ---

func (s *CachedDeviceStore) invalidate(ctx context.Context, userID string, platform push.Platform) error {
	// The Live Activity key derives from the voip record, so both keys
	// go whenever that record changes.
	keys := []string{s.deviceKey(userID, platform)}
	if platform == push.PlatformVoIP {
		keys = append(keys, s.liveActivityKey(userID))
	}
	return s.cache.Del(ctx, keys...)
}

func (s *CachedDeviceStore) deviceKey(userID string, platform push.Platform) string {
	return fmt.Sprintf("push:device:%s:%s", userID, platform)
}

func (s *CachedDeviceStore) liveActivityKey(userID string) string {
	return fmt.Sprintf("push:liveactivity:%s", userID)
}
