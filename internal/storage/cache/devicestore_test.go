package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sylmmhy/Lumi-sub007/internal/storage/cache"
	"github.com/sylmmhy/Lumi-sub007/pkg/push"
)

// --- Mocks ---
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string, dest interface{}) error {
	args := m.Called(ctx, key, dest)
	return args.Error(0)
}
func (m *MockCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}
func (m *MockCache) Del(ctx context.Context, keys ...string) error {
	return m.Called(ctx, keys).Error(0)
}

type MockRealStore struct {
	mock.Mock
}

func (m *MockRealStore) RegisterDevice(ctx context.Context, rec push.DeviceRecord) error {
	return m.Called(ctx, rec).Error(0)
}
func (m *MockRealStore) UnregisterDevice(ctx context.Context, userID string, platform push.Platform) error {
	return m.Called(ctx, userID, platform).Error(0)
}
func (m *MockRealStore) GetDevice(ctx context.Context, userID string, platform push.Platform) (*push.DeviceRecord, error) {
	args := m.Called(ctx, userID, platform)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*push.DeviceRecord), args.Error(1)
}
func (m *MockRealStore) GetLiveActivityToken(ctx context.Context, userID string) (*push.LiveActivityTarget, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*push.LiveActivityTarget), args.Error(1)
}

func TestCachedDeviceStore_ReadAside(t *testing.T) {
	ctx := context.Background()
	deviceKey := "push:device:user-1:voip"

	t.Run("Cache miss falls through to store and refills", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedDeviceStore(mockDB, mockCache, time.Hour)

		rec := &push.DeviceRecord{UserID: "user-1", Platform: push.PlatformVoIP, Token: "tok-1"}

		mockCache.On("Get", ctx, deviceKey, mock.Anything).Return(assert.AnError) // Error implies miss
		mockDB.On("GetDevice", ctx, "user-1", push.PlatformVoIP).Return(rec, nil)
		mockCache.On("Set", ctx, deviceKey, rec, time.Hour).Return(nil)

		got, err := store.GetDevice(ctx, "user-1", push.PlatformVoIP)

		require.NoError(t, err)
		assert.Equal(t, "tok-1", got.Token)
		mockDB.AssertExpectations(t)
		mockCache.AssertExpectations(t)
	})

	t.Run("Cache hit never touches the store", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedDeviceStore(mockDB, mockCache, time.Hour)

		mockCache.On("Get", ctx, deviceKey, mock.Anything).
			Run(func(args mock.Arguments) {
				dest := args.Get(2).(*push.DeviceRecord)
				*dest = push.DeviceRecord{UserID: "user-1", Platform: push.PlatformVoIP, Token: "cached-tok"}
			}).Return(nil)

		got, err := store.GetDevice(ctx, "user-1", push.PlatformVoIP)

		require.NoError(t, err)
		assert.Equal(t, "cached-tok", got.Token)
		mockDB.AssertNotCalled(t, "GetDevice", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Store miss is not cached", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedDeviceStore(mockDB, mockCache, time.Hour)

		mockCache.On("Get", ctx, deviceKey, mock.Anything).Return(assert.AnError)
		mockDB.On("GetDevice", ctx, "user-1", push.PlatformVoIP).Return(nil, push.ErrDeviceNotFound)

		_, err := store.GetDevice(ctx, "user-1", push.PlatformVoIP)

		require.ErrorIs(t, err, push.ErrDeviceNotFound)
		mockCache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestCachedDeviceStore_ImmediateInvalidation(t *testing.T) {
	ctx := context.Background()

	t.Run("Register invalidates device and live activity keys", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedDeviceStore(mockDB, mockCache, time.Hour)

		rec := push.DeviceRecord{UserID: "user-1", Platform: push.PlatformVoIP, Token: "tok-1"}

		mockDB.On("RegisterDevice", ctx, rec).Return(nil)
		mockCache.On("Del", ctx, []string{"push:device:user-1:voip", "push:liveactivity:user-1"}).Return(nil)

		require.NoError(t, store.RegisterDevice(ctx, rec))
		mockDB.AssertExpectations(t)
		mockCache.AssertExpectations(t)
	})

	t.Run("Unregister invalidates cache immediately", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedDeviceStore(mockDB, mockCache, time.Hour)

		mockDB.On("UnregisterDevice", ctx, "user-1", push.PlatformVoIP).Return(nil)
		mockCache.On("Del", ctx, []string{"push:device:user-1:voip", "push:liveactivity:user-1"}).Return(nil)

		require.NoError(t, store.UnregisterDevice(ctx, "user-1", push.PlatformVoIP))
		mockCache.AssertExpectations(t)
	})

	t.Run("FCM registration leaves live activity key alone", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedDeviceStore(mockDB, mockCache, time.Hour)

		rec := push.DeviceRecord{UserID: "user-1", Platform: push.PlatformFCM, Token: "fcm-tok"}

		mockDB.On("RegisterDevice", ctx, rec).Return(nil)
		mockCache.On("Del", ctx, []string{"push:device:user-1:fcm"}).Return(nil)

		require.NoError(t, store.RegisterDevice(ctx, rec))
		mockCache.AssertExpectations(t)
	})

	t.Run("Store write failure skips invalidation", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedDeviceStore(mockDB, mockCache, time.Hour)

		rec := push.DeviceRecord{UserID: "user-1", Platform: push.PlatformVoIP, Token: "tok-1"}
		mockDB.On("RegisterDevice", ctx, rec).Return(assert.AnError)

		require.Error(t, store.RegisterDevice(ctx, rec))
		mockCache.AssertNotCalled(t, "Del", mock.Anything, mock.Anything)
	})
}
