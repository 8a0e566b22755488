package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/sylmmhy/Lumi-sub007/internal/api"
	"github.com/sylmmhy/Lumi-sub007/internal/pipeline"
	"github.com/sylmmhy/Lumi-sub007/pkg/dispatch"
	"github.com/sylmmhy/Lumi-sub007/pkg/metrics"
	"github.com/sylmmhy/Lumi-sub007/pkg/push"
)

// --- Mocks ---

type MockDeviceStore struct {
	mock.Mock
}

func (m *MockDeviceStore) RegisterDevice(ctx context.Context, rec push.DeviceRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *MockDeviceStore) UnregisterDevice(ctx context.Context, userID string, platform push.Platform) error {
	return m.Called(ctx, userID, platform).Error(0)
}

func (m *MockDeviceStore) GetDevice(ctx context.Context, userID string, platform push.Platform) (*push.DeviceRecord, error) {
	args := m.Called(ctx, userID, platform)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*push.DeviceRecord), args.Error(1)
}

func (m *MockDeviceStore) GetLiveActivityToken(ctx context.Context, userID string) (*push.LiveActivityTarget, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*push.LiveActivityTarget), args.Error(1)
}

type MockQueueStore struct {
	mock.Mock
}

func (m *MockQueueStore) GetPendingNotifications(ctx context.Context, limit int) ([]push.PendingNotification, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]push.PendingNotification), args.Error(1)
}

func (m *MockQueueStore) MarkNotificationSent(ctx context.Context, id string, success bool, errorDetail string) error {
	return m.Called(ctx, id, success, errorDetail).Error(0)
}

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Send(ctx context.Context, req dispatch.SendRequest) push.Result {
	return m.Called(ctx, req).Get(0).(push.Result)
}

type nopPacer struct{}

func (nopPacer) Wait(context.Context) error { return nil }

// --- Setup ---

func setupAPI(t *testing.T) (*api.PushAPI, *MockDeviceStore, *MockQueueStore, *MockDispatcher) {
	t.Helper()
	devices := new(MockDeviceStore)
	queue := new(MockQueueStore)
	d := new(MockDispatcher)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()

	processor := pipeline.NewProcessor(queue, devices, d, nopPacer{}, pipeline.ProcessorOptions{}, m, logger)
	starter := pipeline.NewStarter(devices, d, m, logger)
	return api.NewPushAPI(devices, processor, starter, logger), devices, queue, d
}

// Helper to inject the user handle into context (simulating auth middleware).
func withUser(req *http.Request, userID string) *http.Request {
	ctx := middleware.ContextWithUserID(req.Context(), userID)
	return req.WithContext(ctx)
}

// --- Tests ---

func TestRegisterDevice(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		apiHandler, devices, _, _ := setupAPI(t)
		body, _ := json.Marshal(api.RegisterDeviceRequest{
			Platform: push.PlatformVoIP,
			Token:    "voip-token-abc",
			Sandbox:  true,
		})
		req := withUser(httptest.NewRequest("POST", "/api/v1/devices/register", bytes.NewReader(body)), "user-123")
		w := httptest.NewRecorder()

		devices.On("RegisterDevice", mock.Anything, mock.MatchedBy(func(rec push.DeviceRecord) bool {
			return rec.UserID == "user-123" && rec.Platform == push.PlatformVoIP &&
				rec.Token == "voip-token-abc" && rec.Sandbox
		})).Return(nil)

		apiHandler.RegisterDevice(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		devices.AssertExpectations(t)
	})

	t.Run("Rejects Missing Token", func(t *testing.T) {
		apiHandler, _, _, _ := setupAPI(t)
		body, _ := json.Marshal(api.RegisterDeviceRequest{Platform: push.PlatformVoIP})
		req := withUser(httptest.NewRequest("POST", "/api/v1/devices/register", bytes.NewReader(body)), "user-123")
		w := httptest.NewRecorder()

		apiHandler.RegisterDevice(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Rejects Unknown Platform", func(t *testing.T) {
		apiHandler, _, _, _ := setupAPI(t)
		body, _ := json.Marshal(map[string]string{"platform": "carrier-pigeon", "token": "abc"})
		req := withUser(httptest.NewRequest("POST", "/api/v1/devices/register", bytes.NewReader(body)), "user-123")
		w := httptest.NewRecorder()

		apiHandler.RegisterDevice(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Rejects Unauthenticated", func(t *testing.T) {
		apiHandler, _, _, _ := setupAPI(t)
		body, _ := json.Marshal(api.RegisterDeviceRequest{Platform: push.PlatformVoIP, Token: "abc"})
		req := httptest.NewRequest("POST", "/api/v1/devices/register", bytes.NewReader(body))
		w := httptest.NewRecorder()

		apiHandler.RegisterDevice(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestUnregisterDevice(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		apiHandler, devices, _, _ := setupAPI(t)
		body, _ := json.Marshal(api.UnregisterDeviceRequest{Platform: push.PlatformVoIP})
		req := withUser(httptest.NewRequest("POST", "/api/v1/devices/unregister", bytes.NewReader(body)), "user-123")
		w := httptest.NewRecorder()

		devices.On("UnregisterDevice", mock.Anything, "user-123", push.PlatformVoIP).Return(nil)

		apiHandler.UnregisterDevice(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		devices.AssertExpectations(t)
	})

	t.Run("Store Failure Still Returns NoContent", func(t *testing.T) {
		apiHandler, devices, _, _ := setupAPI(t)
		body, _ := json.Marshal(api.UnregisterDeviceRequest{Platform: push.PlatformVoIP})
		req := withUser(httptest.NewRequest("POST", "/api/v1/devices/unregister", bytes.NewReader(body)), "user-123")
		w := httptest.NewRecorder()

		devices.On("UnregisterDevice", mock.Anything, "user-123", push.PlatformVoIP).
			Return(assert.AnError)

		apiHandler.UnregisterDevice(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestProcessBatch(t *testing.T) {
	t.Run("Returns Summary With Partial Failures", func(t *testing.T) {
		apiHandler, devices, queue, d := setupAPI(t)

		queue.On("GetPendingNotifications", mock.Anything, pipeline.DefaultBatchSize).
			Return([]push.PendingNotification{
				{ID: "n1", UserID: "u1", TaskTitle: "Stretch", DeviceToken: "tok-1"},
				{ID: "n2", UserID: "u2", TaskTitle: "Run"},
			}, nil)
		devices.On("GetDevice", mock.Anything, mock.Anything, push.PlatformVoIP).
			Return(nil, push.ErrDeviceNotFound).Maybe()
		d.On("Send", mock.Anything, mock.Anything).Return(push.Result{Success: true}).Once()
		queue.On("MarkNotificationSent", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

		req := withUser(httptest.NewRequest("POST", "/api/v1/process", nil), "scheduler")
		w := httptest.NewRecorder()

		apiHandler.ProcessBatch(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var summary push.BatchSummary
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
		assert.Equal(t, 2, summary.Processed)
		assert.Equal(t, 1, summary.Successful)
		assert.Equal(t, 1, summary.Failed)
	})

	t.Run("Fetch Failure Is 500", func(t *testing.T) {
		apiHandler, _, queue, _ := setupAPI(t)

		queue.On("GetPendingNotifications", mock.Anything, pipeline.DefaultBatchSize).
			Return(nil, assert.AnError)

		req := withUser(httptest.NewRequest("POST", "/api/v1/process", nil), "scheduler")
		w := httptest.NewRecorder()

		apiHandler.ProcessBatch(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestStartLiveActivity(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		apiHandler, devices, _, d := setupAPI(t)

		devices.On("GetLiveActivityToken", mock.Anything, "user-123").
			Return(&push.LiveActivityTarget{Token: "la-token", Sandbox: true}, nil)
		d.On("Send", mock.Anything, mock.MatchedBy(func(req dispatch.SendRequest) bool {
			return req.Type == push.TypeLiveActivity && req.DeviceToken == "la-token"
		})).Return(push.Result{Success: true}).Once()

		body, _ := json.Marshal(pipeline.StartRequest{
			UserID:    "user-123",
			TaskID:    "task-1",
			TaskTitle: "Morning stretch",
		})
		req := withUser(httptest.NewRequest("POST", "/api/v1/live-activity/start", bytes.NewReader(body)), "user-123")
		w := httptest.NewRecorder()

		apiHandler.StartLiveActivity(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var result pipeline.StartResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		assert.True(t, result.Found)
		assert.True(t, result.Push.Success)
	})

	t.Run("No Token Registered Is 404", func(t *testing.T) {
		apiHandler, devices, _, _ := setupAPI(t)

		devices.On("GetLiveActivityToken", mock.Anything, "user-123").
			Return(nil, push.ErrDeviceNotFound)

		body, _ := json.Marshal(pipeline.StartRequest{
			UserID:    "user-123",
			TaskID:    "task-1",
			TaskTitle: "Run",
		})
		req := withUser(httptest.NewRequest("POST", "/api/v1/live-activity/start", bytes.NewReader(body)), "user-123")
		w := httptest.NewRecorder()

		apiHandler.StartLiveActivity(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Rejects Missing Target", func(t *testing.T) {
		apiHandler, _, _, _ := setupAPI(t)

		body, _ := json.Marshal(pipeline.StartRequest{TaskID: "task-1", TaskTitle: "Run"})
		req := withUser(httptest.NewRequest("POST", "/api/v1/live-activity/start", bytes.NewReader(body)), "user-123")
		w := httptest.NewRecorder()

		apiHandler.StartLiveActivity(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Rejects Missing Task Fields", func(t *testing.T) {
		apiHandler, _, _, _ := setupAPI(t)

		body, _ := json.Marshal(pipeline.StartRequest{UserID: "user-123"})
		req := withUser(httptest.NewRequest("POST", "/api/v1/live-activity/start", bytes.NewReader(body)), "user-123")
		w := httptest.NewRecorder()

		apiHandler.StartLiveActivity(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
