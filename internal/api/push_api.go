// Package api exposes the HTTP surface of the push service: device
// registration, the batch-run trigger and the on-demand Live Activity
// start.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"log/slog"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/sylmmhy/Lumi-sub007/internal/pipeline"
	"github.com/sylmmhy/Lumi-sub007/pkg/dispatch"
	"github.com/sylmmhy/Lumi-sub007/pkg/push"
)

type PushAPI struct {
	Devices   dispatch.DeviceStore
	Processor *pipeline.Processor
	Starter   *pipeline.Starter
	Logger    *slog.Logger
}

func NewPushAPI(devices dispatch.DeviceStore, processor *pipeline.Processor, starter *pipeline.Starter, logger *slog.Logger) *PushAPI {
	return &PushAPI{
		Devices:   devices,
		Processor: processor,
		Starter:   starter,
		Logger:    logger,
	}
}

// --- Device registry ---

type RegisterDeviceRequest struct {
	Platform                 push.Platform `json:"platform"`
	Token                    string        `json:"token"`
	DeviceType               string        `json:"deviceType,omitempty"`
	Sandbox                  bool          `json:"sandbox,omitempty"`
	LiveActivityToken        string        `json:"liveActivityToken,omitempty"`
	LiveActivityTokenSandbox string        `json:"liveActivityTokenSandbox,omitempty"`
}

func (api *PushAPI) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !req.Platform.Valid() {
		response.WriteJSONError(w, http.StatusBadRequest, "unknown platform")
		return
	}
	if req.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	rec := push.DeviceRecord{
		UserID:                   userID,
		Platform:                 req.Platform,
		Token:                    req.Token,
		DeviceType:               req.DeviceType,
		Sandbox:                  req.Sandbox,
		LiveActivityToken:        req.LiveActivityToken,
		LiveActivityTokenSandbox: req.LiveActivityTokenSandbox,
	}
	if err := api.Devices.RegisterDevice(ctx, rec); err != nil {
		api.Logger.Error("failed to register device", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type UnregisterDeviceRequest struct {
	Platform push.Platform `json:"platform"`
}

func (api *PushAPI) UnregisterDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req UnregisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !req.Platform.Valid() {
		response.WriteJSONError(w, http.StatusBadRequest, "unknown platform")
		return
	}

	if err := api.Devices.UnregisterDevice(ctx, userID, req.Platform); err != nil {
		// Log but don't fail hard; idempotency is preferred for unregister
		api.Logger.Warn("failed to unregister device", "err", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Batch trigger ---

// ProcessBatch runs one queue invocation synchronously and returns its
// summary, so the external scheduler (and its logs) see partial
// failures without digging through ours.
func (api *PushAPI) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	summary, err := api.Processor.Run(r.Context())
	if err != nil {
		api.Logger.Error("batch run failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "batch run failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(summary)
}

// --- On-demand Live Activity start ---

func (api *PushAPI) StartLiveActivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req pipeline.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.UserID == "" && req.DeviceToken == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "userId or deviceToken required")
		return
	}
	if req.TaskID == "" || req.TaskTitle == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "taskId and taskTitle required")
		return
	}

	result, err := api.Starter.Start(ctx, req)
	if err != nil {
		if errors.Is(err, push.ErrDeviceNotFound) {
			response.WriteJSONError(w, http.StatusNotFound, "no live activity token registered")
			return
		}
		api.Logger.Error("live activity start failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "live activity start failed")
		return
	}
	if !result.Found {
		response.WriteJSONError(w, http.StatusNotFound, "no live activity token registered")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}
