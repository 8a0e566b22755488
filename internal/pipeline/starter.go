package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sylmmhy/Lumi-sub007/internal/platform/apns"
	"github.com/sylmmhy/Lumi-sub007/pkg/dispatch"
	"github.com/sylmmhy/Lumi-sub007/pkg/metrics"
	"github.com/sylmmhy/Lumi-sub007/pkg/push"
)

// DefaultRemainingSeconds is used when a start request does not say how
// long the countdown runs.
const DefaultRemainingSeconds = 60

// StartRequest asks for one Live Activity push-to-start. Either UserID
// (registry lookup) or an explicit DeviceToken + Sandbox must be set.
type StartRequest struct {
	UserID           string `json:"userId,omitempty"`
	DeviceToken      string `json:"deviceToken,omitempty"`
	Sandbox          bool   `json:"sandbox,omitempty"`
	TaskID           string `json:"taskId"`
	TaskTitle        string `json:"taskTitle"`
	ScheduledTime    string `json:"scheduledTime"`
	RemainingSeconds int    `json:"remainingSeconds,omitempty"`
}

// StartResult is relayed synchronously to the caller. Found is false
// when no Live Activity token could be resolved; no dispatch happens
// in that case.
type StartResult struct {
	Found bool        `json:"found"`
	Push  push.Result `json:"push"`
}

// Starter is the on-demand entry point: one lookup, one dispatch, no
// queue and no retry.
type Starter struct {
	devices    dispatch.DeviceStore
	dispatcher dispatch.Dispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewStarter(devices dispatch.DeviceStore, dispatcher dispatch.Dispatcher, m *metrics.Metrics, logger *slog.Logger) *Starter {
	return &Starter{
		devices:    devices,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger.With("component", "LiveActivityStarter"),
	}
}

// Start resolves the target token, builds the push-to-start payload and
// dispatches once.
func (s *Starter) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	target, err := s.resolveTarget(ctx, req)
	if errors.Is(err, push.ErrDeviceNotFound) {
		s.logger.Info("No Live Activity token for user", "user_id", req.UserID)
		return StartResult{Found: false}, nil
	}
	if err != nil {
		return StartResult{}, fmt.Errorf("resolve live activity token: %w", err)
	}

	remaining := req.RemainingSeconds
	if remaining <= 0 {
		remaining = DefaultRemainingSeconds
	}

	payload := apns.NewLiveActivityStartPayload(
		req.TaskID, req.TaskTitle, req.ScheduledTime, req.UserID, remaining, time.Now())

	s.metrics.IncLiveActivityStarts()
	result := s.dispatcher.Send(ctx, dispatch.SendRequest{
		DeviceToken: target.Token,
		Type:        push.TypeLiveActivity,
		Payload:     payload,
		Sandbox:     target.Sandbox,
	})

	s.logger.Info("Live Activity start dispatched",
		"user_id", req.UserID, "task_id", req.TaskID,
		"sandbox", target.Sandbox, "success", result.Success)
	return StartResult{Found: true, Push: result}, nil
}

func (s *Starter) resolveTarget(ctx context.Context, req StartRequest) (*push.LiveActivityTarget, error) {
	if req.DeviceToken != "" {
		return &push.LiveActivityTarget{Token: req.DeviceToken, Sandbox: req.Sandbox}, nil
	}
	if req.UserID == "" {
		return nil, push.ErrDeviceNotFound
	}
	return s.devices.GetLiveActivityToken(ctx, req.UserID)
}
