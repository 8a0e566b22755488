// Package pipeline contains the queue batch processor and the
// on-demand Live Activity starter.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/sylmmhy/Lumi-sub007/internal/platform/apns"
	"github.com/sylmmhy/Lumi-sub007/pkg/dispatch"
	"github.com/sylmmhy/Lumi-sub007/pkg/metrics"
	"github.com/sylmmhy/Lumi-sub007/pkg/push"
)

// DefaultBatchSize bounds one queue-processor invocation.
const DefaultBatchSize = 100

// Pacer gates outbound APNs calls so a batch cannot trip Apple's
// per-connection rate limits. *rate.Limiter satisfies it.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Processor drives one batch invocation: fetch due items, dispatch a
// VoIP wake-up per item, persist each outcome, summarize. Invocations
// are stateless; nothing is shared between runs.
type Processor struct {
	queue          dispatch.QueueStore
	devices        dispatch.DeviceStore
	dispatcher     dispatch.Dispatcher
	pacer          Pacer
	batchSize      int
	defaultSandbox bool
	metrics        *metrics.Metrics
	logger         *slog.Logger
}

// ProcessorOptions tunes one Processor. DefaultSandbox decides the APNs
// environment for items whose user has no voip registration to read it
// from (deployments not yet in production keep this true).
type ProcessorOptions struct {
	BatchSize      int
	DefaultSandbox bool
}

func NewProcessor(
	queue dispatch.QueueStore,
	devices dispatch.DeviceStore,
	dispatcher dispatch.Dispatcher,
	pacer Pacer,
	opts ProcessorOptions,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Processor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Processor{
		queue:          queue,
		devices:        devices,
		dispatcher:     dispatcher,
		pacer:          pacer,
		batchSize:      opts.BatchSize,
		defaultSandbox: opts.DefaultSandbox,
		metrics:        m,
		logger:         logger.With("component", "QueueProcessor"),
	}
}

// Run processes one batch. Per-item failures are recorded in the
// summary and never abort the loop; only a fetch failure or context
// cancellation does. Cancellation stops between items, leaving
// already-persisted outcomes untouched. An empty queue is a normal
// zero-valued summary.
func (p *Processor) Run(ctx context.Context) (push.BatchSummary, error) {
	runLogger := p.logger.With("run_id", uuid.NewString())
	p.metrics.IncBatchRuns()

	items, err := p.queue.GetPendingNotifications(ctx, p.batchSize)
	if err != nil {
		return push.BatchSummary{}, fmt.Errorf("fetch pending notifications: %w", err)
	}
	if len(items) == 0 {
		runLogger.Info("No due notifications")
		return push.BatchSummary{Results: []push.ItemResult{}}, nil
	}

	summary := push.BatchSummary{Results: make([]push.ItemResult, 0, len(items))}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			runLogger.Warn("Batch interrupted", "processed", summary.Processed, "remaining", len(items)-summary.Processed)
			return summary, err
		}

		var result push.Result
		if item.DeviceToken == "" {
			// Fast local failure; no sign/dispatch cycle.
			runLogger.Warn("Notification has no device token", "notification_id", item.ID)
			result = push.Result{ErrorDetail: push.ReasonNoDeviceToken}
		} else {
			// Pace outbound calls. A wait aborted by cancellation stops
			// the batch before this item is touched.
			if err := p.pacer.Wait(ctx); err != nil {
				runLogger.Warn("Batch interrupted while pacing", "processed", summary.Processed)
				return summary, err
			}

			p.metrics.IncDispatched()
			result = p.dispatcher.Send(ctx, dispatch.SendRequest{
				DeviceToken: item.DeviceToken,
				Type:        push.TypeVoIP,
				Payload:     apns.NewVoipPayload(item.TaskID, item.TaskTitle, item.TaskTime),
				Sandbox:     p.sandboxFor(ctx, item.UserID),
			})
		}

		if err := p.queue.MarkNotificationSent(ctx, item.ID, result.Success, result.ErrorDetail); err != nil {
			runLogger.Error("Failed to persist outcome", "notification_id", item.ID, "err", err)
		}

		summary.Processed++
		if result.Success {
			summary.Successful++
			p.metrics.IncDelivered()
		} else {
			summary.Failed++
			p.metrics.IncFailed()
		}
		summary.Results = append(summary.Results, push.ItemResult{
			NotificationID: item.ID,
			Result:         result,
		})
	}

	runLogger.Info("Batch complete",
		"processed", summary.Processed,
		"successful", summary.Successful,
		"failed", summary.Failed)
	return summary, nil
}

// sandboxFor reads the host environment off the user's voip
// registration, falling back to the deployment default when the record
// is missing or unreadable. Apple rejects a mismatched token either way
// and the reason lands in the item outcome.
func (p *Processor) sandboxFor(ctx context.Context, userID string) bool {
	rec, err := p.devices.GetDevice(ctx, userID, push.PlatformVoIP)
	if err != nil {
		if !errors.Is(err, push.ErrDeviceNotFound) {
			p.logger.Warn("Device registry lookup failed", "user_id", userID, "err", err)
		}
		return p.defaultSandbox
	}
	return rec.Sandbox
}
