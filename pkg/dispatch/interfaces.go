// Package dispatch defines the contracts between the queue processor,
// the APNs dispatch client and the external stores.
package dispatch

import (
	"context"

	"github.com/sylmmhy/Lumi-sub007/pkg/push"
)

// QueueStore is the external pending-notification store. The engine
// never mutates queue rows except through MarkNotificationSent.
type QueueStore interface {
	// GetPendingNotifications returns up to limit items that are due
	// and not yet terminal. Implementations should claim returned rows
	// so overlapping invocations do not double-process them.
	GetPendingNotifications(ctx context.Context, limit int) ([]push.PendingNotification, error)

	// MarkNotificationSent records the terminal outcome for one item.
	// Must be idempotent for repeated calls with the same arguments.
	MarkNotificationSent(ctx context.Context, notificationID string, success bool, errorDetail string) error
}

// DeviceStore is the per-user, per-platform device registry.
type DeviceStore interface {
	// RegisterDevice upserts a registration keyed by (UserID, Platform),
	// replacing any existing record.
	RegisterDevice(ctx context.Context, rec push.DeviceRecord) error

	// UnregisterDevice removes a registration. Removing a missing
	// record is not an error.
	UnregisterDevice(ctx context.Context, userID string, platform push.Platform) error

	// GetDevice returns the registration for (userID, platform) or
	// push.ErrDeviceNotFound.
	GetDevice(ctx context.Context, userID string, platform push.Platform) (*push.DeviceRecord, error)

	// GetLiveActivityToken resolves the most recently updated Live
	// Activity token for the user's voip registration, together with
	// its sandbox flag, or push.ErrDeviceNotFound.
	GetLiveActivityToken(ctx context.Context, userID string) (*push.LiveActivityTarget, error)
}

// SendRequest carries everything the dispatch client needs for one
// APNs call. The payload is already fully resolved; the client does no
// lookups of its own.
type SendRequest struct {
	DeviceToken string
	Type        push.Type
	Payload     any
	Sandbox     bool
}

// Dispatcher performs one authenticated APNs call. All failures,
// including transport failures, are encoded in the Result rather than
// returned as an error, so one bad item cannot abort a batch.
type Dispatcher interface {
	Send(ctx context.Context, req SendRequest) push.Result
}
