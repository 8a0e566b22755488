// Package push contains the public domain model for the Lumi push
// dispatch service: pending queue items, device registrations, push
// types and per-dispatch results.
package push

import (
	"errors"
	"time"
)

// ErrDeviceNotFound is returned by registry lookups when no usable
// device or Live Activity token exists for a user.
var ErrDeviceNotFound = errors.New("push: device not found")

// ReasonNoDeviceToken is the terminal failure reason recorded for queue
// items that carry no device token. No dispatch is attempted for them.
const ReasonNoDeviceToken = "No device token"

// Platform identifies the push transport a device registered for.
type Platform string

const (
	PlatformVoIP Platform = "voip"
	PlatformFCM  Platform = "fcm"
)

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	return p == PlatformVoIP || p == PlatformFCM
}

// Type is the closed set of APNs push types the service sends. Each
// variant carries its own topic suffix and payload shape; adding a push
// type means adding a variant here, not branching in the dispatch path.
type Type int

const (
	TypeVoIP Type = iota
	TypeLiveActivity
)

// Topic returns the apns-topic header value for this push type.
func (t Type) Topic(bundleID string) string {
	switch t {
	case TypeLiveActivity:
		return bundleID + ".push-type.liveactivity"
	default:
		return bundleID + ".voip"
	}
}

func (t Type) String() string {
	switch t {
	case TypeLiveActivity:
		return "liveactivity"
	default:
		return "voip"
	}
}

// PendingNotification is one due reminder read from the external queue
// store. The service consumes it and writes back exactly one terminal
// outcome via MarkNotificationSent.
type PendingNotification struct {
	ID          string    `json:"notificationId"`
	UserID      string    `json:"userId"`
	TaskID      string    `json:"taskId"`
	TaskTitle   string    `json:"taskTitle"`
	TaskTime    string    `json:"taskTime"`
	DeviceToken string    `json:"deviceToken,omitempty"`
	ScheduledAt time.Time `json:"scheduledTime"`
}

// DeviceRecord is one row of the device registry, keyed by
// (UserID, Platform). At most one active token per key; registration
// replaces any previous record.
type DeviceRecord struct {
	UserID                   string    `json:"userId"`
	Platform                 Platform  `json:"platform"`
	Token                    string    `json:"token"`
	DeviceType               string    `json:"deviceType,omitempty"`
	Sandbox                  bool      `json:"sandbox"`
	LiveActivityToken        string    `json:"liveActivityToken,omitempty"`
	LiveActivityTokenSandbox string    `json:"liveActivityTokenSandbox,omitempty"`
	UpdatedAt                time.Time `json:"updatedAt"`
}

// LiveActivityTarget is the resolved destination for a Live Activity
// push-to-start: the token itself and which APNs environment it belongs
// to.
type LiveActivityTarget struct {
	Token   string `json:"token"`
	Sandbox bool   `json:"sandbox"`
}

// Result is the outcome of a single dispatch attempt. ErrorDetail holds
// Apple's reason text (e.g. "BadDeviceToken") or the transport error
// verbatim; classification is left to the operator.
type Result struct {
	Success     bool   `json:"success"`
	ErrorDetail string `json:"errorDetail,omitempty"`
}

// ItemResult pairs a dispatch outcome with the queue item it belongs to.
type ItemResult struct {
	NotificationID string `json:"notificationId"`
	Result
}

// BatchSummary is the report of one queue-processor invocation. It lets
// monitoring detect partial failure without re-deriving it from logs.
type BatchSummary struct {
	Processed  int          `json:"processed"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Results    []ItemResult `json:"results,omitempty"`
}
