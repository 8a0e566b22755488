package apns

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sideshow/apns2"

	"github.com/sylmmhy/Lumi-sub007/pkg/dispatch"
	"github.com/sylmmhy/Lumi-sub007/pkg/push"
)

// DefaultSendTimeout caps a single APNs call. The HTTP/2 connection is
// otherwise allowed to block indefinitely, which a queue run must not.
const DefaultSendTimeout = 10 * time.Second

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// Dispatcher sends one notification per call over APNs HTTP/2. It holds
// a client per environment because sandbox and production tokens are
// only valid against their own host.
type Dispatcher struct {
	production APNSClient
	sandbox    APNSClient
	bundleID   string
	timeout    time.Duration
	logger     *slog.Logger
}

// NewDispatcher wires the signer's token source into token-based apns2
// clients for both hosts. The signer has already failed fast on bad
// credentials, so construction cannot fail here.
func NewDispatcher(signer *Signer, cfg Config, logger *slog.Logger) *Dispatcher {
	source := signer.TokenSource()
	return &Dispatcher{
		production: apns2.NewTokenClient(source).Production(),
		sandbox:    apns2.NewTokenClient(source).Development(),
		bundleID:   cfg.BundleID,
		timeout:    DefaultSendTimeout,
		logger:     logger.With("component", "APNSDispatcher"),
	}
}

// Send performs the authenticated call for one device. 200 means
// success; anything else becomes a failed Result carrying Apple's
// reason text (e.g. "BadDeviceToken") or the transport error verbatim.
// Retries, if any, belong to the next scheduled batch run.
func (d *Dispatcher) Send(ctx context.Context, req dispatch.SendRequest) push.Result {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	notification := &apns2.Notification{
		ApnsID:      uuid.NewString(),
		DeviceToken: req.DeviceToken,
		Topic:       req.Type.Topic(d.bundleID),
		PushType:    apnsPushType(req.Type),
		Priority:    apns2.PriorityHigh,
		// apns-expiration: 0 -> deliver immediately, do not queue at Apple.
		Expiration: time.Unix(0, 0),
		Payload:    req.Payload,
	}

	client := d.production
	host := "production"
	if req.Sandbox {
		client = d.sandbox
		host = "sandbox"
	}

	res, err := client.PushWithContext(ctx, notification)
	if err != nil {
		// Transport failure (DNS, TLS, timeout). Surfaced, not retried.
		d.logger.Error("APNs transport failed",
			"push_type", req.Type.String(), "host", host, "err", err)
		return push.Result{ErrorDetail: err.Error()}
	}

	if res.Sent() {
		d.logger.Debug("APNs accepted notification",
			"push_type", req.Type.String(), "host", host, "apns_id", res.ApnsID)
		return push.Result{Success: true}
	}

	detail := res.Reason
	if detail == "" {
		detail = fmt.Sprintf("unexpected status %d", res.StatusCode)
	}
	d.logger.Warn("APNs rejected notification",
		"push_type", req.Type.String(), "host", host,
		"status", res.StatusCode, "reason", res.Reason)
	return push.Result{ErrorDetail: detail}
}

func apnsPushType(t push.Type) apns2.EPushType {
	switch t {
	case push.TypeLiveActivity:
		return apns2.PushTypeLiveActivity
	default:
		return apns2.PushTypeVOIP
	}
}
