// Package firestore implements the device registry and the pending
// notification queue on Google Cloud Firestore.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sylmmhy/Lumi-sub007/pkg/push"
)

// DeviceStore implements dispatch.DeviceStore.
type DeviceStore struct {
	client *firestore.Client
}

func NewDeviceStore(client *firestore.Client) *DeviceStore {
	return &DeviceStore{client: client}
}

// deviceRecord is the internal DB representation. One document per
// (user, platform); upsert replaces it wholesale, so the document is
// always the most recently updated registration.
type deviceRecord struct {
	Platform                 string    `firestore:"platform"`
	Token                    string    `firestore:"token"`
	DeviceType               string    `firestore:"device_type,omitempty"`
	Sandbox                  bool      `firestore:"sandbox"`
	LiveActivityToken        string    `firestore:"live_activity_token,omitempty"`
	LiveActivityTokenSandbox string    `firestore:"live_activity_token_sandbox,omitempty"`
	UpdatedAt                time.Time `firestore:"updated_at"`
}

func (s *DeviceStore) RegisterDevice(ctx context.Context, rec push.DeviceRecord) error {
	record := deviceRecord{
		Platform:                 string(rec.Platform),
		Token:                    rec.Token,
		DeviceType:               rec.DeviceType,
		Sandbox:                  rec.Sandbox,
		LiveActivityToken:        rec.LiveActivityToken,
		LiveActivityTokenSandbox: rec.LiveActivityTokenSandbox,
		UpdatedAt:                time.Now(),
	}
	_, err := s.deviceRef(rec.UserID, rec.Platform).Set(ctx, record)
	if err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	return nil
}

func (s *DeviceStore) UnregisterDevice(ctx context.Context, userID string, platform push.Platform) error {
	_, err := s.deviceRef(userID, platform).Delete(ctx)
	if err != nil {
		return fmt.Errorf("unregister device: %w", err)
	}
	return nil
}

func (s *DeviceStore) GetDevice(ctx context.Context, userID string, platform push.Platform) (*push.DeviceRecord, error) {
	doc, err := s.deviceRef(userID, platform).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, push.ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}

	var record deviceRecord
	if err := doc.DataTo(&record); err != nil {
		return nil, fmt.Errorf("decode device record: %w", err)
	}

	return &push.DeviceRecord{
		UserID:                   userID,
		Platform:                 push.Platform(record.Platform),
		Token:                    record.Token,
		DeviceType:               record.DeviceType,
		Sandbox:                  record.Sandbox,
		LiveActivityToken:        record.LiveActivityToken,
		LiveActivityTokenSandbox: record.LiveActivityTokenSandbox,
		UpdatedAt:                record.UpdatedAt,
	}, nil
}

// GetLiveActivityToken resolves the push-to-start destination from the
// user's voip registration. The token matching the record's environment
// wins; the other environment's token is a fallback because devices
// report them independently during onboarding.
func (s *DeviceStore) GetLiveActivityToken(ctx context.Context, userID string) (*push.LiveActivityTarget, error) {
	rec, err := s.GetDevice(ctx, userID, push.PlatformVoIP)
	if err != nil {
		return nil, err
	}

	if rec.Sandbox {
		if rec.LiveActivityTokenSandbox != "" {
			return &push.LiveActivityTarget{Token: rec.LiveActivityTokenSandbox, Sandbox: true}, nil
		}
		if rec.LiveActivityToken != "" {
			return &push.LiveActivityTarget{Token: rec.LiveActivityToken, Sandbox: false}, nil
		}
		return nil, push.ErrDeviceNotFound
	}

	if rec.LiveActivityToken != "" {
		return &push.LiveActivityTarget{Token: rec.LiveActivityToken, Sandbox: false}, nil
	}
	if rec.LiveActivityTokenSandbox != "" {
		return &push.LiveActivityTarget{Token: rec.LiveActivityTokenSandbox, Sandbox: true}, nil
	}
	return nil, push.ErrDeviceNotFound
}

// deviceRef: users/{userID}/devices/{platform}
func (s *DeviceStore) deviceRef(userID string, platform push.Platform) *firestore.DocumentRef {
	return s.client.Collection("users").Doc(userID).Collection("devices").Doc(string(platform))
}
