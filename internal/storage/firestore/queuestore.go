package firestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/sylmmhy/Lumi-sub007/pkg/push"
)

const pendingCollection = "pending_notifications"

// DefaultClaimTimeout is the visibility timeout on a claimed row. A row
// stuck in processing longer than this (crash, cancellation mid-batch)
// becomes claimable again, so an interrupted run can delay a reminder
// but never lose it.
const DefaultClaimTimeout = 5 * time.Minute

const (
	statusPending    = "pending"
	statusProcessing = "processing"
	statusSent       = "sent"
	statusFailed     = "failed"
)

// QueueStore implements dispatch.QueueStore over the
// pending_notifications collection.
type QueueStore struct {
	client       *firestore.Client
	claimTimeout time.Duration
	logger       *slog.Logger
}

func NewQueueStore(client *firestore.Client, logger *slog.Logger) *QueueStore {
	return &QueueStore{
		client:       client,
		claimTimeout: DefaultClaimTimeout,
		logger:       logger.With("component", "QueueStore"),
	}
}

type pendingRecord struct {
	UserID      string    `firestore:"user_id"`
	TaskID      string    `firestore:"task_id"`
	TaskTitle   string    `firestore:"task_title"`
	TaskTime    string    `firestore:"task_time"`
	DeviceToken string    `firestore:"device_token,omitempty"`
	ScheduledAt time.Time `firestore:"scheduled_at"`
	Status      string    `firestore:"status"`
	ClaimedAt   time.Time `firestore:"claimed_at,omitempty"`
	SentAt      time.Time `firestore:"sent_at,omitempty"`
	ErrorDetail string    `firestore:"error_detail,omitempty"`
}

// GetPendingNotifications queries due, still-pending rows and claims
// each one in a transaction before returning it. A row another
// invocation claimed first is skipped silently, so two overlapping
// batch runs cannot double-process the same item. Rows whose claim has
// outlived the visibility timeout are reclaimed, so an interrupted run
// cannot strand them in processing.
func (s *QueueStore) GetPendingNotifications(ctx context.Context, limit int) ([]push.PendingNotification, error) {
	now := time.Now()

	pending := s.client.Collection(pendingCollection).
		Where("status", "==", statusPending).
		Where("scheduled_at", "<=", now).
		OrderBy("scheduled_at", firestore.Asc).
		Limit(limit)

	claimed, err := s.claimAll(ctx, pending, nil)
	if err != nil {
		return nil, fmt.Errorf("query pending notifications: %w", err)
	}

	if len(claimed) < limit {
		stale := s.client.Collection(pendingCollection).
			Where("status", "==", statusProcessing).
			Where("claimed_at", "<=", now.Add(-s.claimTimeout)).
			OrderBy("claimed_at", firestore.Asc).
			Limit(limit - len(claimed))

		claimed, err = s.claimAll(ctx, stale, claimed)
		if err != nil {
			return nil, fmt.Errorf("query stale claims: %w", err)
		}
	}
	return claimed, nil
}

func (s *QueueStore) claimAll(ctx context.Context, query firestore.Query, claimed []push.PendingNotification) ([]push.PendingNotification, error) {
	iter := query.Documents(ctx)
	defer iter.Stop()

	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}

		item, err := s.claim(ctx, doc.Ref)
		if err != nil {
			s.logger.Debug("Skipping contested queue item", "id", doc.Ref.ID, "err", err)
			continue
		}
		claimed = append(claimed, *item)
	}
	return claimed, nil
}

// claim flips one row to processing, re-checking inside the transaction
// that it is still claimable: pending, or processing with an expired
// claim.
func (s *QueueStore) claim(ctx context.Context, ref *firestore.DocumentRef) (*push.PendingNotification, error) {
	var record pendingRecord

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			return err
		}
		if err := doc.DataTo(&record); err != nil {
			return err
		}
		switch record.Status {
		case statusPending:
		case statusProcessing:
			if time.Since(record.ClaimedAt) < s.claimTimeout {
				return errors.New("claim still live")
			}
		default:
			return fmt.Errorf("already %s", record.Status)
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "status", Value: statusProcessing},
			{Path: "claimed_at", Value: time.Now()},
		})
	})
	if err != nil {
		return nil, err
	}

	return &push.PendingNotification{
		ID:          ref.ID,
		UserID:      record.UserID,
		TaskID:      record.TaskID,
		TaskTitle:   record.TaskTitle,
		TaskTime:    record.TaskTime,
		DeviceToken: record.DeviceToken,
		ScheduledAt: record.ScheduledAt,
	}, nil
}

// MarkNotificationSent writes the terminal outcome. A merged Set keeps
// the call idempotent: repeating it with the same arguments rewrites
// the same fields.
func (s *QueueStore) MarkNotificationSent(ctx context.Context, notificationID string, success bool, errorDetail string) error {
	outcome := statusFailed
	if success {
		outcome = statusSent
	}

	update := map[string]any{
		"status":  outcome,
		"sent_at": time.Now(),
	}
	if errorDetail != "" {
		update["error_detail"] = errorDetail
	}

	_, err := s.client.Collection(pendingCollection).Doc(notificationID).Set(ctx, update, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("mark notification %s: %w", notificationID, err)
	}
	return nil
}
