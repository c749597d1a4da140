// Package webhooks records every inbound provider event before acting on it
// and drives each record through received, processing and a terminal state.
package webhooks

import (
	"carepay/src/lib"
	"carepay/src/models"
	"carepay/src/types"
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInvalidTransition = errors.New("invalid webhook status transition")
	ErrEventNotFound     = errors.New("webhook event not found")
)

// maxErrorLength bounds the stored failure message.
const maxErrorLength = 1000

// Ledger is the per-event state machine. The unique event id is the only
// deduplication mechanism; every transition is a conditional update so a
// record never moves backwards. A record left in received or processing for
// longer than the lease belongs to a dead worker and can be claimed again.
type Ledger struct {
	db         *gorm.DB
	cipher     *lib.Cipher
	maxRetries int
	lease      time.Duration
	now        func() time.Time
}

func NewLedger(db *gorm.DB, cipher *lib.Cipher, maxRetries int, lease time.Duration) *Ledger {
	return &Ledger{db: db, cipher: cipher, maxRetries: maxRetries, lease: lease, now: func() time.Time { return time.Now().UTC() }}
}

func (l *Ledger) staleBefore() time.Time {
	return l.now().Add(-l.lease)
}

// LogEvent stores a newly received event with its encrypted payload. A second
// receipt of the same event id conflicts and returns the stored record with
// created false.
func (l *Ledger) LogEvent(ctx context.Context, eventId, eventType string, payload []byte) (*models.WebhookEvent, bool, error) {
	sealed, err := l.cipher.Encrypt(payload)
	if err != nil {
		return nil, false, err
	}
	rec := models.WebhookEvent{
		EventID:          eventId,
		EventType:        eventType,
		Status:           types.WEBHOOK_RECEIVED,
		EncryptedPayload: sealed,
	}
	res := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(&rec)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		existing, err := l.Get(ctx, eventId)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return &rec, true, nil
}

func (l *Ledger) Get(ctx context.Context, eventId string) (*models.WebhookEvent, error) {
	var rec models.WebhookEvent
	if err := l.db.WithContext(ctx).Where("event_id = ?", eventId).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// HasBeenProcessed is true only once the event reached processed.
func (l *Ledger) HasBeenProcessed(ctx context.Context, eventId string) (bool, error) {
	var count int64
	err := l.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("event_id = ? AND status = ?", eventId, types.WEBHOOK_PROCESSED).
		Count(&count).
		Error
	return count > 0, err
}

// Payload decrypts the raw event body stored at receipt.
func (l *Ledger) Payload(rec *models.WebhookEvent) ([]byte, error) {
	return l.cipher.Decrypt(rec.EncryptedPayload)
}

func (l *Ledger) transition(ctx context.Context, eventId string, scope func(*gorm.DB) *gorm.DB, updates map[string]any) error {
	q := l.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("event_id = ?", eventId)
	res := scope(q).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s to %v", ErrInvalidTransition, eventId, updates["status"])
	}
	return nil
}

// MarkProcessing claims an event for a handler. Received events, failed
// events below the retry ceiling and processing claims older than the lease
// can be claimed; only one caller wins.
func (l *Ledger) MarkProcessing(ctx context.Context, eventId string) error {
	return l.transition(ctx, eventId, func(db *gorm.DB) *gorm.DB {
		return db.Where(
			"status = ? OR (status = ? AND retry_count < ?) OR (status = ? AND updated_at < ? AND retry_count < ?)",
			types.WEBHOOK_RECEIVED,
			types.WEBHOOK_FAILED, l.maxRetries,
			types.WEBHOOK_PROCESSING, l.staleBefore(), l.maxRetries,
		)
	}, map[string]any{"status": types.WEBHOOK_PROCESSING, "updated_at": l.now()})
}

func (l *Ledger) MarkProcessed(ctx context.Context, eventId string) error {
	return l.transition(ctx, eventId, func(db *gorm.DB) *gorm.DB {
		return db.Where("status = ?", types.WEBHOOK_PROCESSING)
	}, map[string]any{"status": types.WEBHOOK_PROCESSED, "processed_at": l.now(), "error_message": ""})
}

// MarkFailed records the handler error and counts the attempt.
func (l *Ledger) MarkFailed(ctx context.Context, eventId string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength]
	}
	return l.transition(ctx, eventId, func(db *gorm.DB) *gorm.DB {
		return db.Where("status = ?", types.WEBHOOK_PROCESSING)
	}, map[string]any{"status": types.WEBHOOK_FAILED, "error_message": msg, "retry_count": gorm.Expr("retry_count + 1")})
}

// MarkSkipped is terminal and only reachable from received.
func (l *Ledger) MarkSkipped(ctx context.Context, eventId string, reason string) error {
	return l.transition(ctx, eventId, func(db *gorm.DB) *gorm.DB {
		return db.Where("status = ?", types.WEBHOOK_RECEIVED)
	}, map[string]any{"status": types.WEBHOOK_SKIPPED, "error_message": reason, "processed_at": l.now()})
}

// Retryable lists failed events still below the retry ceiling and events
// stuck in received or processing past the lease, oldest first.
func (l *Ledger) Retryable(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	stuck := []string{string(types.WEBHOOK_RECEIVED), string(types.WEBHOOK_PROCESSING)}
	var out []models.WebhookEvent
	err := l.db.WithContext(ctx).
		Where("retry_count < ?", l.maxRetries).
		Where(
			"status = ? OR (status IN ? AND updated_at < ?)",
			types.WEBHOOK_FAILED,
			stuck, l.staleBefore(),
		).
		Order("created_at asc").
		Limit(limit).
		Find(&out).
		Error
	return out, err
}

// Exhausted lists failed events left for manual inspection.
func (l *Ledger) Exhausted(ctx context.Context) ([]models.WebhookEvent, error) {
	var out []models.WebhookEvent
	err := l.db.WithContext(ctx).
		Where("status = ? AND retry_count >= ?", types.WEBHOOK_FAILED, l.maxRetries).
		Order("created_at asc").
		Find(&out).
		Error
	if err == nil && len(out) > 0 {
		log.Printf("[Webhooks] %d events exhausted their retries\n", len(out))
	}
	return out, err
}
