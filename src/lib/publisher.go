package lib

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

const (
	EVENT_PAYMENT_CAPTURED     = "payment.captured"
	EVENT_PAYMENT_FAILED       = "payment.failed"
	EVENT_PAYMENT_REFUNDED     = "payment.refunded"
	EVENT_PAYOUT_COMPLETED     = "payout.completed"
	EVENT_SNAPSHOT_DISCREPANCY = "snapshot.discrepancy"
)

// Event is a money-movement notification for downstream consumers.
type Event struct {
	Type       string         `json:"type"`
	Key        string         `json:"key"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

func NewEvent(eventType, key string, data map[string]any) Event {
	return Event{Type: eventType, Key: key, OccurredAt: time.Now().UTC(), Data: data}
}

func (e Event) Bytes() ([]byte, error) {
	return json.Marshal(e)
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Alerter notifies operators about conditions that need a human.
type Alerter interface {
	Alert(ctx context.Context, subject string, message string) error
}

// Archiver stores immutable report documents.
type Archiver interface {
	Archive(ctx context.Context, key string, body []byte) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, e Event) error {
	log.Printf("[Events] %s %s\n", e.Type, e.Key)
	return nil
}

type NopAlerter struct{}

func (NopAlerter) Alert(ctx context.Context, subject string, message string) error {
	log.Printf("[Alert] %s: %s\n", subject, message)
	return nil
}

type NopArchiver struct{}

func (NopArchiver) Archive(ctx context.Context, key string, body []byte) error {
	return nil
}

// PublishQuietly logs publish failures. Events are informational and never
// roll back committed money movement.
func PublishQuietly(ctx context.Context, p Publisher, e Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, e); err != nil {
		log.Printf("[Events] Failed to publish %s %s: %s\n", e.Type, e.Key, err.Error())
	}
}
