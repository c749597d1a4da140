package models

import (
	"carepay/src/types"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WebhookEvent is the durable record of one inbound provider event. EventID is
// the only deduplication mechanism.
type WebhookEvent struct {
	ID uuid.UUID `gorm:"primarykey;type:uuid" json:"id"`

	EventID          string              `gorm:"uniqueIndex;not null" json:"event_id"`
	EventType        string              `gorm:"index" json:"event_type"`
	Status           types.WebhookStatus `gorm:"index" json:"status"`
	EncryptedPayload string              `gorm:"type:text" json:"-"`
	ErrorMessage     string              `json:"error_message,omitempty"`
	RetryCount       int                 `json:"retry_count"`
	ProcessedAt      *time.Time          `json:"processed_at,omitempty"`
	CreatedAt        time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (w *WebhookEvent) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.Status == "" {
		w.Status = types.WEBHOOK_RECEIVED
	}
	return nil
}
