package models

import (
	"carepay/src/types"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PayoutTransaction is one disbursement attempt. It is terminal once completed
// or failed; retries create new rows.
type PayoutTransaction struct {
	ID uuid.UUID `gorm:"primarykey;type:uuid" json:"id"`

	RecipientID       uint                 `gorm:"index" json:"recipient_id"`
	ScheduledPayoutID *uuid.UUID           `gorm:"type:uuid;index" json:"scheduled_payout_id,omitempty"`
	Category          types.PayoutCategory `gorm:"index" json:"category"`
	SourceKey         string               `gorm:"uniqueIndex:idx_payout_source_completed,where:status = 'completed'" json:"source_key"`
	SourceIDs         types.JSONBArray     `gorm:"type:jsonb" json:"source_ids,omitempty"`
	GrossCents        int64                `json:"gross_cents"`
	PlatformFeeCents  int64                `json:"platform_fee_cents"`
	AmountCents       int64                `json:"amount_cents"`
	Currency          string               `json:"currency"`
	TransferID        *string              `gorm:"index" json:"transfer_id,omitempty"`
	Status            types.PayoutStatus   `gorm:"index" json:"status"`
	FailureReason     string               `json:"failure_reason,omitempty"`
	InitiatedAt       time.Time            `json:"initiated_at"`
	CompletedAt       *time.Time           `json:"completed_at,omitempty"`
	FailedAt          *time.Time           `json:"failed_at,omitempty"`

	Verifications []PayoutVerification `gorm:"foreignKey:PayoutTransactionID" json:"verifications,omitempty"`

	types.Timestamps
}

func (p *PayoutTransaction) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// PayoutVerification is an append-only integrity check on a payout.
type PayoutVerification struct {
	ID uuid.UUID `gorm:"primarykey;type:uuid" json:"id"`

	PayoutTransactionID uuid.UUID   `gorm:"type:uuid;index" json:"payout_transaction_id"`
	Check               string      `json:"check"`
	Passed              bool        `json:"passed"`
	Result              types.JSONB `gorm:"type:jsonb" json:"result,omitempty"`
	CreatedAt           time.Time   `gorm:"autoCreateTime" json:"created_at"`
}

func (v *PayoutVerification) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

// ScheduledPayout describes one batch run.
type ScheduledPayout struct {
	ID uuid.UUID `gorm:"primarykey;type:uuid" json:"id"`

	RunDate       string           `gorm:"index" json:"run_date"`
	Frequency     string           `json:"frequency"`
	Status        types.RunStatus  `json:"status"`
	EligibleCount int              `json:"eligible_count"`
	PaidCount     int              `json:"paid_count"`
	FailedCount   int              `json:"failed_count"`
	TotalCents    int64            `json:"total_cents"`
	ErrorLog      types.JSONBArray `gorm:"type:jsonb" json:"error_log,omitempty"`
	StartedAt     *time.Time       `json:"started_at,omitempty"`
	FinishedAt    *time.Time       `json:"finished_at,omitempty"`

	Payouts []PayoutTransaction `gorm:"foreignKey:ScheduledPayoutID" json:"payouts,omitempty"`

	types.Timestamps
}

func (s *ScheduledPayout) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// Commission records a referral commission or training bonus that was paid out.
type Commission struct {
	ID uuid.UUID `gorm:"primarykey;type:uuid" json:"id"`

	Category            types.PayoutCategory `gorm:"index" json:"category"`
	RecipientID         uint                 `gorm:"index" json:"recipient_id"`
	PayoutTransactionID uuid.UUID            `gorm:"type:uuid;index" json:"payout_transaction_id"`
	ReferralCode        *string              `json:"referral_code,omitempty"`
	ReferredUserID      *uint                `json:"referred_user_id,omitempty"`
	TrainingID          *uint                `json:"training_id,omitempty"`
	AmountCents         int64                `json:"amount_cents"`
	Status              types.PayoutStatus   `json:"status"`
	PaidAt              *time.Time           `json:"paid_at,omitempty"`

	types.Timestamps
}

func (c *Commission) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
