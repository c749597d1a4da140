package models

import (
	"carepay/src/types"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Payment is one successful capture for a booking. Gross, fee and net are
// fixed once completed; refunds only move RefundedCents and Status.
type Payment struct {
	ID uuid.UUID `gorm:"primarykey;type:uuid" json:"id"`

	BookingID        uint                `gorm:"index" json:"booking_id"`
	PayerID          uint                `gorm:"index" json:"payer_id"`
	ProviderChargeID string              `gorm:"index" json:"charge_id"`
	PaymentIntentID  string              `gorm:"uniqueIndex" json:"payment_intent_id"`
	IdempotencyKey   string              `json:"-"`
	Currency         string              `json:"currency"`
	GrossCents       int64               `json:"gross_cents"`
	FeeCents         int64               `json:"fee_cents"`
	NetCents         int64               `json:"net_cents"`
	FeeTier          string              `json:"fee_tier"`
	RefundedCents    int64               `json:"refunded_cents"`
	RefundCount      int                 `json:"refund_count"`
	Status           types.PaymentStatus `gorm:"index" json:"status"`
	PaidAt           *time.Time          `json:"paid_at,omitempty"`

	types.Timestamps

	Booking *Booking `gorm:"foreignKey:BookingID" json:"booking,omitempty"`
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// RefundableCents is what can still be returned to the payer.
func (p *Payment) RefundableCents() int64 {
	return p.GrossCents - p.RefundedCents
}
