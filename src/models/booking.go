package models

import (
	"carepay/src/types"
	"time"
)

// Booking is owned by the booking lifecycle; the payment core only reads the
// payer, the server-computed price and flips the payment status.
type Booking struct {
	ID            uint                       `gorm:"primarykey" json:"id"`
	PayerID       uint                       `gorm:"index" json:"payer_id"`
	CaregiverID   uint                       `gorm:"index" json:"caregiver_id"`
	Status        string                     `json:"status,omitempty"`
	TotalCents    int64                      `json:"total_cents"`
	Currency      string                     `json:"currency,omitempty"`
	PaymentStatus types.BookingPaymentStatus `gorm:"default:unpaid" json:"payment_status"`
	PaidAt        *time.Time                 `json:"paid_at,omitempty"`
	SessionIDs    types.JSONBArray           `gorm:"type:jsonb" json:"session_ids,omitempty"`

	Payer     *User     `gorm:"foreignKey:PayerID" json:"payer,omitempty"`
	Caregiver *Provider `gorm:"foreignKey:CaregiverID" json:"caregiver,omitempty"`

	types.Timestamps
}

func (b *Booking) IsPaid() bool {
	return b.PaymentStatus != "" && b.PaymentStatus != types.BOOKING_UNPAID
}
