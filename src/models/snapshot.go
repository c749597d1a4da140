package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DailyBalanceSnapshot is the end-of-day rollup. It is written once; only the
// reconciled columns change afterwards.
type DailyBalanceSnapshot struct {
	ID uuid.UUID `gorm:"primarykey;type:uuid" json:"id"`

	SnapshotDate string `gorm:"uniqueIndex;not null" json:"snapshot_date"`

	RevenueCents             int64  `json:"revenue_cents"`
	CaregiverPayableCents    int64  `json:"caregiver_payable_cents"`
	CaregiverPaidCents       int64  `json:"caregiver_paid_cents"`
	MarketingPayableCents    int64  `json:"marketing_payable_cents"`
	MarketingPaidCents       int64  `json:"marketing_paid_cents"`
	TrainingPayableCents     int64  `json:"training_payable_cents"`
	TrainingPaidCents        int64  `json:"training_paid_cents"`
	PlatformRevenueCents     int64  `json:"platform_revenue_cents"`
	InternalBalanceCents     int64  `json:"internal_balance_cents"`
	ProviderAvailableCents   int64  `json:"provider_available_cents"`
	ProviderPendingCents     int64  `json:"provider_pending_cents"`
	DiscrepancyCents         int64  `json:"discrepancy_cents"`
	DiscrepancyNotes         string `gorm:"type:text" json:"discrepancy_notes,omitempty"`
	ProviderBalanceAvailable bool   `json:"provider_balance_available"`

	Reconciled   bool       `json:"reconciled"`
	ReconciledBy *string    `json:"reconciled_by,omitempty"`
	ReconciledAt *time.Time `json:"reconciled_at,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (s *DailyBalanceSnapshot) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

func (s *DailyBalanceSnapshot) HasDiscrepancy() bool {
	return s.DiscrepancyCents != 0 || !s.ProviderBalanceAvailable
}
