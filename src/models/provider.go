package models

import (
	"carepay/src/types"
	"time"
)

// Provider is anyone the platform pays: caregivers, marketing partners and
// training centers. Capability flags are written only by the connected-account
// manager.
type Provider struct {
	ID              uint                `gorm:"primarykey" json:"id"`
	UserID          uint                `gorm:"index" json:"user_id"`
	Name            string              `json:"name,omitempty"`
	Email           string              `json:"email,omitempty"`
	Role            types.ProviderRole  `json:"role,omitempty"`
	ReferralCode    *string             `gorm:"uniqueIndex" json:"referral_code,omitempty"`
	StripeAccountID *string             `gorm:"index" json:"account_id,omitempty"`
	AccountStatus   types.AccountStatus `gorm:"default:not_started" json:"account_status"`
	ChargesEnabled  bool                `json:"charges_enabled"`
	PayoutsEnabled  bool                `json:"payouts_enabled"`
	RequirementsDue types.JSONBArray    `gorm:"type:jsonb" json:"requirements_due,omitempty"`
	StatusSyncedAt  *time.Time          `json:"status_synced_at,omitempty"`

	types.Timestamps
}

func (p *Provider) HasAccount() bool {
	return p.StripeAccountID != nil && *p.StripeAccountID != ""
}
