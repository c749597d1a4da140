package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrLedgerImmutable = errors.New("ledger entries are append-only")

type LedgerAccount string

const (
	ACCOUNT_PROVIDER_BALANCE  LedgerAccount = "provider_balance"
	ACCOUNT_CAREGIVER_PAYABLE LedgerAccount = "caregiver_payable"
	ACCOUNT_MARKETING_PAYABLE LedgerAccount = "marketing_commission_payable"
	ACCOUNT_TRAINING_PAYABLE  LedgerAccount = "training_commission_payable"
	ACCOUNT_PLATFORM_REVENUE  LedgerAccount = "platform_revenue"
)

type LedgerTransactionType string

const (
	LEDGER_CAPTURE          LedgerTransactionType = "capture"
	LEDGER_REFUND           LedgerTransactionType = "refund"
	LEDGER_PAYOUT           LedgerTransactionType = "payout"
	LEDGER_COMMISSION       LedgerTransactionType = "commission"
	LEDGER_ACCRUAL          LedgerTransactionType = "accrual"
	LEDGER_TRANSFER_REVERSE LedgerTransactionType = "transfer_reversal"
)

// RelatedKind tags the entity an entry was caused by.
type RelatedKind string

const (
	RELATED_PAYMENT RelatedKind = "payment"
	RELATED_PAYOUT  RelatedKind = "payout_transaction"
)

// LedgerEntry is an immutable financial movement. Only the reconciliation
// columns may change after insert.
type LedgerEntry struct {
	ID uuid.UUID `gorm:"primarykey;type:uuid" json:"id"`

	TransactionType LedgerTransactionType `gorm:"index" json:"transaction_type"`
	RelatedKind     RelatedKind           `gorm:"index:idx_ledger_related" json:"related_kind"`
	RelatedID       uuid.UUID             `gorm:"type:uuid;index:idx_ledger_related" json:"related_id"`
	DebitAccount    LedgerAccount         `gorm:"index" json:"debit_account"`
	CreditAccount   LedgerAccount         `gorm:"index" json:"credit_account"`
	AmountCents     int64                 `json:"amount_cents"`
	Currency        string                `json:"currency"`
	Description     string                `json:"description,omitempty"`
	Reconciled      bool                  `gorm:"index" json:"reconciled"`
	ReconciledBy    *string               `json:"reconciled_by,omitempty"`
	ReconciledAt    *time.Time            `json:"reconciled_at,omitempty"`
	CreatedAt       time.Time             `gorm:"autoCreateTime;index" json:"created_at"`
}

func (l *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

func (l *LedgerEntry) BeforeDelete(tx *gorm.DB) error {
	return ErrLedgerImmutable
}
