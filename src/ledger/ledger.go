// Package ledger keeps the append-only financial log written alongside every
// capture, payout and refund, and the daily rollup compared against the
// provider's balance.
//
// Accounts follow the platform's point of view: provider_balance is the money
// held with the payment provider, the *_payable accounts are owed to
// recipients and platform_revenue is the platform's commission.
package ledger

import (
	"carepay/src/models"
	"carepay/src/models/scopes"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrInvalidEntry = errors.New("invalid ledger entry")

// Related tags the entity that caused an entry.
type Related struct {
	Kind models.RelatedKind
	ID   uuid.UUID
}

func PaymentRef(id uuid.UUID) Related {
	return Related{Kind: models.RELATED_PAYMENT, ID: id}
}

func PayoutRef(id uuid.UUID) Related {
	return Related{Kind: models.RELATED_PAYOUT, ID: id}
}

func NewEntry(txType models.LedgerTransactionType, rel Related, debit, credit models.LedgerAccount, amountCents int64, currency, description string) models.LedgerEntry {
	return models.LedgerEntry{
		TransactionType: txType,
		RelatedKind:     rel.Kind,
		RelatedID:       rel.ID,
		DebitAccount:    debit,
		CreditAccount:   credit,
		AmountCents:     amountCents,
		Currency:        currency,
		Description:     description,
	}
}

func validate(e *models.LedgerEntry) error {
	switch {
	case e.AmountCents <= 0:
		return fmt.Errorf("%w: amount %d", ErrInvalidEntry, e.AmountCents)
	case e.DebitAccount == "" || e.CreditAccount == "":
		return fmt.Errorf("%w: missing account", ErrInvalidEntry)
	case e.DebitAccount == e.CreditAccount:
		return fmt.Errorf("%w: debit equals credit", ErrInvalidEntry)
	case e.RelatedKind == "" || e.RelatedID == uuid.Nil:
		return fmt.Errorf("%w: missing related entity", ErrInvalidEntry)
	}
	return nil
}

// Append writes entries inside the caller's transaction. Zero-amount entries
// are dropped rather than stored.
func Append(tx *gorm.DB, entries ...models.LedgerEntry) error {
	rows := make([]models.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		if e.AmountCents == 0 {
			continue
		}
		if err := validate(&e); err != nil {
			return err
		}
		e.Reconciled = false
		e.ReconciledBy = nil
		e.ReconciledAt = nil
		rows = append(rows, e)
	}
	if len(rows) == 0 {
		return nil
	}
	return tx.Create(&rows).Error
}

// CaptureEntries records the net amount landing in the provider balance as
// owed to the caregiver.
func CaptureEntries(p *models.Payment) []models.LedgerEntry {
	return []models.LedgerEntry{
		NewEntry(models.LEDGER_CAPTURE, PaymentRef(p.ID), models.ACCOUNT_PROVIDER_BALANCE, models.ACCOUNT_CAREGIVER_PAYABLE, p.NetCents, p.Currency, fmt.Sprintf("booking %d capture", p.BookingID)),
	}
}

// RefundEntries takes a refund of the gross charge out of the provider
// balance. The net share reduces caregiver_payable; the processing fee that is
// not returned by the provider is absorbed by platform_revenue.
func RefundEntries(p *models.Payment, amountCents int64) []models.LedgerEntry {
	netShare := amountCents
	if p.GrossCents > 0 && p.NetCents < p.GrossCents {
		netShare = (amountCents*p.NetCents + p.GrossCents/2) / p.GrossCents
	}
	desc := fmt.Sprintf("booking %d refund", p.BookingID)
	return []models.LedgerEntry{
		NewEntry(models.LEDGER_REFUND, PaymentRef(p.ID), models.ACCOUNT_CAREGIVER_PAYABLE, models.ACCOUNT_PROVIDER_BALANCE, netShare, p.Currency, desc),
		NewEntry(models.LEDGER_REFUND, PaymentRef(p.ID), models.ACCOUNT_PLATFORM_REVENUE, models.ACCOUNT_PROVIDER_BALANCE, amountCents-netShare, p.Currency, desc+" fee"),
	}
}

// PayableAccount is the liability a payout category draws from.
func PayableAccount(category string) models.LedgerAccount {
	switch category {
	case "referral_commission":
		return models.ACCOUNT_MARKETING_PAYABLE
	case "training_bonus":
		return models.ACCOUNT_TRAINING_PAYABLE
	}
	return models.ACCOUNT_CAREGIVER_PAYABLE
}

// PayoutEntries describes one completed payout. Booking earnings already sit
// in caregiver_payable from the capture, so the commission moves to revenue.
// Referral and training payouts are funded by platform revenue and accrue
// before they are paid.
func PayoutEntries(p *models.PayoutTransaction) []models.LedgerEntry {
	payable := PayableAccount(string(p.Category))
	ref := PayoutRef(p.ID)
	desc := fmt.Sprintf("%s %s", p.Category, p.SourceKey)
	out := []models.LedgerEntry{}
	if payable == models.ACCOUNT_CAREGIVER_PAYABLE {
		if p.PlatformFeeCents > 0 {
			out = append(out, NewEntry(models.LEDGER_COMMISSION, ref, models.ACCOUNT_CAREGIVER_PAYABLE, models.ACCOUNT_PLATFORM_REVENUE, p.PlatformFeeCents, p.Currency, desc))
		}
	} else {
		out = append(out, NewEntry(models.LEDGER_ACCRUAL, ref, models.ACCOUNT_PLATFORM_REVENUE, payable, p.AmountCents, p.Currency, desc))
	}
	out = append(out, NewEntry(models.LEDGER_PAYOUT, ref, payable, models.ACCOUNT_PROVIDER_BALANCE, p.AmountCents, p.Currency, desc))
	return out
}

// ReversalEntries returns a reversed transfer to the provider balance and the
// recipient's payable.
func ReversalEntries(p *models.PayoutTransaction, amountCents int64) []models.LedgerEntry {
	return []models.LedgerEntry{
		NewEntry(models.LEDGER_TRANSFER_REVERSE, PayoutRef(p.ID), models.ACCOUNT_PROVIDER_BALANCE, PayableAccount(string(p.Category)), amountCents, p.Currency, fmt.Sprintf("reversal %s", p.SourceKey)),
	}
}

// MarkReconciled flags entries as reconciled. Amounts and accounts are never
// touched; entries already reconciled keep their original reconciler.
func MarkReconciled(db *gorm.DB, ids []uuid.UUID, by string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	res := db.Model(&models.LedgerEntry{}).
		Scopes(scopes.WithIDs(ids...)).
		Where("reconciled = ?", false).
		Updates(map[string]any{
			"reconciled":    true,
			"reconciled_by": by,
			"reconciled_at": now,
		})
	return res.RowsAffected, res.Error
}

// ForRelated lists the entries caused by one entity in insertion order.
func ForRelated(db *gorm.DB, rel Related) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := db.Where("related_kind = ? AND related_id = ?", rel.Kind, rel.ID).
		Order("created_at asc").
		Find(&entries).Error
	return entries, err
}
