package payouts

import (
	"carepay/src/ledger"
	"carepay/src/models"
	"context"
	"errors"
	"log"

	"github.com/stripe/stripe-go/v82"
	"github.com/tidwall/gjson"
	"gorm.io/gorm"
)

// HandleTransferReversed records a reversed transfer against its payout. The
// payout row stays terminal; the reversal is a failed verification plus
// ledger entries returning the funds.
func (e *Engine) HandleTransferReversed(ctx context.Context, event stripe.Event) error {
	raw := event.Data.Raw
	transferId := gjson.GetBytes(raw, "id").String()
	reversed := gjson.GetBytes(raw, "amount_reversed").Int()
	if transferId == "" {
		return errors.New("transfer event without id")
	}
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payout models.PayoutTransaction
		if err := tx.Where("transfer_id = ?", transferId).First(&payout).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.Printf("[Payouts] No payout for reversed transfer %s\n", transferId)
				return nil
			}
			return err
		}
		entries, err := ledger.ForRelated(tx, ledger.PayoutRef(payout.ID))
		if err != nil {
			return err
		}
		var recorded int64
		for _, en := range entries {
			if en.TransactionType == models.LEDGER_TRANSFER_REVERSE {
				recorded += en.AmountCents
			}
		}
		if reversed > payout.AmountCents {
			reversed = payout.AmountCents
		}
		delta := reversed - recorded
		if delta <= 0 {
			log.Printf("[Payouts] Reversal of %s already recorded\n", transferId)
			return nil
		}
		v := models.PayoutVerification{
			PayoutTransactionID: payout.ID,
			Check:               CHECK_TRANSFER_STATUS,
			Passed:              false,
			Result: map[string]any{
				"transfer_id":     transferId,
				"amount_reversed": reversed,
				"event_id":        event.ID,
			},
		}
		if err := tx.Create(&v).Error; err != nil {
			return err
		}
		if err := ledger.Append(tx, ledger.ReversalEntries(&payout, delta)...); err != nil {
			return err
		}
		log.Printf("[Payouts] Transfer %s for %s reversed by %d\n", transferId, payout.SourceKey, delta)
		return nil
	})
}
