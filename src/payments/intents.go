package payments

import (
	"carepay/src/lib"
	"carepay/src/models"
	"carepay/src/models/scopes"
	"carepay/src/types"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrMissingMetadata = errors.New("payment intent is missing booking metadata")

// HandleIntentSucceeded completes a capture confirmed asynchronously, such as
// one that needed 3-D Secure. Replays are no-ops.
func (s *Service) HandleIntentSucceeded(ctx context.Context, event stripe.Event) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		log.Printf("[Stripe] Error parsing PaymentIntent: %s\n", err.Error())
		return err
	}
	bookingId, err := strconv.ParseUint(pi.Metadata[metaBookingID], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrMissingMetadata, pi.ID)
	}
	payerId, err := strconv.ParseUint(pi.Metadata[metaPayerID], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrMissingMetadata, pi.ID)
	}
	gross, _ := strconv.ParseInt(pi.Metadata[metaGross], 10, 64)
	fee, _ := strconv.ParseInt(pi.Metadata[metaFee], 10, 64)
	net, _ := strconv.ParseInt(pi.Metadata[metaNet], 10, 64)
	if gross == 0 {
		gross = pi.Amount
	}
	if net == 0 {
		net = gross - fee
	}
	chargeId := ""
	if pi.LatestCharge != nil {
		chargeId = pi.LatestCharge.ID
	}

	var payment models.Payment
	created := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var booking models.Booking
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Scopes(scopes.WithID(bookingId)).
			First(&booking).
			Error; err != nil {
			return err
		}
		var existing int64
		if err := tx.Model(&models.Payment{}).Where("payment_intent_id = ?", pi.ID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return nil
		}
		if booking.IsPaid() {
			log.Printf("[Payments] Booking %d already paid, intent %s needs manual review\n", booking.ID, pi.ID)
			return nil
		}
		paidAt := s.now()
		currency := string(pi.Currency)
		if currency == "" {
			currency = s.cfg.Currency
		}
		payment = models.Payment{
			BookingID:        booking.ID,
			PayerID:          uint(payerId),
			ProviderChargeID: chargeId,
			PaymentIntentID:  pi.ID,
			IdempotencyKey:   pi.Metadata[metaKey],
			Currency:         currency,
			GrossCents:       gross,
			FeeCents:         fee,
			NetCents:         net,
			FeeTier:          pi.Metadata[metaTier],
			Status:           types.PAYMENT_COMPLETED,
			PaidAt:           &paidAt,
		}
		created = true
		return s.persistCapture(tx, &booking, &payment)
	})
	if err != nil {
		log.Printf("[Payments] Error completing intent %s: %s\n", pi.ID, err.Error())
		return err
	}
	if created {
		lib.PublishQuietly(ctx, s.publisher, capturedEvent(&payment))
	}
	return nil
}

// HandleIntentFailed reports an asynchronous capture failure for a booking,
// typically a 3-D Secure challenge the payer did not pass. Captures persist
// nothing until they succeed, so there is no local row to update; the booking
// stays unpaid and downstream consumers are told why.
func (s *Service) HandleIntentFailed(ctx context.Context, event stripe.Event) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		log.Printf("[Stripe] Error parsing PaymentIntent: %s\n", err.Error())
		return err
	}
	bookingId, err := strconv.ParseUint(pi.Metadata[metaBookingID], 10, 64)
	if err != nil {
		log.Printf("[Payments] Ignoring failed intent %s without booking metadata\n", pi.ID)
		return nil
	}
	code, reason := "", string(pi.Status)
	if pi.LastPaymentError != nil {
		code = string(pi.LastPaymentError.Code)
		if pi.LastPaymentError.Msg != "" {
			reason = pi.LastPaymentError.Msg
		}
	}
	log.Printf("[Payments] Intent %s failed for booking %d: %s\n", pi.ID, bookingId, reason)
	lib.PublishQuietly(ctx, s.publisher, lib.NewEvent(lib.EVENT_PAYMENT_FAILED, fmt.Sprintf("booking-%d", bookingId), map[string]any{
		"booking_id":        bookingId,
		"payer_id":          pi.Metadata[metaPayerID],
		"payment_intent_id": pi.ID,
		"code":              code,
		"reason":            reason,
	}))
	return nil
}
