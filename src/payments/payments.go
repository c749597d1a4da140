// Package payments charges a payer's stored card for a booking exactly once.
//
// The booking row lock taken inside the transaction serializes concurrent
// captures for one booking. The provider call happens inside that transaction
// with a day-scoped idempotency key, so a rolled back capture can be retried
// without charging twice.
package payments

import (
	"carepay/src/config"
	"carepay/src/fees"
	"carepay/src/ledger"
	"carepay/src/lib"
	"carepay/src/models"
	"carepay/src/models/scopes"
	"carepay/src/types"
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TotalCalculator returns the server-side price of a booking in dollars.
// Client-submitted amounts never reach it.
type TotalCalculator func(b *models.Booking) (decimal.Decimal, error)

// BookingTotal prices a booking from its stored total.
func BookingTotal(b *models.Booking) (decimal.Decimal, error) {
	return fees.FromCents(b.TotalCents), nil
}

type Service struct {
	db        *gorm.DB
	gw        lib.PaymentGateway
	fees      *fees.Calculator
	cfg       *config.Payments
	publisher lib.Publisher
	alerter   lib.Alerter
	now       func() time.Time
}

func NewService(db *gorm.DB, gw lib.PaymentGateway, cfg *config.Payments, publisher lib.Publisher, alerter lib.Alerter) *Service {
	if publisher == nil {
		publisher = lib.NopPublisher{}
	}
	if alerter == nil {
		alerter = lib.NopAlerter{}
	}
	return &Service{
		db:        db,
		gw:        gw,
		fees:      fees.NewCalculatorFromConfig(cfg),
		cfg:       cfg,
		publisher: publisher,
		alerter:   alerter,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used for idempotency keys.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// CaptureKey scopes a capture to booking, payer and calendar day.
func CaptureKey(bookingId, payerId uint, at time.Time) string {
	return fmt.Sprintf("booking-payment-%d-%d-%s", bookingId, payerId, at.UTC().Format("20060102"))
}

const (
	metaBookingID = "booking_id"
	metaPayerID   = "payer_id"
	metaGross     = "gross_cents"
	metaFee       = "fee_cents"
	metaNet       = "net_cents"
	metaTier      = "fee_tier"
	metaKey       = "idempotency_key"
)

// ProcessBookingPayment charges paymentMethodId for bookingId. Every failure is
// returned as an Outcome; no partial booking or payment state survives one.
func (s *Service) ProcessBookingPayment(ctx context.Context, payerId uint, bookingId uint, paymentMethodId string, total TotalCalculator) types.Outcome {
	if total == nil {
		total = BookingTotal
	}
	var payer models.User
	if err := s.db.WithContext(ctx).Scopes(scopes.WithID(payerId)).First(&payer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.Failed(types.FAILURE_PRECONDITION, types.ErrNotFound.Error())
		}
		log.Printf("[Payments] Error loading payer %d: %s\n", payerId, err.Error())
		return types.OutcomeFromError(types.WithKind(types.FAILURE_TRANSIENT, err))
	}

	customerId, err := s.ensureCustomer(ctx, &payer)
	if err != nil {
		log.Printf("[Payments] Error preparing customer for payer %d: %s\n", payerId, err.Error())
		return types.OutcomeFromError(err)
	}
	pm, err := s.attach(ctx, paymentMethodId, customerId)
	if err != nil {
		log.Printf("[Payments] Payment method %s unusable for payer %d: %s\n", paymentMethodId, payerId, err.Error())
		return types.OutcomeFromError(err)
	}

	var payment models.Payment
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var booking models.Booking
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Scopes(scopes.WithID(bookingId)).
			First(&booking).
			Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.WithKind(types.FAILURE_PRECONDITION, types.ErrNotFound)
			}
			return types.WithKind(types.FAILURE_TRANSIENT, err)
		}
		if booking.PayerID != payerId {
			return types.WithKind(types.FAILURE_PRECONDITION, types.ErrNotOwner)
		}
		if booking.IsPaid() {
			return types.WithKind(types.FAILURE_PRECONDITION, types.ErrAlreadyPaid)
		}

		target, err := total(&booking)
		if err != nil {
			return types.WithKind(types.FAILURE_FATAL, fmt.Errorf("pricing booking %d: %w", bookingId, err))
		}
		if !target.IsPositive() {
			s.alert(ctx, "Non-positive booking total", fmt.Sprintf("booking %d priced at %s", bookingId, target.String()))
			return types.WithKind(types.FAILURE_FATAL, fmt.Errorf("booking %d total %s: %w", bookingId, target.String(), types.ErrInvalidAmount))
		}

		tier := fees.TierForCountry(pm.Country, s.cfg.PlatformCountry)
		bd := s.fees.Breakdown(target, tier)
		key := CaptureKey(bookingId, payerId, s.now())
		res, err := s.gw.CreateCharge(ctx, lib.ChargeRequest{
			CustomerID:      customerId,
			PaymentMethodID: pm.ID,
			AmountCents:     bd.GrossCents,
			Currency:        s.cfg.Currency,
			Description:     fmt.Sprintf("Booking #%d", bookingId),
			IdempotencyKey:  key,
			Metadata: map[string]string{
				metaBookingID: strconv.FormatUint(uint64(bookingId), 10),
				metaPayerID:   strconv.FormatUint(uint64(payerId), 10),
				metaGross:     strconv.FormatInt(bd.GrossCents, 10),
				metaFee:       strconv.FormatInt(bd.FeeCents, 10),
				metaNet:       strconv.FormatInt(bd.TargetCents, 10),
				metaTier:      string(tier),
				metaKey:       key,
			},
		})
		if err != nil {
			log.Printf("[Payments] Charge failed for booking %d: %s\n", bookingId, err.Error())
			return err
		}
		if res.RequiresAction() {
			return &types.KindError{
				Kind:         types.FAILURE_USER_RETRYABLE,
				Err:          errors.New("payment requires authentication"),
				ClientSecret: res.ClientSecret,
			}
		}
		if !res.Succeeded() {
			return types.WithKind(types.FAILURE_USER_RETRYABLE, fmt.Errorf("payment not completed: %s", res.Status))
		}

		paidAt := s.now()
		payment = models.Payment{
			BookingID:        booking.ID,
			PayerID:          payerId,
			ProviderChargeID: res.ChargeID,
			PaymentIntentID:  res.IntentID,
			IdempotencyKey:   key,
			Currency:         s.cfg.Currency,
			GrossCents:       bd.GrossCents,
			FeeCents:         bd.FeeCents,
			NetCents:         bd.TargetCents,
			FeeTier:          string(tier),
			Status:           types.PAYMENT_COMPLETED,
			PaidAt:           &paidAt,
		}
		return s.persistCapture(tx, &booking, &payment)
	})
	if err != nil {
		return types.OutcomeFromError(err)
	}

	lib.PublishQuietly(ctx, s.publisher, capturedEvent(&payment))
	log.Printf("[Payments] Booking %d paid: gross=%d fee=%d net=%d\n", bookingId, payment.GrossCents, payment.FeeCents, payment.NetCents)
	return types.Succeeded(payment.ID.String())
}

func (s *Service) persistCapture(tx *gorm.DB, booking *models.Booking, payment *models.Payment) error {
	if err := tx.
		Model(&models.Booking{}).
		Scopes(scopes.WithID(booking.ID)).
		Updates(map[string]any{"payment_status": types.BOOKING_PAID, "paid_at": payment.PaidAt}).
		Error; err != nil {
		return types.WithKind(types.FAILURE_TRANSIENT, err)
	}
	if err := tx.Create(payment).Error; err != nil {
		return types.WithKind(types.FAILURE_TRANSIENT, err)
	}
	if err := ledger.Append(tx, ledger.CaptureEntries(payment)...); err != nil {
		return types.WithKind(types.FAILURE_TRANSIENT, err)
	}
	return nil
}

func capturedEvent(p *models.Payment) lib.Event {
	return lib.NewEvent(lib.EVENT_PAYMENT_CAPTURED, fmt.Sprintf("booking-%d", p.BookingID), map[string]any{
		"payment_id":  p.ID.String(),
		"booking_id":  p.BookingID,
		"charge_id":   p.ProviderChargeID,
		"gross_cents": p.GrossCents,
		"fee_cents":   p.FeeCents,
		"net_cents":   p.NetCents,
	})
}

func (s *Service) alert(ctx context.Context, subject, message string) {
	log.Printf("[Payments] ALERT %s: %s\n", subject, message)
	if err := s.alerter.Alert(ctx, subject, message); err != nil {
		log.Printf("[Payments] Alert failed: %s\n", err.Error())
	}
}

// ensureCustomer creates the provider customer on first use. A concurrent
// request that stored one first wins.
func (s *Service) ensureCustomer(ctx context.Context, payer *models.User) (string, error) {
	if payer.StripeCustomerId != nil && *payer.StripeCustomerId != "" {
		return *payer.StripeCustomerId, nil
	}
	id, err := s.gw.CreateCustomer(ctx, payer.Email, payer.Name, map[string]string{
		"id": strconv.FormatUint(uint64(payer.ID), 10),
	})
	if err != nil {
		return "", err
	}
	res := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND (stripe_customer_id IS NULL OR stripe_customer_id = '')", payer.ID).
		Update("stripe_customer_id", id)
	if res.Error != nil {
		return "", types.WithKind(types.FAILURE_TRANSIENT, res.Error)
	}
	if res.RowsAffected == 0 {
		var stored models.User
		if err := s.db.WithContext(ctx).Select("id", "stripe_customer_id").Scopes(scopes.WithID(payer.ID)).First(&stored).Error; err != nil {
			return "", types.WithKind(types.FAILURE_TRANSIENT, err)
		}
		if stored.StripeCustomerId != nil {
			id = *stored.StripeCustomerId
		}
	}
	payer.StripeCustomerId = &id
	return id, nil
}

// attach links the payment method to the customer. A method already attached
// to this customer is fine; one owned by anyone else is reported as not found.
func (s *Service) attach(ctx context.Context, paymentMethodId, customerId string) (*lib.PaymentMethod, error) {
	pm, err := s.gw.AttachPaymentMethod(ctx, paymentMethodId, customerId)
	if err == nil {
		return pm, nil
	}
	if lib.FailureKindOf(err) == types.FAILURE_TRANSIENT {
		return nil, err
	}
	existing, gerr := s.gw.GetPaymentMethod(ctx, paymentMethodId)
	if gerr != nil || existing.CustomerID != customerId {
		return nil, types.WithKind(types.FAILURE_USER_RETRYABLE, fmt.Errorf("payment method %w", types.ErrNotFound))
	}
	return existing, nil
}
