// Package admin holds operator actions on money already captured, and the
// read-only projections operators reconcile against the provider.
package admin

import (
	"carepay/src/config"
	"carepay/src/connect"
	"carepay/src/ledger"
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
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var RefundReasons = []string{"duplicate", "fraudulent", "requested_by_customer"}

type Service struct {
	db        *gorm.DB
	gw        lib.PaymentGateway
	accounts  *connect.Manager
	snapshots *ledger.SnapshotService
	cfg       *config.Payments
	rdb       *redis.Client
	publisher lib.Publisher
}

func NewService(db *gorm.DB, gw lib.PaymentGateway, accounts *connect.Manager, snapshots *ledger.SnapshotService, cfg *config.Payments, rdb *redis.Client, publisher lib.Publisher) *Service {
	if publisher == nil {
		publisher = lib.NopPublisher{}
	}
	return &Service{db: db, gw: gw, accounts: accounts, snapshots: snapshots, cfg: cfg, rdb: rdb, publisher: publisher}
}

// RefundKey identifies the n-th refund of a charge. A retry of the same
// attempt reuses the key; the next deliberate refund gets a new one.
func RefundKey(chargeId string, n int) string {
	return fmt.Sprintf("refund-%s-%d", chargeId, n)
}

func refundedStatus(p *models.Payment) (types.PaymentStatus, types.BookingPaymentStatus) {
	if p.RefundedCents >= p.GrossCents {
		return types.PAYMENT_REFUNDED, types.BOOKING_REFUNDED
	}
	return types.PAYMENT_PARTIAL_REFUND, types.BOOKING_PARTIAL_REFUND
}

// Refund returns amountCents of a captured charge, or everything still
// refundable when amountCents is zero. The accumulated refunds never exceed
// the gross charge.
func (s *Service) Refund(ctx context.Context, chargeId string, amountCents int64, reason string, by string) types.Outcome {
	var refund *lib.RefundResult
	var payment models.Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("provider_charge_id = ?", chargeId).
			First(&payment).
			Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.WithKind(types.FAILURE_PRECONDITION, types.ErrNotFound)
			}
			return types.WithKind(types.FAILURE_TRANSIENT, err)
		}
		remaining := payment.RefundableCents()
		if remaining <= 0 {
			return types.WithKind(types.FAILURE_PRECONDITION, types.ErrNothingToRefund)
		}
		amount := amountCents
		if amount == 0 {
			amount = remaining
		}
		if amount < 0 {
			return types.WithKind(types.FAILURE_PRECONDITION, types.ErrInvalidAmount)
		}
		if amount > remaining {
			return types.WithKind(types.FAILURE_PRECONDITION, fmt.Errorf("%w: %d requested, %d remaining", types.ErrRefundExceeds, amount, remaining))
		}

		key := RefundKey(chargeId, payment.RefundCount+1)
		res, err := s.gw.CreateRefund(ctx, lib.RefundRequest{
			ChargeID:       chargeId,
			AmountCents:    amount,
			Reason:         reason,
			IdempotencyKey: key,
			Metadata: map[string]string{
				"booking_id":  strconv.FormatUint(uint64(payment.BookingID), 10),
				"refunded_by": by,
			},
		})
		if err != nil {
			log.Printf("[Admin] Refund of %s failed: %s\n", chargeId, err.Error())
			return err
		}
		refund = res
		payment.RefundedCents += res.AmountCents
		payment.RefundCount++
		return s.applyRefund(tx, &payment, res.AmountCents)
	})
	if err != nil {
		return types.OutcomeFromError(err)
	}
	s.refunded(ctx, &payment, refund.AmountCents, by)
	return types.Succeeded(refund.ID)
}

// applyRefund persists an already updated payment, mirrors the status onto
// the booking and records the ledger entries for delta.
func (s *Service) applyRefund(tx *gorm.DB, payment *models.Payment, delta int64) error {
	status, bookingStatus := refundedStatus(payment)
	payment.Status = status
	if err := tx.Model(&models.Payment{}).Scopes(scopes.WithID(payment.ID)).Updates(map[string]any{
		"refunded_cents": payment.RefundedCents,
		"refund_count":   payment.RefundCount,
		"status":         status,
	}).Error; err != nil {
		return types.WithKind(types.FAILURE_TRANSIENT, err)
	}
	if err := tx.Model(&models.Booking{}).Scopes(scopes.WithID(payment.BookingID)).Update("payment_status", bookingStatus).Error; err != nil {
		return types.WithKind(types.FAILURE_TRANSIENT, err)
	}
	if err := ledger.Append(tx, ledger.RefundEntries(payment, delta)...); err != nil {
		return types.WithKind(types.FAILURE_TRANSIENT, err)
	}
	return nil
}

func (s *Service) refunded(ctx context.Context, p *models.Payment, amount int64, by string) {
	lib.PublishQuietly(ctx, s.publisher, lib.NewEvent(lib.EVENT_PAYMENT_REFUNDED, fmt.Sprintf("booking-%d", p.BookingID), map[string]any{
		"payment_id":     p.ID.String(),
		"charge_id":      p.ProviderChargeID,
		"amount_cents":   amount,
		"refunded_cents": p.RefundedCents,
		"status":         string(p.Status),
		"by":             by,
	}))
	lib.CacheDelete(ctx, s.rdb, dashboardKeys(ctx, s.rdb)...)
	log.Printf("[Admin] Refunded %d of %s (%d/%d) by %s\n", amount, p.ProviderChargeID, p.RefundedCents, p.GrossCents, by)
}

// HandleChargeRefunded syncs refunds made outside this service, such as from
// the provider dashboard. The local total only moves forward and never past
// the gross charge.
func (s *Service) HandleChargeRefunded(ctx context.Context, event stripe.Event) error {
	var ch stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
		log.Printf("[Stripe] Error parsing Charge: %s\n", err.Error())
		return err
	}
	var payment models.Payment
	var delta int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("provider_charge_id = ?", ch.ID).
			First(&payment).
			Error; err != nil {
			return err
		}
		target := ch.AmountRefunded
		if target > payment.GrossCents {
			target = payment.GrossCents
		}
		delta = target - payment.RefundedCents
		if delta <= 0 {
			return nil
		}
		payment.RefundedCents = target
		payment.RefundCount++
		return s.applyRefund(tx, &payment, delta)
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("[Admin] No payment for refunded charge %s\n", ch.ID)
		return nil
	}
	if err != nil {
		return err
	}
	if delta > 0 {
		s.refunded(ctx, &payment, delta, "provider")
	}
	return nil
}

// ReconcileEntries flags ledger entries as reviewed.
func (s *Service) ReconcileEntries(ctx context.Context, ids []string, by string) (int64, error) {
	parsed, err := parseIDs(ids)
	if err != nil {
		return 0, err
	}
	return ledger.MarkReconciled(s.db.WithContext(ctx), parsed, by)
}

func (s *Service) RunSnapshot(ctx context.Context) (*models.DailyBalanceSnapshot, bool, error) {
	return s.snapshots.Run(ctx, time.Now().UTC())
}

func (s *Service) ReconcileSnapshot(ctx context.Context, date string, by string) (*models.DailyBalanceSnapshot, error) {
	return s.snapshots.MarkReconciled(ctx, date, by)
}

func (s *Service) Snapshots(ctx context.Context, limit int) ([]models.DailyBalanceSnapshot, error) {
	return s.snapshots.List(ctx, limit)
}
