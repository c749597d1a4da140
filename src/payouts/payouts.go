// Package payouts transfers money to connected accounts. Each payout is keyed
// by its logical source, so a source is paid at most once however often a
// request or a batch run is repeated.
package payouts

import (
	"carepay/src/config"
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

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	CHECK_ACCOUNT_ACTIVE  = "recipient_account_active"
	CHECK_AMOUNT_POSITIVE = "amount_positive"
	CHECK_SOURCE_RECORDS  = "source_records_match"
	CHECK_TRANSFER_STATUS = "transfer_not_reversed"
)

// Source is the logical origin of a payout. Key is the duplicate-prevention
// boundary and the provider idempotency key.
type Source struct {
	Key            string
	Category       types.PayoutCategory
	BookingID      *uint
	ReferralCode   *string
	ReferredUserID *uint
	TrainingID     *uint
}

func BookingSource(bookingId, recipientId uint) Source {
	return Source{
		Key:       fmt.Sprintf("payout-booking-%d-%d", bookingId, recipientId),
		Category:  types.BOOKING_EARNINGS,
		BookingID: &bookingId,
	}
}

func ReferralSource(code string, referredUserId uint) Source {
	return Source{
		Key:            fmt.Sprintf("payout-referral-%s-%d", code, referredUserId),
		Category:       types.REFERRAL_COMMISSION,
		ReferralCode:   &code,
		ReferredUserID: &referredUserId,
	}
}

func TrainingSource(trainingId, recipientId uint) Source {
	return Source{
		Key:        fmt.Sprintf("payout-training-%d-%d", trainingId, recipientId),
		Category:   types.TRAINING_BONUS,
		TrainingID: &trainingId,
	}
}

func (s Source) ids() types.JSONBArray {
	out := types.JSONBArray{}
	if s.BookingID != nil {
		out = append(out, fmt.Sprintf("booking:%d", *s.BookingID))
	}
	if s.ReferralCode != nil {
		out = append(out, fmt.Sprintf("referral:%s", *s.ReferralCode))
	}
	if s.ReferredUserID != nil {
		out = append(out, fmt.Sprintf("user:%d", *s.ReferredUserID))
	}
	if s.TrainingID != nil {
		out = append(out, fmt.Sprintf("training:%d", *s.TrainingID))
	}
	return out
}

func (s Source) validate() error {
	if s.Key == "" {
		return fmt.Errorf("%w: empty source key", types.ErrInvalidCategory)
	}
	switch s.Category {
	case types.BOOKING_EARNINGS:
		if s.BookingID == nil {
			return fmt.Errorf("%w: booking payout without booking", types.ErrInvalidCategory)
		}
	case types.REFERRAL_COMMISSION:
		if s.ReferralCode == nil || s.ReferredUserID == nil {
			return fmt.Errorf("%w: referral payout without referral", types.ErrInvalidCategory)
		}
	case types.TRAINING_BONUS:
		if s.TrainingID == nil {
			return fmt.Errorf("%w: training payout without training", types.ErrInvalidCategory)
		}
	default:
		return fmt.Errorf("%w: %s", types.ErrInvalidCategory, s.Category)
	}
	return nil
}

// CapabilityChecker answers whether an account may receive transfers.
type CapabilityChecker interface {
	CanReceivePayouts(ctx context.Context, accountId string) bool
}

type Engine struct {
	db         *gorm.DB
	gw         lib.PaymentGateway
	accounts   CapabilityChecker
	cfg        *config.Payments
	commission decimal.Decimal
	publisher  lib.Publisher
	now        func() time.Time
}

func NewEngine(db *gorm.DB, gw lib.PaymentGateway, accounts CapabilityChecker, cfg *config.Payments, publisher lib.Publisher) *Engine {
	if publisher == nil {
		publisher = lib.NopPublisher{}
	}
	return &Engine{
		db:         db,
		gw:         gw,
		accounts:   accounts,
		cfg:        cfg,
		commission: cfg.PlatformCommissionPct,
		publisher:  publisher,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// PlatformFee is the commission kept from booking earnings. Other categories
// are paid in full.
func (e *Engine) PlatformFee(amountCents int64, category types.PayoutCategory) int64 {
	if category != types.BOOKING_EARNINGS {
		return 0
	}
	return decimal.NewFromInt(amountCents).Mul(e.commission).Round(0).IntPart()
}

type verification struct {
	check  string
	passed bool
	result types.JSONB
}

// Payout transfers amountCents, less any platform fee, to the recipient's
// connected account.
func (e *Engine) Payout(ctx context.Context, recipientId uint, amountCents int64, src Source) types.Outcome {
	tr, err := e.payout(ctx, recipientId, amountCents, src, nil)
	if err != nil {
		log.Printf("[Payouts] Payout %s to %d failed: %s\n", src.Key, recipientId, err.Error())
		return types.OutcomeFromError(err)
	}
	return types.Succeeded(*tr.TransferID)
}

func (e *Engine) payout(ctx context.Context, recipientId uint, amountCents int64, src Source, runId *uuid.UUID) (*models.PayoutTransaction, error) {
	if err := src.validate(); err != nil {
		return nil, types.WithKind(types.FAILURE_PRECONDITION, err)
	}
	var recipient models.Provider
	if err := e.db.WithContext(ctx).Scopes(scopes.WithID(recipientId)).First(&recipient).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.WithKind(types.FAILURE_PRECONDITION, types.ErrNoAccount)
		}
		return nil, types.WithKind(types.FAILURE_TRANSIENT, err)
	}
	if !recipient.HasAccount() {
		return nil, types.WithKind(types.FAILURE_PRECONDITION, types.ErrNoAccount)
	}
	accountId := *recipient.StripeAccountID
	if !e.accounts.CanReceivePayouts(ctx, accountId) {
		return nil, types.WithKind(types.FAILURE_PRECONDITION, types.ErrPayoutsDisabled)
	}
	fee := e.PlatformFee(amountCents, src.Category)
	net := amountCents - fee
	if amountCents <= 0 || net <= 0 {
		return nil, types.WithKind(types.FAILURE_PRECONDITION, fmt.Errorf("%w: net %d", types.ErrInvalidAmount, net))
	}

	checks := []verification{
		{check: CHECK_ACCOUNT_ACTIVE, passed: true, result: types.JSONB{"account_id": accountId}},
		{check: CHECK_AMOUNT_POSITIVE, passed: true, result: types.JSONB{"gross_cents": amountCents, "fee_cents": fee, "net_cents": net}},
	}

	var payout models.PayoutTransaction
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var done int64
		if err := tx.Model(&models.PayoutTransaction{}).
			Where("source_key = ? AND status = ?", src.Key, types.PAYOUT_COMPLETED).
			Count(&done).Error; err != nil {
			return types.WithKind(types.FAILURE_TRANSIENT, err)
		}
		if done > 0 {
			return types.WithKind(types.FAILURE_PRECONDITION, types.ErrAlreadyProcessed)
		}
		match, err := e.sourceRecords(tx, recipientId, amountCents, src)
		if err != nil {
			return err
		}
		if match != nil {
			checks = append(checks, *match)
		}

		transfer, err := e.gw.CreateTransfer(ctx, lib.TransferRequest{
			DestinationAccountID: accountId,
			AmountCents:          net,
			Currency:             e.cfg.Currency,
			Description:          fmt.Sprintf("%s %s", src.Category, src.Key),
			TransferGroup:        src.Key,
			IdempotencyKey:       src.Key,
			Metadata: map[string]string{
				"recipient_id": strconv.FormatUint(uint64(recipientId), 10),
				"source_key":   src.Key,
				"category":     string(src.Category),
			},
		})
		if err != nil {
			return err
		}

		now := e.now()
		payout = models.PayoutTransaction{
			RecipientID:       recipientId,
			ScheduledPayoutID: runId,
			Category:          src.Category,
			SourceKey:         src.Key,
			SourceIDs:         src.ids(),
			GrossCents:        amountCents,
			PlatformFeeCents:  fee,
			AmountCents:       net,
			Currency:          e.cfg.Currency,
			TransferID:        &transfer.ID,
			Status:            types.PAYOUT_COMPLETED,
			InitiatedAt:       now,
			CompletedAt:       &now,
		}
		if err := tx.Create(&payout).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return types.WithKind(types.FAILURE_PRECONDITION, types.ErrAlreadyProcessed)
			}
			return types.WithKind(types.FAILURE_TRANSIENT, err)
		}
		for _, c := range checks {
			v := models.PayoutVerification{PayoutTransactionID: payout.ID, Check: c.check, Passed: c.passed, Result: c.result}
			if err := tx.Create(&v).Error; err != nil {
				return types.WithKind(types.FAILURE_TRANSIENT, err)
			}
		}
		if src.Category != types.BOOKING_EARNINGS {
			c := models.Commission{
				Category:            src.Category,
				RecipientID:         recipientId,
				PayoutTransactionID: payout.ID,
				ReferralCode:        src.ReferralCode,
				ReferredUserID:      src.ReferredUserID,
				TrainingID:          src.TrainingID,
				AmountCents:         net,
				Status:              types.PAYOUT_COMPLETED,
				PaidAt:              &now,
			}
			if err := tx.Create(&c).Error; err != nil {
				return types.WithKind(types.FAILURE_TRANSIENT, err)
			}
		}
		if err := ledger.Append(tx, ledger.PayoutEntries(&payout)...); err != nil {
			return types.WithKind(types.FAILURE_TRANSIENT, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	lib.PublishQuietly(ctx, e.publisher, lib.NewEvent(lib.EVENT_PAYOUT_COMPLETED, src.Key, map[string]any{
		"payout_id":    payout.ID.String(),
		"recipient_id": recipientId,
		"category":     string(src.Category),
		"amount_cents": payout.AmountCents,
		"transfer_id":  *payout.TransferID,
	}))
	log.Printf("[Payouts] Paid %d %s to %d for %s\n", payout.AmountCents, payout.Currency, recipientId, src.Key)
	return &payout, nil
}

// sourceRecords checks the payout against the local records it pays out.
// Training bonuses have no local source record and get no check.
func (e *Engine) sourceRecords(tx *gorm.DB, recipientId uint, amountCents int64, src Source) (*verification, error) {
	switch src.Category {
	case types.BOOKING_EARNINGS:
		return bookingRecords(tx, recipientId, amountCents, src)
	case types.REFERRAL_COMMISSION:
		return referralRecords(tx, recipientId, src)
	}
	return nil, nil
}

func sourceMismatch(reason string) error {
	return types.WithKind(types.FAILURE_PRECONDITION, fmt.Errorf("source records do not match: %s", reason))
}

// referralRecords requires the code to belong to the recipient and the
// referred user to exist.
func referralRecords(tx *gorm.DB, recipientId uint, src Source) (*verification, error) {
	v := &verification{check: CHECK_SOURCE_RECORDS, passed: true, result: types.JSONB{"source_ids": src.ids()}}
	var owner models.Provider
	if err := tx.Select("id").Where("referral_code = ?", *src.ReferralCode).First(&owner).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, sourceMismatch("unknown referral code")
		}
		return nil, types.WithKind(types.FAILURE_TRANSIENT, err)
	}
	if owner.ID != recipientId {
		return nil, sourceMismatch("referral code belongs to another provider")
	}
	var referred int64
	if err := tx.Model(&models.User{}).Scopes(scopes.WithID(*src.ReferredUserID)).Count(&referred).Error; err != nil {
		return nil, types.WithKind(types.FAILURE_TRANSIENT, err)
	}
	if referred == 0 {
		return nil, sourceMismatch("referred user not found")
	}
	v.result["referral_owner_id"] = owner.ID
	return v, nil
}

func bookingRecords(tx *gorm.DB, recipientId uint, amountCents int64, src Source) (*verification, error) {
	v := &verification{check: CHECK_SOURCE_RECORDS, passed: true, result: types.JSONB{"source_ids": src.ids()}}
	mismatch := func(reason string) (*verification, error) {
		return nil, sourceMismatch(reason)
	}
	var booking models.Booking
	if err := tx.Scopes(scopes.WithID(*src.BookingID)).First(&booking).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return mismatch("booking not found")
		}
		return nil, types.WithKind(types.FAILURE_TRANSIENT, err)
	}
	if booking.CaregiverID != recipientId {
		return mismatch("recipient is not the booking caregiver")
	}
	if booking.PaymentStatus != types.BOOKING_PAID {
		return mismatch(fmt.Sprintf("booking payment status %s", booking.PaymentStatus))
	}
	var payment models.Payment
	if err := tx.Where("booking_id = ? AND status = ?", booking.ID, types.PAYMENT_COMPLETED).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return mismatch("no completed payment")
		}
		return nil, types.WithKind(types.FAILURE_TRANSIENT, err)
	}
	if amountCents > payment.NetCents {
		return mismatch(fmt.Sprintf("amount %d exceeds captured net %d", amountCents, payment.NetCents))
	}
	v.result["payment_id"] = payment.ID.String()
	v.result["payment_net_cents"] = payment.NetCents
	return v, nil
}
