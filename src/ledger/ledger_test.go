package ledger

import (
	"carepay/src/config"
	"carepay/src/lib"
	"carepay/src/models"
	"carepay/src/testutils"
	"carepay/src/types"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func payment(net int64) *models.Payment {
	return &models.Payment{ID: uuid.New(), BookingID: 42, GrossCents: net + 330, FeeCents: 330, NetCents: net, Currency: "usd"}
}

func payout(category types.PayoutCategory, amount, fee int64) *models.PayoutTransaction {
	return &models.PayoutTransaction{ID: uuid.New(), Category: category, SourceKey: "payout-x", AmountCents: amount, PlatformFeeCents: fee, Currency: "usd"}
}

func TestAppendRejectsInvalidEntries(t *testing.T) {
	db := testutils.NewTestDB(t)
	ref := PaymentRef(uuid.New())

	err := Append(db, NewEntry(models.LEDGER_CAPTURE, ref, models.ACCOUNT_PROVIDER_BALANCE, models.ACCOUNT_PROVIDER_BALANCE, 100, "usd", ""))
	assert.ErrorIs(t, err, ErrInvalidEntry)
	err = Append(db, NewEntry(models.LEDGER_CAPTURE, ref, models.ACCOUNT_PROVIDER_BALANCE, models.ACCOUNT_CAREGIVER_PAYABLE, -5, "usd", ""))
	assert.ErrorIs(t, err, ErrInvalidEntry)
	err = Append(db, NewEntry(models.LEDGER_CAPTURE, Related{}, models.ACCOUNT_PROVIDER_BALANCE, models.ACCOUNT_CAREGIVER_PAYABLE, 5, "usd", ""))
	assert.ErrorIs(t, err, ErrInvalidEntry)

	require.NoError(t, Append(db, NewEntry(models.LEDGER_CAPTURE, ref, models.ACCOUNT_PROVIDER_BALANCE, models.ACCOUNT_CAREGIVER_PAYABLE, 0, "usd", "")))
	var count int64
	db.Model(&models.LedgerEntry{}).Count(&count)
	assert.Zero(t, count)
}

func TestPayoutEntriesByCategory(t *testing.T) {
	booking := PayoutEntries(payout(types.BOOKING_EARNINGS, 9000, 1000))
	require.Len(t, booking, 2)
	assert.Equal(t, models.ACCOUNT_PLATFORM_REVENUE, booking[0].CreditAccount)
	assert.Equal(t, int64(1000), booking[0].AmountCents)
	assert.Equal(t, models.ACCOUNT_CAREGIVER_PAYABLE, booking[1].DebitAccount)
	assert.Equal(t, models.ACCOUNT_PROVIDER_BALANCE, booking[1].CreditAccount)

	referral := PayoutEntries(payout(types.REFERRAL_COMMISSION, 2500, 0))
	require.Len(t, referral, 2)
	assert.Equal(t, models.LEDGER_ACCRUAL, referral[0].TransactionType)
	assert.Equal(t, models.ACCOUNT_MARKETING_PAYABLE, referral[0].CreditAccount)
	assert.Equal(t, models.ACCOUNT_MARKETING_PAYABLE, referral[1].DebitAccount)

	training := PayoutEntries(payout(types.TRAINING_BONUS, 4000, 0))
	assert.Equal(t, models.ACCOUNT_TRAINING_PAYABLE, training[1].DebitAccount)
}

func TestRefundEntriesSplitFee(t *testing.T) {
	p := payment(10000)
	full := RefundEntries(p, p.GrossCents)
	require.Len(t, full, 2)
	assert.Equal(t, int64(10000), full[0].AmountCents)
	assert.Equal(t, models.ACCOUNT_CAREGIVER_PAYABLE, full[0].DebitAccount)
	assert.Equal(t, int64(330), full[1].AmountCents)
	assert.Equal(t, models.ACCOUNT_PLATFORM_REVENUE, full[1].DebitAccount)

	half := RefundEntries(p, 5165)
	assert.Equal(t, int64(5000), half[0].AmountCents)
	assert.Equal(t, int64(165), half[1].AmountCents)
}

func TestComputeTotals(t *testing.T) {
	db := testutils.NewTestDB(t)
	p := payment(10000)
	require.NoError(t, Append(db, CaptureEntries(p)...))
	require.NoError(t, Append(db, PayoutEntries(payout(types.BOOKING_EARNINGS, 9000, 1000))...))
	require.NoError(t, Append(db, PayoutEntries(payout(types.REFERRAL_COMMISSION, 500, 0))...))
	refunded := payment(2000)
	require.NoError(t, Append(db, CaptureEntries(refunded)...))
	require.NoError(t, Append(db, RefundEntries(refunded, refunded.GrossCents)...))

	totals, err := ComputeTotals(db, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(10000), totals.RevenueCents)
	assert.Equal(t, int64(9000), totals.CaregiverPaidCents)
	assert.Equal(t, int64(500), totals.MarketingPaidCents)
	assert.Equal(t, int64(0), totals.MarketingPayableCents)
	// 1000 commission, 500 referral accrual, 330 unreturned refund fee
	assert.Equal(t, int64(170), totals.PlatformRevenueCents)
	assert.Equal(t, int64(0), totals.CaregiverPayableCents)
	// 12000 captured net, 2330 refunded gross, 9500 transferred
	assert.Equal(t, int64(170), totals.ProviderBalanceCents)

	before, err := ComputeTotals(db, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, Totals{}, *before)
}

func TestMarkReconciledOnlyTouchesFlags(t *testing.T) {
	db := testutils.NewTestDB(t)
	p := payment(10000)
	require.NoError(t, Append(db, CaptureEntries(p)...))
	entries, err := ForRelated(db, PaymentRef(p.ID))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	n, err := MarkReconciled(db, []uuid.UUID{entries[0].ID}, "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = MarkReconciled(db, []uuid.UUID{entries[0].ID}, "someone-else")
	require.NoError(t, err)
	assert.Zero(t, n)

	var got models.LedgerEntry
	require.NoError(t, db.First(&got, "id = ?", entries[0].ID).Error)
	assert.True(t, got.Reconciled)
	assert.Equal(t, "admin@example.com", *got.ReconciledBy)
	assert.Equal(t, int64(10000), got.AmountCents)
	assert.Equal(t, models.ACCOUNT_PROVIDER_BALANCE, got.DebitAccount)
}

func TestLedgerEntriesCannotBeDeleted(t *testing.T) {
	db := testutils.NewTestDB(t)
	p := payment(100)
	require.NoError(t, Append(db, CaptureEntries(p)...))
	entries, _ := ForRelated(db, PaymentRef(p.ID))
	err := db.Delete(&entries[0]).Error
	assert.ErrorIs(t, err, models.ErrLedgerImmutable)
}

func TestSnapshotRunRecordsDiscrepancy(t *testing.T) {
	db := testutils.NewTestDB(t)
	gw := testutils.NewFakeGateway()
	gw.Balance = lib.Balance{Currency: "usd", AvailableCents: 7000, PendingCents: 2900}
	archiver := &testutils.RecordingArchiver{}
	alerter := &testutils.RecordingAlerter{}
	publisher := &testutils.RecordingPublisher{}
	svc := NewSnapshotService(db, gw, config.DefaultPayments(), archiver, alerter, publisher)

	require.NoError(t, Append(db, CaptureEntries(payment(10000))...))
	at := time.Now().UTC().Add(time.Minute)

	snap, created, err := svc.Run(context.Background(), at)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(10000), snap.InternalBalanceCents)
	assert.Equal(t, int64(100), snap.DiscrepancyCents)
	assert.Contains(t, snap.DiscrepancyNotes, "differs")
	assert.False(t, snap.Reconciled)

	key := ArchiveKey(at.Format(config.DAY_FORMAT))
	require.Contains(t, archiver.Objects, key)
	assert.Equal(t, int64(100), gjson.GetBytes(archiver.Objects[key], "discrepancy_cents").Int())
	assert.Len(t, alerter.Subjects, 1)
	assert.Equal(t, []string{"snapshot.discrepancy"}, publisher.Types())

	// second run on the same day returns the stored row unchanged
	require.NoError(t, Append(db, CaptureEntries(payment(5000))...))
	again, created, err := svc.Run(context.Background(), at.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, snap.ID, again.ID)
	assert.Equal(t, int64(10000), again.InternalBalanceCents)

	var count int64
	db.Model(&models.DailyBalanceSnapshot{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestSnapshotWithoutProviderBalance(t *testing.T) {
	db := testutils.NewTestDB(t)
	gw := testutils.NewFakeGateway()
	gw.BalanceErr = testutils.Transient("timeout")
	svc := NewSnapshotService(db, gw, config.DefaultPayments(), nil, nil, nil)

	snap, created, err := svc.Run(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, snap.ProviderBalanceAvailable)
	assert.True(t, snap.HasDiscrepancy())
	assert.Contains(t, snap.DiscrepancyNotes, "provider balance unavailable")
}

func TestSnapshotMatchingBalance(t *testing.T) {
	db := testutils.NewTestDB(t)
	gw := testutils.NewFakeGateway()
	gw.Balance = lib.Balance{Currency: "usd", PendingCents: 10000}
	alerter := &testutils.RecordingAlerter{}
	svc := NewSnapshotService(db, gw, config.DefaultPayments(), nil, alerter, nil)
	require.NoError(t, Append(db, CaptureEntries(payment(10000))...))

	snap, _, err := svc.Run(context.Background(), time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, snap.DiscrepancyCents)
	assert.Empty(t, snap.DiscrepancyNotes)
	assert.Empty(t, alerter.Subjects)

	reconciled, err := svc.MarkReconciled(context.Background(), snap.SnapshotDate, "ops@example.com")
	require.NoError(t, err)
	assert.True(t, reconciled.Reconciled)
	assert.Equal(t, snap.InternalBalanceCents, reconciled.InternalBalanceCents)

	_, err = svc.MarkReconciled(context.Background(), "1999-01-01", "ops@example.com")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	list, err := svc.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
