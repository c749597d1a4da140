package ledger

import (
	"carepay/src/config"
	"carepay/src/lib"
	"carepay/src/models"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Totals are cumulative ledger sums up to a cutoff.
type Totals struct {
	RevenueCents          int64 `json:"revenue_cents"`
	CaregiverPayableCents int64 `json:"caregiver_payable_cents"`
	CaregiverPaidCents    int64 `json:"caregiver_paid_cents"`
	MarketingPayableCents int64 `json:"marketing_payable_cents"`
	MarketingPaidCents    int64 `json:"marketing_paid_cents"`
	TrainingPayableCents  int64 `json:"training_payable_cents"`
	TrainingPaidCents     int64 `json:"training_paid_cents"`
	PlatformRevenueCents  int64 `json:"platform_revenue_cents"`
	ProviderBalanceCents  int64 `json:"provider_balance_cents"`
}

type totalRow struct {
	TransactionType models.LedgerTransactionType
	DebitAccount    models.LedgerAccount
	CreditAccount   models.LedgerAccount
	Total           int64
}

// ComputeTotals sums every entry created before cutoff.
func ComputeTotals(db *gorm.DB, cutoff time.Time) (*Totals, error) {
	var rows []totalRow
	err := db.Model(&models.LedgerEntry{}).
		Select("transaction_type, debit_account, credit_account, SUM(amount_cents) AS total").
		Where("created_at < ?", cutoff).
		Group("transaction_type, debit_account, credit_account").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	t := &Totals{}
	balances := map[models.LedgerAccount]int64{}
	for _, r := range rows {
		// debit increases assets and decreases liabilities
		balances[r.DebitAccount] += r.Total
		balances[r.CreditAccount] -= r.Total
		switch r.TransactionType {
		case models.LEDGER_CAPTURE:
			t.RevenueCents += r.Total
		case models.LEDGER_REFUND:
			if r.DebitAccount == models.ACCOUNT_CAREGIVER_PAYABLE {
				t.RevenueCents -= r.Total
			}
		case models.LEDGER_PAYOUT:
			switch r.DebitAccount {
			case models.ACCOUNT_CAREGIVER_PAYABLE:
				t.CaregiverPaidCents += r.Total
			case models.ACCOUNT_MARKETING_PAYABLE:
				t.MarketingPaidCents += r.Total
			case models.ACCOUNT_TRAINING_PAYABLE:
				t.TrainingPaidCents += r.Total
			}
		case models.LEDGER_TRANSFER_REVERSE:
			switch r.CreditAccount {
			case models.ACCOUNT_CAREGIVER_PAYABLE:
				t.CaregiverPaidCents -= r.Total
			case models.ACCOUNT_MARKETING_PAYABLE:
				t.MarketingPaidCents -= r.Total
			case models.ACCOUNT_TRAINING_PAYABLE:
				t.TrainingPaidCents -= r.Total
			}
		}
	}
	t.ProviderBalanceCents = balances[models.ACCOUNT_PROVIDER_BALANCE]
	t.CaregiverPayableCents = -balances[models.ACCOUNT_CAREGIVER_PAYABLE]
	t.MarketingPayableCents = -balances[models.ACCOUNT_MARKETING_PAYABLE]
	t.TrainingPayableCents = -balances[models.ACCOUNT_TRAINING_PAYABLE]
	t.PlatformRevenueCents = -balances[models.ACCOUNT_PLATFORM_REVENUE]
	return t, nil
}

type BalanceReader interface {
	GetBalance(ctx context.Context, currency string) (*lib.Balance, error)
}

// SnapshotService builds the one-per-day balance snapshot.
type SnapshotService struct {
	db        *gorm.DB
	gw        BalanceReader
	currency  string
	archiver  lib.Archiver
	alerter   lib.Alerter
	publisher lib.Publisher
}

func NewSnapshotService(db *gorm.DB, gw BalanceReader, cfg *config.Payments, archiver lib.Archiver, alerter lib.Alerter, publisher lib.Publisher) *SnapshotService {
	if archiver == nil {
		archiver = lib.NopArchiver{}
	}
	if alerter == nil {
		alerter = lib.NopAlerter{}
	}
	if publisher == nil {
		publisher = lib.NopPublisher{}
	}
	return &SnapshotService{db: db, gw: gw, currency: cfg.Currency, archiver: archiver, alerter: alerter, publisher: publisher}
}

func ArchiveKey(date string) string {
	return fmt.Sprintf("snapshots/%s.json", date)
}

// Run creates the snapshot for the calendar day of at. If one already exists
// it is returned unchanged and created is false. Differences against the
// provider are recorded, never corrected.
func (s *SnapshotService) Run(ctx context.Context, at time.Time) (snapshot *models.DailyBalanceSnapshot, created bool, err error) {
	at = at.UTC()
	date := at.Format(config.DAY_FORMAT)

	var existing models.DailyBalanceSnapshot
	err = s.db.WithContext(ctx).Where("snapshot_date = ?", date).Limit(1).Find(&existing).Error
	if err != nil {
		return nil, false, err
	}
	if existing.SnapshotDate != "" {
		return &existing, false, nil
	}

	totals, err := ComputeTotals(s.db.WithContext(ctx), at)
	if err != nil {
		log.Printf("[Snapshot] Error computing ledger totals for %s: %s\n", date, err.Error())
		return nil, false, err
	}
	snap := models.DailyBalanceSnapshot{
		SnapshotDate:          date,
		RevenueCents:          totals.RevenueCents,
		CaregiverPayableCents: totals.CaregiverPayableCents,
		CaregiverPaidCents:    totals.CaregiverPaidCents,
		MarketingPayableCents: totals.MarketingPayableCents,
		MarketingPaidCents:    totals.MarketingPaidCents,
		TrainingPayableCents:  totals.TrainingPayableCents,
		TrainingPaidCents:     totals.TrainingPaidCents,
		PlatformRevenueCents:  totals.PlatformRevenueCents,
		InternalBalanceCents:  totals.ProviderBalanceCents,
	}

	notes := []string{}
	balance, berr := s.gw.GetBalance(ctx, s.currency)
	if berr != nil {
		log.Printf("[Snapshot] Provider balance unavailable for %s: %s\n", date, berr.Error())
		notes = append(notes, fmt.Sprintf("provider balance unavailable: %s", berr.Error()))
	} else {
		snap.ProviderBalanceAvailable = true
		snap.ProviderAvailableCents = balance.AvailableCents
		snap.ProviderPendingCents = balance.PendingCents
		snap.DiscrepancyCents = snap.InternalBalanceCents - (balance.AvailableCents + balance.PendingCents)
		if snap.DiscrepancyCents != 0 {
			notes = append(notes, fmt.Sprintf("internal balance %d differs from provider available+pending %d by %d %s",
				snap.InternalBalanceCents, balance.AvailableCents+balance.PendingCents, snap.DiscrepancyCents, s.currency))
		}
	}
	snap.DiscrepancyNotes = strings.Join(notes, "; ")

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "snapshot_date"}}, DoNothing: true}).
		Create(&snap)
	if res.Error != nil {
		log.Printf("[Snapshot] Error saving snapshot for %s: %s\n", date, res.Error.Error())
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		// another run won the insert
		if err := s.db.WithContext(ctx).Where("snapshot_date = ?", date).First(&existing).Error; err != nil {
			return nil, false, err
		}
		return &existing, false, nil
	}

	body, _ := json.Marshal(snap)
	if err := s.archiver.Archive(ctx, ArchiveKey(date), body); err != nil {
		log.Printf("[Snapshot] Archive failed for %s: %s\n", date, err.Error())
	}
	if snap.HasDiscrepancy() {
		if err := s.alerter.Alert(ctx, fmt.Sprintf("Balance discrepancy %s", date), snap.DiscrepancyNotes); err != nil {
			log.Printf("[Snapshot] Alert failed for %s: %s\n", date, err.Error())
		}
		lib.PublishQuietly(ctx, s.publisher, lib.NewEvent(lib.EVENT_SNAPSHOT_DISCREPANCY, date, map[string]any{
			"discrepancy_cents": snap.DiscrepancyCents,
			"notes":             snap.DiscrepancyNotes,
		}))
	}
	log.Printf("[Snapshot] %s internal=%d discrepancy=%d\n", date, snap.InternalBalanceCents, snap.DiscrepancyCents)
	return &snap, true, nil
}

var ErrSnapshotNotFound = errors.New("snapshot not found")

// MarkReconciled sets only the reconciled columns of a day's snapshot.
func (s *SnapshotService) MarkReconciled(ctx context.Context, date string, by string) (*models.DailyBalanceSnapshot, error) {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&models.DailyBalanceSnapshot{}).
		Where("snapshot_date = ? AND reconciled = ?", date, false).
		Updates(map[string]any{"reconciled": true, "reconciled_by": by, "reconciled_at": now})
	if res.Error != nil {
		return nil, res.Error
	}
	var snap models.DailyBalanceSnapshot
	if err := s.db.WithContext(ctx).Where("snapshot_date = ?", date).First(&snap).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSnapshotNotFound
		}
		return nil, err
	}
	return &snap, nil
}

func (s *SnapshotService) List(ctx context.Context, limit int) ([]models.DailyBalanceSnapshot, error) {
	if limit <= 0 || limit > 366 {
		limit = 30
	}
	var snaps []models.DailyBalanceSnapshot
	err := s.db.WithContext(ctx).Order("snapshot_date desc").Limit(limit).Find(&snaps).Error
	return snaps, err
}
