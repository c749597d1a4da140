package admin

import (
	"carepay/src/connect"
	"carepay/src/ledger"
	"carepay/src/lib"
	"carepay/src/models"
	"carepay/src/models/scopes"
	"carepay/src/types"
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const DASHBOARD_CACHE_PREFIX = "admin:dashboard:"

func dashboardKey(from, to time.Time) string {
	return fmt.Sprintf("%s%d:%d", DASHBOARD_CACHE_PREFIX, from.UTC().Unix(), to.UTC().Unix())
}

// dashboardKeys lists every cached dashboard range.
func dashboardKeys(ctx context.Context, rdb *redis.Client) []string {
	if rdb == nil {
		return nil
	}
	var keys []string
	iter := rdb.Scan(ctx, 0, DASHBOARD_CACHE_PREFIX+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		log.Printf("[redis] Error scanning dashboard keys: %s\n", err.Error())
	}
	return keys
}

func parseIDs(ids []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		u, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("invalid entry id %q: %w", id, err)
		}
		out = append(out, u)
	}
	return out, nil
}

type BalanceView struct {
	Provider        *lib.Balance   `json:"provider,omitempty"`
	Ledger          *ledger.Totals `json:"ledger,omitempty"`
	DifferenceCents *int64         `json:"difference_cents,omitempty"`
}

// Balance compares the provider balance with the ledger as of now.
func (s *Service) Balance(ctx context.Context) types.Partial[BalanceView] {
	out := types.Partial[BalanceView]{}
	totals, err := ledger.ComputeTotals(s.db.WithContext(ctx), time.Now().UTC())
	if err != nil {
		out.AddError(err)
	} else {
		out.Data.Ledger = totals
	}
	bal, err := s.gw.GetBalance(ctx, s.cfg.Currency)
	if err != nil {
		log.Printf("[Admin] Error retrieving provider balance: %s\n", err.Error())
		out.AddError(err)
	} else {
		out.Data.Provider = bal
	}
	if out.Data.Provider != nil && out.Data.Ledger != nil {
		diff := bal.AvailableCents + bal.PendingCents - totals.ProviderBalanceCents
		out.Data.DifferenceCents = &diff
	}
	return out
}

type DashboardStats struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`

	PaymentCount     int64 `json:"payment_count"`
	GrossCents       int64 `json:"gross_cents"`
	ProcessingCents  int64 `json:"processing_fee_cents"`
	NetCents         int64 `json:"net_cents"`
	RefundedCents    int64 `json:"refunded_cents"`
	PayoutCount      int64 `json:"payout_count"`
	PayoutCents      int64 `json:"payout_cents"`
	PlatformFeeCents int64 `json:"platform_fee_cents"`
	FailedPayouts    int64 `json:"failed_payouts"`
	ActiveAccounts   int64 `json:"active_accounts"`

	Provider *lib.Balance `json:"provider_balance,omitempty"`
}

type paymentAgg struct {
	Count    int64
	Gross    int64
	Fee      int64
	Net      int64
	Refunded int64
}

type payoutAgg struct {
	Count int64
	Total int64
	Fees  int64
}

// Dashboard aggregates local records created in [from, to) together with the
// provider balance. Complete results are cached for DashboardCacheTTL.
func (s *Service) Dashboard(ctx context.Context, from, to time.Time) types.Partial[DashboardStats] {
	key := dashboardKey(from, to)
	var cached DashboardStats
	if lib.CacheGetJSON(ctx, s.rdb, key, &cached) {
		return types.Partial[DashboardStats]{Data: cached}
	}

	out := types.Partial[DashboardStats]{Data: DashboardStats{From: from.UTC(), To: to.UTC()}}
	var pay paymentAgg
	var paid payoutAgg
	var failed, active int64
	var bal *lib.Balance
	var balErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.db.WithContext(gctx).
			Model(&models.Payment{}).
			Scopes(scopes.CreatedBetween(from, to)).
			Where("status <> ?", types.PAYMENT_FAILED).
			Select("COUNT(*) AS count, COALESCE(SUM(gross_cents),0) AS gross, COALESCE(SUM(fee_cents),0) AS fee, COALESCE(SUM(net_cents),0) AS net, COALESCE(SUM(refunded_cents),0) AS refunded").
			Scan(&pay).
			Error
	})
	g.Go(func() error {
		return s.db.WithContext(gctx).
			Model(&models.PayoutTransaction{}).
			Scopes(scopes.CreatedBetween(from, to)).
			Scopes(scopes.WithStatus(types.PAYOUT_COMPLETED)).
			Select("COUNT(*) AS count, COALESCE(SUM(amount_cents),0) AS total, COALESCE(SUM(platform_fee_cents),0) AS fees").
			Scan(&paid).
			Error
	})
	g.Go(func() error {
		return s.db.WithContext(gctx).
			Model(&models.PayoutTransaction{}).
			Scopes(scopes.CreatedBetween(from, to)).
			Scopes(scopes.WithStatus(types.PAYOUT_FAILED)).
			Count(&failed).
			Error
	})
	g.Go(func() error {
		return s.db.WithContext(gctx).
			Model(&models.Provider{}).
			Where("account_status = ?", types.ACCOUNT_ACTIVE).
			Count(&active).
			Error
	})
	g.Go(func() error {
		bal, balErr = s.gw.GetBalance(gctx, s.cfg.Currency)
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Printf("[Admin] Error aggregating dashboard: %s\n", err.Error())
		out.AddError(err)
	}
	if balErr != nil {
		log.Printf("[Admin] Error retrieving provider balance: %s\n", balErr.Error())
		out.AddError(balErr)
	}

	d := &out.Data
	d.PaymentCount, d.GrossCents, d.ProcessingCents, d.NetCents, d.RefundedCents = pay.Count, pay.Gross, pay.Fee, pay.Net, pay.Refunded
	d.PayoutCount, d.PayoutCents, d.PlatformFeeCents = paid.Count, paid.Total, paid.Fees
	d.FailedPayouts = failed
	d.ActiveAccounts = active
	d.Provider = bal

	if !out.Partial {
		lib.CacheSetJSON(ctx, s.rdb, key, out.Data, s.cfg.DashboardCacheTTL)
	}
	return out
}

// PaymentRow joins a provider charge with the local payment, when one exists.
type PaymentRow struct {
	Charge  *lib.Charge     `json:"charge,omitempty"`
	Payment *models.Payment `json:"payment,omitempty"`
}

// RecentPayments lists the latest local payments and matches them with the
// provider's recent charges. Charges without a local payment are included.
func (s *Service) RecentPayments(ctx context.Context, limit int) types.Partial[[]PaymentRow] {
	out := types.Partial[[]PaymentRow]{Data: []PaymentRow{}}
	var local []models.Payment
	if err := s.db.WithContext(ctx).Scopes(scopes.Recent(limit)).Find(&local).Error; err != nil {
		out.AddError(err)
	}
	byCharge := map[string]*models.Payment{}
	for i := range local {
		if local[i].ProviderChargeID != "" {
			byCharge[local[i].ProviderChargeID] = &local[i]
		}
	}
	charges, err := s.gw.ListCharges(ctx, len(local)+limitOrDefault(limit))
	if err != nil {
		log.Printf("[Admin] Error listing charges: %s\n", err.Error())
		out.AddError(err)
		for i := range local {
			out.Data = append(out.Data, PaymentRow{Payment: &local[i]})
		}
		return out
	}
	seen := map[string]bool{}
	for i := range charges {
		c := &charges[i]
		seen[c.ID] = true
		out.Data = append(out.Data, PaymentRow{Charge: c, Payment: byCharge[c.ID]})
	}
	for i := range local {
		if !seen[local[i].ProviderChargeID] {
			out.Data = append(out.Data, PaymentRow{Payment: &local[i]})
		}
	}
	return out
}

// TransferRow joins a provider transfer with the payout that created it.
type TransferRow struct {
	Transfer *lib.Transfer             `json:"transfer,omitempty"`
	Payout   *models.PayoutTransaction `json:"payout,omitempty"`
}

func (s *Service) RecentTransfers(ctx context.Context, limit int) types.Partial[[]TransferRow] {
	out := types.Partial[[]TransferRow]{Data: []TransferRow{}}
	var local []models.PayoutTransaction
	if err := s.db.WithContext(ctx).Where("transfer_id IS NOT NULL").Scopes(scopes.Recent(limit)).Find(&local).Error; err != nil {
		out.AddError(err)
	}
	byTransfer := map[string]*models.PayoutTransaction{}
	for i := range local {
		byTransfer[*local[i].TransferID] = &local[i]
	}
	transfers, err := s.gw.ListTransfers(ctx, limitOrDefault(limit))
	if err != nil {
		log.Printf("[Admin] Error listing transfers: %s\n", err.Error())
		out.AddError(err)
		for i := range local {
			out.Data = append(out.Data, TransferRow{Payout: &local[i]})
		}
		return out
	}
	for i := range transfers {
		t := &transfers[i]
		out.Data = append(out.Data, TransferRow{Transfer: t, Payout: byTransfer[t.ID]})
	}
	return out
}

type PaymentDetail struct {
	Payment *models.Payment      `json:"payment"`
	Charge  *lib.Charge          `json:"charge,omitempty"`
	Entries []models.LedgerEntry `json:"ledger_entries"`
}

// PaymentByCharge looks up one payment by provider charge id. An unknown
// charge is types.ErrNotFound.
func (s *Service) PaymentByCharge(ctx context.Context, chargeId string) (*types.Partial[PaymentDetail], error) {
	var p models.Payment
	if err := s.db.WithContext(ctx).Preload("Booking").Where("provider_charge_id = ?", chargeId).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	out := &types.Partial[PaymentDetail]{Data: PaymentDetail{Payment: &p, Entries: []models.LedgerEntry{}}}
	entries, err := ledger.ForRelated(s.db.WithContext(ctx), ledger.PaymentRef(p.ID))
	if err != nil {
		out.AddError(err)
	} else {
		out.Data.Entries = entries
	}
	ch, err := s.gw.GetCharge(ctx, chargeId)
	if err != nil {
		log.Printf("[Admin] Error retrieving charge %s: %s\n", chargeId, err.Error())
		out.AddError(err)
	} else {
		out.Data.Charge = ch
	}
	return out, nil
}

// Accounts lists every provider holding a connected account as stored locally.
func (s *Service) Accounts(ctx context.Context) types.Partial[[]*connect.AccountState] {
	out := types.Partial[[]*connect.AccountState]{Data: []*connect.AccountState{}}
	list, err := s.accounts.List(ctx)
	if err != nil {
		out.AddError(err)
		return out
	}
	out.Data = list
	return out
}

// Account refreshes one provider's account from the provider. When the
// provider call fails the locally stored state is returned as partial.
func (s *Service) Account(ctx context.Context, providerId uint) (*types.Partial[*connect.AccountState], error) {
	state, err := s.accounts.Status(ctx, providerId)
	if err == nil {
		return &types.Partial[*connect.AccountState]{Data: state}, nil
	}
	if errors.Is(err, types.ErrNotFound) {
		return nil, types.ErrNotFound
	}
	var p models.Provider
	if gerr := s.db.WithContext(ctx).First(&p, providerId).Error; gerr != nil {
		if errors.Is(gerr, gorm.ErrRecordNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, gerr
	}
	out := &types.Partial[*connect.AccountState]{Data: connect.StateOf(&p)}
	out.AddError(err)
	return out, nil
}

func (s *Service) ResyncAccounts(ctx context.Context) types.Partial[connect.ResyncResult] {
	return s.accounts.ResyncAll(ctx)
}

func (s *Service) DeleteAccount(ctx context.Context, providerId uint) error {
	return s.accounts.Delete(ctx, providerId)
}

func limitOrDefault(limit int) int {
	if limit <= 0 || limit > 100 {
		return 25
	}
	return limit
}
