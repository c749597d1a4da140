// Package connect owns the connected accounts providers are paid into. It is
// the only writer of a provider's capability flags.
package connect

import (
	"carepay/src/config"
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
)

// AccountState is what providers and admins see of a connected account.
type AccountState struct {
	ProviderID      uint                `json:"provider_id"`
	HasAccount      bool                `json:"has_account"`
	AccountID       string              `json:"account_id,omitempty"`
	Status          types.AccountStatus `json:"status"`
	ChargesEnabled  bool                `json:"charges_enabled"`
	PayoutsEnabled  bool                `json:"payouts_enabled"`
	RequirementsDue []string            `json:"requirements_due,omitempty"`
}

type Manager struct {
	db       *gorm.DB
	gw       lib.PaymentGateway
	cfg      *config.Payments
	rdb      *redis.Client
	cacheTTL time.Duration
	now      func() time.Time
}

// NewManager builds a manager. rdb may be nil, which disables status caching.
func NewManager(db *gorm.DB, gw lib.PaymentGateway, cfg *config.Payments, rdb *redis.Client) *Manager {
	return &Manager{
		db:       db,
		gw:       gw,
		cfg:      cfg,
		rdb:      rdb,
		cacheTTL: time.Minute,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func statusCacheKey(providerId uint) string {
	return fmt.Sprintf("connect:status:%d", providerId)
}

// DeriveStatus maps provider flags to a local status. Active needs both
// capabilities at once.
func DeriveStatus(acc *lib.Account) types.AccountStatus {
	switch {
	case acc == nil:
		return types.ACCOUNT_NOT_STARTED
	case acc.ChargesEnabled && acc.PayoutsEnabled:
		return types.ACCOUNT_ACTIVE
	case len(acc.RequirementsDue) > 0:
		return types.ACCOUNT_INCOMPLETE
	}
	return types.ACCOUNT_PENDING
}

// StateOf reports the locally stored account state without calling the provider.
func StateOf(p *models.Provider) *AccountState {
	s := &AccountState{
		ProviderID:      p.ID,
		HasAccount:      p.HasAccount(),
		Status:          p.AccountStatus,
		ChargesEnabled:  p.ChargesEnabled,
		PayoutsEnabled:  p.PayoutsEnabled,
		RequirementsDue: p.RequirementsDue.Strings(),
	}
	if s.HasAccount {
		s.AccountID = *p.StripeAccountID
	} else {
		s.Status = types.ACCOUNT_NOT_STARTED
	}
	if s.Status == "" {
		s.Status = types.ACCOUNT_NOT_STARTED
	}
	return s
}

func (m *Manager) load(ctx context.Context, providerId uint) (*models.Provider, error) {
	var p models.Provider
	if err := m.db.WithContext(ctx).Scopes(scopes.WithID(providerId)).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.WithKind(types.FAILURE_PRECONDITION, types.ErrNotFound)
		}
		return nil, types.WithKind(types.FAILURE_TRANSIENT, err)
	}
	return &p, nil
}

// CreateAccount creates the provider's connected account on first call and
// returns a fresh onboarding link. Later calls reuse the stored account.
func (m *Manager) CreateAccount(ctx context.Context, providerId uint) (string, error) {
	p, err := m.load(ctx, providerId)
	if err != nil {
		return "", err
	}
	accountId := ""
	if p.HasAccount() {
		accountId = *p.StripeAccountID
	} else {
		acc, err := m.gw.CreateAccount(ctx, lib.AccountParams{
			Email:   p.Email,
			Country: m.cfg.PlatformCountry,
			Metadata: map[string]string{
				"provider_id": strconv.FormatUint(uint64(p.ID), 10),
				"role":        string(p.Role),
			},
		})
		if err != nil {
			log.Printf("[Connect] Error creating account for provider %d: %s\n", p.ID, err.Error())
			return "", err
		}
		res := m.db.WithContext(ctx).
			Model(&models.Provider{}).
			Where("id = ? AND (stripe_account_id IS NULL OR stripe_account_id = '')", p.ID).
			Updates(map[string]any{"stripe_account_id": acc.ID, "account_status": types.ACCOUNT_PENDING})
		if res.Error != nil {
			return "", types.WithKind(types.FAILURE_TRANSIENT, res.Error)
		}
		accountId = acc.ID
		if res.RowsAffected == 0 {
			// a concurrent request stored its account first
			stored, err := m.load(ctx, providerId)
			if err != nil {
				return "", err
			}
			log.Printf("[Connect] Provider %d already has account, discarding %s\n", p.ID, acc.ID)
			accountId = *stored.StripeAccountID
		}
		lib.CacheDelete(ctx, m.rdb, statusCacheKey(p.ID))
	}
	url, err := m.gw.CreateAccountLink(ctx, accountId, m.cfg.OnboardingRefreshURL, m.cfg.OnboardingReturnURL)
	if err != nil {
		log.Printf("[Connect] Error creating onboarding link for %s: %s\n", accountId, err.Error())
		return "", err
	}
	return url, nil
}

// Status refreshes the provider's flags from the payment provider. An account
// the provider no longer knows is cleared locally and reported not started.
func (m *Manager) Status(ctx context.Context, providerId uint) (*AccountState, error) {
	var cached AccountState
	if lib.CacheGetJSON(ctx, m.rdb, statusCacheKey(providerId), &cached) {
		return &cached, nil
	}
	p, err := m.load(ctx, providerId)
	if err != nil {
		return nil, err
	}
	if !p.HasAccount() {
		return StateOf(p), nil
	}
	state, err := m.sync(ctx, p)
	if err != nil {
		return nil, err
	}
	lib.CacheSetJSON(ctx, m.rdb, statusCacheKey(providerId), state, m.cacheTTL)
	return state, nil
}

func (m *Manager) sync(ctx context.Context, p *models.Provider) (*AccountState, error) {
	acc, err := m.gw.GetAccount(ctx, *p.StripeAccountID)
	if err != nil {
		if lib.IsResourceMissing(err) {
			log.Printf("[Connect] Account %s for provider %d no longer exists, clearing\n", *p.StripeAccountID, p.ID)
			if err := m.clear(ctx, p); err != nil {
				return nil, err
			}
			return StateOf(p), nil
		}
		log.Printf("[Connect] Error retrieving account %s: %s\n", *p.StripeAccountID, err.Error())
		return nil, err
	}
	if err := m.apply(ctx, p, acc); err != nil {
		return nil, err
	}
	return StateOf(p), nil
}

func (m *Manager) apply(ctx context.Context, p *models.Provider, acc *lib.Account) error {
	now := m.now()
	due := types.JSONBArray{}
	for _, r := range acc.RequirementsDue {
		due = append(due, r)
	}
	updates := map[string]any{
		"account_status":   DeriveStatus(acc),
		"charges_enabled":  acc.ChargesEnabled,
		"payouts_enabled":  acc.PayoutsEnabled,
		"requirements_due": due,
		"status_synced_at": now,
	}
	if err := m.db.WithContext(ctx).Model(&models.Provider{}).Scopes(scopes.WithID(p.ID)).Updates(updates).Error; err != nil {
		return types.WithKind(types.FAILURE_TRANSIENT, err)
	}
	p.AccountStatus = DeriveStatus(acc)
	p.ChargesEnabled = acc.ChargesEnabled
	p.PayoutsEnabled = acc.PayoutsEnabled
	p.RequirementsDue = due
	p.StatusSyncedAt = &now
	lib.CacheDelete(ctx, m.rdb, statusCacheKey(p.ID))
	return nil
}

func (m *Manager) clear(ctx context.Context, p *models.Provider) error {
	err := m.db.WithContext(ctx).Model(&models.Provider{}).Scopes(scopes.WithID(p.ID)).Updates(map[string]any{
		"stripe_account_id": nil,
		"account_status":    types.ACCOUNT_NOT_STARTED,
		"charges_enabled":   false,
		"payouts_enabled":   false,
		"requirements_due":  types.JSONBArray{},
	}).Error
	if err != nil {
		return types.WithKind(types.FAILURE_TRANSIENT, err)
	}
	p.StripeAccountID = nil
	p.AccountStatus = types.ACCOUNT_NOT_STARTED
	p.ChargesEnabled = false
	p.PayoutsEnabled = false
	p.RequirementsDue = types.JSONBArray{}
	lib.CacheDelete(ctx, m.rdb, statusCacheKey(p.ID))
	return nil
}

// CanReceivePayouts answers from the locally synced flags, without a provider
// call.
func (m *Manager) CanReceivePayouts(ctx context.Context, accountId string) bool {
	if accountId == "" {
		return false
	}
	var count int64
	err := m.db.WithContext(ctx).
		Model(&models.Provider{}).
		Where("stripe_account_id = ? AND account_status = ? AND payouts_enabled = ?", accountId, types.ACCOUNT_ACTIVE, true).
		Count(&count).
		Error
	if err != nil {
		log.Printf("[Connect] Error checking payout capability for %s: %s\n", accountId, err.Error())
		return false
	}
	return count > 0
}

func (m *Manager) LoginLink(ctx context.Context, providerId uint) (string, error) {
	p, err := m.load(ctx, providerId)
	if err != nil {
		return "", err
	}
	if !p.HasAccount() {
		return "", types.WithKind(types.FAILURE_PRECONDITION, types.ErrNoAccount)
	}
	url, err := m.gw.CreateLoginLink(ctx, *p.StripeAccountID)
	if err != nil {
		log.Printf("[Connect] Error creating login link for %s: %s\n", *p.StripeAccountID, err.Error())
		return "", err
	}
	return url, nil
}

// Delete removes the provider's connected account. Every way of not finding
// the account returns the same not found error.
func (m *Manager) Delete(ctx context.Context, providerId uint) error {
	notFound := types.WithKind(types.FAILURE_PRECONDITION, types.ErrNotFound)
	p, err := m.load(ctx, providerId)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return notFound
		}
		return err
	}
	if !p.HasAccount() {
		return notFound
	}
	if err := m.gw.DeleteAccount(ctx, *p.StripeAccountID); err != nil {
		if lib.IsResourceMissing(err) {
			if cerr := m.clear(ctx, p); cerr != nil {
				return cerr
			}
			return notFound
		}
		log.Printf("[Connect] Error deleting account %s: %s\n", *p.StripeAccountID, err.Error())
		return err
	}
	log.Printf("[Connect] Deleted account %s for provider %d\n", *p.StripeAccountID, p.ID)
	return m.clear(ctx, p)
}

// ApplyAccountUpdate consumes account.updated events.
func (m *Manager) ApplyAccountUpdate(ctx context.Context, event stripe.Event) error {
	var sa stripe.Account
	if err := json.Unmarshal(event.Data.Raw, &sa); err != nil {
		log.Printf("[Stripe] Error parsing Account: %s\n", err.Error())
		return err
	}
	var p models.Provider
	err := m.db.WithContext(ctx).Where("stripe_account_id = ?", sa.ID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("[Connect] No provider for account %s, ignoring update\n", sa.ID)
		return nil
	}
	if err != nil {
		return err
	}
	return m.apply(ctx, &p, lib.AccountFromStripe(&sa))
}

// ResyncResult summarizes an admin resync of every connected account.
type ResyncResult struct {
	Synced   int             `json:"synced"`
	Cleared  int             `json:"cleared"`
	Accounts []*AccountState `json:"accounts"`
}

// ResyncAll refreshes every provider holding an account. Providers that fail
// are reported and do not stop the rest.
func (m *Manager) ResyncAll(ctx context.Context) types.Partial[ResyncResult] {
	out := types.Partial[ResyncResult]{Data: ResyncResult{Accounts: []*AccountState{}}}
	var providers []models.Provider
	err := m.db.WithContext(ctx).
		Where("stripe_account_id IS NOT NULL AND stripe_account_id <> ''").
		Order("id").
		Find(&providers).
		Error
	if err != nil {
		out.AddError(err)
		return out
	}
	for i := range providers {
		p := &providers[i]
		state, err := m.sync(ctx, p)
		if err != nil {
			out.AddError(fmt.Errorf("provider %d: %w", p.ID, err))
			continue
		}
		if state.HasAccount {
			out.Data.Synced++
		} else {
			out.Data.Cleared++
		}
		out.Data.Accounts = append(out.Data.Accounts, state)
	}
	return out
}

// List returns the locally known state of every provider with an account.
func (m *Manager) List(ctx context.Context) ([]*AccountState, error) {
	var providers []models.Provider
	err := m.db.WithContext(ctx).
		Where("stripe_account_id IS NOT NULL AND stripe_account_id <> ''").
		Order("id").
		Find(&providers).
		Error
	if err != nil {
		return nil, err
	}
	out := make([]*AccountState, 0, len(providers))
	for i := range providers {
		out = append(out, StateOf(&providers[i]))
	}
	return out, nil
}
