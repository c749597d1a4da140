package connect

import (
	"carepay/src/config"
	"carepay/src/lib"
	"carepay/src/models"
	"carepay/src/testutils"
	"carepay/src/types"
	"context"
	"encoding/json"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
)

func TestDeriveStatus(t *testing.T) {
	assert.Equal(t, types.ACCOUNT_NOT_STARTED, DeriveStatus(nil))
	assert.Equal(t, types.ACCOUNT_ACTIVE, DeriveStatus(&lib.Account{ChargesEnabled: true, PayoutsEnabled: true, RequirementsDue: []string{"tos"}}))
	assert.Equal(t, types.ACCOUNT_INCOMPLETE, DeriveStatus(&lib.Account{ChargesEnabled: true, RequirementsDue: []string{"external_account"}}))
	assert.Equal(t, types.ACCOUNT_PENDING, DeriveStatus(&lib.Account{PayoutsEnabled: true}))
	assert.Equal(t, types.ACCOUNT_PENDING, DeriveStatus(&lib.Account{}))
}

func TestOnboardingLifecycle(t *testing.T) {
	db := testutils.NewTestDB(t)
	gw := testutils.NewFakeGateway()
	m := NewManager(db, gw, config.DefaultPayments(), nil)
	ctx := context.Background()
	testutils.CreateProvider(t, db, 11, types.ROLE_CAREGIVER, "")

	state, err := m.Status(ctx, 11)
	require.NoError(t, err)
	assert.False(t, state.HasAccount)
	assert.Equal(t, types.ACCOUNT_NOT_STARTED, state.Status)

	url, err := m.CreateAccount(ctx, 11)
	require.NoError(t, err)
	assert.Contains(t, url, "https://connect.example.com/setup/acct_")

	var p models.Provider
	require.NoError(t, db.First(&p, 11).Error)
	require.True(t, p.HasAccount())
	assert.Equal(t, types.ACCOUNT_PENDING, p.AccountStatus)
	accountId := *p.StripeAccountID

	// a second call links the same account
	again, err := m.CreateAccount(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, url, again)
	assert.Len(t, gw.Accounts, 1)

	state, err = m.Status(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, types.ACCOUNT_INCOMPLETE, state.Status)
	assert.Equal(t, []string{"external_account"}, state.RequirementsDue)
	assert.False(t, m.CanReceivePayouts(ctx, accountId))

	gw.SetAccount(lib.Account{ID: accountId, ChargesEnabled: true, PayoutsEnabled: true})
	state, err = m.Status(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, types.ACCOUNT_ACTIVE, state.Status)
	assert.True(t, m.CanReceivePayouts(ctx, accountId))

	link, err := m.LoginLink(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, "https://connect.example.com/express/"+accountId, link)
}

func TestStatusClearsMissingAccount(t *testing.T) {
	db := testutils.NewTestDB(t)
	gw := testutils.NewFakeGateway()
	m := NewManager(db, gw, config.DefaultPayments(), nil)
	testutils.CreateProvider(t, db, 11, types.ROLE_CAREGIVER, "acct_gone")

	state, err := m.Status(context.Background(), 11)
	require.NoError(t, err)
	assert.False(t, state.HasAccount)
	assert.Equal(t, types.ACCOUNT_NOT_STARTED, state.Status)

	var p models.Provider
	require.NoError(t, db.First(&p, 11).Error)
	assert.Nil(t, p.StripeAccountID)
	assert.False(t, p.PayoutsEnabled)
	assert.False(t, m.CanReceivePayouts(context.Background(), "acct_gone"))
}

func TestStatusTransientErrorKeepsFlags(t *testing.T) {
	db := testutils.NewTestDB(t)
	gw := testutils.NewFakeGateway()
	gw.AccountErr = testutils.Transient("timeout")
	m := NewManager(db, gw, config.DefaultPayments(), nil)
	testutils.CreateProvider(t, db, 11, types.ROLE_CAREGIVER, "acct_care")

	_, err := m.Status(context.Background(), 11)
	assert.Equal(t, types.FAILURE_TRANSIENT, lib.FailureKindOf(err))
	assert.True(t, m.CanReceivePayouts(context.Background(), "acct_care"))
}

func TestStatusServedFromCache(t *testing.T) {
	db := testutils.NewTestDB(t)
	gw := testutils.NewFakeGateway()
	gw.AccountErr = testutils.Transient("provider must not be called")
	rdb, mock := redismock.NewClientMock()
	m := NewManager(db, gw, config.DefaultPayments(), rdb)
	testutils.CreateProvider(t, db, 11, types.ROLE_CAREGIVER, "acct_care")

	mock.ExpectGet("connect:status:11").SetVal(`{"provider_id":11,"has_account":true,"account_id":"acct_care","status":"active","charges_enabled":true,"payouts_enabled":true}`)

	state, err := m.Status(context.Background(), 11)
	require.NoError(t, err)
	assert.Equal(t, types.ACCOUNT_ACTIVE, state.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteIsUniformNotFound(t *testing.T) {
	db := testutils.NewTestDB(t)
	gw := testutils.NewFakeGateway()
	m := NewManager(db, gw, config.DefaultPayments(), nil)
	ctx := context.Background()
	testutils.CreateProvider(t, db, 11, types.ROLE_CAREGIVER, "acct_care")
	testutils.CreateProvider(t, db, 12, types.ROLE_CAREGIVER, "")
	testutils.CreateProvider(t, db, 13, types.ROLE_CAREGIVER, "acct_stale")
	gw.SetAccount(lib.Account{ID: "acct_care"})

	require.NoError(t, m.Delete(ctx, 11))
	assert.NotContains(t, gw.Accounts, "acct_care")

	errs := []error{m.Delete(ctx, 11), m.Delete(ctx, 12), m.Delete(ctx, 13), m.Delete(ctx, 99)}
	for _, err := range errs {
		assert.ErrorIs(t, err, types.ErrNotFound)
		assert.Equal(t, errs[0].Error(), err.Error())
	}
	var stale models.Provider
	require.NoError(t, db.First(&stale, 13).Error)
	assert.False(t, stale.HasAccount())
}

func TestApplyAccountUpdate(t *testing.T) {
	db := testutils.NewTestDB(t)
	m := NewManager(db, testutils.NewFakeGateway(), config.DefaultPayments(), nil)
	p := testutils.CreateProvider(t, db, 11, types.ROLE_CAREGIVER, "acct_care")

	raw, err := json.Marshal(map[string]any{
		"id":                "acct_care",
		"object":            "account",
		"charges_enabled":   true,
		"payouts_enabled":   false,
		"details_submitted": true,
		"requirements":      map[string]any{"currently_due": []string{"individual.verification.document"}},
	})
	require.NoError(t, err)
	require.NoError(t, m.ApplyAccountUpdate(context.Background(), stripe.Event{Type: "account.updated", Data: &stripe.EventData{Raw: raw}}))

	var got models.Provider
	require.NoError(t, db.First(&got, p.ID).Error)
	assert.Equal(t, types.ACCOUNT_INCOMPLETE, got.AccountStatus)
	assert.False(t, got.PayoutsEnabled)
	assert.Equal(t, []string{"individual.verification.document"}, got.RequirementsDue.Strings())
	assert.NotNil(t, got.StatusSyncedAt)
	assert.False(t, m.CanReceivePayouts(context.Background(), "acct_care"))

	unknown, _ := json.Marshal(map[string]any{"id": "acct_unknown", "object": "account"})
	assert.NoError(t, m.ApplyAccountUpdate(context.Background(), stripe.Event{Data: &stripe.EventData{Raw: unknown}}))
}

func TestResyncAllIsPartial(t *testing.T) {
	db := testutils.NewTestDB(t)
	gw := testutils.NewFakeGateway()
	m := NewManager(db, gw, config.DefaultPayments(), nil)
	testutils.CreateProvider(t, db, 11, types.ROLE_CAREGIVER, "acct_a")
	testutils.CreateProvider(t, db, 12, types.ROLE_MARKETING, "acct_gone")
	testutils.CreateProvider(t, db, 13, types.ROLE_TRAINING_CENTER, "")
	gw.SetAccount(lib.Account{ID: "acct_a", ChargesEnabled: true, PayoutsEnabled: true})

	out := m.ResyncAll(context.Background())
	assert.False(t, out.Partial)
	assert.Equal(t, 1, out.Data.Synced)
	assert.Equal(t, 1, out.Data.Cleared)

	list, err := m.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "acct_a", list[0].AccountID)

	gw.AccountErr = testutils.Transient("timeout")
	out = m.ResyncAll(context.Background())
	assert.True(t, out.Partial)
	assert.Len(t, out.Errors, 1)
	assert.Zero(t, out.Data.Synced)
}
