package testutils

import (
	"carepay/src/lib"
	"carepay/src/types"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// FakeGateway is an in-memory payment provider. Requests carrying an
// idempotency key that was already seen return the first result without a
// second side effect, like the real provider does.
type FakeGateway struct {
	mu sync.Mutex

	Customers      map[string]string
	PaymentMethods map[string]*lib.PaymentMethod
	Accounts       map[string]*lib.Account
	Charges        map[string]*lib.Charge
	Transfers      []lib.Transfer
	Refunds        []lib.RefundResult
	Balance        lib.Balance

	charged     map[string]*lib.ChargeResult
	transferred map[string]*lib.Transfer
	refunded    map[string]*lib.RefundResult
	seq         int

	ChargeCalls   int
	TransferCalls int
	RefundCalls   int

	// Failure injection. A set error is returned by every matching call.
	ChargeErr       error
	ChargeStatus    string
	TransferErr     error
	TransferErrFor  map[string]error
	RefundErr       error
	AccountErr      error
	BalanceErr      error
	ListErr         error
	AttachErr       error
	TransferLatency time.Duration
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		Customers:      map[string]string{},
		PaymentMethods: map[string]*lib.PaymentMethod{},
		Accounts:       map[string]*lib.Account{},
		Charges:        map[string]*lib.Charge{},
		TransferErrFor: map[string]error{},
		charged:        map[string]*lib.ChargeResult{},
		transferred:    map[string]*lib.Transfer{},
		refunded:       map[string]*lib.RefundResult{},
		Balance:        lib.Balance{Currency: "usd"},
	}
}

// Decline builds the error the gateway reports for a declined card.
func Decline(code string) error {
	return &lib.GatewayError{Kind: types.FAILURE_USER_RETRYABLE, Code: code, Message: "Your card was declined."}
}

func Transient(msg string) error {
	return &lib.GatewayError{Kind: types.FAILURE_TRANSIENT, Message: msg}
}

func Missing() error {
	return &lib.GatewayError{Kind: types.FAILURE_CONFIGURATION, Code: "resource_missing", Message: "No such account"}
}

func (f *FakeGateway) next(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%04d", prefix, f.seq)
}

// AddCard registers a card payment method that can later be attached.
func (f *FakeGateway) AddCard(id string, country string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PaymentMethods[id] = &lib.PaymentMethod{ID: id, Brand: "visa", Last4: "4242", Country: country, ExpMonth: 12, ExpYear: 2030}
}

func (f *FakeGateway) SetAccount(acc lib.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := acc
	f.Accounts[acc.ID] = &a
}

func (f *FakeGateway) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next("cus")
	f.Customers[id] = email
	return id, nil
}

func (f *FakeGateway) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) (*lib.PaymentMethod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AttachErr != nil {
		return nil, f.AttachErr
	}
	pm, ok := f.PaymentMethods[paymentMethodID]
	if !ok {
		return nil, &lib.GatewayError{Kind: types.FAILURE_CONFIGURATION, Code: "resource_missing", Message: "No such PaymentMethod"}
	}
	if pm.CustomerID != "" && pm.CustomerID != customerID {
		return nil, &lib.GatewayError{Kind: types.FAILURE_CONFIGURATION, Code: "payment_method_already_attached", Message: "attached to another customer"}
	}
	pm.CustomerID = customerID
	out := *pm
	return &out, nil
}

func (f *FakeGateway) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	pm, ok := f.PaymentMethods[paymentMethodID]
	if !ok {
		return Missing()
	}
	pm.CustomerID = ""
	return nil
}

func (f *FakeGateway) GetPaymentMethod(ctx context.Context, paymentMethodID string) (*lib.PaymentMethod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pm, ok := f.PaymentMethods[paymentMethodID]
	if !ok {
		return nil, Missing()
	}
	out := *pm
	return &out, nil
}

func (f *FakeGateway) ListPaymentMethods(ctx context.Context, customerID string) ([]lib.PaymentMethod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	out := []lib.PaymentMethod{}
	for _, pm := range f.PaymentMethods {
		if pm.CustomerID == customerID {
			out = append(out, *pm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *FakeGateway) CreateCharge(ctx context.Context, req lib.ChargeRequest) (*lib.ChargeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if prev, ok := f.charged[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		out := *prev
		return &out, nil
	}
	f.ChargeCalls++
	if f.ChargeErr != nil {
		return nil, f.ChargeErr
	}
	status := "succeeded"
	if f.ChargeStatus != "" {
		status = f.ChargeStatus
	}
	res := &lib.ChargeResult{
		IntentID:     f.next("pi"),
		Status:       status,
		AmountCents:  req.AmountCents,
		ClientSecret: "secret_" + req.IdempotencyKey,
	}
	if status == "succeeded" {
		res.ChargeID = f.next("ch")
		f.Charges[res.ChargeID] = &lib.Charge{
			ID:          res.ChargeID,
			IntentID:    res.IntentID,
			Status:      "succeeded",
			Paid:        true,
			AmountCents: req.AmountCents,
			Currency:    req.Currency,
			Created:     time.Now().UTC(),
		}
	}
	f.charged[req.IdempotencyKey] = res
	out := *res
	return &out, nil
}

func (f *FakeGateway) CreateRefund(ctx context.Context, req lib.RefundRequest) (*lib.RefundResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if prev, ok := f.refunded[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		out := *prev
		return &out, nil
	}
	f.RefundCalls++
	if f.RefundErr != nil {
		return nil, f.RefundErr
	}
	ch, ok := f.Charges[req.ChargeID]
	if !ok {
		return nil, Missing()
	}
	amount := req.AmountCents
	if amount == 0 {
		amount = ch.AmountCents - ch.RefundedCents
	}
	if ch.RefundedCents+amount > ch.AmountCents {
		return nil, &lib.GatewayError{Kind: types.FAILURE_CONFIGURATION, Code: "amount_too_large", Message: "refund exceeds charge"}
	}
	ch.RefundedCents += amount
	res := &lib.RefundResult{ID: f.next("re"), Status: "succeeded", AmountCents: amount}
	f.refunded[req.IdempotencyKey] = res
	f.Refunds = append(f.Refunds, *res)
	out := *res
	return &out, nil
}

func (f *FakeGateway) CreateAccount(ctx context.Context, params lib.AccountParams) (*lib.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AccountErr != nil {
		return nil, f.AccountErr
	}
	acc := &lib.Account{ID: f.next("acct"), Email: params.Email, Country: params.Country, RequirementsDue: []string{"external_account"}}
	f.Accounts[acc.ID] = acc
	out := *acc
	return &out, nil
}

func (f *FakeGateway) GetAccount(ctx context.Context, accountID string) (*lib.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AccountErr != nil {
		return nil, f.AccountErr
	}
	acc, ok := f.Accounts[accountID]
	if !ok {
		return nil, Missing()
	}
	out := *acc
	return &out, nil
}

func (f *FakeGateway) DeleteAccount(ctx context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Accounts[accountID]; !ok {
		return Missing()
	}
	delete(f.Accounts, accountID)
	return nil
}

func (f *FakeGateway) CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	return fmt.Sprintf("https://connect.example.com/setup/%s", accountID), nil
}

func (f *FakeGateway) CreateLoginLink(ctx context.Context, accountID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Accounts[accountID]; !ok {
		return "", Missing()
	}
	return fmt.Sprintf("https://connect.example.com/express/%s", accountID), nil
}

func (f *FakeGateway) CreateTransfer(ctx context.Context, req lib.TransferRequest) (*lib.Transfer, error) {
	if f.TransferLatency > 0 {
		time.Sleep(f.TransferLatency)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if prev, ok := f.transferred[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		out := *prev
		return &out, nil
	}
	f.TransferCalls++
	if err, ok := f.TransferErrFor[req.DestinationAccountID]; ok {
		return nil, err
	}
	if f.TransferErr != nil {
		return nil, f.TransferErr
	}
	t := &lib.Transfer{
		ID:          f.next("tr"),
		Destination: req.DestinationAccountID,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		Created:     time.Now().UTC(),
	}
	f.transferred[req.IdempotencyKey] = t
	f.Transfers = append(f.Transfers, *t)
	out := *t
	return &out, nil
}

func (f *FakeGateway) ListTransfers(ctx context.Context, limit int) ([]lib.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	out := append([]lib.Transfer{}, f.Transfers...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *FakeGateway) ListCharges(ctx context.Context, limit int) ([]lib.Charge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	out := []lib.Charge{}
	for _, c := range f.Charges {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *FakeGateway) GetCharge(ctx context.Context, chargeID string) (*lib.Charge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	c, ok := f.Charges[chargeID]
	if !ok {
		return nil, Missing()
	}
	out := *c
	return &out, nil
}

func (f *FakeGateway) GetBalance(ctx context.Context, currency string) (*lib.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BalanceErr != nil {
		return nil, f.BalanceErr
	}
	out := f.Balance
	out.Currency = currency
	return &out, nil
}

var _ lib.PaymentGateway = (*FakeGateway)(nil)
