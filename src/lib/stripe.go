package lib

import (
	"carepay/src/config"
	"carepay/src/types"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

var stripeClient *stripe.Client

func GetStripeClient() *stripe.Client {
	if stripeClient != nil {
		return stripeClient
	}
	cfg := config.LoadPayments()
	apiKey := os.Getenv("STRIPE_SECRET_KEY")
	backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.ProviderTimeout},
		MaxNetworkRetries: stripe.Int64(cfg.ProviderNetworkRetry),
	})
	sc := stripe.NewClient(apiKey, stripe.WithBackends(backends))
	stripeClient = sc

	return sc
}

// ConstructWebhookEvent validates the Stripe-Signature header before anything
// is parsed or stored. Events rendered for another API version are accepted;
// handlers only read fields stable across versions.
func ConstructWebhookEvent(payload []byte, signature string, secret string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

type PaymentMethod struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id,omitempty"`
	Brand      string `json:"brand,omitempty"`
	Last4      string `json:"last4,omitempty"`
	Country    string `json:"country,omitempty"`
	ExpMonth   int64  `json:"exp_month,omitempty"`
	ExpYear    int64  `json:"exp_year,omitempty"`
}

type ChargeRequest struct {
	CustomerID      string
	PaymentMethodID string
	AmountCents     int64
	Currency        string
	Description     string
	IdempotencyKey  string
	Metadata        map[string]string
}

type ChargeResult struct {
	IntentID     string
	ChargeID     string
	Status       string
	ClientSecret string
	AmountCents  int64
}

func (c *ChargeResult) RequiresAction() bool {
	return c.Status == string(stripe.PaymentIntentStatusRequiresAction) ||
		c.Status == string(stripe.PaymentIntentStatusRequiresConfirmation)
}

func (c *ChargeResult) Succeeded() bool {
	return c.Status == string(stripe.PaymentIntentStatusSucceeded)
}

type RefundRequest struct {
	ChargeID       string
	AmountCents    int64
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

type RefundResult struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	AmountCents int64  `json:"amount_cents"`
}

type AccountParams struct {
	Email    string
	Country  string
	Metadata map[string]string
}

type Account struct {
	ID               string   `json:"id"`
	Email            string   `json:"email,omitempty"`
	Country          string   `json:"country,omitempty"`
	ChargesEnabled   bool     `json:"charges_enabled"`
	PayoutsEnabled   bool     `json:"payouts_enabled"`
	DetailsSubmitted bool     `json:"details_submitted"`
	RequirementsDue  []string `json:"requirements_due,omitempty"`
}

// AccountFromStripe flattens the flags the connected-account manager cares about.
func AccountFromStripe(acc *stripe.Account) *Account {
	if acc == nil {
		return nil
	}
	out := &Account{
		ID:               acc.ID,
		Email:            acc.Email,
		Country:          acc.Country,
		ChargesEnabled:   acc.ChargesEnabled,
		PayoutsEnabled:   acc.PayoutsEnabled,
		DetailsSubmitted: acc.DetailsSubmitted,
	}
	if acc.Requirements != nil {
		out.RequirementsDue = append(out.RequirementsDue, acc.Requirements.CurrentlyDue...)
		out.RequirementsDue = append(out.RequirementsDue, acc.Requirements.PastDue...)
	}
	return out
}

type TransferRequest struct {
	DestinationAccountID string
	AmountCents          int64
	Currency             string
	Description          string
	TransferGroup        string
	IdempotencyKey       string
	Metadata             map[string]string
}

type Transfer struct {
	ID          string    `json:"id"`
	Destination string    `json:"destination"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	Reversed    bool      `json:"reversed"`
	Created     time.Time `json:"created"`
}

type Charge struct {
	ID            string    `json:"id"`
	IntentID      string    `json:"payment_intent_id,omitempty"`
	Status        string    `json:"status"`
	Paid          bool      `json:"paid"`
	AmountCents   int64     `json:"amount_cents"`
	RefundedCents int64     `json:"refunded_cents"`
	Currency      string    `json:"currency"`
	Created       time.Time `json:"created"`
}

type Balance struct {
	Currency       string `json:"currency"`
	AvailableCents int64  `json:"available_cents"`
	PendingCents   int64  `json:"pending_cents"`
}

// PaymentGateway is every payment-provider call the money core makes. All
// errors returned are *GatewayError.
type PaymentGateway interface {
	CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (string, error)
	AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) (*PaymentMethod, error)
	DetachPaymentMethod(ctx context.Context, paymentMethodID string) error
	GetPaymentMethod(ctx context.Context, paymentMethodID string) (*PaymentMethod, error)
	ListPaymentMethods(ctx context.Context, customerID string) ([]PaymentMethod, error)
	CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	CreateRefund(ctx context.Context, req RefundRequest) (*RefundResult, error)
	CreateAccount(ctx context.Context, params AccountParams) (*Account, error)
	GetAccount(ctx context.Context, accountID string) (*Account, error)
	DeleteAccount(ctx context.Context, accountID string) error
	CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error)
	CreateLoginLink(ctx context.Context, accountID string) (string, error)
	CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error)
	ListTransfers(ctx context.Context, limit int) ([]Transfer, error)
	ListCharges(ctx context.Context, limit int) ([]Charge, error)
	GetCharge(ctx context.Context, chargeID string) (*Charge, error)
	GetBalance(ctx context.Context, currency string) (*Balance, error)
}

// GatewayError is a provider failure already translated into the failure taxonomy.
type GatewayError struct {
	Kind    types.FailureKind
	Code    string
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

func (e *GatewayError) FailureKind() types.FailureKind {
	return e.Kind
}

func (e *GatewayError) UserMessage() string {
	return e.Message
}

// ClassifyStripeError maps a stripe-go error onto a FailureKind.
func ClassifyStripeError(err error) *GatewayError {
	if err == nil {
		return nil
	}
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge
	}
	var se *stripe.Error
	if !errors.As(err, &se) {
		return &GatewayError{Kind: types.FAILURE_TRANSIENT, Message: err.Error(), Err: err}
	}
	out := &GatewayError{Code: string(se.Code), Message: se.Msg, Err: err}
	switch {
	case se.Type == stripe.ErrorTypeCard:
		out.Kind = types.FAILURE_USER_RETRYABLE
	case se.Code == stripe.ErrorCode("authentication_required"):
		out.Kind = types.FAILURE_USER_RETRYABLE
	case se.Code == stripe.ErrorCodeResourceMissing:
		out.Kind = types.FAILURE_CONFIGURATION
	case se.HTTPStatusCode == http.StatusUnauthorized || se.HTTPStatusCode == http.StatusForbidden:
		out.Kind = types.FAILURE_CONFIGURATION
	case se.Type == stripe.ErrorTypeInvalidRequest:
		out.Kind = types.FAILURE_CONFIGURATION
	case se.Type == stripe.ErrorTypeIdempotency:
		out.Kind = types.FAILURE_PRECONDITION
	default:
		out.Kind = types.FAILURE_TRANSIENT
	}
	if out.Message == "" {
		out.Message = err.Error()
	}
	return out
}

// FailureKindOf returns the kind carried by err, transient for unknown errors.
func FailureKindOf(err error) types.FailureKind {
	if err == nil {
		return types.FAILURE_NONE
	}
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return types.FAILURE_TRANSIENT
}

func IsResourceMissing(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Code == string(stripe.ErrorCodeResourceMissing)
}

func wrapStripeErr(err error) error {
	if err == nil {
		return nil
	}
	return ClassifyStripeError(err)
}

// StripeGateway implements PaymentGateway with an explicitly constructed client.
type StripeGateway struct {
	sc *stripe.Client
}

func NewStripeGateway(sc *stripe.Client) *StripeGateway {
	return &StripeGateway{sc: sc}
}

func paymentMethodFromStripe(pm *stripe.PaymentMethod) *PaymentMethod {
	out := &PaymentMethod{ID: pm.ID}
	if pm.Customer != nil {
		out.CustomerID = pm.Customer.ID
	}
	if pm.Card != nil {
		out.Brand = string(pm.Card.Brand)
		out.Last4 = pm.Card.Last4
		out.Country = pm.Card.Country
		out.ExpMonth = pm.Card.ExpMonth
		out.ExpYear = pm.Card.ExpYear
	}
	return out
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (string, error) {
	params := &stripe.CustomerCreateParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	cus, err := g.sc.V1Customers.Create(ctx, params)
	if err != nil {
		log.Printf("[Stripe] Error creating Customer for %s: %s\n", email, err.Error())
		return "", wrapStripeErr(err)
	}
	return cus.ID, nil
}

func (g *StripeGateway) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) (*PaymentMethod, error) {
	pm, err := g.sc.V1PaymentMethods.Attach(ctx, paymentMethodID, &stripe.PaymentMethodAttachParams{
		Customer: stripe.String(customerID),
	})
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	return paymentMethodFromStripe(pm), nil
}

func (g *StripeGateway) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	_, err := g.sc.V1PaymentMethods.Detach(ctx, paymentMethodID, &stripe.PaymentMethodDetachParams{})
	return wrapStripeErr(err)
}

func (g *StripeGateway) GetPaymentMethod(ctx context.Context, paymentMethodID string) (*PaymentMethod, error) {
	pm, err := g.sc.V1PaymentMethods.Retrieve(ctx, paymentMethodID, &stripe.PaymentMethodRetrieveParams{})
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	return paymentMethodFromStripe(pm), nil
}

func (g *StripeGateway) ListPaymentMethods(ctx context.Context, customerID string) ([]PaymentMethod, error) {
	list := g.sc.V1PaymentMethods.List(ctx, &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerID),
	})
	paymentMethods := make([]PaymentMethod, 0)
	for pm, err := range list {
		if err != nil {
			log.Printf("[Stripe] Expected a list but got error: %s\n", err.Error())
			return paymentMethods, wrapStripeErr(err)
		}
		paymentMethods = append(paymentMethods, *paymentMethodFromStripe(pm))
	}
	return paymentMethods, nil
}

func (g *StripeGateway) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	params := &stripe.PaymentIntentCreateParams{
		Amount:             stripe.Int64(req.AmountCents),
		Currency:           stripe.String(req.Currency),
		Customer:           stripe.String(req.CustomerID),
		PaymentMethod:      stripe.String(req.PaymentMethodID),
		PaymentMethodTypes: []*string{stripe.String("card")},
		Confirm:            stripe.Bool(true),
		Description:        stripe.String(req.Description),
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.SetIdempotencyKey(req.IdempotencyKey)
	pi, err := g.sc.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	out := &ChargeResult{
		IntentID:     pi.ID,
		Status:       string(pi.Status),
		ClientSecret: pi.ClientSecret,
		AmountCents:  pi.Amount,
	}
	if pi.LatestCharge != nil {
		out.ChargeID = pi.LatestCharge.ID
	}
	return out, nil
}

func (g *StripeGateway) CreateRefund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	params := &stripe.RefundCreateParams{
		Charge: stripe.String(req.ChargeID),
	}
	if req.AmountCents > 0 {
		params.Amount = stripe.Int64(req.AmountCents)
	}
	if req.Reason != "" {
		params.Reason = stripe.String(req.Reason)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.SetIdempotencyKey(req.IdempotencyKey)
	r, err := g.sc.V1Refunds.Create(ctx, params)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	return &RefundResult{ID: r.ID, Status: string(r.Status), AmountCents: r.Amount}, nil
}

func (g *StripeGateway) CreateAccount(ctx context.Context, p AccountParams) (*Account, error) {
	params := &stripe.AccountCreateParams{
		Type:  stripe.String("express"),
		Email: stripe.String(p.Email),
		Capabilities: &stripe.AccountCreateCapabilitiesParams{
			CardPayments: &stripe.AccountCreateCapabilitiesCardPaymentsParams{Requested: stripe.Bool(true)},
			Transfers:    &stripe.AccountCreateCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	if p.Country != "" {
		params.Country = stripe.String(p.Country)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	acc, err := g.sc.V1Accounts.Create(ctx, params)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	return AccountFromStripe(acc), nil
}

func (g *StripeGateway) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	acc, err := g.sc.V1Accounts.GetByID(ctx, accountID, nil)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	return AccountFromStripe(acc), nil
}

func (g *StripeGateway) DeleteAccount(ctx context.Context, accountID string) error {
	_, err := g.sc.V1Accounts.Delete(ctx, accountID, nil)
	return wrapStripeErr(err)
}

func (g *StripeGateway) CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	link, err := g.sc.V1AccountLinks.Create(ctx, &stripe.AccountLinkCreateParams{
		Account:    stripe.String(accountID),
		Type:       stripe.String("account_onboarding"),
		ReturnURL:  stripe.String(returnURL),
		RefreshURL: stripe.String(refreshURL),
	})
	if err != nil {
		return "", wrapStripeErr(err)
	}
	return link.URL, nil
}

func (g *StripeGateway) CreateLoginLink(ctx context.Context, accountID string) (string, error) {
	link, err := g.sc.V1LoginLinks.Create(ctx, &stripe.LoginLinkCreateParams{
		Account: stripe.String(accountID),
	})
	if err != nil {
		return "", wrapStripeErr(err)
	}
	return link.URL, nil
}

func (g *StripeGateway) CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	params := &stripe.TransferCreateParams{
		Amount:      stripe.Int64(req.AmountCents),
		Currency:    stripe.String(req.Currency),
		Destination: stripe.String(req.DestinationAccountID),
		Description: stripe.String(req.Description),
	}
	if req.TransferGroup != "" {
		params.TransferGroup = stripe.String(req.TransferGroup)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.SetIdempotencyKey(req.IdempotencyKey)
	t, err := g.sc.V1Transfers.Create(ctx, params)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	return transferFromStripe(t), nil
}

func transferFromStripe(t *stripe.Transfer) *Transfer {
	out := &Transfer{
		ID:          t.ID,
		AmountCents: t.Amount,
		Currency:    string(t.Currency),
		Reversed:    t.Reversed,
		Created:     time.Unix(t.Created, 0).UTC(),
	}
	if t.Destination != nil {
		out.Destination = t.Destination.ID
	}
	return out
}

func (g *StripeGateway) ListTransfers(ctx context.Context, limit int) ([]Transfer, error) {
	params := &stripe.TransferListParams{}
	params.Limit = stripe.Int64(int64(limit))
	transfers := make([]Transfer, 0, limit)
	for t, err := range g.sc.V1Transfers.List(ctx, params) {
		if err != nil {
			return transfers, wrapStripeErr(err)
		}
		transfers = append(transfers, *transferFromStripe(t))
		if len(transfers) >= limit {
			break
		}
	}
	return transfers, nil
}

func chargeFromStripe(c *stripe.Charge) *Charge {
	out := &Charge{
		ID:            c.ID,
		Status:        string(c.Status),
		Paid:          c.Paid,
		AmountCents:   c.Amount,
		RefundedCents: c.AmountRefunded,
		Currency:      string(c.Currency),
		Created:       time.Unix(c.Created, 0).UTC(),
	}
	if c.PaymentIntent != nil {
		out.IntentID = c.PaymentIntent.ID
	}
	return out
}

func (g *StripeGateway) ListCharges(ctx context.Context, limit int) ([]Charge, error) {
	params := &stripe.ChargeListParams{}
	params.Limit = stripe.Int64(int64(limit))
	charges := make([]Charge, 0, limit)
	for c, err := range g.sc.V1Charges.List(ctx, params) {
		if err != nil {
			return charges, wrapStripeErr(err)
		}
		charges = append(charges, *chargeFromStripe(c))
		if len(charges) >= limit {
			break
		}
	}
	return charges, nil
}

func (g *StripeGateway) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	c, err := g.sc.V1Charges.Retrieve(ctx, chargeID, nil)
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	return chargeFromStripe(c), nil
}

func (g *StripeGateway) GetBalance(ctx context.Context, currency string) (*Balance, error) {
	b, err := g.sc.V1Balance.Retrieve(ctx, &stripe.BalanceRetrieveParams{})
	if err != nil {
		return nil, wrapStripeErr(err)
	}
	out := &Balance{Currency: currency}
	for _, a := range b.Available {
		if string(a.Currency) == currency {
			out.AvailableCents += a.Amount
		}
	}
	for _, a := range b.Pending {
		if string(a.Currency) == currency {
			out.PendingCents += a.Amount
		}
	}
	return out, nil
}
