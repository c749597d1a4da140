package types

import (
	"errors"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrNotOwner         = errors.New("booking does not belong to payer")
	ErrAlreadyPaid      = errors.New("booking already paid")
	ErrAlreadyProcessed = errors.New("payout already processed")
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrRefundExceeds    = errors.New("refund exceeds remaining amount")
	ErrNothingToRefund  = errors.New("payment has nothing left to refund")
	ErrNoAccount        = errors.New("recipient has no connected account")
	ErrPayoutsDisabled  = errors.New("recipient account cannot receive payouts")
	ErrInvalidCategory  = errors.New("unknown payout category")
)

// KindError attaches a FailureKind to an error crossing a component boundary.
type KindError struct {
	Kind         FailureKind
	Err          error
	ClientSecret string
}

func (e *KindError) Error() string {
	return e.Err.Error()
}

func (e *KindError) Unwrap() error {
	return e.Err
}

func (e *KindError) FailureKind() FailureKind {
	return e.Kind
}

func WithKind(kind FailureKind, err error) error {
	return &KindError{Kind: kind, Err: err}
}

var genericReasons = map[FailureKind]string{
	FAILURE_CONFIGURATION: "payment provider rejected the request",
	FAILURE_TRANSIENT:     "payment provider unavailable, try again",
	FAILURE_FATAL:         "internal error",
}

// OutcomeFromError turns err into a failed Outcome. Kinds come from any error
// in the chain exposing FailureKind(); anything else is fatal. Configuration,
// transient and fatal failures get a generic reason.
func OutcomeFromError(err error) Outcome {
	if err == nil {
		return Outcome{Success: true}
	}
	kind := FAILURE_FATAL
	var k interface{ FailureKind() FailureKind }
	if errors.As(err, &k) {
		kind = k.FailureKind()
	}
	out := Failed(kind, err.Error())
	var um interface{ UserMessage() string }
	if errors.As(err, &um) && um.UserMessage() != "" {
		out.Reason = um.UserMessage()
	}
	if generic, ok := genericReasons[kind]; ok {
		out.Reason = generic
	}
	var ke *KindError
	if errors.As(err, &ke) {
		out.ClientSecret = ke.ClientSecret
	}
	return out
}
