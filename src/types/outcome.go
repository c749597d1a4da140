package types

import "net/http"

// FailureKind classifies why a money operation did not succeed.
type FailureKind string

const (
	FAILURE_NONE           FailureKind = ""
	FAILURE_USER_RETRYABLE FailureKind = "user_retryable"
	FAILURE_PRECONDITION   FailureKind = "precondition"
	FAILURE_CONFIGURATION  FailureKind = "configuration"
	FAILURE_TRANSIENT      FailureKind = "transient"
	FAILURE_FATAL          FailureKind = "fatal"
)

// HTTPStatus maps a failure kind to the status code returned by the API.
func (k FailureKind) HTTPStatus() int {
	switch k {
	case FAILURE_NONE:
		return http.StatusOK
	case FAILURE_USER_RETRYABLE:
		return http.StatusPaymentRequired
	case FAILURE_PRECONDITION:
		return http.StatusConflict
	case FAILURE_CONFIGURATION:
		return http.StatusFailedDependency
	case FAILURE_TRANSIENT:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Outcome is the structured result of every public money operation.
type Outcome struct {
	Success      bool        `json:"success"`
	Reference    string      `json:"reference,omitempty"`
	Reason       string      `json:"reason,omitempty"`
	Kind         FailureKind `json:"kind,omitempty"`
	ClientSecret string      `json:"client_secret,omitempty"`
}

func Succeeded(reference string) Outcome {
	return Outcome{Success: true, Reference: reference}
}

func Failed(kind FailureKind, reason string) Outcome {
	return Outcome{Kind: kind, Reason: reason}
}

// Partial wraps an informational projection that may be missing provider data.
type Partial[T any] struct {
	Data    T        `json:"data"`
	Partial bool     `json:"partial"`
	Errors  []string `json:"errors,omitempty"`
}

func (p *Partial[T]) AddError(err error) {
	if err == nil {
		return
	}
	p.Partial = true
	p.Errors = append(p.Errors, err.Error())
}
