package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutcomeFromError(t *testing.T) {
	out := OutcomeFromError(WithKind(FAILURE_PRECONDITION, ErrAlreadyPaid))
	assert.False(t, out.Success)
	assert.Equal(t, FAILURE_PRECONDITION, out.Kind)
	assert.Equal(t, "booking already paid", out.Reason)

	out = OutcomeFromError(fmt.Errorf("commit: %w", WithKind(FAILURE_TRANSIENT, errors.New("connection reset"))))
	assert.Equal(t, FAILURE_TRANSIENT, out.Kind)
	assert.Equal(t, "payment provider unavailable, try again", out.Reason)

	out = OutcomeFromError(errors.New("boom"))
	assert.Equal(t, FAILURE_FATAL, out.Kind)
	assert.Equal(t, "internal error", out.Reason)

	out = OutcomeFromError(&KindError{Kind: FAILURE_USER_RETRYABLE, Err: errors.New("authentication required"), ClientSecret: "pi_secret"})
	assert.Equal(t, "pi_secret", out.ClientSecret)
}

func TestFailureKindHTTPStatus(t *testing.T) {
	cases := map[FailureKind]int{
		FAILURE_NONE:           http.StatusOK,
		FAILURE_USER_RETRYABLE: http.StatusPaymentRequired,
		FAILURE_PRECONDITION:   http.StatusConflict,
		FAILURE_CONFIGURATION:  http.StatusFailedDependency,
		FAILURE_TRANSIENT:      http.StatusServiceUnavailable,
		FAILURE_FATAL:          http.StatusInternalServerError,
	}
	for kind, status := range cases {
		assert.Equal(t, status, kind.HTTPStatus(), string(kind))
	}
}

func TestPartialAddError(t *testing.T) {
	p := Partial[[]int]{Data: []int{1}}
	p.AddError(nil)
	assert.False(t, p.Partial)
	p.AddError(errors.New("balance unavailable"))
	assert.True(t, p.Partial)
	assert.Equal(t, []string{"balance unavailable"}, p.Errors)
}
