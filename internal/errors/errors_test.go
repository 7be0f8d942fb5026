package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlowErrorIsMapsTypesToSentinels(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"validation", Validation(StateBadRequest, "parse", nil), ErrInvalidInput, true},
		{"auth 400 is unauthorized", Auth(StateInvalidToken, "verify", nil), ErrUnauthorized, true},
		{"auth 400 is not forbidden", Auth(StateInvalidToken, "verify", nil), ErrForbidden, false},
		{"auth 403 is forbidden", Forbidden(StateSubscriptionInvalid, "verify", nil), ErrForbidden, true},
		{"upstream", Upstream("add_member", errors.New("boom")), ErrUpstream, true},
		{"not allowed", NotAllowed(http.MethodGet), ErrMethodNotAllowed, true},
		{"validation is not upstream", Validation(StateBadRequest, "parse", nil), ErrUpstream, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestFlowErrorUnwrapsUnderlyingError(t *testing.T) {
	root := errors.New("token expired")
	err := fmt.Errorf("complete: %w", Auth(StateOAuthError, "exchange_code", root))

	assert.ErrorIs(t, err, root)
	assert.Equal(t, StateOAuthError, StateOf(err))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))
	assert.Contains(t, err.Error(), "exchange_code failed (oauth_error): token expired")
}

func TestHTTPStatusDefaults(t *testing.T) {
	assert.Equal(t, http.StatusOK, HTTPStatus(nil))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("plain")))
	assert.Equal(t, http.StatusMethodNotAllowed, HTTPStatus(NotAllowed(http.MethodPut)))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(Forbidden(StateInvalidToken, "verify", nil)))
	assert.Equal(t, StateUpstreamError, StateOf(errors.New("plain")))
}

func TestIsUpstream(t *testing.T) {
	assert.False(t, IsUpstream(nil))
	assert.True(t, IsUpstream(errors.New("network down")))
	assert.True(t, IsUpstream(Upstream("get_customer", nil)))
	assert.False(t, IsUpstream(Validation(StateBadRequest, "parse", nil)))
}
