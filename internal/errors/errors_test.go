package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		err    *Error
		status int
	}{
		{ValidationError("bad input"), http.StatusBadRequest},
		{UnauthorizedError("no token"), http.StatusUnauthorized},
		{NotFoundError("gone"), http.StatusNotFound},
		{InternalError("boom", nil), http.StatusInternalServerError},
		{ExternalError("upstream broke", nil), http.StatusBadGateway},
		{TimeoutError("too slow"), http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.status, tt.err.HTTPStatus(), "type %s", tt.err.Type)
	}
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "validation: bad input", ValidationError("bad input").Error())

	cause := fmt.Errorf("connection refused")
	assert.Equal(t, "external: upstream broke: connection refused", ExternalError("upstream broke", cause).Error())
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := InternalError("wrapper", cause)

	assert.ErrorIs(t, err, cause)
}

func TestWithFieldChaining(t *testing.T) {
	err := ValidationError("bad").WithField("guild_id", "g1").WithField("user_id", "u1")

	assert.Equal(t, "g1", err.Context["guild_id"])
	assert.Equal(t, "u1", err.Context["user_id"])
}

func TestToResponseOmitsInternalDetail(t *testing.T) {
	err := InternalError("something broke", fmt.Errorf("secret detail")).WithField("user_id", "u1")

	resp := err.ToResponse()
	assert.Equal(t, "something broke", resp.Error)
	assert.Equal(t, TypeInternal, resp.Type)
}

func TestAsStructuredError(t *testing.T) {
	assert.Nil(t, AsStructuredError(nil))

	original := NotFoundError("missing")
	assert.Same(t, original, AsStructuredError(original))

	// Wrapped structured errors are unwrapped, not double-wrapped.
	wrapped := fmt.Errorf("context: %w", original)
	assert.Same(t, original, AsStructuredError(wrapped))

	plain := errors.New("plain failure")
	structured := AsStructuredError(plain)
	require.NotNil(t, structured)
	assert.Equal(t, TypeInternal, structured.Type)
	assert.ErrorIs(t, structured, plain)
}
