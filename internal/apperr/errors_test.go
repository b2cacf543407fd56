package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Validation("pin must be 6 digits"), http.StatusBadRequest},
		{"credential", ErrInvalidCredentials, http.StatusUnauthorized},
		{"unauthorized", ErrUnauthorized, http.StatusUnauthorized},
		{"tier", AccessTier("upgrade required"), http.StatusForbidden},
		{"not found", NotFound("user not found"), http.StatusNotFound},
		{"dependency", Dependency(errors.New("db down")), http.StatusInternalServerError},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("login: %w", ErrInvalidCredentials), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestPublicMessageHidesCause(t *testing.T) {
	err := Dependency(errors.New("pq: connection refused on 10.0.0.4"))
	assert.Equal(t, "internal server error", PublicMessage(err))
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, "internal server error", PublicMessage(errors.New("raw")))
}

func TestIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("verify: %w", ErrUnauthorized)
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.False(t, errors.Is(err, ErrInvalidCredentials))
	assert.True(t, errors.Is(Dependency(errors.New("x")), ErrInternal))
}
