package frontchat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusError(t *testing.T) {
	cases := []struct {
		name          string
		status        int
		body          string
		authenticated bool
		want          error
		message       string
	}{
		{"expired", http.StatusUnauthorized, `{"detail":"Token is invalid"}`, true, ErrAuthExpired, "Token is invalid"},
		{"bad credentials", http.StatusUnauthorized, `{"detail":"No active account"}`, false, ErrUnauthorized, "No active account"},
		{"not found", http.StatusNotFound, `{"detail":"Not found."}`, false, ErrNotFound, "Not found."},
		{"validation", http.StatusBadRequest, `{"non_field_errors":["a","b"]}`, false, ErrValidation, "a, b"},
		{"forbidden", http.StatusForbidden, ``, false, ErrValidation, "Forbidden"},
		{"server", http.StatusBadGateway, `<html>oops</html>`, false, ErrServer, "Bad Gateway"},
		{"plain text", http.StatusInternalServerError, `database is down`, false, ErrServer, "database is down"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := statusError(tc.status, []byte(tc.body), tc.authenticated)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, tc.status, err.Status)
			assert.Equal(t, tc.message, err.Message)
		})
	}
}

func TestStatusErrorFields(t *testing.T) {
	body := `{"username":["A user with that username already exists."],"email":"Enter a valid email address."}`
	err := statusError(http.StatusBadRequest, []byte(body), false)

	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, []string{"A user with that username already exists."}, err.Fields["username"])
	assert.Equal(t, []string{"Enter a valid email address."}, err.Fields["email"])
	assert.Equal(t,
		"validation (400); email: Enter a valid email address.; username: A user with that username already exists.",
		err.Error())
}

func TestAPIErrorIs(t *testing.T) {
	wrapped := fmt.Errorf("send failed: %w", networkError(context.DeadlineExceeded))

	assert.ErrorIs(t, wrapped, ErrNetwork)
	assert.NotErrorIs(t, wrapped, ErrServer)
	assert.ErrorIs(t, wrapped, context.DeadlineExceeded)

	var apiErr *APIError
	require.True(t, errors.As(wrapped, &apiErr))
	assert.Equal(t, KindNetwork, apiErr.Kind)

	assert.ErrorIs(t, validationError("message is empty"), ErrValidation)
}
