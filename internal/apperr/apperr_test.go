package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAs_FindsWrappedAppError(t *testing.T) {
	base := NotFound("calculation", "42")
	err := fmt.Errorf("loading: %w", base)

	got, ok := As(err)
	require.True(t, ok)
	assert.Same(t, base, got)
	assert.Equal(t, http.StatusNotFound, got.HTTPStatus)
	assert.Equal(t, "42", got.Details["id"])

	_, ok = As(errors.New("plain"))
	assert.False(t, ok)
}

func TestToResponse_HidesCause(t *testing.T) {
	err := Database(errors.New("disk full"))

	resp := err.ToResponse()
	assert.Equal(t, CodeDatabase, resp.Code)
	assert.NotContains(t, resp.Message, "disk full")
	assert.Contains(t, err.Error(), "disk full")
	assert.ErrorIs(t, err, err.Cause)
}

func TestDefaults(t *testing.T) {
	assert.Equal(t, "Authentication required.", Unauthorized("").Message)
	assert.Equal(t, http.StatusForbidden, Forbidden("").HTTPStatus)
	assert.Equal(t, "type", InvalidInput("type", "bad").Details["field"])
	assert.Nil(t, InvalidInput("", "bad").Details)
}
