package errutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	cause := errors.New("disk I/O error")
	err := fmt.Errorf("save step: %w", Storage("failed to persist step", cause))

	require.Equal(t, StatusStorage, CodeOf(err))
	require.True(t, Is(err, StatusStorage))
	require.ErrorIs(t, err, cause)
	require.Equal(t, StatusUnknown, CodeOf(cause))
	require.Equal(t, CoreStatus(""), CodeOf(nil))
}

func TestValidationDetails(t *testing.T) {
	err := ValidationFailed("invalid campaign", nil,
		WithDetails(Detail{Field: "name", Message: "required"}),
		WithDetails(Detail{Field: "duration_hours", Message: "must be between 1 and 24"}),
	)

	var base BaseError
	require.True(t, errors.As(err, &base))
	require.Len(t, base.Details, 2)
	require.Nil(t, base.Unwrap())
	require.Equal(t, "[VALIDATION_FAILED] invalid campaign", err.Error())

	body := base.JSON()["error"].(map[string]any)
	require.Equal(t, StatusValidationFailed, body["code"])
}

func TestHTTPStatus(t *testing.T) {
	require.Equal(t, http.StatusNotFound, StatusNotFound.HTTPStatus())
	require.Equal(t, http.StatusConflict, StatusInvalidState.HTTPStatus())
	require.Equal(t, http.StatusUnprocessableEntity, StatusValidationFailed.HTTPStatus())
	require.Equal(t, http.StatusServiceUnavailable, StatusStorage.HTTPStatus())
	require.Equal(t, http.StatusInternalServerError, StatusRuntimeFault.HTTPStatus())
}
