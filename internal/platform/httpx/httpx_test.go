package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

func TestRespondErrorMapping(t *testing.T) {
	cases := []struct {
		err       error
		status    int
		code      string
		retryable bool
	}{
		{fmt.Errorf("post GR-1: %w", shared.ErrBusy), http.StatusServiceUnavailable, "busy", true},
		{fmt.Errorf("item 9: %w", shared.ErrNotFound), http.StatusNotFound, "not_found", false},
		{shared.ErrInvalidTransition, http.StatusConflict, "invalid_transition", false},
		{shared.ErrInsufficientStock, http.StatusUnprocessableEntity, "insufficient_stock", false},
		{shared.ErrInvalidLine, http.StatusBadRequest, "invalid_line", false},
		{shared.ErrInvalidQuantity, http.StatusBadRequest, "invalid_quantity", false},
		{shared.ErrForbidden, http.StatusForbidden, "forbidden", false},
		{shared.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials", false},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "internal", false},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		require.Equal(t, tc.status, rec.Code, tc.err.Error())

		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, tc.code, body.Code)
		require.Equal(t, tc.retryable, body.Retryable)
		if tc.retryable {
			require.Equal(t, "1", rec.Header().Get("Retry-After"))
		}
		if tc.status == http.StatusInternalServerError {
			require.Empty(t, body.Detail)
		}
	}
}

type sampleRequest struct {
	Name string `json:"name" validate:"required"`
	Qty  int64  `json:"qty" validate:"gt=0"`
}

func TestDecodeAndValidate(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"bolt","qty":3}`))
	var ok sampleRequest
	require.NoError(t, DecodeAndValidate(req, &ok))
	require.Equal(t, int64(3), ok.Qty)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"","qty":0}`))
	var bad sampleRequest
	require.ErrorIs(t, DecodeAndValidate(req, &bad), shared.ErrValidation)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"unknown":1}`))
	require.ErrorIs(t, DecodeAndValidate(req, &bad), shared.ErrValidation)
}

func TestInt64Param(t *testing.T) {
	id, err := Int64Param("42", "id")
	require.NoError(t, err)
	require.Equal(t, int64(42), id)

	_, err = Int64Param("-1", "id")
	require.ErrorIs(t, err, shared.ErrValidation)

	id, err = OptionalInt64("", "item_id")
	require.NoError(t, err)
	require.Zero(t, id)
}
