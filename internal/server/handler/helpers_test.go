package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowd/internal/domain"
	"github.com/alanyoungcy/escrowd/internal/service"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrZeroPrice, http.StatusBadRequest},
		{domain.ErrNotActive, http.StatusConflict},
		{domain.ErrEntityNotFound, http.StatusNotFound},
		{domain.ErrNotSeller, http.StatusForbidden},
		{domain.ErrPaymentMismatch, http.StatusPaymentRequired},
		{domain.ErrReceiverRejected, http.StatusUnprocessableEntity},
		{fmt.Errorf("list: %w", service.ErrUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("ledger: buy listing: %w", domain.ErrExpired), http.StatusConflict},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestDurationJSON(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"36h"`), &d))
	require.Equal(t, 36*time.Hour, time.Duration(d))

	require.NoError(t, json.Unmarshal([]byte(`90`), &d))
	require.Equal(t, 90*time.Second, time.Duration(d))

	require.Error(t, json.Unmarshal([]byte(`"soon"`), &d))
	require.Error(t, json.Unmarshal([]byte(`true`), &d))

	out, err := json.Marshal(Duration(time.Hour))
	require.NoError(t, err)
	require.JSONEq(t, `"1h0m0s"`, string(out))
}

func TestEntryResponses(t *testing.T) {
	got := entryResponses([]domain.EntryResult{
		{Index: 0, ID: 7},
		{Index: 1, Err: domain.ErrDurationOutOfBounds},
	})
	require.Equal(t, []entryResponse{
		{Index: 0, ID: 7, OK: true},
		{Index: 1, Error: domain.ErrDurationOutOfBounds.Error(), Class: "validation"},
	}, got)
}

func TestCallFromRequiresCaller(t *testing.T) {
	rec := httptest.NewRecorder()
	_, ok := callFrom(rec, httptest.NewRequest(http.MethodPost, "/", nil), domain.Amount{})
	require.False(t, ok)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWriteServiceErrorHidesInternalText(t *testing.T) {
	rec := httptest.NewRecorder()
	writeServiceError(rec, httptest.NewRequest(http.MethodGet, "/", nil), quietLogger(), "list listings", errors.New("pq: password authentication failed"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "password")
}

func TestParseListOpts(t *testing.T) {
	opts := parseListOpts(httptest.NewRequest(http.MethodGet, "/?limit=9999&offset=-3", nil))
	require.Equal(t, domain.ListOpts{Limit: 500, Offset: 0}, opts)
}
