package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

type stubHealth struct{}

func (stubHealth) LastSeq() uint64        { return 42 }
func (stubHealth) Engine() domain.Address { return common.HexToAddress("0xe5c40") }

func TestHealthCheck(t *testing.T) {
	up := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name     string
		checks   []DependencyCheck
		wantCode int
		status   string
		deps     map[string]any
	}{
		{"no dependencies", nil, http.StatusOK, "ok", nil},
		{
			"all up",
			[]DependencyCheck{{Name: "postgres", Ping: up}, {Name: "s3", Ping: up}},
			http.StatusOK, "ok",
			map[string]any{"postgres": "ok", "s3": "ok"},
		},
		{
			"one down",
			[]DependencyCheck{{Name: "postgres", Ping: up}, {Name: "redis", Ping: down}},
			http.StatusServiceUnavailable, "degraded",
			map[string]any{"postgres": "ok", "redis": "connection refused"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(stubHealth{}, "run-1", quietLogger(), tt.checks...)
			rec := httptest.NewRecorder()
			h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
			require.Equal(t, tt.wantCode, rec.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, tt.status, body["status"])
			require.Equal(t, "run-1", body["run_id"])
			require.InDelta(t, 42, body["last_seq"], 0)
			if tt.deps == nil {
				require.NotContains(t, body, "dependencies")
				return
			}
			require.Equal(t, tt.deps, body["dependencies"])
		})
	}
}
