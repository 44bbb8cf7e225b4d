package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{"explicit dsn wins", ClientConfig{DSN: "postgres://x", Host: "ignored"}, "postgres://x"},
		{"defaults", ClientConfig{Host: "db", Database: "escrowd", User: "u", Password: "p"}, "postgres://u:p@db:5432/escrowd?sslmode=disable"},
		{"port and ssl", ClientConfig{Host: "db", Port: 6543, Database: "e", User: "u", Password: "p", SSLMode: "require"}, "postgres://u:p@db:6543/e?sslmode=require"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, DSN(tt.cfg))
		})
	}
}

func TestPageQuery(t *testing.T) {
	q, args := pageQuery("SELECT doc FROM offers WHERE asset_owner = $1", domain.ListOpts{Limit: 10, Offset: 20}, []any{"0xabc"})
	require.Equal(t, "SELECT doc FROM offers WHERE asset_owner = $1 ORDER BY id LIMIT $2 OFFSET $3", q)
	require.Equal(t, []any{"0xabc", 10, 20}, args)

	q, args = pageQuery("SELECT doc FROM listings WHERE active", domain.ListOpts{}, nil)
	require.Equal(t, "SELECT doc FROM listings WHERE active ORDER BY id", q)
	require.Empty(t, args)
}

func TestWindowQuery(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q, args := windowQuery("SELECT id FROM audit_log WHERE 1=1", "created_at",
		domain.ListOpts{Since: &since, Limit: 5}, nil)
	require.Equal(t, "SELECT id FROM audit_log WHERE 1=1 AND created_at >= $1 ORDER BY created_at DESC LIMIT $2", q)
	require.Equal(t, []any{since, 5}, args)
}
