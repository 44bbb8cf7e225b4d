package redis

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNamespaced(t *testing.T) {
	tests := []struct {
		prefix string
		parts  []string
		want   string
	}{
		{"", []string{"lock", "writer"}, "lock:writer"},
		{"escrowd", []string{"lock", "writer"}, "escrowd:lock:writer"},
		{"escrowd", []string{"events"}, "escrowd:events"},
		{"escrowd", []string{"events.*"}, "escrowd:events.*"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, namespaced(tt.prefix, tt.parts...))
	}
}

func TestHasPattern(t *testing.T) {
	require.True(t, hasPattern("events.*"))
	require.True(t, hasPattern("events.[ab]"))
	require.False(t, hasPattern("events.item_sold"))
}
