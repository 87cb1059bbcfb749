package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want *int64
	}{
		{"int", 42, ptr(42)},
		{"int64", int64(42), ptr(42)},
		{"float", 42.9, ptr(42)},
		{"numeric string", "42", ptr(42)},
		{"zero", 0, ptr(0)},
		{"negative", -1, nil},
		{"negative string", "-1", nil},
		{"empty string", "", nil},
		{"non-numeric string", "abc", nil},
		{"string slice", []string{"42", "7"}, ptr(42)},
		{"empty slice", []string{}, nil},
		{"any slice", []any{int64(42)}, ptr(42)},
		{"nil", nil, nil},
		{"unsupported", struct{}{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseSize(tt.in)
			if tt.want == nil {
				assert.Nil(t, got)
			} else {
				require.NotNil(t, got)
				assert.Equal(t, *tt.want, *got)
			}
		})
	}
}

func ptr(n int64) *int64 { return &n }
