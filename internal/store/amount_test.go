// ABOUTME: Tests for fixed-point amount helpers
// ABOUTME: Covers formatting, parsing and rejection of unrepresentable amounts

package store

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "0.000000", FormatAmount(0))
	assert.Equal(t, "1.500000", FormatAmount(1_500_000))
	assert.Equal(t, "0.000001", FormatAmount(1))
	assert.Equal(t, "18446744073709.551615", FormatAmount(math.MaxUint64))
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
	}{
		{"1", 1_000_000},
		{"1.5", 1_500_000},
		{"0.000001", 1},
		{" 2.25 ", 2_250_000},
		{"18446744073709.551615", math.MaxUint64},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAmount_Invalid(t *testing.T) {
	for _, in := range []string{"", "abc", "-1", "0.0000001", "18446744073709.551616"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseAmount(in)
			assert.ErrorIs(t, err, ErrInvalidAmount)
		})
	}
}
