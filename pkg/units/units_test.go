package units

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatUnits(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		decimals int
		want     string
	}{
		{"six decimals", "1500000", 6, "1.500000"},
		{"zero decimals", "1500000", 0, "1500000"},
		{"eighteen decimals", "1000000000000000000", 18, "1.000000000000000000"},
		{"below one", "5", 3, "0.005"},
		{"beyond float precision", "123456789012345678901234567890", 18, "123456789012.345678901234567890"},
		{"out of range decimals fall back to 18", "1", -4, "0.000000000000000001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, ok := new(big.Int).SetString(tt.raw, 10)
			require.True(t, ok)
			assert.Equal(t, tt.want, FormatUnits(raw, tt.decimals))
		})
	}

	t.Run("nil raw", func(t *testing.T) {
		assert.Equal(t, "0.00", FormatUnits(nil, 2))
	})
}

func TestToFloat(t *testing.T) {
	assert.Equal(t, 1.5, ToFloat(big.NewInt(1500000), 6))
	assert.Equal(t, 0.0, ToFloat(nil, 18))
}

func TestParseBigInt(t *testing.T) {
	v, ok := ParseBigInt("0x1f")
	require.True(t, ok)
	assert.Equal(t, int64(31), v.Int64())

	v, ok = ParseBigInt(" 42 ")
	require.True(t, ok)
	assert.Equal(t, int64(42), v.Int64())

	v, ok = ParseBigInt("0x")
	require.True(t, ok)
	assert.Equal(t, int64(0), v.Int64())

	_, ok = ParseBigInt("")
	assert.False(t, ok)
	_, ok = ParseBigInt("12ab")
	assert.False(t, ok)
}

func TestParseSignedPercent(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"-3.25", -3.25, false},
		{"3.25", 3.25, false},
		{"+1.5", 1.5, false},
		{"0.5%", 0.5, false},
		{"-0.5%", -0.5, false},
		{"", 0, false},
		{"--1", 0, true},
		{"abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSignedPercent(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFloat(t *testing.T) {
	v, ok := ParseFloat("0.0001234")
	assert.True(t, ok)
	assert.InDelta(t, 0.0001234, v, 1e-12)

	_, ok = ParseFloat("")
	assert.False(t, ok)
	_, ok = ParseFloat("n/a")
	assert.False(t, ok)
}
