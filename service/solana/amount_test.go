package solana

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScaleAmount(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals uint8
		want     uint64
		wantErr  bool
	}{
		{name: "one and a half at two decimals", amount: "1.5", decimals: 2, want: 150},
		{name: "whole units", amount: "3", decimals: 0, want: 3},
		{name: "nine decimals", amount: "0.000000001", decimals: 9, want: 1},
		{name: "trailing zeros are not excess precision", amount: "2.500", decimals: 2, want: 250},
		{name: "max u64", amount: "18446744073709551615", decimals: 0, want: 18446744073709551615},
		{name: "max u64 scaled", amount: "18446744073.709551615", decimals: 9, want: 18446744073709551615},
		{name: "excess precision", amount: "1.234", decimals: 2, wantErr: true},
		{name: "fraction of an indivisible unit", amount: "0.5", decimals: 0, wantErr: true},
		{name: "overflow", amount: "18446744073709551616", decimals: 0, wantErr: true},
		{name: "overflow after scaling", amount: "18446744074", decimals: 9, wantErr: true},
		{name: "zero", amount: "0", decimals: 6, wantErr: true},
		{name: "negative", amount: "-1", decimals: 6, wantErr: true},
		{name: "twenty one integer digits", amount: "1e20", decimals: 0, wantErr: true},
		{name: "trailing zeros beyond decimals", amount: "2.50000000000000000000", decimals: 2, want: 250},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, err := decimal.NewFromString(tt.amount)
			require.NoError(t, err)

			got, err := ScaleAmount(amount, tt.decimals)

			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAmount(t *testing.T) {
	d, err := ParseAmount("1.25")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("1.25")))

	_, err = ParseAmount("one")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "1.5", FormatAmount(150, 2))
	assert.Equal(t, "0.000001", FormatAmount(1, 6))
	assert.Equal(t, "42", FormatAmount(42, 0))
}

func TestScaleAmount_RoundTrip(t *testing.T) {
	for _, decimals := range []uint8{0, 2, 6, 9} {
		raw := uint64(123456789)
		amount := decimal.RequireFromString(FormatAmount(raw, decimals))

		got, err := ScaleAmount(amount, decimals)

		require.NoError(t, err)
		assert.Equal(t, raw, got, "decimals %d", decimals)
	}
}

func TestScaleAmount_ExtremeExponents(t *testing.T) {
	for _, s := range []string{"1e100000000", "1e-100000000", "-1e100000000", "0.5e2147483000"} {
		t.Run(s, func(t *testing.T) {
			amount, err := ParseAmount(s)
			if err != nil {
				assert.ErrorIs(t, err, ErrValidation)
				return
			}

			start := time.Now()
			_, err = ScaleAmount(amount, 9)

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Less(t, time.Since(start), 100*time.Millisecond)
			assert.Less(t, len(err.Error()), 200, "the message must not hold the expanded number")
		})
	}
}

func TestParseAmount_TooLong(t *testing.T) {
	_, err := ParseAmount("1." + strings.Repeat("0", 400))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Less(t, len(err.Error()), 200)
}
