package solana

import (
	"math"

	"github.com/shopspring/decimal"
)

var maxRawAmount = decimal.NewFromUint64(math.MaxUint64)

const (
	// maxAmountDigits is the number of integer digits in math.MaxUint64.
	maxAmountDigits = 20
	// maxFractionDigits bounds the exponent of any accepted amount: the
	// largest decimals a mint can have plus room for trailing zeros.
	maxFractionDigits = math.MaxUint8 + maxAmountDigits
	// maxAmountInput is the longest amount string ParseAmount will read.
	maxAmountInput = maxAmountDigits + maxFractionDigits + 2
)

// ParseAmount parses a human-scale decimal string such as "1.5".
func ParseAmount(s string) (decimal.Decimal, error) {
	if len(s) > maxAmountInput {
		return decimal.Zero, validationf("amount", "%q... is longer than %d characters", s[:24], maxAmountInput)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, validationf("amount", "%q is not a decimal number", s)
	}
	return d, nil
}

// ValidateAmount checks what can be known about amount without the mint:
// it must be positive and within the magnitude any u64 amount can take.
// It never expands the number, so scientific notation with a huge exponent
// is rejected in constant time.
func ValidateAmount(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return validationf("amount", "must be greater than zero")
	}
	exp := int64(amount.Exponent())
	if int64(amount.NumDigits())+exp > maxAmountDigits {
		return validationf("amount", "overflows a 64-bit amount")
	}
	if exp < -maxFractionDigits {
		return validationf("amount", "has more than %d fractional digits", maxFractionDigits)
	}
	return nil
}

// ScaleAmount converts a human-scale amount into on-chain base units (amount * 10^decimals).
// Amounts that need more fractional digits than decimals allows are rejected,
// not truncated, as are amounts that do not fit in a u64.
func ScaleAmount(amount decimal.Decimal, decimals uint8) (uint64, error) {
	if err := ValidateAmount(amount); err != nil {
		return 0, err
	}

	// Bounded by ValidateAmount, so String and Shift stay cheap.
	scaled := amount.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, validationf("amount", "%s has more precision than %d decimals allow", amount.String(), decimals)
	}
	if scaled.GreaterThan(maxRawAmount) {
		return 0, validationf("amount", "%s overflows a 64-bit amount at %d decimals", amount.String(), decimals)
	}

	return scaled.BigInt().Uint64(), nil
}

// FormatAmount renders base units as a human-scale decimal string.
func FormatAmount(raw uint64, decimals uint8) string {
	return decimal.NewFromUint64(raw).Shift(-int32(decimals)).String()
}
