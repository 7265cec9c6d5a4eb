/*
Conversion helpers between base-unit integer amounts and human-readable
decimal strings, used by the web layer and the daemon's configuration.
*/

package utils

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
)

var (
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrAmountNegative   = errors.New("amount is negative")
	ErrConversionFailed = errors.New("conversion failed")
)

// FormatUnits renders a base-unit amount as a decimal string with the
// given number of fractional digits.
func FormatUnits(amount sdkmath.Int, decimals int) (string, error) {
	if decimals < 0 || decimals > 18 {
		return "", fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidPrecision, decimals)
	}
	if amount.IsNil() {
		return "", ErrAmountNil
	}
	if amount.IsNegative() {
		return "", ErrAmountNegative
	}

	dec := sdkmath.LegacyNewDecFromInt(amount)
	factor := sdkmath.LegacyNewDec(1)
	for i := 0; i < decimals; i++ {
		factor = factor.Mul(sdkmath.LegacyNewDec(10))
	}
	return dec.Quo(factor).String(), nil
}

// ParseUnits converts a decimal string into a base-unit amount with the
// given number of fractional digits, truncating anything finer.
func ParseUnits(value string, decimals int) (sdkmath.Int, error) {
	if decimals < 0 || decimals > 18 {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidPrecision, decimals)
	}

	dec, err := sdkmath.LegacyNewDecFromStr(value)
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}
	if dec.IsNegative() {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}

	factor := sdkmath.LegacyNewDec(1)
	for i := 0; i < decimals; i++ {
		factor = factor.Mul(sdkmath.LegacyNewDec(10))
	}
	return dec.Mul(factor).TruncateInt(), nil
}
