// Package units converts between decimal token amounts and integer base units.
package units

import (
	"fmt"
	"math/big"
	"strings"
)

// ParseUnits converts a decimal string such as "12.5" into base units for a
// token with the given decimals. Fractions finer than one base unit are rejected.
func ParseUnits(value string, decimals uint8) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("empty amount")
	}

	rat, ok := new(big.Rat).SetString(value)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", value)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("negative amount: %s", value)
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	rat.Mul(rat, new(big.Rat).SetInt(scale))
	if !rat.IsInt() {
		return nil, fmt.Errorf("amount %s has more than %d decimals", value, decimals)
	}
	return new(big.Int).Set(rat.Num()), nil
}

// FormatUnits renders base units as a decimal string, trimming trailing zeros.
func FormatUnits(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	if decimals == 0 {
		return value.String()
	}
	sign := value.Sign()
	abs := new(big.Int).Abs(value)
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	text := new(big.Rat).SetFrac(abs, denom).FloatString(int(decimals))
	text = strings.TrimRight(text, "0")
	text = strings.TrimSuffix(text, ".")
	if sign < 0 {
		return "-" + text
	}
	return text
}
