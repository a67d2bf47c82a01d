// Package units converts between decimal strings and integer base units.
package units

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// EtherDecimals is the precision of ether-denominated amounts.
const EtherDecimals = 18

var decimalPattern = regexp.MustCompile(`^([0-9]+(\.[0-9]*)?|\.[0-9]+)$`)

// ParseUnits converts a non-negative decimal string such as "1.5" into base
// units. More fractional digits than decimals is an error.
func ParseUnits(amount string, decimals int) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if decimals < 0 {
		return nil, fmt.Errorf("decimals must be >= 0")
	}
	if !decimalPattern.MatchString(amount) {
		return nil, fmt.Errorf("invalid decimal amount %q", amount)
	}

	intPart, fracPart, _ := strings.Cut(amount, ".")
	if len(fracPart) > decimals {
		return nil, fmt.Errorf("amount %q exceeds %d decimal places", amount, decimals)
	}
	combined := strings.TrimLeft(intPart+fracPart+strings.Repeat("0", decimals-len(fracPart)), "0")
	if combined == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal amount %q", amount)
	}
	return v, nil
}

// ParseEther is ParseUnits with 18 decimals.
func ParseEther(amount string) (*big.Int, error) {
	return ParseUnits(amount, EtherDecimals)
}

// FormatUnits renders base units as a decimal string without trailing zeros.
func FormatUnits(v *big.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	neg := v.Sign() < 0
	s := new(big.Int).Abs(v).String()
	if decimals > 0 {
		if len(s) <= decimals {
			s = strings.Repeat("0", decimals-len(s)+1) + s
		}
		intPart, fracPart := s[:len(s)-decimals], strings.TrimRight(s[len(s)-decimals:], "0")
		s = intPart
		if fracPart != "" {
			s += "." + fracPart
		}
	}
	if neg {
		return "-" + s
	}
	return s
}

// FormatEther is FormatUnits with 18 decimals.
func FormatEther(v *big.Int) string {
	return FormatUnits(v, EtherDecimals)
}
