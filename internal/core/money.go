// Package core provides money parsing and handling utilities.
//
// Amounts are carried as decimal.Decimal end to end. Currency is a display
// label only; no conversion happens anywhere in the ledger.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fractional digits kept for stored amounts.
const MoneyScale = 2

// ParseAmount converts a user-entered decimal string to a positive amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and
// rounds half away from zero to two decimal places. Signs are rejected.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34, nil
//	ParseAmount("12,34")  -> 12.34, nil
//	ParseAmount("12.345") -> 12.35, nil
//	ParseAmount("0")      -> 0, ErrInvalidAmount
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := parseUnsigned(s)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// ParseFee is like ParseAmount but accepts zero and treats "" as zero.
// A signed negative value yields ErrNegativeFee, anything unparsable
// ErrInvalidFee.
func ParseFee(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := parseUnsigned(s)
	if err == nil {
		return d, nil
	}
	if strings.HasPrefix(s, "-") {
		if _, signedErr := decimal.NewFromString(strings.ReplaceAll(s, ",", ".")); signedErr == nil {
			return decimal.Zero, ErrNegativeFee
		}
	}
	return decimal.Zero, ErrInvalidFee
}

func parseUnsigned(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d.Round(MoneyScale), nil
}
