// Package money holds the fixed-point currency helpers shared by the registry and the guards.
package money

import (
	"strings"

	"github.com/shopspring/decimal"

	"capexline/internal/apperr"
)

// ReferencePlaces is the rounding applied to reference-currency amounts.
const ReferencePlaces = 2

// Parse reads a non-negative amount. Comma thousands separators are accepted.
func Parse(raw string) (decimal.Decimal, error) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	s = strings.ReplaceAll(s, "_", "")
	if s == "" {
		return decimal.Zero, apperr.Invalid("amount is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, apperr.Invalid("malformed amount %q", raw)
	}
	if d.IsNegative() {
		return decimal.Zero, apperr.Invalid("amount %q must not be negative", raw)
	}
	return d, nil
}

// ParseSigned reads an amount that may be negative, such as a modeled NPV.
func ParseSigned(raw string) (decimal.Decimal, error) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, apperr.Invalid("malformed amount %q", raw)
	}
	return d, nil
}

// ParseRate reads a strictly positive exchange rate.
func ParseRate(raw string) (decimal.Decimal, error) {
	d, err := Parse(raw)
	if err != nil {
		return d, err
	}
	if !d.IsPositive() {
		return decimal.Zero, apperr.Invalid("exchange rate must be > 0")
	}
	return d, nil
}

// ToReference converts a local amount with the given rate.
// Always call it with the local amount so that no intermediate rate leaves residue.
func ToReference(local, rate decimal.Decimal) (decimal.Decimal, error) {
	if !rate.IsPositive() {
		return decimal.Zero, apperr.Invalid("exchange rate must be > 0")
	}
	return local.DivRound(rate, ReferencePlaces), nil
}

// Format renders an amount with two decimal places.
func Format(d decimal.Decimal) string {
	return d.StringFixed(2)
}
