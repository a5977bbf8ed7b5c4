// Package core provides the expense domain model.
//
// This file contains money parsing and formatting. Amounts are kept as integer
// cents; decimal parsing goes through shopspring/decimal so that inputs such as
// "12.345" round half-up without float drift.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a non-negative amount in the single implicit currency.
type Money struct {
	Cents int64
}

var hundred = decimal.NewFromInt(100)

// maxCents bounds amounts so that sums over a user's history cannot overflow.
const maxCents = int64(1) << 53

// Decimals outside these bounds are rejected before any rescaling, which
// costs time and memory proportional to the exponent.
const (
	minExponent = -20
	// maxIntDigits is the number of integer digits in maxCents/100.
	maxIntDigits = 14
)

// ParseAmount converts a user-entered decimal string into Money.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and rounds
// half-up to cents. Empty, unparseable, negative or absurdly large values
// return ErrInvalidAmount. Zero is a valid amount.
//
// Examples:
//
//	ParseAmount("12.34")  -> 1234 cents
//	ParseAmount("12,345") -> 1235 cents
//	ParseAmount("abc")    -> ErrInvalidAmount
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	return MoneyFromDecimal(d)
}

// MoneyFromDecimal converts a decimal amount to cents with half-up rounding.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	if d.IsNegative() {
		return Money{}, ErrInvalidAmount
	}
	if d.IsZero() {
		return Money{}, nil
	}
	if exp := d.Exponent(); exp < minExponent || d.NumDigits()+int(exp) > maxIntDigits {
		return Money{}, ErrInvalidAmount
	}
	cents := d.Mul(hundred).Round(0)
	if cents.GreaterThan(decimal.NewFromInt(maxCents)) {
		return Money{}, ErrInvalidAmount
	}
	return Money{Cents: cents.IntPart()}, nil
}

// Validate reports whether m is a storable amount.
func (m Money) Validate() error {
	if m.Cents < 0 || m.Cents > maxCents {
		return ErrInvalidAmount
	}
	return nil
}

// Decimal returns the amount as a decimal in currency units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// Float returns the amount in currency units for chart datasets and sheets.
// Use cents for arithmetic.
func (m Money) Float() float64 {
	f, _ := m.Decimal().Float64()
	return f
}

// String renders the amount with two decimals, e.g. "12.50".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// Add returns m+o.
func (m Money) Add(o Money) Money {
	return Money{Cents: m.Cents + o.Cents}
}
