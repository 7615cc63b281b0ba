// Package core provides the ledger domain model.
//
// This file contains money parsing and formatting. Amounts are held as
// integer cents; decimal conversion goes through shopspring/decimal so
// rounding and formatting are exact.
package core

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a fixed-point amount with two fractional digits.
// Transaction amounts are non-negative; report values may be negative.
type Money struct {
	Cents int64
}

var maxMoney = decimal.New(1<<62, -2)

// ParseMoney converts a decimal string to Money.
//
// Both dot (12.34) and comma (12,34) separators are accepted. Negative
// values, more than two significant fraction digits and anything that is
// not a plain decimal number are rejected.
//
// Examples:
//
//	ParseMoney("12.34")  -> 1234
//	ParseMoney("12,340") -> 1234
//	ParseMoney("12.345") -> ErrInvalidAmount
//	ParseMoney("0")      -> 0
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, "eE+") {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.IsNegative() || d.GreaterThan(maxMoney) || !d.Equal(d.Truncate(2)) {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return FromDecimal(d), nil
}

// FromDecimal rounds d half away from zero to cents.
func FromDecimal(d decimal.Decimal) Money {
	return Money{Cents: d.Round(2).Shift(2).IntPart()}
}

func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// String formats the amount with exactly two fractional digits.
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// Float returns the amount as float64 for chart rendering only.
func (m Money) Float() float64 {
	return m.Decimal().InexactFloat64()
}

func (m Money) Add(o Money) Money {
	return Money{Cents: m.Cents + o.Cents}
}

func (m Money) Abs() Money {
	if m.Cents < 0 {
		return Money{Cents: -m.Cents}
	}
	return m
}

func (m Money) IsZero() bool {
	return m.Cents == 0
}

// Validate checks the amount is usable on a transaction.
func (m Money) Validate() error {
	if m.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// MarshalJSON writes the amount as a bare number such as 1000.00.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string.
func (m *Money) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" || s == "" {
		m.Cents = 0
		return nil
	}
	neg := strings.HasPrefix(s, "-")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	v := FromDecimal(d.Abs())
	if neg {
		v.Cents = -v.Cents
	}
	*m = v
	return nil
}
