// Package core provides money parsing and handling utilities.
//
// Money amounts are kept as arbitrary precision decimals. Sheet cells and
// client payloads may use a decimal comma ("12,50") or a decimal point.
package core

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a decimal amount. The zero value is 0.
type Money struct {
	decimal.Decimal
}

// NewMoney builds a Money from a float, for tests and literals.
func NewMoney(f float64) Money {
	return Money{Decimal: decimal.NewFromFloat(f)}
}

// ParseMoney accepts "12.50", "12,50", "1.234,56" and "1,234.56". When both
// separators appear the last one is the decimal mark.
//
// Examples:
//
//	ParseMoney("12,50")    -> 12.5
//	ParseMoney("1.234,56") -> 1234.56
//	ParseMoney("1,234.56") -> 1234.56
//	ParseMoney("abc")      -> ErrInvalidAmount
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, " ", "")
	// With both separators present the last one is the decimal mark.
	comma, dot := strings.LastIndex(s, ","), strings.LastIndex(s, ".")
	switch {
	case comma >= 0 && dot > comma:
		s = strings.ReplaceAll(s, ",", "")
	case comma >= 0:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	return Money{Decimal: d}, nil
}

// String renders the amount with a decimal point and no trailing zeros.
func (m Money) String() string {
	return m.Decimal.String()
}

func (m Money) Equal(o Money) bool {
	return m.Decimal.Equal(o.Decimal)
}

// MarshalJSON renders the amount as a bare JSON number.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Decimal.String()), nil
}

// UnmarshalJSON accepts numbers and strings, the latter with either separator.
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*m = Money{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			*m = Money{}
			return nil
		}
		parsed, err := ParseMoney(s)
		if err != nil {
			return err
		}
		*m = parsed
		return nil
	}
	d, err := decimal.NewFromString(string(data))
	if err != nil {
		return ErrInvalidAmount
	}
	*m = Money{Decimal: d}
	return nil
}
