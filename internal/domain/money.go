package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Amounts are held as int64 minor units (cents). Decimal conversion only happens at the
// edges: parsing user input and rendering for display.
const minorUnitExponent = -2

var ErrMalformedAmount = errors.New("malformed amount")

var (
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// ParseAmount converts a decimal string such as "250.50" into minor units.
// More than two fractional digits, NaN, infinities and non-numeric input are rejected.
func ParseAmount(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, ErrMalformedAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedAmount, raw)
	}
	minor := d.Shift(-minorUnitExponent)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("%w: %q has more than two decimal places", ErrMalformedAmount, raw)
	}
	if minor.GreaterThan(maxMinor) || minor.LessThan(minMinor) {
		return 0, fmt.Errorf("%w: %q is out of range", ErrMalformedAmount, raw)
	}
	return minor.IntPart(), nil
}

// MustParseAmount is ParseAmount for constants and fixtures.
func MustParseAmount(raw string) int64 {
	v, err := ParseAmount(raw)
	if err != nil {
		panic(err)
	}
	return v
}

// AmountDecimal returns minor units as an exact decimal in major units.
func AmountDecimal(minor int64) decimal.Decimal {
	return decimal.New(minor, minorUnitExponent)
}

// FormatAmount renders minor units with exactly two decimal places.
func FormatAmount(minor int64) string {
	return AmountDecimal(minor).StringFixed(2)
}

// AmountInput accepts an amount from JSON either as a string ("250.50") or as a bare
// number (250.50) and keeps the literal text so it can be parsed exactly.
type AmountInput string

func (a *AmountInput) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*a = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*a = AmountInput(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("%w: %s", ErrMalformedAmount, string(trimmed))
	}
	*a = AmountInput(n.String())
	return nil
}

// Minor parses the captured literal into minor units.
func (a AmountInput) Minor() (int64, error) {
	return ParseAmount(string(a))
}
