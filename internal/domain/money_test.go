package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	cases := map[string]int64{
		"250.50":  25050,
		"1000":    100000,
		"0.01":    1,
		" 12.3 ":  1230,
		"-5.00":   -500,
		"1000.00": 100000,
	}
	for raw, want := range cases {
		got, err := ParseAmount(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
}

func TestParseAmountRejectsMalformedInput(t *testing.T) {
	for _, raw := range []string{"", "abc", "NaN", "Inf", "-Inf", "1.005", "12,50", "1e400"} {
		_, err := ParseAmount(raw)
		assert.ErrorIs(t, err, ErrMalformedAmount, raw)
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "749.50", FormatAmount(74950))
	assert.Equal(t, "0.05", FormatAmount(5))
	assert.Equal(t, "-250.50", FormatAmount(-25050))
	assert.Equal(t, "5000.00", FormatAmount(500000))
}

func TestAmountInputAcceptsStringAndNumber(t *testing.T) {
	var body struct {
		A AmountInput `json:"a"`
		B AmountInput `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"250.50","b":250.5}`), &body))

	a, err := body.A.Minor()
	require.NoError(t, err)
	b, err := body.B.Minor()
	require.NoError(t, err)
	assert.Equal(t, int64(25050), a)
	assert.Equal(t, a, b)
}

func TestAmountInputRejectsNonNumeric(t *testing.T) {
	var body struct {
		A AmountInput `json:"a"`
	}
	assert.Error(t, json.Unmarshal([]byte(`{"a":true}`), &body))
}
