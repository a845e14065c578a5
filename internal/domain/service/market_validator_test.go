package service

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"PriceSim/internal/domain/models"

	"github.com/stretchr/testify/require"
)

func validRaw() map[string]any {
	return map[string]any{"open": 154.12, "high": 154.89, "low": 153.95, "close": 154.71}
}

func TestValidateMarketDataOK(t *testing.T) {
	raw := validRaw()
	raw["note"] = "x"

	snap, err := ValidateMarketData(raw)
	require.NoError(t, err)
	require.Equal(t, models.MarketSnapshot{Open: 154.12, High: 154.89, Low: 153.95, Close: 154.71}, snap)
}

func TestValidateMarketDataMissingKeys(t *testing.T) {
	raw := map[string]any{"open": 1.0, "note": "secret"}

	_, err := ValidateMarketData(raw)
	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, []string{"close", "high", "low"}, ve.Missing)
	require.Equal(t, "invalid market data: missing required keys: close, high, low", err.Error())
	require.NotContains(t, err.Error(), "note")
	require.NotContains(t, err.Error(), "secret")
}

func TestValidateMarketDataHighBelowLow(t *testing.T) {
	raw := map[string]any{"open": 154.12, "high": 153.95, "low": 154.89, "close": 154.71}

	_, err := ValidateMarketData(raw)
	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "high", ve.Field)
	require.Contains(t, err.Error(), "high price (153.95) cannot be less than low price (154.89)")
}

func TestValidateMarketDataOutOfRange(t *testing.T) {
	cases := []struct {
		name  string
		raw   map[string]any
		field string
		msg   string
	}{
		{
			name:  "open above high",
			raw:   map[string]any{"open": 160.0, "high": 155.0, "low": 150.0, "close": 152.0},
			field: "open",
			msg:   "open price (160) must be within low-high range [150, 155]",
		},
		{
			name:  "close below low",
			raw:   map[string]any{"open": 152.0, "high": 155.0, "low": 150.0, "close": 149.5},
			field: "close",
			msg:   "close price (149.5) must be within low-high range [150, 155]",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateMarketData(tc.raw)
			var ve *models.ValidationError
			require.ErrorAs(t, err, &ve)
			require.Equal(t, tc.field, ve.Field)
			require.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestValidateMarketDataNonNumeric(t *testing.T) {
	raw := validRaw()
	raw["open"] = "abc"
	raw["extra"] = "leak"

	_, err := ValidateMarketData(raw)
	require.Error(t, err)
	require.Equal(t, "invalid market data: value for 'open' must be numeric, got string", err.Error())
	require.NotContains(t, err.Error(), "abc")
	require.NotContains(t, err.Error(), "leak")

	raw["open"] = nil
	_, err = ValidateMarketData(raw)
	require.ErrorContains(t, err, "got null")
}

func TestValidateMarketDataNonFinite(t *testing.T) {
	raw := validRaw()
	raw["high"] = math.Inf(1)
	_, err := ValidateMarketData(raw)
	require.ErrorContains(t, err, "value for 'high' must be a finite number")

	raw = validRaw()
	raw["low"] = math.NaN()
	_, err = ValidateMarketData(raw)
	require.ErrorContains(t, err, "value for 'low' must be a finite number")
}

func TestValidateMarketDataIntegers(t *testing.T) {
	snap, err := ValidateMarketData(map[string]any{"open": 100, "high": int64(110), "low": json.Number("90"), "close": float32(105)})
	require.NoError(t, err)
	require.Equal(t, models.MarketSnapshot{Open: 100, High: 110, Low: 90, Close: 105}, snap)
}

func TestParseMarketData(t *testing.T) {
	doc := `{"open": 154.12, "high": 154.89, "low": 153.95, "close": 154.71, "note": "x"}`
	snap, err := ParseMarketData(strings.NewReader(doc), 0)
	require.NoError(t, err)
	require.Equal(t, 154.71, snap.Close)

	_, err = ParseMarketData(strings.NewReader(`{"open": 1,`), 0)
	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Contains(t, err.Error(), "malformed JSON document")

	_, err = ParseMarketData(strings.NewReader(`{"open":154.12,"high":154.89,"low":153.95,"close":154.71} {"not":"json"`), 0)
	require.ErrorAs(t, err, &ve)
	require.Contains(t, err.Error(), "trailing data")

	_, err = ParseMarketData(strings.NewReader(`{"open":154.12,"high":154.89,"low":153.95,"close":154.71}`+"\n\t "), 0)
	require.NoError(t, err)

	_, err = ParseMarketData(strings.NewReader(`[1,2,3]`), 0)
	require.True(t, errors.As(err, &ve))

	_, err = ParseMarketData(strings.NewReader(doc), 10)
	require.ErrorContains(t, err, "document exceeds 10 bytes")
}
