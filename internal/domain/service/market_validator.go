package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"sort"
	"strings"

	"PriceSim/internal/domain/models"

	"github.com/go-playground/validator/v10"
)

// RequiredMarketFields are the only keys read from a market document.
var RequiredMarketFields = []string{"open", "high", "low", "close"}

// DefaultMaxDocumentBytes bounds ParseMarketData input when no limit is given.
const DefaultMaxDocumentBytes = 1 << 20

// marketBounds carries the cross-field rules; field order fixes which
// violation is reported first.
type marketBounds struct {
	Low   float64 `json:"low"`
	High  float64 `json:"high" validate:"gtefield=Low"`
	Open  float64 `json:"open" validate:"gtefield=Low,ltefield=High"`
	Close float64 `json:"close" validate:"gtefield=Low,ltefield=High"`
}

var boundsValidator = newBoundsValidator()

func newBoundsValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateMarketData builds a MarketSnapshot from a decoded document.
// Unknown keys are ignored and never appear in the returned error.
func ValidateMarketData(raw map[string]any) (models.MarketSnapshot, error) {
	var missing []string
	for _, k := range RequiredMarketFields {
		if _, ok := raw[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return models.MarketSnapshot{}, &models.ValidationError{Missing: missing}
	}

	vals := make(map[string]float64, len(RequiredMarketFields))
	for _, k := range RequiredMarketFields {
		f, err := numericField(k, raw[k])
		if err != nil {
			return models.MarketSnapshot{}, err
		}
		vals[k] = f
	}

	b := marketBounds{Low: vals["low"], High: vals["high"], Open: vals["open"], Close: vals["close"]}
	if err := boundsValidator.Struct(b); err != nil {
		var ves validator.ValidationErrors
		if errors.As(err, &ves) && len(ves) > 0 {
			return models.MarketSnapshot{}, boundsError(ves[0], b)
		}
		return models.MarketSnapshot{}, &models.ValidationError{Reason: "bounds check failed", Err: err}
	}

	return models.MarketSnapshot{Open: b.Open, High: b.High, Low: b.Low, Close: b.Close}, nil
}

// ParseMarketData decodes a JSON object of at most maxBytes and validates it.
func ParseMarketData(r io.Reader, maxBytes int64) (models.MarketSnapshot, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDocumentBytes
	}
	body, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return models.MarketSnapshot{}, fmt.Errorf("read market data: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return models.MarketSnapshot{}, &models.ValidationError{Reason: fmt.Sprintf("document exceeds %d bytes", maxBytes)}
	}
	raw, err := DecodeMarketDocument(body)
	if err != nil {
		return models.MarketSnapshot{}, err
	}
	return ValidateMarketData(raw)
}

// DecodeMarketDocument decodes a JSON object keeping numbers exact.
func DecodeMarketDocument(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, &models.ValidationError{Reason: "malformed JSON document", Err: err}
	}
	if raw == nil {
		return nil, &models.ValidationError{Reason: "document must be a JSON object"}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &models.ValidationError{Reason: "malformed JSON document: trailing data"}
	}
	return raw, nil
}

func numericField(key string, v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, &models.ValidationError{Field: key, Reason: fmt.Sprintf("value for '%s' must be a finite number", key)}
		}
		f = parsed
	default:
		return 0, &models.ValidationError{Field: key, Reason: fmt.Sprintf("value for '%s' must be numeric, got %s", key, jsonTypeName(v))}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &models.ValidationError{Field: key, Reason: fmt.Sprintf("value for '%s' must be a finite number", key)}
	}
	return f, nil
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func boundsError(fe validator.FieldError, b marketBounds) *models.ValidationError {
	if fe.Field() == "high" {
		return &models.ValidationError{
			Field:  "high",
			Reason: fmt.Sprintf("high price (%v) cannot be less than low price (%v)", b.High, b.Low),
		}
	}
	return &models.ValidationError{
		Field:  fe.Field(),
		Reason: fmt.Sprintf("%s price (%v) must be within low-high range [%v, %v]", fe.Field(), fe.Value(), b.Low, b.High),
	}
}
