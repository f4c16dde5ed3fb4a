// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Row is one scored transaction record as received from the external scorer.
// Batches arrive as heterogeneous JSON objects, so rows stay schema-less and
// every accessor tolerates missing or malformed columns.
type Row map[string]any

// Column names of the scorer contract.
const (
	ColProbability      = "ensemble_fraud_probability"
	ColAmount           = "amount"
	ColCustomerID       = "customer_id"
	ColMerchantID       = "merchant_id"
	ColTransactionID    = "transaction_id"
	ColRiskLevel        = "risk_level"
	ColIsAnomaly        = "is_anomaly"
	ColTimestamp        = "timestamp"
	ColMerchantCategory = "merchant_category"
	ColConfidenceScore  = "confidence_score"
)

// RiskLevels are the categorical severity labels produced by the scorer.
var RiskLevels = []string{"Critical", "High", "Medium", "Low", "Investigating"}

// Has reports whether the column is present, even if null.
func (r Row) Has(key string) bool {
	_, ok := r[key]
	return ok
}

// Float returns the column as a float64, or def when the column is missing,
// null, NaN, or not interpretable as a number.
func (r Row) Float(key string, def float64) float64 {
	v, ok := r[key]
	if !ok {
		return def
	}
	f, ok := ToFloat(v)
	if !ok || math.IsNaN(f) {
		return def
	}
	return f
}

// String returns the column stringified, or def when missing or null.
func (r Row) String(key, def string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return def
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	case json.Number:
		return s.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return def
		}
		return strings.Trim(string(b), `"`)
	}
}

// Probability returns the ensemble fraud probability, defaulting to 0.
func (r Row) Probability() float64 { return r.Float(ColProbability, 0) }

// Amount returns the transaction amount, defaulting to 0.
func (r Row) Amount() float64 { return r.Float(ColAmount, 0) }

// CustomerID returns the customer identifier, defaulting to "--".
func (r Row) CustomerID() string { return r.String(ColCustomerID, "--") }

// MerchantID returns the merchant identifier, defaulting to "--".
func (r Row) MerchantID() string { return r.String(ColMerchantID, "--") }

// RiskLevel returns the risk label, defaulting to "Low".
func (r Row) RiskLevel() string { return r.String(ColRiskLevel, "Low") }

// IsAnomaly reports whether the anomaly flag equals 1.
func (r Row) IsAnomaly() bool { return r.Float(ColIsAnomaly, 0) == 1 }

// Timestamp parses the row timestamp. The boolean is false when the column
// is absent or unparsable.
func (r Row) Timestamp() (time.Time, bool) {
	v, ok := r[ColTimestamp]
	if !ok || v == nil {
		return time.Time{}, false
	}
	if t, ok := v.(time.Time); ok {
		return t, true
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	return ParseTimestamp(s)
}

// timestampLayouts are accepted in order. Date extraction uses the value as
// parsed, without timezone conversion.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses a timestamp string against the accepted layouts.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ToFloat converts a dynamic value to float64. Strings are parsed; booleans
// map to 0/1.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Round2 rounds to 2 decimals, as used for amount-like values.
func Round2(v float64) float64 { return roundTo(v, 2) }

// Round3 rounds to 3 decimals, as used for the risk pulse average.
func Round3(v float64) float64 { return roundTo(v, 3) }

// Round4 rounds to 4 decimals, as used for probability and score values.
func Round4(v float64) float64 { return roundTo(v, 4) }

// roundTo rounds half away from zero. The epsilon keeps decimal midpoints
// like 12.345, which sit just below the midpoint in binary, from rounding
// down.
func roundTo(v float64, digits int) float64 {
	p := math.Pow10(digits)
	scaled := v * p
	scaled += math.Copysign(1e-7, scaled)
	return math.Round(scaled) / p
}
