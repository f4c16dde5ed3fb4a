package cases

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kestrel-insights/kestrel/internal/domain"
)

var sampleLocations = []string{"New York", "London", "Singapore", "Sydney"}

// GeneratePlaceholder synthesizes a plausible value for a field whose input
// was empty. Classification is by field name, first match wins; the order of
// the checks is load-bearing ("transaction_id" must hit the transaction rule
// before the generic fallback, "total_value" the amount rule, and so on).
func GeneratePlaceholder(field string) any {
	lower := strings.ToLower(field)

	switch {
	case lower == "id":
		return uuid.New().String()
	case strings.Contains(lower, "transaction") && strings.Contains(lower, "id"):
		return "TXN-" + randomHex(8)
	case strings.Contains(lower, "customer") && strings.Contains(lower, "id"):
		return "CUST-" + randomHex(6)
	case strings.Contains(lower, "merchant") && strings.Contains(lower, "id"):
		return "MCH-" + randomHex(6)
	case strings.Contains(lower, "amount") || strings.HasSuffix(lower, "_value") || strings.Contains(lower, "total"):
		return domain.Round2(randomFloat(20, 5000))
	case strings.Contains(lower, "probability") || strings.Contains(lower, "score"):
		return domain.Round4(randomFloat(0.2, 0.95))
	case strings.Contains(lower, "risk"):
		return domain.RiskLevels[rand.Intn(len(domain.RiskLevels))]
	case strings.Contains(lower, "status"):
		return domain.DefaultCaseStatus
	case strings.Contains(lower, "tag"):
		return []string{"sample"}
	case strings.Contains(lower, "note") || strings.Contains(lower, "comment"):
		return domain.DefaultCaseNotes
	case strings.HasSuffix(lower, "at") || strings.Contains(lower, "date") || strings.Contains(lower, "time"):
		return time.Now().Format(time.RFC3339Nano)
	case strings.Contains(lower, "location"):
		return sampleLocations[rand.Intn(len(sampleLocations))]
	case strings.Contains(lower, "currency"):
		return "USD"
	}
	return "Sample " + titleWords(field)
}

// EnsureFieldValue coerces a raw field value to a JSON-friendly form,
// replaces empty values with a generated placeholder, and applies the
// field-class post-processing: tags are normalized, amount-like fields are
// rounded to 2 decimals, probability/score-like fields to 4.
func EnsureFieldValue(field string, value any) any {
	cleaned := coerceValue(value)
	if isEmptyValue(cleaned) {
		cleaned = GeneratePlaceholder(field)
	}

	if field == "tags" {
		return NormalizeTags(cleaned)
	}

	lower := strings.ToLower(field)
	if lower == "amount" || strings.HasSuffix(lower, "_amount") || strings.HasSuffix(lower, "_value") {
		if f, ok := domain.ToFloat(cleaned); ok {
			return domain.Round2(f)
		}
		return domain.Round2(randomFloat(20, 5000))
	}

	if strings.Contains(lower, "probability") || strings.Contains(lower, "score") {
		if f, ok := domain.ToFloat(cleaned); ok {
			return domain.Round4(f)
		}
		return domain.Round4(randomFloat(0.2, 0.95))
	}

	return cleaned
}

// NormalizeTags converts any tags representation into a clean slice: split
// comma-separated strings, trim whitespace, drop empties, lowercase, and
// de-duplicate keeping the first occurrence.
func NormalizeTags(value any) []string {
	var raw []string
	switch v := value.(type) {
	case nil:
		return []string{}
	case string:
		raw = strings.Split(v, ",")
	case []string:
		raw = v
	case []any:
		raw = make([]string, 0, len(v))
		for _, item := range v {
			raw = append(raw, asString(item))
		}
	default:
		raw = []string{asString(v)}
	}

	cleaned := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, tag := range raw {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		cleaned = append(cleaned, tag)
	}
	return cleaned
}

// AssembleCase builds a complete case record for the given schema from a
// scored row. Every schema field gets a value (real or placeholder), and the
// result always satisfies the case guarantees: id and timestamps present,
// tags normalized, status, notes and risk level defaulted.
func AssembleCase(row domain.Row, schema []string) *domain.CaseRecord {
	rec := &domain.CaseRecord{}
	now := time.Now().Format(time.RFC3339Nano)

	for _, field := range schema {
		if field == "created_at" || field == "updated_at" {
			if s := asString(coerceValue(row[field])); s != "" {
				rec.Set(field, s)
			} else {
				rec.Set(field, now)
			}
			continue
		}
		rec.Set(field, EnsureFieldValue(field, row[field]))
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt == "" {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt == "" {
		rec.UpdatedAt = now
	}
	rec.Tags = NormalizeTags(rec.Tags)
	if rec.Status == "" {
		rec.Status = domain.DefaultCaseStatus
	}
	if rec.Notes == "" {
		rec.Notes = domain.DefaultCaseNotes
	}
	if rec.RiskLevel == "" {
		rec.RiskLevel = domain.DefaultCaseRiskLevel
	}
	return rec
}

// Synthesizer turns scored rows into complete case records, reconciling the
// schema against the stored case history first. Store access is read-only.
type Synthesizer struct {
	store domain.CaseStore
}

// NewSynthesizer creates a Synthesizer backed by the given store.
func NewSynthesizer(store domain.CaseStore) *Synthesizer {
	return &Synthesizer{store: store}
}

/// SynthesizeFromRow builds a case from a scored row: load the current case
// history, reconcile the schema with any extra fields, and assemble.
func (s *Synthesizer) SynthesizeFromRow(ctx context.Context, row domain.Row, extraFields []string) (*domain.CaseRecord, error) {
	existing, err := s.store.ListCases(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	schema := DetermineSchema(existing, extraFields)
	return AssembleCase(row, schema), nil
}

// coerceValue unwraps non-JSON native values: timestamps become RFC 3339
// strings, json.Number becomes float64. Everything else passes through.
func coerceValue(value any) any {
	switch v := value.(type) {
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	}
	return value
}

// isEmptyValue reports whether a value should be replaced by a placeholder:
// nil, NaN, blank string, or an empty collection.
func isEmptyValue(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(v)
	case float32:
		return math.IsNaN(float64(v))
	case string:
		return strings.TrimSpace(v) == ""
	case []string:
		return len(v) == 0
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}
	return false
}

func asString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

const hexDigits = "0123456789ABCDEF"

// randomHex returns n uppercase hex characters.
func randomHex(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = hexDigits[rand.Intn(len(hexDigits))]
	}
	return string(b)
}

func randomFloat(min, max float64) float64 {
	return min + rand.Float64()*(max-min)
}

// titleWords converts snake_case to space-separated Title Case.
func titleWords(field string) string {
	words := strings.Split(strings.ReplaceAll(field, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}
