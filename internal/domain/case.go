package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// BaseCaseFields is the canonical ordering of the fixed case fields. Schema
// reconciliation always emits these first.
var BaseCaseFields = []string{
	"id", "transaction_id", "customer_id", "merchant_id",
	"amount", "risk_level", "status", "notes", "tags",
	"probability", "confidence_score", "merchant_category",
	"created_at", "updated_at",
}

// Default values guaranteed on every synthesized case.
const (
	DefaultCaseStatus    = "Open"
	DefaultCaseRiskLevel = "Investigating"
	DefaultCaseNotes     = "Auto-generated sample case. Please review details."
)

// MaxStoredCases caps the review queue: the store retains the 100
// most-recently created or updated records, most-recent-first.
const MaxStoredCases = 100

// CaseRecord is a persisted review item. The fixed fields cover the base
// schema; fields discovered at synthesis time live in an ordered extra
// section so the record round-trips as one flat JSON object.
type CaseRecord struct {
	ID               string
	TransactionID    string
	CustomerID       string
	MerchantID       string
	Amount           float64
	RiskLevel        string
	Status           string
	Notes            string
	Tags             []string
	Probability      float64
	ConfidenceScore  float64
	MerchantCategory string
	CreatedAt        string
	UpdatedAt        string

	extraKeys []string
	extra     map[string]any
}

// Fields returns the record's field names in wire order: the base fields
// followed by extras in first-seen order.
func (c *CaseRecord) Fields() []string {
	out := make([]string, 0, len(BaseCaseFields)+len(c.extraKeys))
	out = append(out, BaseCaseFields...)
	out = append(out, c.extraKeys...)
	return out
}

// ExtraFields returns the dynamically-discovered field names in order.
func (c *CaseRecord) ExtraFields() []string {
	out := make([]string, len(c.extraKeys))
	copy(out, c.extraKeys)
	return out
}

// Get returns a field value by wire name, covering both fixed and extra
// fields. The boolean is false for fields the record does not carry.
func (c *CaseRecord) Get(name string) (any, bool) {
	switch name {
	case "id":
		return c.ID, true
	case "transaction_id":
		return c.TransactionID, true
	case "customer_id":
		return c.CustomerID, true
	case "merchant_id":
		return c.MerchantID, true
	case "amount":
		return c.Amount, true
	case "risk_level":
		return c.RiskLevel, true
	case "status":
		return c.Status, true
	case "notes":
		return c.Notes, true
	case "tags":
		return c.Tags, true
	case "probability":
		return c.Probability, true
	case "confidence_score":
		return c.ConfidenceScore, true
	case "merchant_category":
		return c.MerchantCategory, true
	case "created_at":
		return c.CreatedAt, true
	case "updated_at":
		return c.UpdatedAt, true
	}
	if c.extra != nil {
		if v, ok := c.extra[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Set assigns a field by wire name. Values for typed fixed fields are
// coerced best-effort; unknown names land in the ordered extra section.
func (c *CaseRecord) Set(name string, value any) {
	switch name {
	case "id":
		c.ID = stringify(value)
	case "transaction_id":
		c.TransactionID = stringify(value)
	case "customer_id":
		c.CustomerID = stringify(value)
	case "merchant_id":
		c.MerchantID = stringify(value)
	case "amount":
		if f, ok := ToFloat(value); ok {
			c.Amount = f
		}
	case "risk_level":
		c.RiskLevel = stringify(value)
	case "status":
		c.Status = stringify(value)
	case "notes":
		c.Notes = stringify(value)
	case "tags":
		c.Tags = toStringSlice(value)
	case "probability":
		if f, ok := ToFloat(value); ok {
			c.Probability = f
		}
	case "confidence_score":
		if f, ok := ToFloat(value); ok {
			c.ConfidenceScore = f
		}
	case "merchant_category":
		c.MerchantCategory = stringify(value)
	case "created_at":
		c.CreatedAt = stringify(value)
	case "updated_at":
		c.UpdatedAt = stringify(value)
	default:
		c.SetExtra(name, value)
	}
}

// SetExtra assigns a dynamic field, preserving first-seen key order.
func (c *CaseRecord) SetExtra(name string, value any) {
	if c.extra == nil {
		c.extra = make(map[string]any)
	}
	if _, seen := c.extra[name]; !seen {
		c.extraKeys = append(c.extraKeys, name)
	}
	c.extra[name] = value
}

// Clone returns a deep-enough copy for safe mutation by the caller.
func (c *CaseRecord) Clone() *CaseRecord {
	out := *c
	out.Tags = append([]string(nil), c.Tags...)
	out.extraKeys = append([]string(nil), c.extraKeys...)
	if c.extra != nil {
		out.extra = make(map[string]any, len(c.extra))
		for k, v := range c.extra {
			out.extra[k] = v
		}
	}
	return &out
}

// MarshalJSON emits the record as a single flat object, base fields first
// and extras in stored order.
func (c *CaseRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	fields := c.Fields()
	for i, name := range fields {
		v, _ := c.Get(name)
		if name == "tags" && c.Tags == nil {
			v = []string{}
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal case field %s: %w", name, err)
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a flat object, routing unknown keys to the extra
// section in document order.
func (c *CaseRecord) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("case record: expected object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key := keyTok.(string)

		var raw any
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("case record field %s: %w", key, err)
		}
		c.Set(key, normalizeNumbers(raw))
	}

	_, err = dec.Token() // closing brace
	return err
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return Row{"v": v}.String("v", "")
}

func toStringSlice(v any) []string {
	switch s := v.(type) {
	case nil:
		return nil
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			out = append(out, stringify(item))
		}
		return out
	default:
		return []string{stringify(v)}
	}
}

// normalizeNumbers converts json.Number values (from UseNumber decoding)
// back to float64 so downstream code sees ordinary primitives.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []any:
		for i := range t {
			t[i] = normalizeNumbers(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = normalizeNumbers(t[k])
		}
		return t
	default:
		return v
	}
}

// CasePatch is a partial update: only non-nil values overwrite.
type CasePatch map[string]any
