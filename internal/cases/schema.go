// Package cases implements case synthesis and case management: schema
// reconciliation over heterogeneous case histories, placeholder generation
// for missing fields, and the mutex-serialized case store boundary.
package cases

import (
	"github.com/kestrel-insights/kestrel/internal/domain"
)

// DetermineSchema reconciles the effective case schema from the base fields,
// the fields observed across existing cases, and any additional fields from
// the triggering row. First occurrence wins; the result always starts with
// the base fields in canonical order. Pure and idempotent: feeding cases
// assembled from the returned schema back in yields the same schema.
func DetermineSchema(existing []*domain.CaseRecord, additional []string) []string {
	schema := make([]string, 0, len(domain.BaseCaseFields)+len(additional))
	seen := make(map[string]bool, len(domain.BaseCaseFields)+len(additional))

	add := func(field string) {
		if field != "" && !seen[field] {
			seen[field] = true
			schema = append(schema, field)
		}
	}

	for _, field := range domain.BaseCaseFields {
		add(field)
	}

	for _, rec := range existing {
		if rec == nil {
			continue
		}
		for _, field := range rec.Fields() {
			add(field)
		}
	}

	for _, field := range additional {
		add(field)
	}

	return schema
}
