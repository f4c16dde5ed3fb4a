package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

// Cases are stored as their full flat JSON payload so dynamically discovered
// fields round-trip with their order intact. seq orders the review queue:
// higher is newer.
const schemaCases = `
CREATE TABLE IF NOT EXISTS cases (
    id TEXT PRIMARY KEY,
    seq BIGINT NOT NULL,
    payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cases_seq ON cases(seq);
`

// alert_rules holds the single analyst-owned configuration document.
const schemaAlertRules = `
CREATE TABLE IF NOT EXISTS alert_rules (
    id INTEGER PRIMARY KEY,
    payload TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaCases,
		schemaAlertRules,
	}
}
