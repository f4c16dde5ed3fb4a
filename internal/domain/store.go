package domain

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors surfaced across the storage and engine boundaries.
var (
	// ErrNotFound indicates a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput indicates a malformed argument.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidBatch indicates a structural precondition violation: the
	// batch itself is not tabular. Distinct from an empty result.
	ErrInvalidBatch = errors.New("batch is not tabular")
)

// CaseStore is the persistence capability for review cases. Implementations
// keep the list most-recent-first and retain at most MaxStoredCases records.
// Mutating access must be serialized by the caller (see cases.Service).
type CaseStore interface {
	// ListCases returns all retained cases, most-recent-first.
	ListCases(ctx context.Context) ([]*CaseRecord, error)

	// AppendCase prepends a case and truncates to MaxStoredCases.
	AppendCase(ctx context.Context, rec *CaseRecord) error

	// UpdateCase merges non-nil patch fields into the identified case and
	// refreshes updated_at.
	UpdateCase(ctx context.Context, id string, patch CasePatch) (*CaseRecord, error)

	// DeleteCase removes a case by id.
	DeleteCase(ctx context.Context, id string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RuleStore persists the analyst's alert rule configuration.
type RuleStore interface {
	// GetAlertRules returns the stored configuration with defaults filled
	// in, or the defaults when nothing has been saved.
	GetAlertRules(ctx context.Context) (AlertRuleConfig, error)

	// SaveAlertRules replaces the stored configuration.
	SaveAlertRules(ctx context.Context, cfg AlertRuleConfig) error
}

// Scorer is the external scoring collaborator boundary: given raw rows it
// returns rows augmented with the scored columns of the contract.
type Scorer interface {
	Score(ctx context.Context, rows []Row) ([]Row, error)
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
