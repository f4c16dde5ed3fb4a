// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kestrel-insights/kestrel/internal/domain"
)

// Store is the combined persistence surface the engine needs: the review
// case queue and the alert rule document.
type Store interface {
	domain.CaseStore
	domain.RuleStore

	// DB exposes the underlying pool for stats collection.
	DB() *sql.DB
}

// SQLRepository implements Store using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (Store, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// ListCases returns all retained cases, most-recent-first.
func (r *SQLRepository) ListCases(ctx context.Context) ([]*domain.CaseRecord, error) {
	query := `SELECT payload FROM cases ORDER BY seq DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*domain.CaseRecord, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec domain.CaseRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("failed to parse case payload: %w", err)
		}
		out = append(out, &rec)
	}

	return out, rows.Err()
}

// AppendCase prepends a case to the review queue and trims the queue to the
// retention cap. Callers serialize mutations (see cases.Service).
func (r *SQLRepository) AppendCase(ctx context.Context, rec *domain.CaseRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: case id is required", domain.ErrInvalidInput)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode case: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var next int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM cases`).Scan(&next); err != nil {
		return err
	}

	insert := `INSERT INTO cases (id, seq, payload) VALUES (?, ?, ?)`
	if _, err := tx.ExecContext(ctx, r.rebind(insert), rec.ID, next, string(payload)); err != nil {
		return err
	}

	trim := `
		DELETE FROM cases
		WHERE id NOT IN (
			SELECT id FROM cases ORDER BY seq DESC LIMIT ?
		)
	`
	if _, err := tx.ExecContext(ctx, r.rebind(trim), domain.MaxStoredCases); err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateCase merges non-nil patch fields into the identified case and
// refreshes updated_at. Position in the queue does not change.
func (r *SQLRepository) UpdateCase(ctx context.Context, id string, patch domain.CasePatch) (*domain.CaseRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: case id is required", domain.ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var payload string
	query := `SELECT payload FROM cases WHERE id = ?`
	err = tx.QueryRowContext(ctx, r.rebind(query), id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec domain.CaseRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("failed to parse case payload: %w", err)
	}

	for k, v := range patch {
		if v == nil {
			continue
		}
		rec.Set(k, v)
	}
	rec.UpdatedAt = time.Now().Format(time.RFC3339Nano)

	updated, err := json.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode case: %w", err)
	}

	update := `UPDATE cases SET payload = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, r.rebind(update), string(updated), id); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteCase removes a case by id. Unknown ids are not an error.
func (r *SQLRepository) DeleteCase(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: case id is required", domain.ErrInvalidInput)
	}

	query := `DELETE FROM cases WHERE id = ?`
	_, err := r.db.ExecContext(ctx, r.rebind(query), id)
	return err
}

// alertRulesRowID pins the configuration to a single row.
const alertRulesRowID = 1

// GetAlertRules returns the stored configuration with defaults filled in,
// or the defaults when nothing has been saved yet.
func (r *SQLRepository) GetAlertRules(ctx context.Context) (domain.AlertRuleConfig, error) {
	var payload string
	query := `SELECT payload FROM alert_rules WHERE id = ?`
	err := r.db.QueryRowContext(ctx, r.rebind(query), alertRulesRowID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DefaultAlertRules(), nil
	}
	if err != nil {
		return domain.AlertRuleConfig{}, err
	}

	var cfg domain.AlertRuleConfig
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return domain.AlertRuleConfig{}, fmt.Errorf("failed to parse alert rules: %w", err)
	}
	cfg.FillDefaults()
	return cfg, nil
}

// SaveAlertRules replaces the stored configuration.
func (r *SQLRepository) SaveAlertRules(ctx context.Context, cfg domain.AlertRuleConfig) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode alert rules: %w", err)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO alert_rules (id, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query), alertRulesRowID, string(payload), now)
	return err
}

// DB returns the underlying connection pool.
func (r *SQLRepository) DB() *sql.DB {
	return r.db
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			fmt.Fprintf(&b, "$%d", n)
			n++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}
