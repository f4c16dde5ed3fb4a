package cases

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrel-insights/kestrel/internal/domain"
)

// Service is the case management boundary. A single mutex serializes all
// store access so that "read the history, then append" is one critical
// section: concurrent promotions cannot interleave between schema
// reconciliation and the write.
type Service struct {
	mu    sync.Mutex
	store domain.CaseStore
	synth *Synthesizer
	bus   domain.EventBus
}

// NewService creates a case Service. The bus is optional; when set, created
// cases are announced on the case-created topic.
func NewService(store domain.CaseStore, bus domain.EventBus) *Service {
	return &Service{
		store: store,
		synth: NewSynthesizer(store),
		bus:   bus,
	}
}

// List returns all retained cases, most-recent-first.
func (s *Service) List(ctx context.Context) ([]*domain.CaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.ListCases(ctx)
}

// Create appends an analyst-authored case. Missing id and created_at are
// filled in; risk level and status get the manual-entry defaults.
func (s *Service) Create(ctx context.Context, rec *domain.CaseRecord) (*domain.CaseRecord, error) {
	if rec == nil {
		return nil, domain.ErrInvalidInput
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.RiskLevel == "" {
		rec.RiskLevel = "New"
	}
	if rec.Status == "" {
		rec.Status = "Investigating"
	}
	rec.Tags = NormalizeTags(rec.Tags)
	if rec.CreatedAt == "" {
		rec.CreatedAt = time.Now().Format(time.RFC3339Nano)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.AppendCase(ctx, rec); err != nil {
		return nil, err
	}
	s.announce(ctx, rec)
	return rec, nil
}

// Promote synthesizes a complete case from a scored row and appends it.
// Schema reconciliation and the append run under one lock.
func (s *Service) Promote(ctx context.Context, row domain.Row, extraFields []string) (*domain.CaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.synth.SynthesizeFromRow(ctx, row, extraFields)
	if err != nil {
		return nil, err
	}
	if err := s.store.AppendCase(ctx, rec); err != nil {
		return nil, err
	}
	s.announce(ctx, rec)
	return rec, nil
}

// Update merges non-nil patch fields into the identified case and refreshes
// its updated_at timestamp.
func (s *Service) Update(ctx context.Context, id string, patch domain.CasePatch) (*domain.CaseRecord, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.UpdateCase(ctx, id, patch)
}

// Delete removes a case by id. Deleting an unknown id is not an error.
func (s *Service) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.DeleteCase(ctx, id)
}

// Count returns the number of retained cases.
func (s *Service) Count(ctx context.Context) (int, error) {
	recs, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

func (s *Service) announce(ctx context.Context, rec *domain.CaseRecord) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.TopicCaseCreated, payload); err != nil {
		slog.Warn("failed to publish case created event", "case_id", rec.ID, "error", err)
	}
}
