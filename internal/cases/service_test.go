package cases

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kestrel-insights/kestrel/internal/domain"
)

// memStore is an in-memory CaseStore for tests, most-recent-first with the
// same retention cap as the real repositories.
type memStore struct {
	mu    sync.Mutex
	cases []*domain.CaseRecord
}

func newMemStore() *memStore {
	return &memStore{}
}

func (m *memStore) ListCases(ctx context.Context) ([]*domain.CaseRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.CaseRecord, len(m.cases))
	for i, c := range m.cases {
		out[i] = c.Clone()
	}
	return out, nil
}

func (m *memStore) AppendCase(ctx context.Context, rec *domain.CaseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cases = append([]*domain.CaseRecord{rec.Clone()}, m.cases...)
	if len(m.cases) > domain.MaxStoredCases {
		m.cases = m.cases[:domain.MaxStoredCases]
	}
	return nil
}

func (m *memStore) UpdateCase(ctx context.Context, id string, patch domain.CasePatch) (*domain.CaseRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.cases {
		if c.ID == id {
			for k, v := range patch {
				if v == nil {
					continue
				}
				c.Set(k, v)
			}
			c.UpdatedAt = time.Now().Format(time.RFC3339Nano)
			return c.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) DeleteCase(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.cases[:0]
	for _, c := range m.cases {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	m.cases = kept
	return nil
}

func (m *memStore) Ping(ctx context.Context) error { return nil }
func (m *memStore) Close() error                   { return nil }

func TestServiceCreateDefaults(t *testing.T) {
	svc := NewService(newMemStore(), nil)

	rec, err := svc.Create(context.Background(), &domain.CaseRecord{
		TransactionID: "TXN-100",
		Tags:          []string{"Urgent", "urgent"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if rec.ID == "" {
		t.Error("id not assigned")
	}
	if rec.RiskLevel != "New" {
		t.Errorf("risk_level = %q, want New", rec.RiskLevel)
	}
	if rec.Status != "Investigating" {
		t.Errorf("status = %q, want Investigating", rec.Status)
	}
	if len(rec.Tags) != 1 || rec.Tags[0] != "urgent" {
		t.Errorf("tags = %v, want [urgent]", rec.Tags)
	}
	if rec.CreatedAt == "" {
		t.Error("created_at not set")
	}
}

func TestServiceRetentionCap(t *testing.T) {
	svc := NewService(newMemStore(), nil)
	ctx := context.Background()

	for i := 0; i < domain.MaxStoredCases+10; i++ {
		_, err := svc.Create(ctx, &domain.CaseRecord{TransactionID: fmt.Sprintf("TXN-%d", i)})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	recs, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != domain.MaxStoredCases {
		t.Fatalf("retained %d cases, want %d", len(recs), domain.MaxStoredCases)
	}
	// Most recent first.
	if recs[0].TransactionID != fmt.Sprintf("TXN-%d", domain.MaxStoredCases+9) {
		t.Errorf("newest case = %s", recs[0].TransactionID)
	}
}

func TestServiceUpdateMergesNonNil(t *testing.T) {
	svc := NewService(newMemStore(), nil)
	ctx := context.Background()

	rec, err := svc.Create(ctx, &domain.CaseRecord{TransactionID: "TXN-1", Notes: "original"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := svc.Update(ctx, rec.ID, domain.CasePatch{
		"status": "Closed",
		"notes":  nil, // nil values must not overwrite
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != "Closed" {
		t.Errorf("status = %q, want Closed", updated.Status)
	}
	if updated.Notes != "original" {
		t.Errorf("notes = %q, want original", updated.Notes)
	}
	if updated.UpdatedAt == "" {
		t.Error("updated_at not refreshed")
	}
}

func TestServiceUpdateUnknownID(t *testing.T) {
	svc := NewService(newMemStore(), nil)

	_, err := svc.Update(context.Background(), "missing", domain.CasePatch{"status": "Closed"})
	if err != domain.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestServiceDelete(t *testing.T) {
	svc := NewService(newMemStore(), nil)
	ctx := context.Background()

	rec, _ := svc.Create(ctx, &domain.CaseRecord{TransactionID: "TXN-1"})
	if err := svc.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	recs, _ := svc.List(ctx)
	if len(recs) != 0 {
		t.Errorf("expected empty store, got %d cases", len(recs))
	}

	// Deleting an unknown id succeeds.
	if err := svc.Delete(ctx, "missing"); err != nil {
		t.Errorf("delete unknown id: %v", err)
	}
}

func TestServicePromoteConcurrent(t *testing.T) {
	svc := NewService(newMemStore(), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			row := domain.Row{
				"transaction_id":             fmt.Sprintf("TXN-%03d", i),
				"ensemble_fraud_probability": 0.9,
			}
			if _, err := svc.Promote(ctx, row, []string{"device_id"}); err != nil {
				t.Errorf("promote %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	recs, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 20 {
		t.Fatalf("expected 20 cases, got %d", len(recs))
	}
	for _, rec := range recs {
		if _, ok := rec.Get("device_id"); !ok {
			t.Errorf("case %s missing device_id", rec.ID)
		}
	}
}
