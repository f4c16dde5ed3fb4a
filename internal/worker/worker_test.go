package worker

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kestrel-insights/kestrel/internal/alerts"
	"github.com/kestrel-insights/kestrel/internal/bus"
	"github.com/kestrel-insights/kestrel/internal/cache"
	"github.com/kestrel-insights/kestrel/internal/domain"
	"github.com/kestrel-insights/kestrel/internal/report"
)

// memRules serves the default alert configuration.
type memRules struct{}

func (memRules) GetAlertRules(ctx context.Context) (domain.AlertRuleConfig, error) {
	return domain.DefaultAlertRules(), nil
}

func (memRules) SaveAlertRules(ctx context.Context, cfg domain.AlertRuleConfig) error {
	return nil
}

func newTestGenerator(t *testing.T, eventBus domain.EventBus) (*report.Generator, domain.Cache) {
	t.Helper()

	engine, err := alerts.NewEngine()
	if err != nil {
		t.Fatalf("failed to create alert engine: %v", err)
	}
	reportCache := cache.NewLRUCache(100)
	t.Cleanup(func() { reportCache.Close() })

	return report.NewGenerator(memRules{}, engine, nil, reportCache, eventBus), reportCache
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	generator, _ := newTestGenerator(t, eventBus)

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, generator)

		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}
		if stats.Topics[0] != domain.TopicBatchIngested {
			t.Errorf("expected topic %s, got %s", domain.TopicBatchIngested, stats.Topics[0])
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = w.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessBatch", func(t *testing.T) {
		gen, reportCache := newTestGenerator(t, eventBus)
		w := NewWorker(eventBus, gen)
		w.Start()
		defer w.Stop()

		// Track report-ready and alert events
		var reportReady atomic.Bool
		var alertCount atomic.Int32

		eventBus.Subscribe(context.Background(), domain.TopicReportReady, func(ctx context.Context, msg *domain.Message) error {
			reportReady.Store(true)
			return nil
		})
		eventBus.Subscribe(context.Background(), domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			alertCount.Add(1)
			return nil
		})

		// Allow subscriptions to be active
		time.Sleep(50 * time.Millisecond)

		batch := BatchMessage{
			BatchID: "batch-001",
			Results: []domain.Row{
				{
					"transaction_id":             "TXN-1",
					"customer_id":                "C-1",
					"merchant_id":                "M-1",
					"amount":                     5000.0,
					"ensemble_fraud_probability": 0.95,
					"risk_level":                 "Critical",
				},
			},
		}

		payload, _ := json.Marshal(batch)
		if err := eventBus.Publish(context.Background(), domain.TopicBatchIngested, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		// Wait for processing
		time.Sleep(200 * time.Millisecond)

		if !reportReady.Load() {
			t.Error("expected report ready event to be published")
		}

		// Amount breach + critical probability
		if alertCount.Load() != 2 {
			t.Errorf("expected 2 alerts published, got %d", alertCount.Load())
		}

		cached, err := reportCache.Get(context.Background(), domain.CacheKeyLatestReport)
		if err != nil || cached == nil {
			t.Fatalf("expected cached latest report, got %v (err %v)", cached, err)
		}

		var rep domain.Report
		if err := json.Unmarshal(cached, &rep); err != nil {
			t.Fatalf("failed to parse cached report: %v", err)
		}
		if rep.TotalRows != 1 {
			t.Errorf("expected 1 row in cached report, got %d", rep.TotalRows)
		}
	})

	t.Run("MalformedPayloadSkipped", func(t *testing.T) {
		gen, _ := newTestGenerator(t, eventBus)
		w := NewWorker(eventBus, gen)
		w.Start()
		defer w.Stop()

		time.Sleep(50 * time.Millisecond)

		// Must not panic the handler goroutine
		eventBus.Publish(context.Background(), domain.TopicBatchIngested, []byte("not-json"))

		time.Sleep(100 * time.Millisecond)
	})
}

func TestDecodeBatchMessage(t *testing.T) {
	t.Run("Envelope", func(t *testing.T) {
		payload := []byte(`{"batch_id":"b-1","results":[{"amount":10}]}`)

		batch, err := decodeBatchMessage(payload)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if batch.BatchID != "b-1" {
			t.Errorf("expected batch id 'b-1', got '%s'", batch.BatchID)
		}
		if len(batch.Results) != 1 {
			t.Errorf("expected 1 row, got %d", len(batch.Results))
		}
	})

	t.Run("BareArray", func(t *testing.T) {
		payload := []byte(`[{"amount":10},{"amount":20}]`)

		batch, err := decodeBatchMessage(payload)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if len(batch.Results) != 2 {
			t.Errorf("expected 2 rows, got %d", len(batch.Results))
		}
	})

	t.Run("NonTabular", func(t *testing.T) {
		if _, err := decodeBatchMessage([]byte(`"nope"`)); err == nil {
			t.Error("expected error for non-tabular payload")
		}
	})
}
