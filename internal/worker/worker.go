// Package worker provides async batch processing off the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/kestrel-insights/kestrel/internal/domain"
	"github.com/kestrel-insights/kestrel/internal/report"
)

// Worker consumes ingested batches from the EventBus and runs the report
// pipeline over them, so ingestion and analysis can live in separate
// processes.
type Worker struct {
	bus       domain.EventBus
	generator *report.Generator

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, generator *report.Generator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		generator: generator,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the batch-ingested topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicBatchIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("batch worker started",
		"topic", domain.TopicBatchIngested,
	)
	return nil
}

// BatchMessage is the payload published on the batch-ingested topic. A bare
// row array is also accepted.
type BatchMessage struct {
	BatchID string       `json:"batch_id,omitempty"`
	Results []domain.Row `json:"results"`
}

// handleMessage processes one ingested batch.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	batch, err := decodeBatchMessage(msg.Payload)
	if err != nil {
		slog.Error("failed to parse batch message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	batchID := batch.BatchID
	if batchID == "" {
		batchID = msg.ID
	}

	slog.Debug("processing batch",
		"batch_id", batchID,
		"rows", len(batch.Results),
	)

	rep, err := w.generator.Generate(ctx, batch.Results, "worker")
	if err != nil {
		slog.Error("batch report generation failed",
			"batch_id", batchID,
			"error", err,
		)
		return err
	}

	slog.Info("batch processed",
		"batch_id", batchID,
		"rows", rep.TotalRows,
		"alerts", rep.AlertSummary.TotalAlerts,
		"watchlist_hits", rep.AlertSummary.WatchlistHits,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// decodeBatchMessage accepts either the envelope form or a bare row array.
func decodeBatchMessage(payload []byte) (*BatchMessage, error) {
	var batch BatchMessage
	if err := json.Unmarshal(payload, &batch); err == nil && batch.Results != nil {
		return &batch, nil
	}

	var rows []domain.Row
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, domain.ErrInvalidBatch
	}
	return &BatchMessage{Results: rows}, nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("batch worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
