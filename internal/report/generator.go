// Package report runs the full evaluation pipeline over one scored batch:
// normalization, insights, alert rules, and the calendar heatmap, bundled
// into the report served to analysts.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kestrel-insights/kestrel/internal/alerts"
	"github.com/kestrel-insights/kestrel/internal/domain"
	"github.com/kestrel-insights/kestrel/internal/heatmap"
	"github.com/kestrel-insights/kestrel/internal/insights"
	"github.com/kestrel-insights/kestrel/internal/metrics"
	"github.com/kestrel-insights/kestrel/internal/scoring"
)

// maxReportedAlerts caps the alert and watchlist-hit lists on the wire.
const maxReportedAlerts = 100

// reportTTL bounds how long a cached report is served as "latest".
const reportTTL = time.Hour

// Generator wires the batch pipeline to its collaborators. Rules come from
// the store on every run so analyst edits apply immediately.
type Generator struct {
	rules  domain.RuleStore
	engine *alerts.Engine
	scorer domain.Scorer
	cache  domain.Cache
	bus    domain.EventBus
}

// NewGenerator creates a report generator. Scorer, cache, and bus are
// optional; nil disables remote scoring, report caching, and alert
// publication respectively.
func NewGenerator(rules domain.RuleStore, engine *alerts.Engine, scorer domain.Scorer, cache domain.Cache, bus domain.EventBus) *Generator {
	return &Generator{
		rules:  rules,
		engine: engine,
		scorer: scorer,
		cache:  cache,
		bus:    bus,
	}
}

// Generate runs the pipeline over a batch. The trigger labels metrics with
// the entry point (api, worker). The returned report is also cached as the
// latest report and its alerts published on the bus.
func (g *Generator) Generate(ctx context.Context, rows []domain.Row, trigger string) (*domain.Report, error) {
	start := time.Now()

	if g.scorer != nil {
		scored, err := g.scorer.Score(ctx, rows)
		if err != nil {
			metrics.ScorerRequestsTotal.WithLabelValues("error").Inc()
			slog.Warn("remote scoring failed, using batch as-is", "error", err)
		} else {
			metrics.ScorerRequestsTotal.WithLabelValues("ok").Inc()
			rows = scored
		}
	}
	rows = scoring.Normalize(rows)

	cfg, err := g.rules.GetAlertRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load alert rules: %w", err)
	}

	snapshot := insights.BuildSnapshot(rows)
	alertList, hits, summary := g.engine.Evaluate(ctx, rows, cfg)
	buckets := heatmap.Buckets(rows)

	rep := &domain.Report{
		Insights:      snapshot,
		AlertRules:    cfg,
		Alerts:        capAlerts(alertList),
		WatchlistHits: capHits(hits),
		AlertSummary:  summary,
		HeatmapData:   buckets,
		TotalRows:     len(rows),
		GeneratedAt:   time.Now().Format(time.RFC3339Nano),
	}

	g.recordMetrics(trigger, rows, alertList, hits, start)
	g.cacheLatest(ctx, rep)
	g.publish(ctx, rep, alertList)

	return rep, nil
}

// Latest returns the cached latest report, or nil when none has been
// generated within the TTL.
func (g *Generator) Latest(ctx context.Context) (*domain.Report, error) {
	if g.cache == nil {
		return nil, nil
	}
	data, err := g.cache.Get(ctx, domain.CacheKeyLatestReport)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	var rep domain.Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("decode cached report: %w", err)
	}
	return &rep, nil
}

func (g *Generator) recordMetrics(trigger string, rows []domain.Row, alertList []domain.Alert, hits []domain.WatchlistHit, start time.Time) {
	metrics.ReportsGeneratedTotal.WithLabelValues(trigger).Inc()
	metrics.RowsAnalyzedTotal.Add(float64(len(rows)))
	for _, a := range alertList {
		metrics.AlertsRaisedTotal.WithLabelValues(a.Type).Inc()
	}
	metrics.WatchlistHitsTotal.Add(float64(len(hits)))
	metrics.ReportDuration.Observe(time.Since(start).Seconds())
}

func (g *Generator) cacheLatest(ctx context.Context, rep *domain.Report) {
	if g.cache == nil {
		return
	}
	data, err := json.Marshal(rep)
	if err != nil {
		return
	}
	if err := g.cache.Set(ctx, domain.CacheKeyLatestReport, data, reportTTL); err != nil {
		slog.Warn("failed to cache latest report", "error", err)
	}
}

func (g *Generator) publish(ctx context.Context, rep *domain.Report, alertList []domain.Alert) {
	if g.bus == nil {
		return
	}
	for _, a := range alertList {
		payload, err := json.Marshal(a)
		if err != nil {
			continue
		}
		if err := g.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			slog.Warn("failed to publish alert", "type", a.Type, "error", err)
		}
	}
	summary, err := json.Marshal(map[string]any{
		"total_results": rep.TotalRows,
		"total_alerts":  rep.AlertSummary.TotalAlerts,
		"generated_at":  rep.GeneratedAt,
	})
	if err != nil {
		return
	}
	if err := g.bus.Publish(ctx, domain.TopicReportReady, summary); err != nil {
		slog.Warn("failed to publish report ready event", "error", err)
	}
}

func capAlerts(in []domain.Alert) []domain.Alert {
	if len(in) > maxReportedAlerts {
		return in[:maxReportedAlerts]
	}
	return in
}

func capHits(in []domain.WatchlistHit) []domain.WatchlistHit {
	if len(in) > maxReportedAlerts {
		return in[:maxReportedAlerts]
	}
	return in
}
