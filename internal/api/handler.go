package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kestrel-insights/kestrel/internal/alerts"
	"github.com/kestrel-insights/kestrel/internal/cases"
	"github.com/kestrel-insights/kestrel/internal/domain"
	"github.com/kestrel-insights/kestrel/internal/metrics"
	"github.com/kestrel-insights/kestrel/internal/report"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	rules     domain.RuleStore
	cases     *cases.Service
	generator *report.Generator
	engine    *alerts.Engine
	cache     domain.Cache
	store     domain.CaseStore
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(rules domain.RuleStore, caseSvc *cases.Service, generator *report.Generator, engine *alerts.Engine, cache domain.Cache, store domain.CaseStore, version string) *Handler {
	return &Handler{
		rules:     rules,
		cases:     caseSvc,
		generator: generator,
		engine:    engine,
		cache:     cache,
		store:     store,
		version:   version,
	}
}

// batchRequest is the request body for endpoints that accept a scored batch.
// A bare JSON array of rows is accepted as shorthand.
type batchRequest struct {
	Results   []domain.Row `json:"results"`
	RiskLevel string       `json:"risk_level,omitempty"`
}

// decodeBatch parses a batch from the request body. A non-tabular payload
// maps to ErrInvalidBatch.
func decodeBatch(r *http.Request) (*batchRequest, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, domain.ErrInvalidBatch
	}

	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var rows []domain.Row
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, domain.ErrInvalidBatch
		}
		return &batchRequest{Results: rows}, nil
	}

	var req batchRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, domain.ErrInvalidBatch
	}
	return &req, nil
}

// CreateReport handles POST /api/reports: run the full evaluation pipeline
// over a scored batch and return the bundled report.
func (h *Handler) CreateReport(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBatch(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "request body must be a batch of transaction records",
		})
		return
	}

	rep, err := h.generator.Generate(r.Context(), req.Results, "api")
	if err != nil {
		slog.Error("report generation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "report generation failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, rep)
}

// LatestReport handles GET /api/reports/latest.
func (h *Handler) LatestReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.generator.Latest(r.Context())
	if err != nil {
		slog.Error("failed to load cached report", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "failed to load latest report",
		})
		return
	}
	if rep == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"success": false,
			"error":   "no report available",
		})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// GetAlertRules handles GET /api/alert-rules.
func (h *Handler) GetAlertRules(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.rules.GetAlertRules(r.Context())
	if err != nil {
		slog.Error("failed to load alert rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "failed to load alert rules",
		})
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// alertRulesPatch carries a partial alert-rule update. Absent sections keep
// their current values.
type alertRulesPatch struct {
	Thresholds  *domain.Thresholds   `json:"thresholds"`
	Watchlist   *domain.Watchlist    `json:"watchlist"`
	Notes       *string              `json:"notes"`
	CustomRules *[]domain.CustomRule `json:"custom_rules"`
}

// SaveAlertRules handles POST /api/alert-rules: merge the submitted sections
// into the stored configuration. Custom CEL rules are compiled before the
// save so a broken expression never persists.
func (h *Handler) SaveAlertRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var patch alertRulesPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "invalid JSON request body",
		})
		return
	}

	cfg, err := h.rules.GetAlertRules(ctx)
	if err != nil {
		slog.Error("failed to load alert rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "failed to load alert rules",
		})
		return
	}

	if patch.Thresholds != nil {
		cfg.Thresholds = *patch.Thresholds
	}
	if patch.Watchlist != nil {
		cfg.Watchlist = *patch.Watchlist
	}
	if patch.Notes != nil {
		cfg.Notes = *patch.Notes
	}
	if patch.CustomRules != nil {
		cfg.CustomRules = *patch.CustomRules
	}
	cfg.FillDefaults()

	if err := h.engine.ValidateRules(cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	if err := h.rules.SaveAlertRules(ctx, cfg); err != nil {
		slog.Error("failed to save alert rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "failed to save alert rules",
		})
		return
	}

	if h.cache != nil {
		_ = h.cache.Delete(ctx, domain.CacheKeyAlertRules)
	}

	slog.Info("alert rules updated",
		"custom_rules", len(cfg.CustomRules),
		"watch_customers", len(cfg.Watchlist.Customers),
		"watch_merchants", len(cfg.Watchlist.Merchants),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"rules":   cfg,
	})
}

// ListCases handles GET /api/cases.
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	recs, err := h.cases.List(r.Context())
	if err != nil {
		slog.Error("failed to list cases", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "failed to list cases",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cases": recs,
	})
}

// CreateCase handles POST /api/cases: append an analyst-authored case.
func (h *Handler) CreateCase(w http.ResponseWriter, r *http.Request) {
	var rec domain.CaseRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "invalid JSON request body",
		})
		return
	}

	created, err := h.cases.Create(r.Context(), &rec)
	if err != nil {
		slog.Error("failed to create case", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "failed to create case",
		})
		return
	}

	metrics.CasesCreatedTotal.WithLabelValues("manual").Inc()
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"case":    created,
	})
}

// UpdateCase handles PUT /api/cases/{id}: merge non-null fields into the
// identified case.
func (h *Handler) UpdateCase(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "id")

	var patch domain.CasePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "invalid JSON request body",
		})
		return
	}

	updated, err := h.cases.Update(r.Context(), caseID, patch)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"success": false,
				"error":   "Case not found",
			})
			return
		}
		slog.Error("failed to update case", "id", caseID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "failed to update case",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"case":    updated,
	})
}

// DeleteCase handles DELETE /api/cases/{id}. Deleting an unknown id
// succeeds.
func (h *Handler) DeleteCase(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "id")

	if err := h.cases.Delete(r.Context(), caseID); err != nil {
		slog.Error("failed to delete case", "id", caseID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "failed to delete case",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"deleted": caseID,
	})
}

// SampleCase handles POST /api/cases/sample: pick a high-risk row from the
// submitted batch and synthesize a complete case from it. When risk_level
// is set, candidates of that level are preferred.
func (h *Handler) SampleCase(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBatch(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "request body must be a batch of transaction records",
		})
		return
	}
	if len(req.Results) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "batch contains no records",
		})
		return
	}

	row := pickSampleRow(req.Results, req.RiskLevel)
	extraFields := rowFieldNames(row)

	created, err := h.cases.Promote(r.Context(), row, extraFields)
	if err != nil {
		slog.Error("failed to synthesize case", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "failed to synthesize case",
		})
		return
	}

	total, err := h.cases.Count(r.Context())
	if err != nil {
		total = 0
	}

	metrics.CasesCreatedTotal.WithLabelValues("sample").Inc()
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":     true,
		"case":        created,
		"total_cases": total,
	})
}

// pickSampleRow chooses a candidate row: rows matching the preferred risk
// level (all rows when none match), highest probability first, chosen at
// random among the top 25 to vary repeated samples.
func pickSampleRow(rows []domain.Row, preferredRisk string) domain.Row {
	preferredRisk = strings.ToLower(strings.TrimSpace(preferredRisk))

	candidates := rows
	if preferredRisk != "" {
		filtered := make([]domain.Row, 0, len(rows))
		for _, row := range rows {
			if strings.ToLower(row.RiskLevel()) == preferredRisk {
				filtered = append(filtered, row)
			}
		}
		if len(filtered) > 0 {
			candidates = filtered
		}
	}

	order := make([]domain.Row, len(candidates))
	copy(order, candidates)
	sort.SliceStable(order, func(a, b int) bool {
		return order[a].Probability() > order[b].Probability()
	})

	topK := len(order)
	if topK > 25 {
		topK = 25
	}
	return order[rand.Intn(topK)]
}

// rowFieldNames returns the row's column names, sorted for a stable schema.
func rowFieldNames(row domain.Row) []string {
	names := make([]string, 0, len(row))
	for name := range row {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
