// Package scoring holds the external-scorer boundary: an HTTP client for a
// remote scoring service and normalization of scored rows to the column
// contract the engine depends on.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kestrel-insights/kestrel/internal/domain"
)

// requiredColumns and their defaults. Normalize guarantees these exist on
// every row before the engines run.
var requiredColumns = map[string]any{
	"is_fraud_predicted":       0.0,
	domain.ColIsAnomaly:        0.0,
	domain.ColProbability:      0.0,
	domain.ColRiskLevel:        "Low",
	domain.ColMerchantCategory: "unknown",
}

// Normalize fills missing contract columns in place and returns the rows.
func Normalize(rows []domain.Row) []domain.Row {
	for _, row := range rows {
		for col, def := range requiredColumns {
			if !row.Has(col) {
				row[col] = def
			}
		}
	}
	return rows
}

// HTTPScorer calls a remote scoring service: raw rows out, scored rows back.
type HTTPScorer struct {
	url    string
	client *http.Client
}

// NewHTTPScorer creates a scorer client for the given endpoint.
func NewHTTPScorer(cfg domain.ScorerConfig) *HTTPScorer {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPScorer{
		url:    cfg.URL,
		client: &http.Client{Timeout: timeout},
	}
}

type scoreRequest struct {
	Rows []domain.Row `json:"rows"`
}

type scoreResponse struct {
	Rows  []domain.Row `json:"rows"`
	Error string       `json:"error"`
}

// Score posts the batch to the scoring service and returns the scored rows,
// normalized to the column contract.
func (s *HTTPScorer) Score(ctx context.Context, rows []domain.Row) ([]domain.Row, error) {
	if s.url == "" {
		return nil, fmt.Errorf("scorer url not configured")
	}

	body, err := json.Marshal(scoreRequest{Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("marshal score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("score request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("scorer returned %d: %s", resp.StatusCode, data)
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode score response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("scorer error: %s", out.Error)
	}

	return Normalize(out.Rows), nil
}
