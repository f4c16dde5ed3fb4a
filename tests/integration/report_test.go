//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Kestrel decision
// support engine.
//
// These tests exercise the COMPLETE report pipeline over HTTP:
//
//	Scored batch → Insights → Alert engine → Heatmap → Report
//
// plus the review case queue and the alert rule document.
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// A Kestrel instance must be running (default http://localhost:8080, or set
// KESTREL_TEST_URL). The tests mutate the alert rule document and the case
// queue, so point them at a throwaway database.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{BaseURL: baseURL}
}

// ============================================================================
// API Request/Response Types (matching Kestrel's API contract)
// ============================================================================

// Row is one scored transaction, as the upstream scorer emits it.
type Row map[string]any

// Report is what POST /api/reports returns.
type Report struct {
	Insights struct {
		TotalTransactions int     `json:"total_transactions"`
		FraudDetected     int     `json:"fraud_detected"`
		FraudRate         float64 `json:"fraud_rate"`
		TotalAmount       float64 `json:"total_amount"`
	} `json:"insights"`
	CustomAlerts  []map[string]any `json:"custom_alerts"`
	WatchlistHits []map[string]any `json:"watchlist_hits"`
	AlertSummary  struct {
		TotalAlerts    int `json:"total_alerts"`
		AmountBreaches int `json:"amount_breaches"`
		CriticalFlags  int `json:"critical_flags"`
		HighFlags      int `json:"high_flags"`
		WatchlistHits  int `json:"watchlist_hits"`
	} `json:"alert_summary"`
	HeatmapData []struct {
		Date       string `json:"date"`
		Count      int    `json:"count"`
		FraudCount int    `json:"fraud_count"`
	} `json:"heatmap_data"`
	TotalRows   int    `json:"total_results"`
	GeneratedAt string `json:"generated_at"`
}

// CaseEnvelope wraps single-case responses.
type CaseEnvelope struct {
	Success    bool           `json:"success"`
	Case       map[string]any `json:"case"`
	TotalCases int            `json:"total_cases"`
	Error      string         `json:"error"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func doJSON(t *testing.T, config TestConfig, method, path string, payload any, out any) int {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequest(method, config.BaseURL+path, body)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
		}
	}
	return resp.StatusCode
}

func sampleBatch() []Row {
	return []Row{
		{
			"transaction_id":             "IT-TXN-001",
			"customer_id":                "IT-CUST-001",
			"merchant_id":                "IT-MERCH-001",
			"amount":                     4200.0,
			"ensemble_fraud_probability": 0.92,
			"risk_level":                 "Critical",
			"is_anomaly":                 true,
			"timestamp":                  "2024-06-01 09:30:00",
		},
		{
			"transaction_id":             "IT-TXN-002",
			"customer_id":                "IT-CUST-002",
			"merchant_id":                "IT-MERCH-002",
			"amount":                     35.50,
			"ensemble_fraud_probability": 0.04,
			"risk_level":                 "Low",
			"is_anomaly":                 false,
			"timestamp":                  "2024-06-02 14:15:00",
		},
		{
			"transaction_id":             "IT-TXN-003",
			"customer_id":                "IT-CUST-001",
			"merchant_id":                "IT-MERCH-003",
			"amount":                     2750.0,
			"ensemble_fraud_probability": 0.71,
			"risk_level":                 "High",
			"is_anomaly":                 false,
			"timestamp":                  "2024-06-01 18:45:00",
		},
	}
}

// ============================================================================
// SCENARIO 1: Report Generation Over a Scored Batch
// ============================================================================

func TestGenerateReport_FullPipeline(t *testing.T) {
	/*
	   SCENARIO: A three-row batch with one critical, one high, one clean row.

	   EXPECTED BEHAVIOR (default rules: critical 0.85, high 0.65, amount 2000):
	   - IT-TXN-001: critical flag (0.92 > 0.85) + amount breach (4200 > 2000)
	   - IT-TXN-003: high flag (0.71 > 0.65) + amount breach (2750 > 2000)
	   - IT-TXN-002: clean
	   - Heatmap: two calendar days (2024-06-01 with 2 rows, 2024-06-02 with 1)
	*/
	config := getTestConfig()

	var rep Report
	status := doJSON(t, config, http.MethodPost, "/api/reports", map[string]any{"results": sampleBatch()}, &rep)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}

	if rep.TotalRows != 3 {
		t.Errorf("Expected 3 rows analyzed, got %d", rep.TotalRows)
	}
	if rep.Insights.TotalTransactions != 3 {
		t.Errorf("Expected 3 transactions in insights, got %d", rep.Insights.TotalTransactions)
	}
	if rep.AlertSummary.CriticalFlags != 1 {
		t.Errorf("Expected 1 critical flag, got %d", rep.AlertSummary.CriticalFlags)
	}
	if rep.AlertSummary.HighFlags != 1 {
		t.Errorf("Expected 1 high flag, got %d", rep.AlertSummary.HighFlags)
	}
	if rep.AlertSummary.AmountBreaches != 2 {
		t.Errorf("Expected 2 amount breaches, got %d", rep.AlertSummary.AmountBreaches)
	}
	if len(rep.HeatmapData) != 2 {
		t.Errorf("Expected 2 heatmap days, got %d", len(rep.HeatmapData))
	}
	if rep.GeneratedAt == "" {
		t.Error("Missing generated_at")
	}

	t.Logf("✓ Report generated: %d rows, %d alerts, %d heatmap days",
		rep.TotalRows, rep.AlertSummary.TotalAlerts, len(rep.HeatmapData))
}

// ============================================================================
// SCENARIO 2: Latest Report Retrieval
// ============================================================================

func TestLatestReport_ReturnsMostRecent(t *testing.T) {
	/*
	   SCENARIO: Generate a report, then fetch /api/reports/latest.

	   The cached report must match what the generation call returned.
	*/
	config := getTestConfig()

	var generated Report
	if status := doJSON(t, config, http.MethodPost, "/api/reports", map[string]any{"results": sampleBatch()}, &generated); status != http.StatusOK {
		t.Fatalf("Report generation failed with %d", status)
	}

	var latest Report
	status := doJSON(t, config, http.MethodGet, "/api/reports/latest", nil, &latest)
	if status != http.StatusOK {
		t.Fatalf("Expected 200 from latest, got %d", status)
	}

	if latest.TotalRows != generated.TotalRows {
		t.Errorf("Latest report rows %d != generated %d", latest.TotalRows, generated.TotalRows)
	}
	if latest.GeneratedAt != generated.GeneratedAt {
		t.Errorf("Latest report timestamp %s != generated %s", latest.GeneratedAt, generated.GeneratedAt)
	}

	t.Logf("✓ Latest report matches: generated_at=%s", latest.GeneratedAt)
}

// ============================================================================
// SCENARIO 3: Alert Rule Round Trip
// ============================================================================

func TestAlertRules_SaveAndApply(t *testing.T) {
	/*
	   SCENARIO: Lower the amount threshold, then re-run the same batch.

	   EXPECTED BEHAVIOR:
	   - POST /api/alert-rules merges the thresholds section
	   - With threshold 30, all three rows breach on amount
	   - Watchlist entries produce hits on the matching customer
	*/
	config := getTestConfig()

	update := map[string]any{
		"thresholds": map[string]any{"amount_limit": 30.0},
		"watchlist":  map[string]any{"customers": []string{"IT-CUST-001"}},
	}
	var saved struct {
		Success bool           `json:"success"`
		Rules   map[string]any `json:"rules"`
	}
	if status := doJSON(t, config, http.MethodPost, "/api/alert-rules", update, &saved); status != http.StatusOK {
		t.Fatalf("Rule update failed with %d", status)
	}
	if !saved.Success {
		t.Fatal("Expected success=true from rule update")
	}

	// Restore defaults when done so other scenarios see stock thresholds.
	defer doJSON(t, config, http.MethodPost, "/api/alert-rules", map[string]any{
		"thresholds": map[string]any{"amount_limit": 2000.0},
		"watchlist":  map[string]any{"customers": []string{}},
	}, nil)

	var rep Report
	if status := doJSON(t, config, http.MethodPost, "/api/reports", map[string]any{"results": sampleBatch()}, &rep); status != http.StatusOK {
		t.Fatalf("Report generation failed with %d", status)
	}

	if rep.AlertSummary.AmountBreaches != 3 {
		t.Errorf("Expected 3 amount breaches with threshold 30, got %d", rep.AlertSummary.AmountBreaches)
	}
	// IT-CUST-001 appears on two rows
	if rep.AlertSummary.WatchlistHits != 2 {
		t.Errorf("Expected 2 watchlist hits, got %d", rep.AlertSummary.WatchlistHits)
	}

	t.Logf("✓ Updated rules applied: %d breaches, %d watchlist hits",
		rep.AlertSummary.AmountBreaches, rep.AlertSummary.WatchlistHits)
}

func TestAlertRules_InvalidCustomRuleRejected(t *testing.T) {
	/*
	   SCENARIO: A custom rule with a malformed expression.

	   EXPECTED: HTTP 400, and the stored document is unchanged.
	*/
	config := getTestConfig()

	update := map[string]any{
		"custom_rules": []map[string]any{
			{"name": "broken", "expression": "amount >>> 10"},
		},
	}
	status := doJSON(t, config, http.MethodPost, "/api/alert-rules", update, nil)
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed expression, got %d", status)
	}

	t.Logf("✓ Malformed custom rule rejected: HTTP %d", status)
}

// ============================================================================
// SCENARIO 4: Review Case Lifecycle
// ============================================================================

func TestCaseLifecycle(t *testing.T) {
	/*
	   SCENARIO: Create → update → delete a review case.

	   EXPECTED BEHAVIOR:
	   - POST defaults risk_level "New" and status "Investigating"
	   - PUT merges fields and refreshes updated_at
	   - DELETE acknowledges with the deleted id
	*/
	config := getTestConfig()

	caseID := fmt.Sprintf("it-case-%d", time.Now().UnixNano())

	var created CaseEnvelope
	status := doJSON(t, config, http.MethodPost, "/api/cases", map[string]any{
		"id":             caseID,
		"transaction_id": "IT-TXN-001",
		"amount":         4200.0,
	}, &created)
	if status != http.StatusCreated {
		t.Fatalf("Expected 201 from create, got %d", status)
	}
	if created.Case["risk_level"] != "New" {
		t.Errorf("Expected default risk_level 'New', got %v", created.Case["risk_level"])
	}
	if created.Case["status"] != "Investigating" {
		t.Errorf("Expected default status 'Investigating', got %v", created.Case["status"])
	}

	var updated CaseEnvelope
	status = doJSON(t, config, http.MethodPut, "/api/cases/"+caseID, map[string]any{
		"status": "Closed",
		"notes":  "resolved during integration run",
	}, &updated)
	if status != http.StatusOK {
		t.Fatalf("Expected 200 from update, got %d", status)
	}
	if updated.Case["status"] != "Closed" {
		t.Errorf("Expected status 'Closed' after update, got %v", updated.Case["status"])
	}
	if updated.Case["amount"] != 4200.0 {
		t.Errorf("Expected untouched amount 4200, got %v", updated.Case["amount"])
	}

	var deleted struct {
		Success bool   `json:"success"`
		Deleted string `json:"deleted"`
	}
	status = doJSON(t, config, http.MethodDelete, "/api/cases/"+caseID, nil, &deleted)
	if status != http.StatusOK {
		t.Fatalf("Expected 200 from delete, got %d", status)
	}
	if deleted.Deleted != caseID {
		t.Errorf("Expected deleted id %s, got %s", caseID, deleted.Deleted)
	}

	t.Logf("✓ Case lifecycle complete: %s created → closed → deleted", caseID)
}

func TestUpdateUnknownCase_NotFound(t *testing.T) {
	config := getTestConfig()

	var resp CaseEnvelope
	status := doJSON(t, config, http.MethodPut, "/api/cases/does-not-exist", map[string]any{
		"status": "Closed",
	}, &resp)
	if status != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown case, got %d", status)
	}
	if resp.Error != "Case not found" {
		t.Errorf("Expected error 'Case not found', got %q", resp.Error)
	}

	t.Logf("✓ Unknown case rejected: HTTP %d", status)
}

// ============================================================================
// SCENARIO 5: Case Synthesis From a Batch
// ============================================================================

func TestSampleCase_PrefersRiskLevel(t *testing.T) {
	/*
	   SCENARIO: Promote a case from the batch, preferring Critical rows.

	   EXPECTED BEHAVIOR:
	   - The single Critical row (IT-TXN-001) is selected
	   - Promoted cases open with status "Open"
	   - extra_fields lists the batch's column names
	*/
	config := getTestConfig()

	var resp CaseEnvelope
	status := doJSON(t, config, http.MethodPost, "/api/cases/sample", map[string]any{
		"results":    sampleBatch(),
		"risk_level": "Critical",
	}, &resp)
	if status != http.StatusCreated {
		t.Fatalf("Expected 201 from sample, got %d", status)
	}

	if resp.Case["transaction_id"] != "IT-TXN-001" {
		t.Errorf("Expected Critical row IT-TXN-001, got %v", resp.Case["transaction_id"])
	}
	if resp.Case["status"] != "Open" {
		t.Errorf("Expected promoted status 'Open', got %v", resp.Case["status"])
	}
	if resp.TotalCases < 1 {
		t.Errorf("Expected total_cases >= 1, got %d", resp.TotalCases)
	}

	// Clean up the promoted case
	if id, ok := resp.Case["id"].(string); ok && id != "" {
		doJSON(t, config, http.MethodDelete, "/api/cases/"+id, nil, nil)
	}

	t.Logf("✓ Case synthesized from batch: %v", resp.Case["transaction_id"])
}

// ============================================================================
// SCENARIO 6: Input Validation
// ============================================================================

func TestNonTabularBatch_Error(t *testing.T) {
	/*
	   SCENARIO: A results field that is not a row array.

	   EXPECTED: HTTP 400 Bad Request
	*/
	config := getTestConfig()

	status := doJSON(t, config, http.MethodPost, "/api/reports", map[string]any{"results": 42}, nil)
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400 for non-tabular batch, got %d", status)
	}

	t.Logf("✓ Validation test passed: non-tabular batch → HTTP %d", status)
}

func TestEmptySampleBatch_Error(t *testing.T) {
	config := getTestConfig()

	status := doJSON(t, config, http.MethodPost, "/api/cases/sample", map[string]any{"results": []Row{}}, nil)
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty sample batch, got %d", status)
	}

	t.Logf("✓ Validation test passed: empty sample batch → HTTP %d", status)
}

// ============================================================================
// SCENARIO 7: Health Check
// ============================================================================

func TestHealthEndpoint(t *testing.T) {
	config := getTestConfig()

	var health struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	status := doJSON(t, config, http.MethodGet, "/health", nil, &health)
	if status != http.StatusOK {
		t.Fatalf("Expected 200 from health, got %d", status)
	}
	if health.Status != "healthy" && health.Status != "degraded" {
		t.Errorf("Unexpected health status %q", health.Status)
	}

	t.Logf("✓ Health check: status=%s version=%s", health.Status, health.Version)
}
