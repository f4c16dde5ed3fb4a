// Benchmark tool for replaying scored transaction data through Kestrel.
//
// Usage:
//
//	go run cmd/benchmark/main.go -csv /path/to/scored.csv -url http://localhost:8080
//
// This tool:
//  1. Reads a scored transaction CSV (the scorer-contract columns)
//  2. Sends the rows to Kestrel in batches via POST /api/reports
//  3. Aggregates alert counts and watchlist hits across batches
//  4. Reports pipeline latency and throughput
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"
)

// Row mirrors the wire format: one flat JSON object per transaction.
type Row map[string]any

// Report is the subset of the API response the benchmark aggregates.
type Report struct {
	AlertSummary struct {
		TotalAlerts    int            `json:"total_alerts"`
		WatchlistHits  int            `json:"watchlist_hits"`
		ByType         map[string]int `json:"by_type"`
		AmountBreaches int            `json:"amount_breaches"`
		CriticalFlags  int            `json:"critical_flags"`
		HighFlags      int            `json:"high_flags"`
	} `json:"alert_summary"`
	TotalRows   int `json:"total_results"`
	HeatmapData []struct {
		Date       string `json:"date"`
		Count      int    `json:"count"`
		FraudCount int    `json:"fraud_count"`
	} `json:"heatmap_data"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	Batches        int
	RowsSent       int
	TotalAlerts    int
	WatchlistHits  int
	AmountBreaches int
	CriticalFlags  int
	HighFlags      int
	ByType         map[string]int
	Errors         int
	LatencyMs      int64
}

func main() {
	csvPath := flag.String("csv", "", "Path to scored transaction CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	batchSize := flag.Int("batch", 500, "Rows per report request")
	limit := flag.Int("limit", 0, "Maximum rows to send (0 = all)")
	verbose := flag.Bool("verbose", false, "Print each batch result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/scored.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          KESTREL BENCHMARK - Batch Report Pipeline            ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Batch Size:  %d\n", *batchSize)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	fmt.Printf("\nReading rows from %s...\n", *csvPath)
	rows, err := readCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d rows\n", len(rows))

	fmt.Printf("\nSending %d-row batches...\n", *batchSize)
	startTime := time.Now()
	metrics := runBenchmark(rows, *baseURL, *batchSize, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// readCSV loads rows, parsing numeric-looking cells into floats so the
// server sees the same types the scorer would emit.
func readCSV(path string, limit int) ([]Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		row := make(Row, len(header))
		for i, col := range header {
			if i >= len(record) {
				break
			}
			cell := record[i]
			if f, err := strconv.ParseFloat(cell, 64); err == nil {
				row[col] = f
			} else {
				row[col] = cell
			}
		}
		rows = append(rows, row)

		if limit > 0 && len(rows) >= limit {
			break
		}
	}

	return rows, nil
}

func runBenchmark(rows []Row, baseURL string, batchSize int, verbose bool) *Metrics {
	metrics := &Metrics{ByType: make(map[string]int)}
	client := &http.Client{Timeout: 60 * time.Second}

	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		began := time.Now()
		rep, err := sendBatch(client, baseURL, batch)
		elapsed := time.Since(began).Milliseconds()

		metrics.Batches++
		metrics.LatencyMs += elapsed

		if err != nil {
			metrics.Errors++
			if verbose {
				fmt.Printf("ERROR: batch %d -> %v\n", metrics.Batches, err)
			}
			continue
		}

		metrics.RowsSent += rep.TotalRows
		metrics.TotalAlerts += rep.AlertSummary.TotalAlerts
		metrics.WatchlistHits += rep.AlertSummary.WatchlistHits
		metrics.AmountBreaches += rep.AlertSummary.AmountBreaches
		metrics.CriticalFlags += rep.AlertSummary.CriticalFlags
		metrics.HighFlags += rep.AlertSummary.HighFlags
		for k, v := range rep.AlertSummary.ByType {
			metrics.ByType[k] += v
		}

		if verbose {
			fmt.Printf("✓ batch %-4d | rows: %5d | alerts: %4d | hits: %3d | days: %3d | %5d ms\n",
				metrics.Batches,
				rep.TotalRows,
				rep.AlertSummary.TotalAlerts,
				rep.AlertSummary.WatchlistHits,
				len(rep.HeatmapData),
				elapsed,
			)
		}
	}

	return metrics
}

func sendBatch(client *http.Client, baseURL string, batch []Row) (*Report, error) {
	body, err := json.Marshal(map[string]any{"results": batch})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/api/reports", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var rep Report
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 BATCH STATISTICS\n")
	fmt.Printf("   Batches Sent:     %d\n", m.Batches)
	fmt.Printf("   Rows Processed:   %d\n", m.RowsSent)
	fmt.Printf("   Errors:           %d\n", m.Errors)

	fmt.Printf("\n🚨 ALERT TOTALS\n")
	fmt.Printf("   Total Alerts:     %d\n", m.TotalAlerts)
	fmt.Printf("   Amount Breaches:  %d\n", m.AmountBreaches)
	fmt.Printf("   Critical Flags:   %d\n", m.CriticalFlags)
	fmt.Printf("   High Flags:       %d\n", m.HighFlags)
	fmt.Printf("   Watchlist Hits:   %d\n", m.WatchlistHits)
	for alertType, count := range m.ByType {
		fmt.Printf("   - %-16s %d\n", alertType+":", count)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.Batches > 0 {
		avgMs := float64(m.LatencyMs) / float64(m.Batches)
		fmt.Printf("   Avg Batch Time:   %.2f ms\n", avgMs)
	}
	if m.RowsSent > 0 && duration.Seconds() > 0 {
		rps := float64(m.RowsSent) / duration.Seconds()
		fmt.Printf("   Throughput:       %.2f rows/sec\n", rps)
	}

	fmt.Println()
}
