package domain

// InsightsSnapshot is the ranked decision-support summary computed over one
// scored batch. Ephemeral: recomputed per batch.
type InsightsSnapshot struct {
	TopTransactions  []TopTransaction `json:"top_transactions"`
	HotCustomers     []EntityHotspot  `json:"hot_customers"`
	MerchantHotspots []EntityHotspot  `json:"merchant_hotspots"`
	RiskPulse        RiskPulse        `json:"risk_pulse"`
}

// EmptyInsights returns the documented empty shape: all collections present
// but empty, risk pulse zero-valued.
func EmptyInsights() InsightsSnapshot {
	return InsightsSnapshot{
		TopTransactions:  []TopTransaction{},
		HotCustomers:     []EntityHotspot{},
		MerchantHotspots: []EntityHotspot{},
	}
}

// TopTransaction is one entry of the probability-ranked top list.
type TopTransaction struct {
	TransactionID string  `json:"transaction_id"`
	CustomerID    string  `json:"customer_id"`
	MerchantID    string  `json:"merchant_id"`
	Amount        float64 `json:"amount"`
	Probability   float64 `json:"probability"`
	RiskLevel     string  `json:"risk_level"`
}

// EntityHotspot is one customer or merchant group in the hotspot rankings.
// The ID field name differs per list on the wire.
type EntityHotspot struct {
	CustomerID       string  `json:"customer_id,omitempty"`
	MerchantID       string  `json:"merchant_id,omitempty"`
	AvgProbability   float64 `json:"avg_probability"`
	TransactionCount int     `json:"transaction_count"`
	TotalAmount      float64 `json:"total_amount"`
	HighRiskCount    int     `json:"high_risk_count"`
}

// RiskPulse summarizes the probability distribution of a batch. Ratios are
// percentages of the batch.
type RiskPulse struct {
	AvgProbability  float64 `json:"avg_probability"`
	HighRiskRatio   float64 `json:"high_risk_ratio"`
	MediumRiskRatio float64 `json:"medium_risk_ratio"`
	LowRiskRatio    float64 `json:"low_risk_ratio"`
	AnomalyRate     float64 `json:"anomaly_rate"`
}

// HeatmapBucket is a per-calendar-day aggregate for the calendar heatmap.
type HeatmapBucket struct {
	Date        string  `json:"date"`
	Count       int     `json:"count"`
	FraudCount  int     `json:"fraud_count"`
	TotalAmount float64 `json:"total_amount"`
}

// Report bundles everything a report evaluation produces. Alerts and hits
// are capped at 100 entries by the boundary layer.
type Report struct {
	Insights      InsightsSnapshot `json:"insights"`
	AlertRules    AlertRuleConfig  `json:"alert_rules"`
	Alerts        []Alert          `json:"custom_alerts"`
	WatchlistHits []WatchlistHit   `json:"watchlist_hits"`
	AlertSummary  AlertSummary     `json:"alert_summary"`
	HeatmapData   []HeatmapBucket  `json:"heatmap_data"`
	TotalRows     int              `json:"total_results"`
	GeneratedAt   string           `json:"generated_at"`
}
