package domain

// AlertRuleConfig holds the analyst-owned alerting configuration: fixed
// thresholds, watchlists, and optional CEL expressions evaluated per row.
type AlertRuleConfig struct {
	Thresholds  Thresholds   `json:"thresholds"`
	Watchlist   Watchlist    `json:"watchlist"`
	Notes       string       `json:"notes"`
	CustomRules []CustomRule `json:"custom_rules,omitempty"`
}

// Thresholds are the fixed alerting limits. AmountLimit of 0 disables
// amount alerts entirely.
type Thresholds struct {
	CriticalProbability float64 `json:"critical_probability"`
	HighProbability     float64 `json:"high_probability"`
	AmountLimit         float64 `json:"amount_limit"`
}

// Watchlist holds entity identifiers subject to mandatory alerting
// regardless of score.
type Watchlist struct {
	Customers []string `json:"customers"`
	Merchants []string `json:"merchants"`
}

// CustomRule is an analyst-defined CEL expression. A true result emits an
// alert of type "custom".
type CustomRule struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
}

// Default threshold values applied when the persisted config is missing
// keys.
const (
	DefaultCriticalProbability = 0.85
	DefaultHighProbability     = 0.65
	DefaultAmountLimit         = 2000
)

// DefaultAlertRules returns the configuration used before an analyst has
// saved one.
func DefaultAlertRules() AlertRuleConfig {
	return AlertRuleConfig{
		Thresholds: Thresholds{
			CriticalProbability: DefaultCriticalProbability,
			HighProbability:     DefaultHighProbability,
			AmountLimit:         DefaultAmountLimit,
		},
		Watchlist: Watchlist{
			Customers: []string{},
			Merchants: []string{},
		},
	}
}

// FillDefaults replaces missing threshold keys with their defaults and
// ensures watchlist slices are non-nil. Applied on every load.
func (c *AlertRuleConfig) FillDefaults() {
	if c.Thresholds.CriticalProbability == 0 {
		c.Thresholds.CriticalProbability = DefaultCriticalProbability
	}
	if c.Thresholds.HighProbability == 0 {
		c.Thresholds.HighProbability = DefaultHighProbability
	}
	if c.Watchlist.Customers == nil {
		c.Watchlist.Customers = []string{}
	}
	if c.Watchlist.Merchants == nil {
		c.Watchlist.Merchants = []string{}
	}
}

// Alert types emitted by the engine.
const (
	AlertTypeAmount              = "amount"
	AlertTypeCriticalProbability = "critical_probability"
	AlertTypeHighProbability     = "high_probability"
	AlertTypeCustom              = "custom"
)

// Alert is one rule breach for one row. Ephemeral: produced per evaluation,
// never persisted by the engine.
type Alert struct {
	Type        string  `json:"type"`
	Message     string  `json:"message"`
	CustomerID  string  `json:"customer_id"`
	MerchantID  string  `json:"merchant_id"`
	RiskLevel   string  `json:"risk_level"`
	Probability float64 `json:"probability"`
}

// WatchlistHit records a row touching a watched customer or merchant.
type WatchlistHit struct {
	CustomerID  string  `json:"customer_id"`
	MerchantID  string  `json:"merchant_id"`
	Amount      float64 `json:"amount"`
	RiskLevel   string  `json:"risk_level"`
	Probability float64 `json:"probability"`
}

// AlertSummary aggregates one evaluation's alerts.
type AlertSummary struct {
	TotalAlerts    int            `json:"total_alerts"`
	WatchlistHits  int            `json:"watchlist_hits"`
	ByType         map[string]int `json:"by_type"`
	AmountBreaches int            `json:"amount_breaches"`
	CriticalFlags  int            `json:"critical_flags"`
	HighFlags      int            `json:"high_flags"`
}
