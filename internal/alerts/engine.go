// Package alerts evaluates scored batches against the analyst's alert rule
// configuration: fixed thresholds, watchlists, and custom CEL expressions.
package alerts

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kestrel-insights/kestrel/internal/domain"
)

// Engine evaluates alert rules over scored rows. Threshold and watchlist
// checks are pure; custom CEL rules go through the compiled-program cache.
type Engine struct {
	custom *customEvaluator
}

// NewEngine creates an alert engine.
func NewEngine() (*Engine, error) {
	custom, err := newCustomEvaluator()
	if err != nil {
		return nil, err
	}
	return &Engine{custom: custom}, nil
}

// ValidateRules compiles every custom rule in the config, returning the
// first compile error. Used before persisting an analyst's configuration.
func (e *Engine) ValidateRules(cfg domain.AlertRuleConfig) error {
	for _, rule := range cfg.CustomRules {
		if strings.TrimSpace(rule.Expression) == "" {
			return fmt.Errorf("custom rule %q: %w: empty expression", rule.Name, domain.ErrInvalidInput)
		}
		if _, err := e.custom.compile(rule.Expression); err != nil {
			return fmt.Errorf("custom rule %q: %w", rule.Name, err)
		}
	}
	return nil
}

// Evaluate runs every row through the configured rules. Row order is
// preserved in the outputs; a row can raise an amount alert and a
// probability alert, but critical and high probability are mutually
// exclusive. An amount limit of zero disables amount alerts.
func (e *Engine) Evaluate(ctx context.Context, rows []domain.Row, cfg domain.AlertRuleConfig) ([]domain.Alert, []domain.WatchlistHit, domain.AlertSummary) {
	alerts := make([]domain.Alert, 0)
	hits := make([]domain.WatchlistHit, 0)

	amountLimit := cfg.Thresholds.AmountLimit
	criticalThreshold := cfg.Thresholds.CriticalProbability
	highThreshold := cfg.Thresholds.HighProbability

	watchCustomers := toSet(cfg.Watchlist.Customers)
	watchMerchants := toSet(cfg.Watchlist.Merchants)

	for _, row := range rows {
		probability := row.Probability()
		amount := row.Amount()
		customerID := strings.TrimSpace(row.String(domain.ColCustomerID, ""))
		merchantID := strings.TrimSpace(row.String(domain.ColMerchantID, ""))
		riskLevel := row.RiskLevel()

		if amountLimit != 0 && amount >= amountLimit {
			alerts = append(alerts, domain.Alert{
				Type:        domain.AlertTypeAmount,
				Message:     fmt.Sprintf("Transaction amount $%s exceeds watch threshold", formatAmount(amount)),
				CustomerID:  customerID,
				MerchantID:  merchantID,
				RiskLevel:   riskLevel,
				Probability: probability,
			})
		}

		if probability >= criticalThreshold {
			alerts = append(alerts, domain.Alert{
				Type:        domain.AlertTypeCriticalProbability,
				Message:     fmt.Sprintf("Critical probability (%.2f%%) detected", probability*100),
				CustomerID:  customerID,
				MerchantID:  merchantID,
				RiskLevel:   "Critical",
				Probability: probability,
			})
		} else if probability >= highThreshold {
			alerts = append(alerts, domain.Alert{
				Type:        domain.AlertTypeHighProbability,
				Message:     fmt.Sprintf("High probability (%.2f%%) detected", probability*100),
				CustomerID:  customerID,
				MerchantID:  merchantID,
				RiskLevel:   "High",
				Probability: probability,
			})
		}

		for _, rule := range cfg.CustomRules {
			matched, err := e.custom.evaluateRow(ctx, rule, row)
			if err != nil || !matched {
				continue
			}
			alerts = append(alerts, domain.Alert{
				Type:        domain.AlertTypeCustom,
				Message:     fmt.Sprintf("Custom rule %q matched", rule.Name),
				CustomerID:  customerID,
				MerchantID:  merchantID,
				RiskLevel:   riskLevel,
				Probability: probability,
			})
		}

		watched := (customerID != "" && watchCustomers[customerID]) ||
			(merchantID != "" && watchMerchants[merchantID])
		if watched {
			hits = append(hits, domain.WatchlistHit{
				CustomerID:  customerID,
				MerchantID:  merchantID,
				Amount:      amount,
				RiskLevel:   riskLevel,
				Probability: probability,
			})
		}
	}

	return alerts, hits, Summarize(alerts, hits)
}

// Summarize computes the per-type histogram and convenience counters over a
// full evaluation's alerts, before any presentation-layer truncation.
func Summarize(alerts []domain.Alert, hits []domain.WatchlistHit) domain.AlertSummary {
	summary := domain.AlertSummary{
		TotalAlerts:   len(alerts),
		WatchlistHits: len(hits),
		ByType:        make(map[string]int),
	}
	for _, alert := range alerts {
		t := alert.Type
		if t == "" {
			t = "other"
		}
		summary.ByType[t]++
	}
	summary.AmountBreaches = summary.ByType[domain.AlertTypeAmount]
	summary.CriticalFlags = summary.ByType[domain.AlertTypeCriticalProbability]
	summary.HighFlags = summary.ByType[domain.AlertTypeHighProbability]
	return summary
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// formatAmount renders a dollar amount with thousands separators and two
// decimals.
func formatAmount(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	dot := strings.IndexByte(s, '.')
	intPart, frac := s[:dot], s[dot:]

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, d := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	b.WriteString(frac)
	return b.String()
}
