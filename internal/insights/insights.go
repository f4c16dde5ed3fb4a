// Package insights computes the ranked decision-support summary over one
// scored batch: top transactions, customer and merchant hotspots, and the
// batch risk pulse.
package insights

import (
	"fmt"
	"sort"

	"github.com/kestrel-insights/kestrel/internal/domain"
)

// highRiskThreshold marks a row as high risk for hotspot counting and the
// risk pulse high ratio.
const highRiskThreshold = 0.7

// BuildSnapshot aggregates a scored batch into an insights snapshot. The
// input is not mutated; missing columns fall back to the scorer-contract
// defaults. An empty batch yields the empty snapshot, not an error.
func BuildSnapshot(rows []domain.Row) domain.InsightsSnapshot {
	out := domain.EmptyInsights()
	if len(rows) == 0 {
		return out
	}

	out.TopTransactions = topTransactions(rows)
	out.HotCustomers = entityHotspots(rows, func(r domain.Row) string { return r.CustomerID() }, true)
	out.MerchantHotspots = entityHotspots(rows, func(r domain.Row) string { return r.MerchantID() }, false)
	out.RiskPulse = riskPulse(rows)
	return out
}

// topTransactions returns the 5 highest-probability rows. The sort is
// stable: ties keep batch order. Rows without a transaction id get a
// positional placeholder (TXN-001 for the top entry, and so on).
func topTransactions(rows []domain.Row) []domain.TopTransaction {
	order := make([]int, len(rows))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return rows[order[a]].Probability() > rows[order[b]].Probability()
	})

	limit := 5
	if len(order) < limit {
		limit = len(order)
	}

	top := make([]domain.TopTransaction, 0, limit)
	for pos := 0; pos < limit; pos++ {
		row := rows[order[pos]]
		txID := row.String(domain.ColTransactionID, "")
		if txID == "" {
			txID = fmt.Sprintf("TXN-%03d", pos+1)
		}
		top = append(top, domain.TopTransaction{
			TransactionID: txID,
			CustomerID:    row.CustomerID(),
			MerchantID:    row.MerchantID(),
			Amount:        domain.Round2(row.Amount()),
			Probability:   domain.Round4(row.Probability()),
			RiskLevel:     row.RiskLevel(),
		})
	}
	return top
}

type groupStats struct {
	id            string
	probSum       float64
	amountSum     float64
	count         int
	highRiskCount int
}

// entityHotspots groups rows by an entity id and ranks the groups by
// (high_risk_count, avg_probability, transaction_count), all descending.
// The top 5 groups are kept, then placeholder ids from unparsable values
// ("nan", "NaN") are dropped.
func entityHotspots(rows []domain.Row, key func(domain.Row) string, customer bool) []domain.EntityHotspot {
	groups := make(map[string]*groupStats)
	order := make([]*groupStats, 0)

	for _, row := range rows {
		id := key(row)
		g, ok := groups[id]
		if !ok {
			g = &groupStats{id: id}
			groups[id] = g
			order = append(order, g)
		}
		p := row.Probability()
		g.probSum += p
		g.amountSum += row.Amount()
		g.count++
		if p >= highRiskThreshold {
			g.highRiskCount++
		}
	}

	sort.SliceStable(order, func(a, b int) bool {
		ga, gb := order[a], order[b]
		if ga.highRiskCount != gb.highRiskCount {
			return ga.highRiskCount > gb.highRiskCount
		}
		avgA := ga.probSum / float64(ga.count)
		avgB := gb.probSum / float64(gb.count)
		if avgA != avgB {
			return avgA > avgB
		}
		return ga.count > gb.count
	})

	if len(order) > 5 {
		order = order[:5]
	}

	out := make([]domain.EntityHotspot, 0, len(order))
	for _, g := range order {
		if g.id == "nan" || g.id == "NaN" {
			continue
		}
		h := domain.EntityHotspot{
			AvgProbability:   domain.Round4(g.probSum / float64(g.count)),
			TransactionCount: g.count,
			TotalAmount:      domain.Round2(g.amountSum),
			HighRiskCount:    g.highRiskCount,
		}
		if customer {
			h.CustomerID = g.id
		} else {
			h.MerchantID = g.id
		}
		out = append(out, h)
	}
	return out
}

// riskPulse summarizes the probability distribution. Ratios are percentages
// of the whole batch; the 0.3–0.5 band is deliberately uncounted.
func riskPulse(rows []domain.Row) domain.RiskPulse {
	total := float64(len(rows))
	var probSum float64
	var high, medium, low, anomalies int

	for _, row := range rows {
		p := row.Probability()
		probSum += p
		switch {
		case p >= highRiskThreshold:
			high++
		case p >= 0.5:
			medium++
		}
		if p < 0.3 {
			low++
		}
		if row.IsAnomaly() {
			anomalies++
		}
	}

	return domain.RiskPulse{
		AvgProbability:  domain.Round3(probSum / total),
		HighRiskRatio:   domain.Round2(float64(high) / total * 100),
		MediumRiskRatio: domain.Round2(float64(medium) / total * 100),
		LowRiskRatio:    domain.Round2(float64(low) / total * 100),
		AnomalyRate:     domain.Round2(float64(anomalies) / total * 100),
	}
}
