// Package heatmap aggregates scored batches into per-calendar-day buckets
// for the fraud calendar view.
package heatmap

import (
	"sort"

	"github.com/kestrel-insights/kestrel/internal/domain"
)

// fraudThreshold marks a row as fraudulent for the per-day fraud count.
const fraudThreshold = 0.5

// Buckets groups rows by calendar date. Rows without a parsable timestamp
// are silently excluded; a batch with no timestamp column at all yields an
// empty (non-nil) result. When the batch carries no amount column anywhere,
// total_amount degrades to the row count per day, matching the historical
// wire behavior consumers already depend on.
func Buckets(rows []domain.Row) []domain.HeatmapBucket {
	hasAmount := false
	for _, row := range rows {
		if row.Has(domain.ColAmount) {
			hasAmount = true
			break
		}
	}

	byDate := make(map[string]*domain.HeatmapBucket)
	for _, row := range rows {
		ts, ok := row.Timestamp()
		if !ok {
			continue
		}
		date := ts.Format("2006-01-02")

		bucket, ok := byDate[date]
		if !ok {
			bucket = &domain.HeatmapBucket{Date: date}
			byDate[date] = bucket
		}
		bucket.Count++
		if row.Probability() > fraudThreshold {
			bucket.FraudCount++
		}
		if hasAmount {
			bucket.TotalAmount += row.Amount()
		}
	}

	out := make([]domain.HeatmapBucket, 0, len(byDate))
	for _, bucket := range byDate {
		if !hasAmount {
			bucket.TotalAmount = float64(bucket.Count)
		}
		out = append(out, *bucket)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Date < out[b].Date })
	return out
}
