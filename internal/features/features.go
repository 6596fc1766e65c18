// Package features derives temporal and contextual features from a raw
// transaction record.
package features

import (
	"log/slog"
	"time"

	"github.com/fraudguard-io/fraudguard/internal/domain"
)

// Extractor computes a FeatureSet from transaction facts. It is a pure
// function over its inputs and has no failure modes: a malformed timestamp
// degrades to the evaluation clock and is logged as a data-quality warning.
type Extractor struct {
	// LargeAmountThreshold marks the is_large_amount feature.
	LargeAmountThreshold float64
}

// NewExtractor creates an extractor with the given large-amount threshold.
func NewExtractor(largeAmountThreshold float64) *Extractor {
	if largeAmountThreshold <= 0 {
		largeAmountThreshold = 1000.0
	}
	return &Extractor{LargeAmountThreshold: largeAmountThreshold}
}

// Extract derives the feature set for a transaction as of now.
func (e *Extractor) Extract(tx *domain.Transaction, now time.Time) domain.FeatureSet {
	ts := tx.Timestamp
	if ts.IsZero() {
		slog.Warn("transaction has no timestamp, using evaluation time",
			"tx_id", tx.ID,
		)
		ts = now.UTC()
	}

	return domain.FeatureSet{
		IsWeekend:        isWeekend(ts),
		IsNightTime:      isNightTime(ts),
		IsLargeAmount:    tx.Amount > e.LargeAmountThreshold,
		Amount:           tx.Amount,
		MerchantCategory: tx.MerchantCategory,
		CountryCode:      tx.Country,
	}
}

func isWeekend(ts time.Time) bool {
	day := ts.Weekday()
	return day == time.Saturday || day == time.Sunday
}

// isNightTime matches 22:00-06:00 exclusive of the 06 and 22 hours
// themselves.
func isNightTime(ts time.Time) bool {
	hour := ts.Hour()
	return hour < 6 || hour > 22
}
