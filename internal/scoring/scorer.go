// Package scoring combines rule signals and an optional external ML
// probability into a normalized fraud score and a discrete risk level.
package scoring

import (
	"context"
	"log/slog"
	"time"

	"github.com/fraudguard-io/fraudguard/internal/domain"
)

// Default risk level boundaries, inclusive-lower / exclusive-upper.
const (
	DefaultMediumThreshold = 0.4
	DefaultHighThreshold   = 0.8
)

// externalBlend gives the ML probability equal weight with the rule score
// when it is available; the engine stays fully functional without it.
const externalBlend = 0.5

// Scorer turns signals into a fraud score.
type Scorer struct {
	external domain.ExternalScorer
	timeout  time.Duration

	mediumThreshold float64
	highThreshold   float64
}

// NewScorer creates a scorer. external may be nil, in which case scores
// come from rules alone.
func NewScorer(external domain.ExternalScorer, cfg domain.EngineConfig) *Scorer {
	s := &Scorer{
		external:        external,
		timeout:         time.Duration(cfg.ExternalScorerTimeoutMs) * time.Millisecond,
		mediumThreshold: cfg.MediumRiskThreshold,
		highThreshold:   cfg.HighRiskThreshold,
	}
	if s.timeout <= 0 {
		s.timeout = 500 * time.Millisecond
	}
	if s.mediumThreshold <= 0 {
		s.mediumThreshold = DefaultMediumThreshold
	}
	if s.highThreshold <= 0 {
		s.highThreshold = DefaultHighThreshold
	}
	return s
}

// Outcome is the scorer's result for one transaction.
type Outcome struct {
	BaseScore float64

	// ExternalScore is nil when the ML collaborator was unavailable.
	ExternalScore *float64

	FraudScore float64
	RiskLevel  domain.RiskLevel
}

// Score computes the fraud score for a transaction. totalWeight is the sum
// of all active rule weights; normalizing by it means adding inactive or
// future rules never silently shifts existing scores. An empty rule set
// contributes base score 0 rather than failing.
func (s *Scorer) Score(ctx context.Context, tx *domain.Transaction, signals []domain.Signal, totalWeight float64) Outcome {
	out := Outcome{BaseScore: baseScore(signals, totalWeight)}
	out.FraudScore = out.BaseScore

	if s.external != nil {
		if p, ok := s.fetchExternal(ctx, tx); ok {
			out.ExternalScore = &p
			out.FraudScore = externalBlend*out.BaseScore + (1-externalBlend)*p
		}
	}

	out.FraudScore = clamp(out.FraudScore)
	out.RiskLevel = s.Level(out.FraudScore)
	return out
}

// Level maps a score to its risk bucket.
func (s *Scorer) Level(score float64) domain.RiskLevel {
	switch {
	case score < s.mediumThreshold:
		return domain.RiskLow
	case score < s.highThreshold:
		return domain.RiskMedium
	default:
		return domain.RiskHigh
	}
}

// fetchExternal calls the ML collaborator with a bounded timeout. Any
// error degrades to an absent probability; the pipeline never blocks on it
// and never retries inline.
func (s *Scorer) fetchExternal(ctx context.Context, tx *domain.Transaction) (float64, bool) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	p, err := s.external.GetScore(callCtx, tx)
	if err != nil {
		slog.Warn("external scorer unavailable, proceeding with rule score",
			"tx_id", tx.ID,
			"error", err,
		)
		return 0, false
	}
	return clamp(p), true
}

func baseScore(signals []domain.Signal, totalWeight float64) float64 {
	if totalWeight <= 0 {
		return 0
	}

	var matched float64
	for _, sig := range signals {
		if sig.Matched {
			matched += sig.Weight
		}
	}
	return clamp(matched / totalWeight)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
