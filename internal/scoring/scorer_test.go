package scoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fraudguard-io/fraudguard/internal/domain"
)

type fakeScorer struct {
	p     float64
	err   error
	delay time.Duration
}

func (f *fakeScorer) GetScore(ctx context.Context, tx *domain.Transaction) (float64, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return f.p, f.err
}

func signal(weight float64, matched bool) domain.Signal {
	return domain.Signal{RuleID: "r", Weight: weight, Matched: matched}
}

func TestBaseScoreNormalization(t *testing.T) {
	s := NewScorer(nil, domain.EngineConfig{})
	ctx := context.Background()
	tx := &domain.Transaction{ID: "tx-001"}

	// One matched rule of weight 1 out of total weight 1.
	out := s.Score(ctx, tx, []domain.Signal{signal(1.0, true)}, 1.0)
	if out.BaseScore != 1.0 || out.FraudScore != 1.0 {
		t.Errorf("expected score 1.0, got base=%.3f final=%.3f", out.BaseScore, out.FraudScore)
	}

	// Same matched weight against a larger active total.
	out = s.Score(ctx, tx, []domain.Signal{signal(1.0, true), signal(3.0, false)}, 4.0)
	if out.BaseScore != 0.25 {
		t.Errorf("expected base 0.25, got %.3f", out.BaseScore)
	}

	// Nothing matched.
	out = s.Score(ctx, tx, []domain.Signal{signal(1.0, false)}, 1.0)
	if out.FraudScore != 0 {
		t.Errorf("expected score 0, got %.3f", out.FraudScore)
	}
}

func TestEmptyRuleSetScoresZero(t *testing.T) {
	s := NewScorer(nil, domain.EngineConfig{})

	out := s.Score(context.Background(), &domain.Transaction{ID: "tx-001"}, nil, 0)
	if out.FraudScore != 0 {
		t.Errorf("expected score 0 with no rules, got %.3f", out.FraudScore)
	}
	if out.RiskLevel != domain.RiskLow {
		t.Errorf("expected LOW risk with no rules, got %s", out.RiskLevel)
	}
}

func TestClampInvariant(t *testing.T) {
	s := NewScorer(nil, domain.EngineConfig{})
	ctx := context.Background()
	tx := &domain.Transaction{ID: "tx-001"}

	// Matched weight exceeding the declared total must still clamp to 1.
	out := s.Score(ctx, tx, []domain.Signal{signal(5.0, true)}, 2.0)
	if out.FraudScore < 0 || out.FraudScore > 1 {
		t.Errorf("clamp invariant violated: %.3f", out.FraudScore)
	}
	if out.FraudScore != 1.0 {
		t.Errorf("expected clamped score 1.0, got %.3f", out.FraudScore)
	}
}

func TestExternalBlend(t *testing.T) {
	s := NewScorer(&fakeScorer{p: 0.9}, domain.EngineConfig{})
	ctx := context.Background()
	tx := &domain.Transaction{ID: "tx-001"}

	// base 0.5 blended with p 0.9 -> 0.7
	out := s.Score(ctx, tx, []domain.Signal{signal(1.0, true), signal(1.0, false)}, 2.0)
	if out.ExternalScore == nil {
		t.Fatal("expected external score to be present")
	}
	if *out.ExternalScore != 0.9 {
		t.Errorf("expected external score 0.9, got %.3f", *out.ExternalScore)
	}
	if out.FraudScore < 0.699 || out.FraudScore > 0.701 {
		t.Errorf("expected blended score 0.7, got %.3f", out.FraudScore)
	}
}

func TestExternalScorerTimeout(t *testing.T) {
	s := NewScorer(&fakeScorer{p: 0.99, delay: time.Second}, domain.EngineConfig{
		ExternalScorerTimeoutMs: 10,
	})
	ctx := context.Background()
	tx := &domain.Transaction{ID: "tx-001"}

	// base 0.5 from one matched velocity-style rule of two equal weights
	start := time.Now()
	out := s.Score(ctx, tx, []domain.Signal{signal(1.0, true), signal(1.0, false)}, 2.0)
	if time.Since(start) > 500*time.Millisecond {
		t.Error("scorer blocked past its bounded timeout")
	}

	if out.ExternalScore != nil {
		t.Error("expected absent external score on timeout")
	}
	if out.FraudScore != 0.5 {
		t.Errorf("expected final score to equal base 0.5 on timeout, got %.3f", out.FraudScore)
	}
	if out.RiskLevel != domain.RiskMedium {
		t.Errorf("expected MEDIUM risk, got %s", out.RiskLevel)
	}
}

func TestExternalScorerError(t *testing.T) {
	s := NewScorer(&fakeScorer{err: errors.New("model offline")}, domain.EngineConfig{})

	out := s.Score(context.Background(), &domain.Transaction{ID: "tx-001"},
		[]domain.Signal{signal(1.0, true)}, 1.0)
	if out.ExternalScore != nil {
		t.Error("expected absent external score on error")
	}
	if out.FraudScore != 1.0 {
		t.Errorf("expected base score on error, got %.3f", out.FraudScore)
	}
}

func TestRiskLevelBoundaries(t *testing.T) {
	s := NewScorer(nil, domain.EngineConfig{})

	tests := []struct {
		score float64
		want  domain.RiskLevel
	}{
		{0.0, domain.RiskLow},
		{0.3999, domain.RiskLow},
		{0.4, domain.RiskMedium},
		{0.7999, domain.RiskMedium},
		{0.8, domain.RiskHigh},
		{1.0, domain.RiskHigh},
	}

	for _, tt := range tests {
		if got := s.Level(tt.score); got != tt.want {
			t.Errorf("Level(%.4f) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestConfigurableThresholds(t *testing.T) {
	s := NewScorer(nil, domain.EngineConfig{
		MediumRiskThreshold: 0.2,
		HighRiskThreshold:   0.5,
	})

	if got := s.Level(0.3); got != domain.RiskMedium {
		t.Errorf("Level(0.3) = %s, want MEDIUM with lowered thresholds", got)
	}
	if got := s.Level(0.5); got != domain.RiskHigh {
		t.Errorf("Level(0.5) = %s, want HIGH with lowered thresholds", got)
	}
}
