package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/fraudguard-io/fraudguard/internal/domain"
)

func TestSQLiteRepository(t *testing.T) {
	// Create temp database file
	tmpFile, err := os.CreateTemp("", "fraudguard-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetTransaction", func(t *testing.T) {
		tx := &domain.Transaction{
			ID:                "tx-001",
			UserID:            "user-001",
			Amount:            1500.00,
			Currency:          "USD",
			Merchant:          "Acme Electronics",
			MerchantCategory:  "electronics",
			PaymentMethod:     "credit_card",
			Country:           "US",
			IPAddress:         "203.0.113.42",
			DeviceFingerprint: "dev-abc",
			Timestamp:         time.Now().UTC(),
			CreatedAt:         time.Now().UTC(),
			Status:            domain.StatusPending,
			Metadata:          map[string]any{"source": "api"},
		}

		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		retrieved, err := repo.GetTransaction(ctx, tx.ID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}

		if retrieved.ID != tx.ID {
			t.Errorf("expected ID %s, got %s", tx.ID, retrieved.ID)
		}
		if retrieved.Amount != tx.Amount {
			t.Errorf("expected Amount %.2f, got %.2f", tx.Amount, retrieved.Amount)
		}
		if retrieved.Status != domain.StatusPending {
			t.Errorf("expected status PENDING, got %s", retrieved.Status)
		}
		if retrieved.Country != "US" {
			t.Errorf("expected country US, got %s", retrieved.Country)
		}
	})

	t.Run("UpsertUpdatesDerivedState", func(t *testing.T) {
		tx, err := repo.GetTransaction(ctx, "tx-001")
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}

		now := time.Now().UTC()
		tx.FraudScore = 0.87
		tx.RiskLevel = domain.RiskHigh
		tx.Status = domain.StatusFlagged
		tx.ProcessedAt = &now

		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("re-save failed: %v", err)
		}

		retrieved, err := repo.GetTransaction(ctx, tx.ID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if retrieved.Status != domain.StatusFlagged {
			t.Errorf("expected FLAGGED, got %s", retrieved.Status)
		}
		if retrieved.FraudScore != 0.87 {
			t.Errorf("expected fraud score 0.87, got %.2f", retrieved.FraudScore)
		}
		if retrieved.ProcessedAt == nil {
			t.Error("expected processed_at to be set")
		}
	})

	t.Run("SaveAndGetRule", func(t *testing.T) {
		rule := &domain.Rule{
			ID:        "rule-velocity-1h",
			Name:      "hourly burst",
			Kind:      domain.RuleVelocity,
			Threshold: 5,
			Weight:    0.8,
			Entity:    domain.EntityUser,
			Metric:    domain.MetricCount,
			Window:    domain.Window1h,
			Enabled:   true,
		}

		if err := repo.SaveRule(ctx, rule); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}

		retrieved, err := repo.GetRule(ctx, rule.ID)
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if retrieved.Kind != domain.RuleVelocity {
			t.Errorf("expected kind VELOCITY, got %s", retrieved.Kind)
		}
		if retrieved.Window != domain.Window1h {
			t.Errorf("expected window 1h, got %s", retrieved.Window)
		}
		if !retrieved.Enabled {
			t.Error("expected rule enabled")
		}
	})

	t.Run("ListRules", func(t *testing.T) {
		rule := &domain.Rule{
			ID:        "rule-amount",
			Name:      "large amount",
			Kind:      domain.RuleAmount,
			Threshold: 10000,
			Weight:    1.0,
			Enabled:   false,
		}
		if err := repo.SaveRule(ctx, rule); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}

		ruleSet, err := repo.ListRules(ctx)
		if err != nil {
			t.Fatalf("ListRules failed: %v", err)
		}
		if len(ruleSet) != 2 {
			t.Errorf("expected 2 rules, got %d", len(ruleSet))
		}
	})

	t.Run("SaveAndGetAlert", func(t *testing.T) {
		alert := &domain.FraudAlert{
			ID:              "alert-001",
			TransactionID:   "tx-001",
			AlertType:       domain.AlertTypeRuleTrigger,
			Severity:        domain.SeverityHigh,
			Status:          domain.AlertOpen,
			Reason:          "triggered rules: large amount",
			ConfidenceScore: 0.87,
			TriggeredRules:  []string{"rule-amount"},
			EscalatedBy:     "analyst-3",
			CreatedAt:       time.Now().UTC(),
			UpdatedAt:       time.Now().UTC(),
		}

		if err := repo.SaveAlert(ctx, alert); err != nil {
			t.Fatalf("SaveAlert failed: %v", err)
		}

		retrieved, err := repo.GetAlert(ctx, alert.ID)
		if err != nil {
			t.Fatalf("GetAlert failed: %v", err)
		}
		if retrieved.Severity != domain.SeverityHigh {
			t.Errorf("expected HIGH severity, got %s", retrieved.Severity)
		}
		if len(retrieved.TriggeredRules) != 1 || retrieved.TriggeredRules[0] != "rule-amount" {
			t.Errorf("unexpected triggered rules: %v", retrieved.TriggeredRules)
		}
		if retrieved.EscalatedBy != "analyst-3" {
			t.Errorf("expected escalating analyst persisted, got %q", retrieved.EscalatedBy)
		}
	})

	t.Run("GetOpenAlertByTransaction", func(t *testing.T) {
		alert, err := repo.GetOpenAlertByTransaction(ctx, "tx-001")
		if err != nil {
			t.Fatalf("GetOpenAlertByTransaction failed: %v", err)
		}
		if alert.ID != "alert-001" {
			t.Errorf("expected alert-001, got %s", alert.ID)
		}

		// Resolve it and the lookup comes back empty.
		now := time.Now().UTC()
		alert.Status = domain.AlertResolved
		alert.ResolvedAt = &now
		alert.ResolvedBy = "analyst-1"
		if err := repo.SaveAlert(ctx, alert); err != nil {
			t.Fatalf("SaveAlert failed: %v", err)
		}

		if _, err := repo.GetOpenAlertByTransaction(ctx, "tx-001"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound after resolution, got: %v", err)
		}
	})

	t.Run("ListAlertsByStatus", func(t *testing.T) {
		resolved, err := repo.ListAlerts(ctx, domain.AlertResolved, 10)
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if len(resolved) != 1 {
			t.Errorf("expected 1 resolved alert, got %d", len(resolved))
		}

		open, err := repo.ListAlerts(ctx, domain.AlertOpen, 10)
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if len(open) != 0 {
			t.Errorf("expected 0 open alerts, got %d", len(open))
		}
	})

	t.Run("SaveAndListActions", func(t *testing.T) {
		action := &domain.AlertAction{
			ID:         "action-001",
			AlertID:    "alert-001",
			ActionType: domain.ActionBlockCard,
			Status:     domain.ActionPending,
			CreatedAt:  time.Now().UTC(),
		}

		if err := repo.SaveAction(ctx, action); err != nil {
			t.Fatalf("SaveAction failed: %v", err)
		}

		now := time.Now().UTC()
		action.Status = domain.ActionCompleted
		action.CompletedAt = &now
		if err := repo.SaveAction(ctx, action); err != nil {
			t.Fatalf("re-save failed: %v", err)
		}

		actions, err := repo.ListActions(ctx, "alert-001")
		if err != nil {
			t.Fatalf("ListActions failed: %v", err)
		}
		if len(actions) != 1 {
			t.Fatalf("expected 1 action, got %d", len(actions))
		}
		if actions[0].Status != domain.ActionCompleted {
			t.Errorf("expected COMPLETED, got %s", actions[0].Status)
		}
		if actions[0].CompletedAt == nil {
			t.Error("expected completed_at to be set")
		}
	})

	t.Run("SaveAndGetScoreResult", func(t *testing.T) {
		external := 0.72
		result := &domain.ScoreResult{
			ID:            "result-001",
			TransactionID: "tx-001",
			BaseScore:     0.9,
			ExternalScore: &external,
			FraudScore:    0.81,
			RiskLevel:     domain.RiskHigh,
			Status:        domain.StatusFlagged,
			Signals: []domain.Signal{
				{RuleID: "rule-amount", Kind: domain.RuleAmount, Weight: 1.0, Matched: true},
			},
			AlertID:   "alert-001",
			Timestamp: time.Now().UTC(),
			Metadata:  domain.ScoreMetadata{TraceID: "trace-001", RulesEvaluated: 1},
		}

		if err := repo.SaveScoreResult(ctx, result); err != nil {
			t.Fatalf("SaveScoreResult failed: %v", err)
		}

		retrieved, err := repo.GetScoreResult(ctx, result.ID)
		if err != nil {
			t.Fatalf("GetScoreResult failed: %v", err)
		}
		if retrieved.FraudScore != 0.81 {
			t.Errorf("expected fraud score 0.81, got %.2f", retrieved.FraudScore)
		}
		if retrieved.ExternalScore == nil || *retrieved.ExternalScore != 0.72 {
			t.Errorf("expected external score 0.72, got %v", retrieved.ExternalScore)
		}
		if len(retrieved.Signals) != 1 {
			t.Errorf("expected 1 signal, got %d", len(retrieved.Signals))
		}
	})

	t.Run("GetScoreResultByTransaction", func(t *testing.T) {
		older := &domain.ScoreResult{
			ID:            "result-002",
			TransactionID: "tx-rescore",
			FraudScore:    0.2,
			RiskLevel:     domain.RiskLow,
			Status:        domain.StatusApproved,
			Timestamp:     time.Now().UTC().Add(-time.Hour),
		}
		newer := &domain.ScoreResult{
			ID:            "result-003",
			TransactionID: "tx-rescore",
			FraudScore:    0.9,
			RiskLevel:     domain.RiskHigh,
			Status:        domain.StatusFlagged,
			Timestamp:     time.Now().UTC(),
		}
		for _, result := range []*domain.ScoreResult{older, newer} {
			if err := repo.SaveScoreResult(ctx, result); err != nil {
				t.Fatalf("SaveScoreResult failed: %v", err)
			}
		}

		retrieved, err := repo.GetScoreResultByTransaction(ctx, "tx-rescore")
		if err != nil {
			t.Fatalf("GetScoreResultByTransaction failed: %v", err)
		}
		if retrieved.ID != "result-003" {
			t.Errorf("expected latest result result-003, got %s", retrieved.ID)
		}

		if _, err := repo.GetScoreResultByTransaction(ctx, "tx-never-scored"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("CountryHistogram", func(t *testing.T) {
		for i, country := range []string{"US", "US", "US", "BR"} {
			tx := &domain.Transaction{
				ID:        "tx-geo-" + string(rune('a'+i)),
				UserID:    "user-geo",
				Amount:    50,
				Currency:  "USD",
				Merchant:  "Coffee",
				Country:   country,
				Timestamp: time.Now().UTC(),
				CreatedAt: time.Now().UTC(),
				Status:    domain.StatusApproved,
			}
			if err := repo.SaveTransaction(ctx, tx); err != nil {
				t.Fatalf("SaveTransaction failed: %v", err)
			}
		}

		histogram, err := repo.CountryHistogram(ctx, domain.EntityUser, "user-geo")
		if err != nil {
			t.Fatalf("CountryHistogram failed: %v", err)
		}
		if histogram["US"] != 3 {
			t.Errorf("expected 3 US transactions, got %d", histogram["US"])
		}
		if histogram["BR"] != 1 {
			t.Errorf("expected 1 BR transaction, got %d", histogram["BR"])
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetTransaction(ctx, "nonexistent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetAlert(ctx, "nonexistent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetScoreResult(ctx, "nonexistent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("RequiresID", func(t *testing.T) {
		if err := repo.SaveTransaction(ctx, &domain.Transaction{}); err == nil {
			t.Error("expected error for empty transaction ID")
		}
		if _, err := repo.GetTransaction(ctx, ""); err == nil {
			t.Error("expected error for empty transaction ID")
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
