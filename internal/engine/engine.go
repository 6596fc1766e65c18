// Package engine wires feature extraction, rule evaluation, velocity
// tracking, scoring and alerting into the transaction scoring pipeline.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fraudguard-io/fraudguard/internal/alerts"
	"github.com/fraudguard-io/fraudguard/internal/decision"
	"github.com/fraudguard-io/fraudguard/internal/domain"
	"github.com/fraudguard-io/fraudguard/internal/features"
	"github.com/fraudguard-io/fraudguard/internal/repository"
	"github.com/fraudguard-io/fraudguard/internal/rules"
	"github.com/fraudguard-io/fraudguard/internal/scoring"
	"github.com/fraudguard-io/fraudguard/internal/velocity"
)

const engineVersion = "fraudguard-1.0"

var tracer = otel.Tracer("fraudguard-engine")

// Engine is the synchronous scoring pipeline. One call to Score takes a
// transaction from raw intake to a final status, updating velocity state
// and the alert book along the way.
type Engine struct {
	extractor *features.Extractor
	velocity  *velocity.Aggregator
	rules     *rules.Engine
	scorer    *scoring.Scorer
	decisions *decision.StateMachine
	alerts    *alerts.Manager

	repo domain.Repository
	bus  domain.EventBus

	writes sync.WaitGroup
	now    func() time.Time
}

// Options configures a new Engine. Repository and Bus are optional;
// without them the engine scores in memory only. Persistence is
// write-behind: the in-memory decision is authoritative and storage
// trails it without adding to scoring latency.
type Options struct {
	Config     domain.EngineConfig
	External   domain.ExternalScorer
	Locations  domain.LocationHistory
	Repository domain.Repository
	Bus        domain.EventBus
}

// New builds the pipeline. The velocity aggregator is created here so
// that rule evaluation and recording share the same window state.
func New(opts Options) (*Engine, error) {
	agg := velocity.NewAggregator()

	ruleEngine, err := rules.NewEngine(agg.Getter(), opts.Locations, opts.Config.MaxWorkers)
	if err != nil {
		return nil, fmt.Errorf("failed to create rule engine: %w", err)
	}

	return &Engine{
		extractor: features.NewExtractor(opts.Config.LargeAmountThreshold),
		velocity:  agg,
		rules:     ruleEngine,
		scorer:    scoring.NewScorer(opts.External, opts.Config),
		decisions: decision.NewStateMachine(),
		alerts:    alerts.NewManager(),
		repo:      opts.Repository,
		bus:       opts.Bus,
		now:       time.Now,
	}, nil
}

// Rules exposes the rule engine for reloads and rule management.
func (e *Engine) Rules() *rules.Engine { return e.rules }

// Alerts exposes the alert manager for lifecycle operations.
func (e *Engine) Alerts() *alerts.Manager { return e.alerts }

// Velocity exposes the aggregator for diagnostics.
func (e *Engine) Velocity() *velocity.Aggregator { return e.velocity }

// Drain blocks until all write-behind persistence from completed scoring
// calls has finished. Called on shutdown so no decision is lost.
func (e *Engine) Drain() { e.writes.Wait() }

// Score runs the full pipeline for one transaction. Rule evaluation sees
// the velocity state as it was before this transaction; the transaction
// is folded into the windows afterwards, so a burst of submissions raises
// the velocity signal for the next one, not for itself.
func (e *Engine) Score(ctx context.Context, tx *domain.Transaction) (*domain.ScoreResult, error) {
	start := e.now()

	if err := validate(tx); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "engine.score",
		trace.WithAttributes(
			attribute.String("tx.id", tx.ID),
			attribute.String("tx.user_id", tx.UserID),
			attribute.Float64("tx.amount", tx.Amount),
		),
	)
	defer span.End()

	traceID := span.SpanContext().TraceID().String()
	if !span.SpanContext().TraceID().IsValid() {
		traceID = uuid.New().String()
	}

	if tx.Status == "" {
		tx.Status = domain.StatusPending
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = start.UTC()
	}

	// 1. Derive features.
	fs := e.extractor.Extract(tx, start)

	// 2. Evaluate rules against the windows as they stood before this
	// transaction.
	rulesStart := e.now()
	signals, err := e.rules.Evaluate(ctx, tx, fs)
	if err != nil {
		return nil, fmt.Errorf("rule evaluation failed: %w", err)
	}
	rulesMs := e.now().Sub(rulesStart).Milliseconds()

	// 3. Fold the transaction into the velocity windows.
	velocityStart := e.now()
	if err := e.recordVelocity(ctx, tx); err != nil {
		return nil, fmt.Errorf("velocity update failed: %w", err)
	}
	velocityMs := e.now().Sub(velocityStart).Milliseconds()

	// 4. Score and bucket.
	outcome := e.scorer.Score(ctx, tx, signals, e.rules.TotalWeight())

	// 5. Apply the decision to the transaction lifecycle.
	if err := e.decisions.Apply(tx, outcome.FraudScore, outcome.RiskLevel); err != nil {
		return nil, err
	}

	result := &domain.ScoreResult{
		ID:            uuid.New().String(),
		TransactionID: tx.ID,
		BaseScore:     outcome.BaseScore,
		ExternalScore: outcome.ExternalScore,
		FraudScore:    outcome.FraudScore,
		RiskLevel:     outcome.RiskLevel,
		Status:        tx.Status,
		Signals:       signals,
		Timestamp:     e.now().UTC(),
	}

	// 6. High risk opens (or refreshes) the transaction's alert. The
	// in-memory alert book is authoritative; storage trails behind.
	var pendingAlert *domain.FraudAlert
	var alertCreated bool
	if outcome.RiskLevel == domain.RiskHigh {
		triggered := result.TriggeredRules()
		pendingAlert, alertCreated = e.alerts.Create(tx, outcome.FraudScore, outcome.RiskLevel, triggered, alertReason(signals))
		result.AlertID = pendingAlert.ID
	}

	result.Metadata = domain.ScoreMetadata{
		TraceID:        traceID,
		RulesEvaluated: len(signals),
		RulesMatched:   matchedCount(signals),
		VelocityMs:     velocityMs,
		RulesMs:        rulesMs,
		TotalMs:        e.now().Sub(start).Milliseconds(),
		EngineVersion:  engineVersion,
	}

	// 7. Write-behind persistence and event publication. Storage and the
	// bus never add to scoring latency; caller cancellation does not
	// abandon a decision that was already made.
	writeCtx := context.WithoutCancel(ctx)
	e.writes.Add(1)
	go func() {
		defer e.writes.Done()
		if pendingAlert != nil {
			e.persistAlert(writeCtx, pendingAlert, alertCreated)
		}
		e.persistResult(writeCtx, tx, result)
		e.publishScored(writeCtx, result)
	}()

	slog.Info("transaction scored",
		"tx_id", tx.ID,
		"user_id", tx.UserID,
		"fraud_score", result.FraudScore,
		"risk_level", result.RiskLevel,
		"status", result.Status,
		"rules_matched", result.Metadata.RulesMatched,
		"alert_id", result.AlertID,
		"duration_ms", result.Metadata.TotalMs,
	)

	return result, nil
}

// recordVelocity folds the transaction into every entity dimension that
// is present on it.
func (e *Engine) recordVelocity(ctx context.Context, tx *domain.Transaction) error {
	ts := tx.Timestamp
	if ts.IsZero() {
		ts = e.now().UTC()
	}

	for _, entity := range []domain.EntityType{domain.EntityUser, domain.EntityDevice, domain.EntityIP} {
		id := tx.EntityID(entity)
		if id == "" {
			continue
		}
		key := velocity.Key{Entity: entity, ID: id}
		if err := e.velocity.Record(ctx, key, tx.Amount, ts); err != nil {
			return err
		}
	}
	return nil
}

// persistAlert writes the alert behind the decision. Storage failures are
// logged and do not fail the scoring call.
func (e *Engine) persistAlert(ctx context.Context, alert *domain.FraudAlert, created bool) {
	if e.repo != nil {
		if err := e.repo.SaveAlert(ctx, alert); err != nil {
			slog.Error("failed to save alert",
				"alert_id", alert.ID,
				"tx_id", alert.TransactionID,
				"error", err,
			)
		}
	}
	if e.bus != nil && created {
		payload, _ := json.Marshal(alert)
		if err := e.bus.Publish(ctx, domain.TopicAlertCreated, payload); err != nil {
			slog.Error("failed to publish alert",
				"alert_id", alert.ID,
				"error", err,
			)
		}
	}
}

func (e *Engine) persistResult(ctx context.Context, tx *domain.Transaction, result *domain.ScoreResult) {
	if e.repo == nil {
		return
	}
	if err := e.repo.SaveTransaction(ctx, tx); err != nil {
		slog.Error("failed to save transaction",
			"tx_id", tx.ID,
			"error", err,
		)
	}
	if err := e.repo.SaveScoreResult(ctx, result); err != nil {
		slog.Error("failed to save score result",
			"tx_id", tx.ID,
			"result_id", result.ID,
			"error", err,
		)
	}
}

func (e *Engine) publishScored(ctx context.Context, result *domain.ScoreResult) {
	if e.bus == nil {
		return
	}
	payload, _ := json.Marshal(result)
	if err := e.bus.Publish(ctx, domain.TopicTransactionScored, payload); err != nil {
		slog.Error("failed to publish score result",
			"tx_id", result.TransactionID,
			"error", err,
		)
	}
}

func validate(tx *domain.Transaction) error {
	if tx == nil {
		return fmt.Errorf("%w: transaction is required", repository.ErrInvalidInput)
	}
	if tx.ID == "" {
		return fmt.Errorf("%w: transaction ID is required", repository.ErrInvalidInput)
	}
	if tx.UserID == "" {
		return fmt.Errorf("%w: user ID is required", repository.ErrInvalidInput)
	}
	if tx.Amount < 0 {
		return fmt.Errorf("%w: amount must not be negative", repository.ErrInvalidInput)
	}
	return nil
}

func matchedCount(signals []domain.Signal) int {
	n := 0
	for _, s := range signals {
		if s.Matched {
			n++
		}
	}
	return n
}

// alertReason builds a short human-readable summary from matched signals.
func alertReason(signals []domain.Signal) string {
	var names []string
	for _, s := range signals {
		if s.Matched {
			names = append(names, s.RuleName)
		}
	}
	if len(names) == 0 {
		return "high fraud score"
	}
	return "triggered rules: " + strings.Join(names, ", ")
}
