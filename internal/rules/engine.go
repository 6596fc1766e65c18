// Package rules evaluates the active rule snapshot against a transaction's
// features and velocity aggregates, producing weighted signals.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fraudguard-io/fraudguard/internal/domain"
)

// VelocityFunc returns the (count, sum) aggregate for an entity and window.
type VelocityFunc func(ctx context.Context, entity domain.EntityType, entityID string, window domain.Window) (int64, float64)

// Engine evaluates rules against transactions. The active rule set lives
// in an immutable snapshot swapped atomically on reload, so no scoring
// pass ever observes a partially updated rule set.
type Engine struct {
	compiler *celCompiler
	snapshot atomic.Pointer[Snapshot]

	velocity  VelocityFunc
	locations domain.LocationHistory

	maxWorkers int
}

// Snapshot is an immutable view of the active rules.
type Snapshot struct {
	rules       []*compiledRule
	totalWeight float64
}

// compiledRule pairs a rule with its pre-compiled CEL program, which is
// nil for the built-in kinds.
type compiledRule struct {
	rule    *domain.Rule
	program celProgram
}

// NewEngine creates a rule engine. velocity and locations may be nil, in
// which case the corresponding rule kinds degrade to unmatched signals.
func NewEngine(velocity VelocityFunc, locations domain.LocationHistory, maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	compiler, err := newCELCompiler()
	if err != nil {
		return nil, fmt.Errorf("failed to create expression compiler: %w", err)
	}

	e := &Engine{
		compiler:   compiler,
		velocity:   velocity,
		locations:  locations,
		maxWorkers: maxWorkers,
	}
	e.snapshot.Store(&Snapshot{})
	return e, nil
}

// ValidateRule checks a rule without touching the active snapshot.
func (e *Engine) ValidateRule(rule *domain.Rule) error {
	if rule == nil {
		return fmt.Errorf("rule is required")
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.Kind == domain.RuleExpression {
		if _, err := e.compiler.compile(rule); err != nil {
			return err
		}
	}
	return nil
}

// Reload compiles the enabled rules and swaps them in as one snapshot.
// On any error the previous snapshot stays active.
func (e *Engine) Reload(ruleSet []*domain.Rule) error {
	next := &Snapshot{}

	for _, rule := range ruleSet {
		if !rule.Enabled {
			continue
		}
		switch rule.Kind {
		case domain.RuleAmount, domain.RuleVelocity, domain.RuleGeography, domain.RuleExpression:
		default:
			// Unknown kinds are skipped with a warning, never fatal.
			slog.Warn("skipping rule with unsupported kind",
				"rule_id", rule.ID,
				"kind", rule.Kind,
			)
			continue
		}
		if err := rule.Validate(); err != nil {
			return err
		}

		cr := &compiledRule{rule: rule}
		if rule.Kind == domain.RuleExpression {
			program, err := e.compiler.compile(rule)
			if err != nil {
				return err
			}
			cr.program = program
		}

		next.rules = append(next.rules, cr)
		next.totalWeight += rule.Weight
	}

	e.snapshot.Store(next)
	return nil
}

// ReloadFromStore pulls the active rule set from the configuration
// collaborator and swaps it in.
func (e *Engine) ReloadFromStore(ctx context.Context, store domain.RuleStore) error {
	ruleSet, err := store.ActiveSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch rule snapshot: %w", err)
	}
	return e.Reload(ruleSet)
}

// RulesCount returns the number of active rules.
func (e *Engine) RulesCount() int {
	return len(e.snapshot.Load().rules)
}

// TotalWeight returns the sum of all active rule weights. The scorer
// normalizes by this so adding inactive rules never shifts scores.
func (e *Engine) TotalWeight() float64 {
	return e.snapshot.Load().totalWeight
}

// ActiveRules returns the currently active rule configurations.
func (e *Engine) ActiveRules() []*domain.Rule {
	snap := e.snapshot.Load()
	out := make([]*domain.Rule, 0, len(snap.rules))
	for _, cr := range snap.rules {
		out = append(out, cr.rule)
	}
	return out
}

// Evaluate runs every active rule against the transaction. Rules are
// independent and never short-circuit each other, so the result enumerates
// every trigger for explanation. Rule-level collaborator failures degrade
// to unmatched signals; Evaluate itself only fails on a cancelled context.
func (e *Engine) Evaluate(ctx context.Context, tx *domain.Transaction, fs domain.FeatureSet) ([]domain.Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := e.snapshot.Load()
	if len(snap.rules) == 0 {
		return nil, nil
	}

	signals := make([]domain.Signal, len(snap.rules))
	var wg sync.WaitGroup

	sem := make(chan struct{}, e.maxWorkers)

	for i, cr := range snap.rules {
		wg.Add(1)
		go func(idx int, cr *compiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			signals[idx] = e.evaluateRule(ctx, cr, tx, fs)
		}(i, cr)
	}

	wg.Wait()

	return signals, nil
}

func (e *Engine) evaluateRule(ctx context.Context, cr *compiledRule, tx *domain.Transaction, fs domain.FeatureSet) domain.Signal {
	rule := cr.rule
	signal := domain.Signal{
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		Kind:      rule.Kind,
		Weight:    rule.Weight,
		Threshold: rule.Threshold,
	}

	switch rule.Kind {
	case domain.RuleAmount:
		signal.Value = tx.Amount
		signal.Matched = tx.Amount > rule.Threshold
		if signal.Matched {
			signal.Reason = fmt.Sprintf("amount %.2f exceeds threshold %.2f", tx.Amount, rule.Threshold)
		}

	case domain.RuleVelocity:
		e.evaluateVelocity(ctx, rule, tx, &signal)

	case domain.RuleGeography:
		e.evaluateGeography(ctx, rule, tx, &signal)

	case domain.RuleExpression:
		e.evaluateExpression(cr, tx, fs, &signal)

	default:
		// Unknown kinds are skipped with a warning, never fatal.
		slog.Warn("skipping rule with unsupported kind",
			"rule_id", rule.ID,
			"kind", rule.Kind,
		)
	}

	return signal
}

func (e *Engine) evaluateVelocity(ctx context.Context, rule *domain.Rule, tx *domain.Transaction, signal *domain.Signal) {
	if e.velocity == nil {
		signal.Reason = "velocity aggregator unavailable"
		return
	}

	entity := rule.Entity
	if entity == "" {
		entity = domain.EntityUser
	}
	entityID := tx.EntityID(entity)
	if entityID == "" {
		signal.Reason = fmt.Sprintf("transaction has no %s identifier", entity)
		return
	}

	count, sum := e.velocity(ctx, entity, entityID, rule.Window)

	switch rule.Metric {
	case domain.MetricSum:
		signal.Value = sum
	default:
		signal.Value = float64(count)
	}

	signal.Matched = signal.Value > rule.Threshold
	if signal.Matched {
		signal.Reason = fmt.Sprintf("%s velocity %s %.0f exceeds threshold %.0f in %s",
			entity, strings.ToLower(string(rule.Metric)), signal.Value, rule.Threshold, rule.Window)
	}
}

func (e *Engine) evaluateGeography(ctx context.Context, rule *domain.Rule, tx *domain.Transaction, signal *domain.Signal) {
	if e.locations == nil {
		signal.Reason = "location history unavailable"
		return
	}
	if tx.Country == "" {
		signal.Reason = "transaction has no country"
		return
	}

	entity := rule.Entity
	if entity == "" {
		entity = domain.EntityUser
	}
	entityID := tx.EntityID(entity)
	if entityID == "" {
		signal.Reason = fmt.Sprintf("transaction has no %s identifier", entity)
		return
	}

	home, err := e.locations.Lookup(ctx, entity, entityID)
	if errors.Is(err, domain.ErrNoHistory) {
		signal.Reason = "no location history for entity"
		return
	}
	if err != nil {
		// Collaborator-unavailable: skip the signal, keep scoring.
		slog.Warn("location history lookup failed",
			"rule_id", rule.ID,
			"entity", entity,
			"error", err,
		)
		signal.Reason = "location history unavailable"
		return
	}

	signal.Matched = !strings.EqualFold(home, tx.Country)
	if signal.Matched {
		signal.Reason = fmt.Sprintf("country %s differs from historical location %s", tx.Country, home)
	}
}

func (e *Engine) evaluateExpression(cr *compiledRule, tx *domain.Transaction, fs domain.FeatureSet, signal *domain.Signal) {
	start := time.Now()

	matched, err := cr.program.eval(tx, fs)
	if err != nil {
		slog.Warn("expression rule evaluation failed",
			"rule_id", cr.rule.ID,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		signal.Reason = "expression evaluation error"
		return
	}

	signal.Matched = matched
	if matched {
		signal.Reason = fmt.Sprintf("expression %q matched", cr.rule.Expression)
	}
}
