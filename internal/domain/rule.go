package domain

import (
	"fmt"
	"time"
)

// RuleKind is the closed set of rule types the engine can evaluate.
// New behaviors are added as new kinds, never by runtime string dispatch.
type RuleKind string

const (
	RuleAmount     RuleKind = "AMOUNT"
	RuleVelocity   RuleKind = "VELOCITY"
	RuleGeography  RuleKind = "GEOGRAPHY"
	RuleExpression RuleKind = "EXPRESSION"
)

// VelocityMetric selects which aggregate a VELOCITY rule compares.
type VelocityMetric string

const (
	MetricCount VelocityMetric = "COUNT"
	MetricSum   VelocityMetric = "SUM"
)

// Window is a named trailing time window.
type Window string

const (
	Window1h  Window = "1h"
	Window24h Window = "24h"
	Window7d  Window = "7d"
)

// Duration returns the window length. Unknown windows return 0.
func (w Window) Duration() time.Duration {
	switch w {
	case Window1h:
		return time.Hour
	case Window24h:
		return 24 * time.Hour
	case Window7d:
		return 7 * 24 * time.Hour
	}
	return 0
}

// Rule is a configured threshold predicate contributing a weighted signal
// to the fraud score. Rules are immutable during a scoring pass; the rule
// engine works against an atomically swapped snapshot.
type Rule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Kind      RuleKind `json:"kind"`
	Threshold float64  `json:"threshold"`
	Weight    float64  `json:"weight"`

	// VELOCITY and GEOGRAPHY rules key on one entity dimension.
	Entity EntityType `json:"entity,omitempty"`

	// VELOCITY only.
	Metric VelocityMetric `json:"metric,omitempty"`
	Window Window         `json:"window,omitempty"`

	// EXPRESSION only: a CEL predicate over the transaction.
	Expression string `json:"expression,omitempty"`

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Validate checks the fields required by the rule's kind.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.Weight < 0 {
		return fmt.Errorf("rule %s: weight must be non-negative", r.ID)
	}
	switch r.Kind {
	case RuleAmount:
		if r.Threshold <= 0 {
			return fmt.Errorf("rule %s: amount threshold must be positive", r.ID)
		}
	case RuleVelocity:
		if r.Window.Duration() == 0 {
			return fmt.Errorf("rule %s: unknown velocity window %q", r.ID, r.Window)
		}
		if r.Metric != MetricCount && r.Metric != MetricSum {
			return fmt.Errorf("rule %s: unknown velocity metric %q", r.ID, r.Metric)
		}
	case RuleGeography:
		// No extra fields beyond the entity dimension.
	case RuleExpression:
		if r.Expression == "" {
			return fmt.Errorf("rule %s: expression is required", r.ID)
		}
	default:
		return fmt.Errorf("rule %s: unknown kind %q", r.ID, r.Kind)
	}
	return nil
}

// Signal is the outcome of evaluating one rule against one transaction.
type Signal struct {
	RuleID   string   `json:"ruleId"`
	RuleName string   `json:"ruleName,omitempty"`
	Kind     RuleKind `json:"kind"`
	Weight   float64  `json:"weight"`
	Matched  bool     `json:"matched"`

	// Value is the observed quantity the rule compared (amount, count,
	// sum). Zero for rules without a numeric observation.
	Value     float64 `json:"value,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}
