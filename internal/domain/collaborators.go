package domain

import "context"

// ExternalScorer is the optional ML collaborator. The engine calls it with
// a bounded timeout and proceeds without its probability on error; it never
// blocks the scoring pipeline indefinitely.
type ExternalScorer interface {
	GetScore(ctx context.Context, tx *Transaction) (float64, error)
}

// LocationHistory resolves an entity's historical majority country code.
// Returns ErrNoHistory for entities with no prior transactions.
type LocationHistory interface {
	Lookup(ctx context.Context, entity EntityType, entityID string) (string, error)
}

// RuleStore supplies the active rule set. The rule engine takes a whole
// snapshot per reload so no scoring pass observes a partially updated set.
type RuleStore interface {
	ActiveSnapshot(ctx context.Context) ([]*Rule, error)
}
