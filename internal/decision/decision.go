// Package decision maps risk levels to transaction statuses and enforces
// the transaction lifecycle state machine.
package decision

import (
	"time"

	"github.com/fraudguard-io/fraudguard/internal/domain"
)

// StateMachine is the only component allowed to mutate a transaction's
// derived state (score, risk level, status, processed timestamp).
type StateMachine struct {
	now func() time.Time
}

// NewStateMachine creates a state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{now: time.Now}
}

// Decide maps a risk level to the status a fresh scoring pass assigns.
// MEDIUM is deliberately held for human review rather than auto-approved:
// it bounds false-negative exposure at the cost of review latency.
func (m *StateMachine) Decide(level domain.RiskLevel) domain.TransactionStatus {
	switch level {
	case domain.RiskLow:
		return domain.StatusApproved
	case domain.RiskMedium:
		return domain.StatusUnderReview
	case domain.RiskHigh:
		return domain.StatusFlagged
	}
	return domain.StatusUnderReview
}

// Apply stamps the scoring outcome onto the transaction and transitions
// its status. Returns an InvalidStateError if the transaction is not in a
// state the decision may move.
func (m *StateMachine) Apply(tx *domain.Transaction, score float64, level domain.RiskLevel) error {
	next := m.Decide(level)
	if err := m.Transition(tx, next); err != nil {
		return err
	}

	tx.FraudScore = score
	tx.RiskLevel = level
	processed := m.now().UTC()
	tx.ProcessedAt = &processed
	return nil
}

// Transition moves the transaction to next if the lifecycle allows it.
// Transitions out of a terminal state are always rejected; re-scoring an
// already decided transaction is a caller bug, not a silent no-op.
func (m *StateMachine) Transition(tx *domain.Transaction, next domain.TransactionStatus) error {
	if !tx.Status.CanTransitionTo(next) {
		return &domain.InvalidStateError{
			Entity: "transaction",
			ID:     tx.ID,
			From:   string(tx.Status),
			To:     string(next),
		}
	}
	tx.Status = next
	return nil
}
