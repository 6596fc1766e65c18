package domain

import "time"

// AlertStatus is the lifecycle state of a fraud alert.
type AlertStatus string

const (
	AlertOpen          AlertStatus = "OPEN"
	AlertInProgress    AlertStatus = "IN_PROGRESS"
	AlertResolved      AlertStatus = "RESOLVED"
	AlertFalsePositive AlertStatus = "FALSE_POSITIVE"
	AlertEscalated     AlertStatus = "ESCALATED"
)

// IsActive reports whether the alert still needs analyst attention.
func (s AlertStatus) IsActive() bool {
	return s == AlertOpen || s == AlertInProgress || s == AlertEscalated
}

// IsTerminal reports whether the alert has reached a final disposition.
func (s AlertStatus) IsTerminal() bool {
	return s == AlertResolved || s == AlertFalsePositive
}

// AlertSeverity ranks how urgently an alert should be worked.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "LOW"
	SeverityMedium   AlertSeverity = "MEDIUM"
	SeverityHigh     AlertSeverity = "HIGH"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// Level returns the numeric rank of a severity, higher is more urgent.
func (s AlertSeverity) Level() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// FraudAlert is a tracked investigation unit created from a flagged
// transaction. Its lifecycle is independent of the parent transaction:
// resolving an alert never mutates the transaction.
type FraudAlert struct {
	ID            string        `json:"id"`
	TransactionID string        `json:"transactionId"`
	AlertType     string        `json:"alertType"`
	Severity      AlertSeverity `json:"severity"`
	Status        AlertStatus   `json:"status"`
	Reason        string        `json:"reason,omitempty"`

	// ConfidenceScore is the fraud score at alert creation time.
	ConfidenceScore float64 `json:"confidenceScore"`

	// TriggeredRules holds the IDs of every rule that matched. A second
	// qualifying event on the same transaction unions into this list
	// rather than opening a duplicate alert.
	TriggeredRules []string `json:"triggeredRules,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`

	EscalatedBy     string `json:"escalatedBy,omitempty"`
	ResolvedBy      string `json:"resolvedBy,omitempty"`
	ResolutionNotes string `json:"resolutionNotes,omitempty"`
}

// AlertTypeRuleTrigger is the alert type for rule-engine generated alerts.
const AlertTypeRuleTrigger = "RULE_TRIGGER"

// ActionStatus is the sub-state of a remediation action.
type ActionStatus string

const (
	ActionPending   ActionStatus = "PENDING"
	ActionCompleted ActionStatus = "COMPLETED"
	ActionFailed    ActionStatus = "FAILED"
)

// Common remediation action types.
const (
	ActionBlockCard  = "BLOCK_CARD"
	ActionRequire2FA = "REQUIRE_2FA"
	ActionNotifyUser = "NOTIFY_USER"
)

// AlertAction documents one remediation step taken against an alert.
// Actions are append-only and never change the alert's own status.
type AlertAction struct {
	ID          string       `json:"id"`
	AlertID     string       `json:"alertId"`
	ActionType  string       `json:"actionType"`
	Description string       `json:"description,omitempty"`
	Status      ActionStatus `json:"status"`
	CreatedAt   time.Time    `json:"createdAt"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
}
