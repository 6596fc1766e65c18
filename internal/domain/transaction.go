// Package domain defines the core interfaces and types for FraudGuard.
package domain

import (
	"time"
)

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	StatusPending     TransactionStatus = "PENDING"
	StatusApproved    TransactionStatus = "APPROVED"
	StatusFlagged     TransactionStatus = "FLAGGED"
	StatusUnderReview TransactionStatus = "UNDER_REVIEW"
	StatusRejected    TransactionStatus = "REJECTED"
	StatusCancelled   TransactionStatus = "CANCELLED"
	StatusTimeout     TransactionStatus = "TIMEOUT"
	StatusFailed      TransactionStatus = "FAILED"
)

// statusTransitions encodes every legal status transition. CANCELLED,
// TIMEOUT and FAILED are operational outcomes reachable from PENDING only.
var statusTransitions = map[TransactionStatus][]TransactionStatus{
	StatusPending: {
		StatusApproved, StatusFlagged, StatusUnderReview, StatusRejected,
		StatusCancelled, StatusTimeout, StatusFailed,
	},
	StatusFlagged:     {StatusApproved, StatusRejected},
	StatusUnderReview: {StatusApproved, StatusRejected},
}

// IsTerminal reports whether no further transition is allowed.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusCancelled, StatusTimeout, StatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving to next is legal.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// EntityType identifies which transaction dimension a velocity or
// geography key refers to.
type EntityType string

const (
	EntityUser   EntityType = "user"
	EntityDevice EntityType = "device"
	EntityIP     EntityType = "ip"
)

// Transaction represents an incoming transaction to be scored.
// The identifying fields are immutable after ingestion; only the derived
// state (FraudScore, RiskLevel, Status, ProcessedAt) is ever mutated, and
// only by the decision state machine.
type Transaction struct {
	// Core identifiers
	ID     string `json:"id"`
	UserID string `json:"userId"`

	// Financial details
	Amount           float64 `json:"amount"`
	Currency         string  `json:"currency"`
	Merchant         string  `json:"merchant"`
	MerchantCategory string  `json:"merchantCategory,omitempty"`
	TransactionType  string  `json:"transactionType,omitempty"`
	PaymentMethod    string  `json:"paymentMethod,omitempty"`
	CardLastFour     string  `json:"cardLastFour,omitempty"`

	// Context
	Country           string  `json:"country,omitempty"`
	IPAddress         string  `json:"ipAddress,omitempty"`
	DeviceFingerprint string  `json:"deviceFingerprint,omitempty"`
	Latitude          float64 `json:"latitude,omitempty"`
	Longitude         float64 `json:"longitude,omitempty"`

	// Temporal
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`

	// Derived state, owned by the decision state machine
	FraudScore  float64           `json:"fraudScore"`
	RiskLevel   RiskLevel         `json:"riskLevel,omitempty"`
	Status      TransactionStatus `json:"status"`
	ProcessedAt *time.Time        `json:"processedAt,omitempty"`

	// Optional metadata
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// EntityID returns the transaction's identifier for the given entity
// dimension, or empty when the transaction carries no such field.
func (t *Transaction) EntityID(entity EntityType) string {
	switch entity {
	case EntityUser:
		return t.UserID
	case EntityDevice:
		return t.DeviceFingerprint
	case EntityIP:
		return t.IPAddress
	}
	return ""
}

// IsFlagged reports whether the transaction is blocked pending investigation.
func (t *Transaction) IsFlagged() bool {
	return t.Status == StatusFlagged
}
