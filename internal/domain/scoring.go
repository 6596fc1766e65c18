package domain

import "time"

// RiskLevel is the discrete bucket derived from the continuous fraud score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// FeatureSet holds the temporal and contextual features derived from a raw
// transaction before rule evaluation.
type FeatureSet struct {
	IsWeekend        bool    `json:"isWeekend"`
	IsNightTime      bool    `json:"isNightTime"`
	IsLargeAmount    bool    `json:"isLargeAmount"`
	Amount           float64 `json:"amount"`
	MerchantCategory string  `json:"merchantCategory,omitempty"`
	CountryCode      string  `json:"countryCode,omitempty"`
}

// ScoreResult is the complete outcome of scoring one transaction.
type ScoreResult struct {
	ID            string `json:"id"`
	TransactionID string `json:"transactionId"`

	BaseScore float64 `json:"baseScore"`

	// ExternalScore is the ML collaborator's probability, nil when the
	// collaborator was unavailable and the engine degraded gracefully.
	ExternalScore *float64 `json:"externalScore,omitempty"`

	FraudScore float64           `json:"fraudScore"`
	RiskLevel  RiskLevel         `json:"riskLevel"`
	Status     TransactionStatus `json:"status"`

	Signals []Signal `json:"signals,omitempty"`

	// AlertID references the open alert when the decision created or
	// updated one.
	AlertID string `json:"alertId,omitempty"`

	Timestamp time.Time     `json:"timestamp"`
	Metadata  ScoreMetadata `json:"metadata"`
}

// TriggeredRules returns the IDs of every matched signal.
func (r *ScoreResult) TriggeredRules() []string {
	var ids []string
	for _, s := range r.Signals {
		if s.Matched {
			ids = append(ids, s.RuleID)
		}
	}
	return ids
}

// ScoreMetadata carries processing information for audit and latency
// accounting.
type ScoreMetadata struct {
	TraceID        string `json:"traceId,omitempty"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	RulesMatched   int    `json:"rulesMatched"`
	VelocityMs     int64  `json:"velocityMs"`
	RulesMs        int64  `json:"rulesMs"`
	TotalMs        int64  `json:"totalMs"`
	EngineVersion  string `json:"engineVersion,omitempty"`
}
