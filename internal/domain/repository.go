package domain

import (
	"context"
	"time"
)

// Repository defines the interface for durable persistence. The engine's
// in-memory model stays authoritative for decisions; writes go through a
// write-behind queue and are at-least-once from the engine's perspective.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)

	// Rule configuration operations
	SaveRule(ctx context.Context, rule *Rule) error
	GetRule(ctx context.Context, ruleID string) (*Rule, error)
	ListRules(ctx context.Context) ([]*Rule, error)

	// Alert lifecycle
	SaveAlert(ctx context.Context, alert *FraudAlert) error
	GetAlert(ctx context.Context, alertID string) (*FraudAlert, error)
	GetOpenAlertByTransaction(ctx context.Context, txID string) (*FraudAlert, error)
	ListAlerts(ctx context.Context, status AlertStatus, limit int) ([]*FraudAlert, error)

	// Remediation actions (append-only, plus terminal status updates)
	SaveAction(ctx context.Context, action *AlertAction) error
	GetAction(ctx context.Context, actionID string) (*AlertAction, error)
	ListActions(ctx context.Context, alertID string) ([]*AlertAction, error)

	// Score results
	SaveScoreResult(ctx context.Context, result *ScoreResult) error
	GetScoreResult(ctx context.Context, resultID string) (*ScoreResult, error)
	GetScoreResultByTransaction(ctx context.Context, txID string) (*ScoreResult, error)

	// CountryHistogram returns country code -> transaction count for an
	// entity, used to derive its historical majority location.
	CountryHistogram(ctx context.Context, entity EntityType, entityID string) (map[string]int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
