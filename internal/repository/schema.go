package repository

// Schema definitions for the FraudGuard database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    merchant TEXT NOT NULL,
    merchant_category TEXT,
    transaction_type TEXT,
    payment_method TEXT,
    card_last_four TEXT,
    country TEXT,
    ip_address TEXT,
    device_fingerprint TEXT,
    latitude REAL,
    longitude REAL,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    fraud_score REAL NOT NULL DEFAULT 0,
    risk_level TEXT,
    status TEXT NOT NULL,
    processed_at TIMESTAMP,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id);
CREATE INDEX IF NOT EXISTS idx_transactions_device ON transactions(device_fingerprint);
CREATE INDEX IF NOT EXISTS idx_transactions_ip ON transactions(ip_address);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);
CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions(timestamp);
`

// time_window instead of window: WINDOW is reserved in PostgreSQL.
const schemaRules = `
CREATE TABLE IF NOT EXISTS rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    kind TEXT NOT NULL,
    threshold REAL NOT NULL DEFAULT 0,
    weight REAL NOT NULL DEFAULT 1.0,
    entity TEXT,
    metric TEXT,
    time_window TEXT,
    expression TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_enabled ON rules(enabled);
CREATE INDEX IF NOT EXISTS idx_rules_kind ON rules(kind);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS fraud_alerts (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    alert_type TEXT NOT NULL,
    severity TEXT NOT NULL,
    status TEXT NOT NULL,
    reason TEXT,
    confidence_score REAL NOT NULL DEFAULT 0,
    triggered_rules TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    resolved_at TIMESTAMP,
    escalated_by TEXT,
    resolved_by TEXT,
    resolution_notes TEXT
);

CREATE INDEX IF NOT EXISTS idx_alerts_transaction ON fraud_alerts(transaction_id);
CREATE INDEX IF NOT EXISTS idx_alerts_status ON fraud_alerts(status);
CREATE INDEX IF NOT EXISTS idx_alerts_severity ON fraud_alerts(severity);
`

const schemaActions = `
CREATE TABLE IF NOT EXISTS alert_actions (
    id TEXT PRIMARY KEY,
    alert_id TEXT NOT NULL,
    action_type TEXT NOT NULL,
    description TEXT,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_actions_alert ON alert_actions(alert_id);
`

const schemaScoreResults = `
CREATE TABLE IF NOT EXISTS score_results (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    base_score REAL NOT NULL,
    external_score REAL,
    fraud_score REAL NOT NULL,
    risk_level TEXT NOT NULL,
    status TEXT NOT NULL,
    signals TEXT,
    alert_id TEXT,
    timestamp TIMESTAMP NOT NULL,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_score_results_tx ON score_results(transaction_id);
CREATE INDEX IF NOT EXISTS idx_score_results_timestamp ON score_results(timestamp);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaRules,
		schemaAlerts,
		schemaActions,
		schemaScoreResults,
	}
}
