// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fraudguard-io/fraudguard/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a transaction, updating the derived state
// columns when the row already exists. Rescoring and analyst decisions
// re-save the same ID.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.ID == "" {
		return fmt.Errorf("%w: transaction ID is required", ErrInvalidInput)
	}

	metadata, _ := json.Marshal(tx.Metadata)

	query := `
		INSERT INTO transactions (
			id, user_id, amount, currency, merchant, merchant_category,
			transaction_type, payment_method, card_last_four,
			country, ip_address, device_fingerprint, latitude, longitude,
			timestamp, created_at, fraud_score, risk_level, status,
			processed_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			fraud_score = excluded.fraud_score,
			risk_level = excluded.risk_level,
			status = excluded.status,
			processed_at = excluded.processed_at,
			metadata = excluded.metadata
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.UserID, tx.Amount, tx.Currency, tx.Merchant, tx.MerchantCategory,
		tx.TransactionType, tx.PaymentMethod, tx.CardLastFour,
		tx.Country, tx.IPAddress, tx.DeviceFingerprint, tx.Latitude, tx.Longitude,
		tx.Timestamp, tx.CreatedAt, tx.FraudScore, string(tx.RiskLevel), string(tx.Status),
		tx.ProcessedAt, string(metadata),
	)
	return err
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	if txID == "" {
		return nil, fmt.Errorf("%w: transaction ID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, user_id, amount, currency, merchant, merchant_category,
			   transaction_type, payment_method, card_last_four,
			   country, ip_address, device_fingerprint, latitude, longitude,
			   timestamp, created_at, fraud_score, risk_level, status,
			   processed_at, metadata
		FROM transactions
		WHERE id = ?
	`

	var tx domain.Transaction
	var merchantCategory, txType, paymentMethod, cardLastFour sql.NullString
	var country, ipAddress, deviceFingerprint sql.NullString
	var latitude, longitude sql.NullFloat64
	var riskLevel sql.NullString
	var processedAt sql.NullTime
	var metadata sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), txID).Scan(
		&tx.ID, &tx.UserID, &tx.Amount, &tx.Currency, &tx.Merchant, &merchantCategory,
		&txType, &paymentMethod, &cardLastFour,
		&country, &ipAddress, &deviceFingerprint, &latitude, &longitude,
		&tx.Timestamp, &tx.CreatedAt, &tx.FraudScore, &riskLevel, &tx.Status,
		&processedAt, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	tx.MerchantCategory = merchantCategory.String
	tx.TransactionType = txType.String
	tx.PaymentMethod = paymentMethod.String
	tx.CardLastFour = cardLastFour.String
	tx.Country = country.String
	tx.IPAddress = ipAddress.String
	tx.DeviceFingerprint = deviceFingerprint.String
	tx.Latitude = latitude.Float64
	tx.Longitude = longitude.Float64
	tx.RiskLevel = domain.RiskLevel(riskLevel.String)
	if processedAt.Valid {
		t := processedAt.Time
		tx.ProcessedAt = &t
	}
	if metadata.Valid && metadata.String != "" {
		json.Unmarshal([]byte(metadata.String), &tx.Metadata)
	}

	return &tx, nil
}

// SaveRule stores a rule configuration, upserting on ID.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.Rule) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule ID is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()
	createdAt := rule.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
		INSERT INTO rules (
			id, name, description, kind, threshold, weight,
			entity, metric, time_window, expression, enabled,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			kind = excluded.kind,
			threshold = excluded.threshold,
			weight = excluded.weight,
			entity = excluded.entity,
			metric = excluded.metric,
			time_window = excluded.time_window,
			expression = excluded.expression,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, string(rule.Kind), rule.Threshold, rule.Weight,
		string(rule.Entity), string(rule.Metric), string(rule.Window), rule.Expression, enabled,
		createdAt, now,
	)
	return err
}

// GetRule retrieves a rule by ID.
func (r *SQLRepository) GetRule(ctx context.Context, ruleID string) (*domain.Rule, error) {
	if ruleID == "" {
		return nil, fmt.Errorf("%w: rule ID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, name, description, kind, threshold, weight,
			   entity, metric, time_window, expression, enabled,
			   created_at, updated_at
		FROM rules
		WHERE id = ?
	`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListRules retrieves all rule configurations, enabled or not.
func (r *SQLRepository) ListRules(ctx context.Context) ([]*domain.Rule, error) {
	query := `
		SELECT id, name, description, kind, threshold, weight,
			   entity, metric, time_window, expression, enabled,
			   created_at, updated_at
		FROM rules
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ruleSet []*domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		ruleSet = append(ruleSet, rule)
	}

	return ruleSet, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.Rule, error) {
	var rule domain.Rule
	var description, entity, metric, window, expression sql.NullString
	var enabled int

	err := row.Scan(
		&rule.ID, &rule.Name, &description, &rule.Kind, &rule.Threshold, &rule.Weight,
		&entity, &metric, &window, &expression, &enabled,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.Entity = domain.EntityType(entity.String)
	rule.Metric = domain.VelocityMetric(metric.String)
	rule.Window = domain.Window(window.String)
	rule.Expression = expression.String
	rule.Enabled = enabled == 1

	return &rule, nil
}

// SaveAlert stores an alert, updating lifecycle columns on re-save.
func (r *SQLRepository) SaveAlert(ctx context.Context, alert *domain.FraudAlert) error {
	if alert == nil || alert.ID == "" {
		return fmt.Errorf("%w: alert ID is required", ErrInvalidInput)
	}

	triggered, _ := json.Marshal(alert.TriggeredRules)

	query := `
		INSERT INTO fraud_alerts (
			id, transaction_id, alert_type, severity, status, reason,
			confidence_score, triggered_rules, created_at, updated_at,
			resolved_at, escalated_by, resolved_by, resolution_notes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			severity = excluded.severity,
			status = excluded.status,
			confidence_score = excluded.confidence_score,
			triggered_rules = excluded.triggered_rules,
			updated_at = excluded.updated_at,
			resolved_at = excluded.resolved_at,
			escalated_by = excluded.escalated_by,
			resolved_by = excluded.resolved_by,
			resolution_notes = excluded.resolution_notes
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		alert.ID, alert.TransactionID, alert.AlertType, string(alert.Severity),
		string(alert.Status), alert.Reason,
		alert.ConfidenceScore, string(triggered), alert.CreatedAt, alert.UpdatedAt,
		alert.ResolvedAt, alert.EscalatedBy, alert.ResolvedBy, alert.ResolutionNotes,
	)
	return err
}

// GetAlert retrieves an alert by ID.
func (r *SQLRepository) GetAlert(ctx context.Context, alertID string) (*domain.FraudAlert, error) {
	if alertID == "" {
		return nil, fmt.Errorf("%w: alert ID is required", ErrInvalidInput)
	}

	query := alertSelect + ` WHERE id = ?`

	alert, err := scanAlert(r.db.QueryRowContext(ctx, r.rebind(query), alertID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return alert, err
}

// GetOpenAlertByTransaction retrieves the transaction's active alert.
func (r *SQLRepository) GetOpenAlertByTransaction(ctx context.Context, txID string) (*domain.FraudAlert, error) {
	if txID == "" {
		return nil, fmt.Errorf("%w: transaction ID is required", ErrInvalidInput)
	}

	query := alertSelect + `
		WHERE transaction_id = ?
		  AND status IN ('OPEN', 'IN_PROGRESS', 'ESCALATED')
		ORDER BY created_at DESC
		LIMIT 1
	`

	alert, err := scanAlert(r.db.QueryRowContext(ctx, r.rebind(query), txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return alert, err
}

// ListAlerts retrieves alerts, newest first, optionally filtered by
// status. A non-positive limit returns up to 100 rows.
func (r *SQLRepository) ListAlerts(ctx context.Context, status domain.AlertStatus, limit int) ([]*domain.FraudAlert, error) {
	if limit <= 0 {
		limit = 100
	}

	query := alertSelect
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alertList []*domain.FraudAlert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alertList = append(alertList, alert)
	}

	return alertList, rows.Err()
}

const alertSelect = `
	SELECT id, transaction_id, alert_type, severity, status, reason,
		   confidence_score, triggered_rules, created_at, updated_at,
		   resolved_at, escalated_by, resolved_by, resolution_notes
	FROM fraud_alerts`

func scanAlert(row rowScanner) (*domain.FraudAlert, error) {
	var alert domain.FraudAlert
	var reason, triggered, escalatedBy, resolvedBy, resolutionNotes sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(
		&alert.ID, &alert.TransactionID, &alert.AlertType, &alert.Severity,
		&alert.Status, &reason,
		&alert.ConfidenceScore, &triggered, &alert.CreatedAt, &alert.UpdatedAt,
		&resolvedAt, &escalatedBy, &resolvedBy, &resolutionNotes,
	)
	if err != nil {
		return nil, err
	}

	alert.Reason = reason.String
	alert.EscalatedBy = escalatedBy.String
	alert.ResolvedBy = resolvedBy.String
	alert.ResolutionNotes = resolutionNotes.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		alert.ResolvedAt = &t
	}
	if triggered.Valid && triggered.String != "" {
		json.Unmarshal([]byte(triggered.String), &alert.TriggeredRules)
	}

	return &alert, nil
}

// SaveAction stores a remediation action, upserting on ID so terminal
// status updates overwrite the pending row.
func (r *SQLRepository) SaveAction(ctx context.Context, action *domain.AlertAction) error {
	if action == nil || action.ID == "" {
		return fmt.Errorf("%w: action ID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO alert_actions (
			id, alert_id, action_type, description, status, created_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			completed_at = excluded.completed_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		action.ID, action.AlertID, action.ActionType, action.Description,
		string(action.Status), action.CreatedAt, action.CompletedAt,
	)
	return err
}

// GetAction retrieves an action by ID.
func (r *SQLRepository) GetAction(ctx context.Context, actionID string) (*domain.AlertAction, error) {
	if actionID == "" {
		return nil, fmt.Errorf("%w: action ID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, alert_id, action_type, description, status, created_at, completed_at
		FROM alert_actions
		WHERE id = ?
	`

	action, err := scanAction(r.db.QueryRowContext(ctx, r.rebind(query), actionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return action, err
}

// ListActions retrieves an alert's actions in creation order.
func (r *SQLRepository) ListActions(ctx context.Context, alertID string) ([]*domain.AlertAction, error) {
	if alertID == "" {
		return nil, fmt.Errorf("%w: alert ID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, alert_id, action_type, description, status, created_at, completed_at
		FROM alert_actions
		WHERE alert_id = ?
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []*domain.AlertAction
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}

	return actions, rows.Err()
}

func scanAction(row rowScanner) (*domain.AlertAction, error) {
	var action domain.AlertAction
	var description sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&action.ID, &action.AlertID, &action.ActionType, &description,
		&action.Status, &action.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	action.Description = description.String
	if completedAt.Valid {
		t := completedAt.Time
		action.CompletedAt = &t
	}

	return &action, nil
}

// SaveScoreResult stores a scoring outcome.
func (r *SQLRepository) SaveScoreResult(ctx context.Context, result *domain.ScoreResult) error {
	if result == nil || result.ID == "" {
		return fmt.Errorf("%w: result ID is required", ErrInvalidInput)
	}

	signals, _ := json.Marshal(result.Signals)
	metadata, _ := json.Marshal(result.Metadata)

	query := `
		INSERT INTO score_results (
			id, transaction_id, base_score, external_score, fraud_score,
			risk_level, status, signals, alert_id, timestamp, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		result.ID, result.TransactionID, result.BaseScore, result.ExternalScore,
		result.FraudScore, string(result.RiskLevel), string(result.Status),
		string(signals), result.AlertID, result.Timestamp, string(metadata),
	)
	return err
}

const scoreResultSelect = `
	SELECT id, transaction_id, base_score, external_score, fraud_score,
		   risk_level, status, signals, alert_id, timestamp, metadata
	FROM score_results
`

// GetScoreResult retrieves a scoring outcome by ID.
func (r *SQLRepository) GetScoreResult(ctx context.Context, resultID string) (*domain.ScoreResult, error) {
	if resultID == "" {
		return nil, fmt.Errorf("%w: result ID is required", ErrInvalidInput)
	}

	query := scoreResultSelect + `WHERE id = ?`
	return scanScoreResult(r.db.QueryRowContext(ctx, r.rebind(query), resultID))
}

// GetScoreResultByTransaction retrieves the latest scoring outcome for a
// transaction. Re-submissions produce multiple rows; the newest one wins.
func (r *SQLRepository) GetScoreResultByTransaction(ctx context.Context, txID string) (*domain.ScoreResult, error) {
	if txID == "" {
		return nil, fmt.Errorf("%w: transaction ID is required", ErrInvalidInput)
	}

	query := scoreResultSelect + `
		WHERE transaction_id = ?
		ORDER BY timestamp DESC
		LIMIT 1
	`
	return scanScoreResult(r.db.QueryRowContext(ctx, r.rebind(query), txID))
}

func scanScoreResult(row rowScanner) (*domain.ScoreResult, error) {
	var result domain.ScoreResult
	var externalScore sql.NullFloat64
	var signals, alertID, metadata sql.NullString

	err := row.Scan(
		&result.ID, &result.TransactionID, &result.BaseScore, &externalScore,
		&result.FraudScore, &result.RiskLevel, &result.Status,
		&signals, &alertID, &result.Timestamp, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if externalScore.Valid {
		v := externalScore.Float64
		result.ExternalScore = &v
	}
	result.AlertID = alertID.String
	if signals.Valid && signals.String != "" {
		json.Unmarshal([]byte(signals.String), &result.Signals)
	}
	if metadata.Valid && metadata.String != "" {
		json.Unmarshal([]byte(metadata.String), &result.Metadata)
	}

	return &result, nil
}

// CountryHistogram returns country code -> transaction count for an
// entity. Rows without a country are excluded.
func (r *SQLRepository) CountryHistogram(ctx context.Context, entity domain.EntityType, entityID string) (map[string]int64, error) {
	if entityID == "" {
		return nil, fmt.Errorf("%w: entity ID is required", ErrInvalidInput)
	}

	// Column chosen from a closed set; entity never reaches the SQL text.
	var column string
	switch entity {
	case domain.EntityUser:
		column = "user_id"
	case domain.EntityDevice:
		column = "device_fingerprint"
	case domain.EntityIP:
		column = "ip_address"
	default:
		return nil, fmt.Errorf("%w: unknown entity type %q", ErrInvalidInput, entity)
	}

	query := `
		SELECT country, COUNT(*)
		FROM transactions
		WHERE ` + column + ` = ?
		  AND country IS NOT NULL AND country != ''
		GROUP BY country
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	histogram := make(map[string]int64)
	for rows.Next() {
		var country string
		var count int64
		if err := rows.Scan(&country, &count); err != nil {
			return nil, err
		}
		histogram[country] = count
	}

	return histogram, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
