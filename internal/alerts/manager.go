// Package alerts tracks fraud alert lifecycles and their remediation
// actions.
package alerts

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fraudguard-io/fraudguard/internal/domain"
)

var (
	ErrAlertNotFound  = errors.New("alert not found")
	ErrActionNotFound = errors.New("action not found")
)

// Manager owns the in-flight alert state. It is the authoritative model
// for alert decisions; durable storage is written behind it.
type Manager struct {
	mu sync.RWMutex

	alerts  map[string]*domain.FraudAlert  // by alert ID
	openTx  map[string]string              // transaction ID -> open alert ID
	actions map[string]*domain.AlertAction // by action ID

	now func() time.Time
}

// NewManager creates an empty alert manager.
func NewManager() *Manager {
	return &Manager{
		alerts:  make(map[string]*domain.FraudAlert),
		openTx:  make(map[string]string),
		actions: make(map[string]*domain.AlertAction),
		now:     time.Now,
	}
}

// Create opens an alert for a qualifying decision. It is idempotent per
// transaction: while an alert for the transaction is still active, a
// second qualifying event unions its triggered rules into the existing
// alert instead of opening a duplicate. The check-and-create runs under
// the manager lock, so concurrent duplicate submissions produce exactly
// one alert. Returns the alert and whether this call created it.
func (m *Manager) Create(tx *domain.Transaction, score float64, level domain.RiskLevel, triggeredRules []string, reason string) (*domain.FraudAlert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if alertID, ok := m.openTx[tx.ID]; ok {
		existing := m.alerts[alertID]
		existing.TriggeredRules = unionRules(existing.TriggeredRules, triggeredRules)
		if score > existing.ConfidenceScore {
			existing.ConfidenceScore = score
		}
		existing.UpdatedAt = m.now().UTC()
		return copyAlert(existing), false
	}

	now := m.now().UTC()
	alert := &domain.FraudAlert{
		ID:              uuid.New().String(),
		TransactionID:   tx.ID,
		AlertType:       domain.AlertTypeRuleTrigger,
		Severity:        severityForRisk(level),
		Status:          domain.AlertOpen,
		Reason:          reason,
		ConfidenceScore: score,
		TriggeredRules:  unionRules(nil, triggeredRules),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	m.alerts[alert.ID] = alert
	m.openTx[tx.ID] = alert.ID
	return copyAlert(alert), true
}

// Get returns an alert by ID.
func (m *Manager) Get(alertID string) (*domain.FraudAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	alert, ok := m.alerts[alertID]
	if !ok {
		return nil, ErrAlertNotFound
	}
	return copyAlert(alert), nil
}

// OpenForTransaction returns the transaction's active alert, if any.
func (m *Manager) OpenForTransaction(txID string) (*domain.FraudAlert, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	alertID, ok := m.openTx[txID]
	if !ok {
		return nil, false
	}
	return copyAlert(m.alerts[alertID]), true
}

// StartInvestigation moves an OPEN alert to IN_PROGRESS.
func (m *Manager) StartInvestigation(alertID string) (*domain.FraudAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert, ok := m.alerts[alertID]
	if !ok {
		return nil, ErrAlertNotFound
	}
	if alert.Status != domain.AlertOpen {
		return nil, m.invalidTransition(alert, domain.AlertInProgress)
	}

	alert.Status = domain.AlertInProgress
	alert.UpdatedAt = m.now().UTC()
	return copyAlert(alert), nil
}

// Escalate raises an active alert to ESCALATED and bumps its severity to
// CRITICAL. Escalation is the only path to CRITICAL; scoring never
// produces it automatically.
func (m *Manager) Escalate(alertID string, escalatedBy, notes string) (*domain.FraudAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert, ok := m.alerts[alertID]
	if !ok {
		return nil, ErrAlertNotFound
	}
	if !alert.Status.IsActive() || alert.Status == domain.AlertEscalated {
		return nil, m.invalidTransition(alert, domain.AlertEscalated)
	}

	alert.Status = domain.AlertEscalated
	alert.Severity = domain.SeverityCritical
	alert.EscalatedBy = escalatedBy
	if notes != "" {
		alert.ResolutionNotes = notes
	}
	alert.ResolvedBy = ""
	alert.UpdatedAt = m.now().UTC()
	return copyAlert(alert), nil
}

// Resolve closes an active alert as RESOLVED.
func (m *Manager) Resolve(alertID, resolvedBy, notes string) (*domain.FraudAlert, error) {
	return m.close(alertID, domain.AlertResolved, resolvedBy, notes)
}

// MarkFalsePositive closes an active alert as FALSE_POSITIVE.
func (m *Manager) MarkFalsePositive(alertID, resolvedBy, notes string) (*domain.FraudAlert, error) {
	return m.close(alertID, domain.AlertFalsePositive, resolvedBy, notes)
}

// close is the shared terminal transition. resolvedAt is stamped here and
// only here, so it is set if and only if the alert reaches RESOLVED or
// FALSE_POSITIVE.
func (m *Manager) close(alertID string, terminal domain.AlertStatus, resolvedBy, notes string) (*domain.FraudAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert, ok := m.alerts[alertID]
	if !ok {
		return nil, ErrAlertNotFound
	}
	if !alert.Status.IsActive() {
		return nil, m.invalidTransition(alert, terminal)
	}

	now := m.now().UTC()
	alert.Status = terminal
	alert.ResolvedBy = resolvedBy
	alert.ResolutionNotes = notes
	alert.ResolvedAt = &now
	alert.UpdatedAt = now

	// The transaction may legitimately alert again later.
	delete(m.openTx, alert.TransactionID)

	return copyAlert(alert), nil
}

// RecordAction appends a PENDING remediation action to an alert. Actions
// are append-only and never change the alert's own status.
func (m *Manager) RecordAction(alertID, actionType, description string) (*domain.AlertAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.alerts[alertID]; !ok {
		return nil, ErrAlertNotFound
	}

	action := &domain.AlertAction{
		ID:          uuid.New().String(),
		AlertID:     alertID,
		ActionType:  actionType,
		Description: description,
		Status:      domain.ActionPending,
		CreatedAt:   m.now().UTC(),
	}
	m.actions[action.ID] = action
	return copyAction(action), nil
}

// CompleteAction marks a pending action COMPLETED.
func (m *Manager) CompleteAction(actionID string) (*domain.AlertAction, error) {
	return m.finishAction(actionID, domain.ActionCompleted)
}

// FailAction marks a pending action FAILED.
func (m *Manager) FailAction(actionID string) (*domain.AlertAction, error) {
	return m.finishAction(actionID, domain.ActionFailed)
}

func (m *Manager) finishAction(actionID string, terminal domain.ActionStatus) (*domain.AlertAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	action, ok := m.actions[actionID]
	if !ok {
		return nil, ErrActionNotFound
	}
	if action.Status != domain.ActionPending {
		return nil, &domain.InvalidStateError{
			Entity: "action",
			ID:     actionID,
			From:   string(action.Status),
			To:     string(terminal),
		}
	}

	now := m.now().UTC()
	action.Status = terminal
	action.CompletedAt = &now
	return copyAction(action), nil
}

// ActionsFor returns an alert's actions in creation order.
func (m *Manager) ActionsFor(alertID string) []*domain.AlertAction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.AlertAction
	for _, action := range m.actions {
		if action.AlertID == alertID {
			out = append(out, copyAction(action))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// List returns alerts, optionally filtered by status.
func (m *Manager) List(status domain.AlertStatus) []*domain.FraudAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.FraudAlert
	for _, alert := range m.alerts {
		if status == "" || alert.Status == status {
			out = append(out, copyAlert(alert))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *Manager) invalidTransition(alert *domain.FraudAlert, to domain.AlertStatus) error {
	return &domain.InvalidStateError{
		Entity: "alert",
		ID:     alert.ID,
		From:   string(alert.Status),
		To:     string(to),
	}
}

// severityForRisk maps risk level 1:1 to severity. CRITICAL is reserved
// for analyst escalation.
func severityForRisk(level domain.RiskLevel) domain.AlertSeverity {
	switch level {
	case domain.RiskHigh:
		return domain.SeverityHigh
	case domain.RiskMedium:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// unionRules merges rule ID lists preserving first-seen order.
func unionRules(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, id := range existing {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range incoming {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func copyAlert(a *domain.FraudAlert) *domain.FraudAlert {
	cp := *a
	cp.TriggeredRules = append([]string(nil), a.TriggeredRules...)
	return &cp
}

func copyAction(a *domain.AlertAction) *domain.AlertAction {
	cp := *a
	return &cp
}
