package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fraudguard-io/fraudguard/internal/alerts"
	"github.com/fraudguard-io/fraudguard/internal/domain"
	"github.com/fraudguard-io/fraudguard/internal/engine"
	"github.com/fraudguard-io/fraudguard/internal/repository"
	"github.com/fraudguard-io/fraudguard/internal/rules"
)

// scoreCacheTTL bounds how long a cached score result serves reads before
// falling back to the repository.
const scoreCacheTTL = 5 * time.Minute

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	engine  *engine.Engine
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		engine:  eng,
		version: version,
	}
}

// scoreResultCache is the optional fast path every cache implementation in
// internal/cache provides on top of domain.Cache.
type scoreResultCache interface {
	GetScoreResult(ctx context.Context, txID string) (*domain.ScoreResult, error)
	SetScoreResult(ctx context.Context, txID string, result *domain.ScoreResult, ttl time.Duration) error
}

// TransactionRequest is the request body for POST /transactions.
type TransactionRequest struct {
	ID                string                 `json:"id,omitempty"`
	UserID            string                 `json:"userId"`
	Amount            float64                `json:"amount"`
	Currency          string                 `json:"currency"`
	Merchant          string                 `json:"merchant"`
	MerchantCategory  string                 `json:"merchantCategory,omitempty"`
	TransactionType   string                 `json:"transactionType,omitempty"`
	PaymentMethod     string                 `json:"paymentMethod,omitempty"`
	CardLastFour      string                 `json:"cardLastFour,omitempty"`
	Country           string                 `json:"country,omitempty"`
	IPAddress         string                 `json:"ipAddress,omitempty"`
	DeviceFingerprint string                 `json:"deviceFingerprint,omitempty"`
	Latitude          float64                `json:"latitude,omitempty"`
	Longitude         float64                `json:"longitude,omitempty"`
	Timestamp         time.Time              `json:"timestamp,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// ScoreTransaction handles POST /transactions: it scores the transaction
// synchronously and returns the full score result.
func (h *Handler) ScoreTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "userId is required",
		})
		return
	}
	if req.Amount < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must not be negative",
		})
		return
	}

	txID := req.ID
	if txID == "" {
		txID = uuid.New().String()
	}
	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	tx := &domain.Transaction{
		ID:                txID,
		UserID:            req.UserID,
		Amount:            req.Amount,
		Currency:          req.Currency,
		Merchant:          req.Merchant,
		MerchantCategory:  req.MerchantCategory,
		TransactionType:   req.TransactionType,
		PaymentMethod:     req.PaymentMethod,
		CardLastFour:      req.CardLastFour,
		Country:           req.Country,
		IPAddress:         req.IPAddress,
		DeviceFingerprint: req.DeviceFingerprint,
		Latitude:          req.Latitude,
		Longitude:         req.Longitude,
		Timestamp:         ts,
		Metadata:          req.Metadata,
	}

	result, err := h.engine.Score(ctx, tx)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrInvalidInput):
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
		case domain.IsInvalidState(err):
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": err.Error(),
			})
		default:
			slog.Error("scoring failed", "tx_id", txID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "scoring failed",
			})
		}
		return
	}

	if src, ok := h.cache.(scoreResultCache); ok {
		if err := src.SetScoreResult(ctx, tx.ID, result, scoreCacheTTL); err != nil {
			slog.Warn("failed to cache score result", "tx_id", tx.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, result)
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	tx, err := h.repo.GetTransaction(ctx, txID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get transaction", "id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get transaction",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// GetTransactionScore retrieves the latest score result for a transaction,
// serving from cache when possible.
func (h *Handler) GetTransactionScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	src, hasCache := h.cache.(scoreResultCache)
	if hasCache {
		result, err := src.GetScoreResult(ctx, txID)
		if err != nil {
			slog.Warn("score result cache read failed", "tx_id", txID, "error", err)
		} else if result != nil {
			writeJSON(w, http.StatusOK, result)
			return
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	result, err := h.repo.GetScoreResultByTransaction(ctx, txID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "score result not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get score result", "tx_id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get score result",
		})
		return
	}

	if hasCache {
		if err := src.SetScoreResult(ctx, txID, result, scoreCacheTTL); err != nil {
			slog.Warn("failed to cache score result", "tx_id", txID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, result)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check event bus health
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ============================================================================
// ALERT HANDLERS
// ============================================================================

// ListAlerts returns alerts, optionally filtered by ?status=.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	status := domain.AlertStatus(r.URL.Query().Get("status"))

	list := h.engine.Alerts().List(status)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": list,
		"count":  len(list),
	})
}

// GetAlert retrieves an alert by ID, falling back to the repository for
// alerts that predate the current process.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	alertID := chi.URLParam(r, "id")

	if alertID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "alert id is required",
		})
		return
	}

	alert, err := h.engine.Alerts().Get(alertID)
	if errors.Is(err, alerts.ErrAlertNotFound) && h.repo != nil {
		alert, err = h.repo.GetAlert(ctx, alertID)
	}
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "alert not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

// AlertResolutionRequest is the request body for alert disposition endpoints.
type AlertResolutionRequest struct {
	ResolvedBy string `json:"resolvedBy"`
	Notes      string `json:"notes,omitempty"`
}

// StartInvestigation moves an OPEN alert to IN_PROGRESS.
func (h *Handler) StartInvestigation(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "id")

	alert, err := h.engine.Alerts().StartInvestigation(alertID)
	if err != nil {
		h.writeAlertError(w, err)
		return
	}

	h.persistAlert(r.Context(), alert)
	writeJSON(w, http.StatusOK, alert)
}

// AlertEscalationRequest is the request body for alert escalation.
type AlertEscalationRequest struct {
	EscalatedBy string `json:"escalatedBy"`
	Notes       string `json:"notes,omitempty"`
}

// EscalateAlert escalates an active alert and raises it to CRITICAL.
func (h *Handler) EscalateAlert(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "id")

	var req AlertEscalationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	alert, err := h.engine.Alerts().Escalate(alertID, req.EscalatedBy, req.Notes)
	if err != nil {
		h.writeAlertError(w, err)
		return
	}

	h.persistAlert(r.Context(), alert)
	slog.Info("alert escalated", "alert_id", alertID, "by", req.EscalatedBy)
	writeJSON(w, http.StatusOK, alert)
}

// ResolveAlert closes an alert as confirmed and handled.
func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	h.closeAlert(w, r, domain.AlertResolved)
}

// MarkFalsePositive closes an alert as a false positive.
func (h *Handler) MarkFalsePositive(w http.ResponseWriter, r *http.Request) {
	h.closeAlert(w, r, domain.AlertFalsePositive)
}

func (h *Handler) closeAlert(w http.ResponseWriter, r *http.Request, disposition domain.AlertStatus) {
	ctx := r.Context()
	alertID := chi.URLParam(r, "id")

	var req AlertResolutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.ResolvedBy == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "resolvedBy is required",
		})
		return
	}

	var alert *domain.FraudAlert
	var err error
	if disposition == domain.AlertFalsePositive {
		alert, err = h.engine.Alerts().MarkFalsePositive(alertID, req.ResolvedBy, req.Notes)
	} else {
		alert, err = h.engine.Alerts().Resolve(alertID, req.ResolvedBy, req.Notes)
	}
	if err != nil {
		h.writeAlertError(w, err)
		return
	}

	h.persistAlert(ctx, alert)

	if h.bus != nil {
		payload, _ := json.Marshal(alert)
		if err := h.bus.Publish(ctx, domain.TopicAlertResolved, payload); err != nil {
			slog.Error("failed to publish alert resolution", "alert_id", alertID, "error", err)
		}
	}

	slog.Info("alert closed",
		"alert_id", alertID,
		"status", alert.Status,
		"by", req.ResolvedBy,
	)
	writeJSON(w, http.StatusOK, alert)
}

// ActionRequest is the request body for recording a remediation action.
type ActionRequest struct {
	ActionType  string `json:"actionType"`
	Description string `json:"description,omitempty"`
}

// RecordAction appends a remediation action to an alert.
func (h *Handler) RecordAction(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "id")

	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.ActionType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "actionType is required",
		})
		return
	}

	action, err := h.engine.Alerts().RecordAction(alertID, req.ActionType, req.Description)
	if err != nil {
		h.writeAlertError(w, err)
		return
	}

	h.persistAction(r.Context(), action)
	writeJSON(w, http.StatusCreated, action)
}

// ListActions returns the remediation actions recorded against an alert.
func (h *Handler) ListActions(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "id")

	if _, err := h.engine.Alerts().Get(alertID); err != nil {
		h.writeAlertError(w, err)
		return
	}

	actions := h.engine.Alerts().ActionsFor(alertID)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"actions": actions,
		"count":   len(actions),
	})
}

// CompleteAction marks a pending remediation action as completed.
func (h *Handler) CompleteAction(w http.ResponseWriter, r *http.Request) {
	h.finishAction(w, r, true)
}

// FailAction marks a pending remediation action as failed.
func (h *Handler) FailAction(w http.ResponseWriter, r *http.Request) {
	h.finishAction(w, r, false)
}

func (h *Handler) finishAction(w http.ResponseWriter, r *http.Request, completed bool) {
	actionID := chi.URLParam(r, "id")

	var action *domain.AlertAction
	var err error
	if completed {
		action, err = h.engine.Alerts().CompleteAction(actionID)
	} else {
		action, err = h.engine.Alerts().FailAction(actionID)
	}
	if err != nil {
		h.writeAlertError(w, err)
		return
	}

	h.persistAction(r.Context(), action)
	writeJSON(w, http.StatusOK, action)
}

// writeAlertError maps alert manager errors to HTTP statuses.
func (h *Handler) writeAlertError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, alerts.ErrAlertNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "alert not found",
		})
	case errors.Is(err, alerts.ErrActionNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "action not found",
		})
	case domain.IsInvalidState(err):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": err.Error(),
		})
	default:
		slog.Error("alert operation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "alert operation failed",
		})
	}
}

// persistAlert writes the alert behind the lifecycle change. Storage
// failures are logged and do not fail the request.
func (h *Handler) persistAlert(ctx context.Context, alert *domain.FraudAlert) {
	if h.repo == nil {
		return
	}
	if err := h.repo.SaveAlert(ctx, alert); err != nil {
		slog.Error("failed to save alert", "alert_id", alert.ID, "error", err)
	}
}

func (h *Handler) persistAction(ctx context.Context, action *domain.AlertAction) {
	if h.repo == nil {
		return
	}
	if err := h.repo.SaveAction(ctx, action); err != nil {
		slog.Error("failed to save action", "action_id", action.ID, "error", err)
	}
}

// ============================================================================
// RULE HANDLERS
// ============================================================================

// ListRules returns all rules active in the engine.
// Rules are loaded from the database at startup and can be reloaded via POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	active := h.engine.Rules().ActiveRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  active,
		"count":  len(active),
		"source": "database",
	})
}

// GetRule retrieves a rule by ID from the active engine rules.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	for _, rule := range h.engine.Rules().ActiveRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	Kind        domain.RuleKind       `json:"kind"`
	Threshold   float64               `json:"threshold"`
	Weight      float64               `json:"weight"`
	Entity      domain.EntityType     `json:"entity,omitempty"`
	Metric      domain.VelocityMetric `json:"metric,omitempty"`
	Window      domain.Window         `json:"window,omitempty"`
	Expression  string                `json:"expression,omitempty"`
	Enabled     bool                  `json:"enabled"`
}

// CreateRule validates and saves a new rule to the database.
// After saving, call POST /rules/reload to hot-reload into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id and name are required",
		})
		return
	}

	now := time.Now().UTC()
	rule := &domain.Rule{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Kind:        req.Kind,
		Threshold:   req.Threshold,
		Weight:      req.Weight,
		Entity:      req.Entity,
		Metric:      req.Metric,
		Window:      req.Window,
		Expression:  req.Expression,
		Enabled:     req.Enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.engine.Rules().ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveRule(ctx, rule); err != nil {
			slog.Error("failed to save rule", "id", rule.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	slog.Info("rule created", "id", rule.ID, "name", rule.Name, "kind", rule.Kind)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    rule,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules reloads all rules from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	store := rules.NewRepositoryStore(h.repo)
	if err := h.engine.Rules().ReloadFromStore(ctx, store); err != nil {
		slog.Error("failed to reload rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	count := h.engine.Rules().RulesCount()
	slog.Info("rules reloaded from database", "count", count)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   count,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
