package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fraudguard-io/fraudguard/internal/cache"
	"github.com/fraudguard-io/fraudguard/internal/domain"
	"github.com/fraudguard-io/fraudguard/internal/engine"
)

// createTestServer creates a server with an in-memory cache and a single
// high-threshold rule so normal test amounts never trigger alerts.
func createTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	eng, err := engine.New(engine.Options{
		Config: domain.EngineConfig{
			LargeAmountThreshold: 1000,
			MediumRiskThreshold:  0.4,
			HighRiskThreshold:    0.8,
			MaxWorkers:           5,
		},
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	testRule := &domain.Rule{
		ID:        "test-rule-001",
		Name:      "High Value Test Rule",
		Kind:      domain.RuleAmount,
		Threshold: 100000,
		Weight:    1.0,
		Enabled:   true,
	}
	if err := eng.Rules().Reload([]*domain.Rule{testRule}); err != nil {
		t.Fatalf("failed to load test rule: %v", err)
	}

	memCache, err := cache.New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	t.Cleanup(func() { memCache.Close() })

	return NewServer(cfg, nil, memCache, nil, eng, "test-v1")
}

// scoreTransaction posts a transaction and returns the decoded result.
func scoreTransaction(t *testing.T, server *Server, req TransactionRequest) *domain.ScoreResult {
	t.Helper()

	body, _ := json.Marshal(req)
	httpReq := httptest.NewRequest(http.MethodPost, "/transactions", bytes.NewBuffer(body))
	httpReq.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, httpReq)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var result domain.ScoreResult
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return &result
}

func postJSON(t *testing.T, server *Server, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()

	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestScoreEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("SuccessfulScore", func(t *testing.T) {
		result := scoreTransaction(t, server, TransactionRequest{
			UserID:   "user-001",
			Amount:   1000.50,
			Currency: "USD",
			Merchant: "Acme Electronics",
		})

		if result.TransactionID == "" {
			t.Error("expected transactionId in response")
		}
		if result.RiskLevel != domain.RiskLow {
			t.Errorf("expected risk level LOW, got %s", result.RiskLevel)
		}
		if result.Status != domain.StatusApproved {
			t.Errorf("expected status APPROVED, got %s", result.Status)
		}
		if result.AlertID != "" {
			t.Errorf("expected no alert, got %s", result.AlertID)
		}
		if result.Metadata.TraceID == "" {
			t.Error("expected traceId in metadata")
		}
	})

	t.Run("HighRiskCreatesAlert", func(t *testing.T) {
		result := scoreTransaction(t, server, TransactionRequest{
			ID:       "tx-high-001",
			UserID:   "user-002",
			Amount:   150000,
			Currency: "USD",
			Merchant: "Luxury Motors",
		})

		if result.RiskLevel != domain.RiskHigh {
			t.Errorf("expected risk level HIGH, got %s", result.RiskLevel)
		}
		if result.Status != domain.StatusFlagged {
			t.Errorf("expected status FLAGGED, got %s", result.Status)
		}
		if result.AlertID == "" {
			t.Fatal("expected alert to be created")
		}

		req := httptest.NewRequest(http.MethodGet, "/alerts/"+result.AlertID, nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200 fetching alert, got %d", rr.Code)
		}

		var alert domain.FraudAlert
		json.Unmarshal(rr.Body.Bytes(), &alert)
		if alert.TransactionID != "tx-high-001" {
			t.Errorf("expected alert for tx-high-001, got %s", alert.TransactionID)
		}
		if alert.Status != domain.AlertOpen {
			t.Errorf("expected alert status OPEN, got %s", alert.Status)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/transactions", bytes.NewBufferString("not-json"))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingUserID", func(t *testing.T) {
		rr := postJSON(t, server, "/transactions", TransactionRequest{
			Amount:   100,
			Currency: "USD",
		})

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("NegativeAmount", func(t *testing.T) {
		rr := postJSON(t, server, "/transactions", TransactionRequest{
			UserID:   "user-003",
			Amount:   -100,
			Currency: "USD",
		})

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		rr := postJSON(t, server, "/transactions", TransactionRequest{
			UserID:   "user-004",
			Amount:   100,
			Currency: "USD",
		})

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})
}

func TestTransactionScoreEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("ServedFromCache", func(t *testing.T) {
		result := scoreTransaction(t, server, TransactionRequest{
			ID:       "tx-cached-001",
			UserID:   "user-010",
			Amount:   250,
			Currency: "USD",
		})

		req := httptest.NewRequest(http.MethodGet, "/transactions/tx-cached-001/score", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var cached domain.ScoreResult
		if err := json.Unmarshal(rr.Body.Bytes(), &cached); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if cached.ID != result.ID {
			t.Errorf("expected cached result %s, got %s", result.ID, cached.ID)
		}
	})
}

func TestAlertLifecycleEndpoints(t *testing.T) {
	server := createTestServer(t)

	result := scoreTransaction(t, server, TransactionRequest{
		ID:       "tx-alert-001",
		UserID:   "user-020",
		Amount:   500000,
		Currency: "USD",
	})
	if result.AlertID == "" {
		t.Fatal("expected alert to be created")
	}
	alertID := result.AlertID

	t.Run("ListOpenAlerts", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/alerts?status=OPEN", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Alerts []domain.FraudAlert `json:"alerts"`
			Count  int                 `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 open alert, got %d", resp.Count)
		}
	})

	t.Run("StartInvestigation", func(t *testing.T) {
		rr := postJSON(t, server, "/alerts/"+alertID+"/investigate", struct{}{})

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var alert domain.FraudAlert
		json.Unmarshal(rr.Body.Bytes(), &alert)
		if alert.Status != domain.AlertInProgress {
			t.Errorf("expected status IN_PROGRESS, got %s", alert.Status)
		}
	})

	t.Run("Escalate", func(t *testing.T) {
		rr := postJSON(t, server, "/alerts/"+alertID+"/escalate", AlertEscalationRequest{
			EscalatedBy: "analyst-7",
			Notes:       "pattern matches known fraud ring",
		})

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var alert domain.FraudAlert
		json.Unmarshal(rr.Body.Bytes(), &alert)
		if alert.Status != domain.AlertEscalated {
			t.Errorf("expected status ESCALATED, got %s", alert.Status)
		}
		if alert.Severity != domain.SeverityCritical {
			t.Errorf("expected severity CRITICAL, got %s", alert.Severity)
		}
		if alert.EscalatedBy != "analyst-7" {
			t.Errorf("expected escalating analyst recorded, got %q", alert.EscalatedBy)
		}
	})

	t.Run("RecordAndCompleteAction", func(t *testing.T) {
		rr := postJSON(t, server, "/alerts/"+alertID+"/actions", ActionRequest{
			ActionType:  domain.ActionBlockCard,
			Description: "block card pending review",
		})

		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		var action domain.AlertAction
		json.Unmarshal(rr.Body.Bytes(), &action)
		if action.Status != domain.ActionPending {
			t.Errorf("expected action status PENDING, got %s", action.Status)
		}

		rr = postJSON(t, server, "/actions/"+action.ID+"/complete", struct{}{})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var completed domain.AlertAction
		json.Unmarshal(rr.Body.Bytes(), &completed)
		if completed.Status != domain.ActionCompleted {
			t.Errorf("expected action status COMPLETED, got %s", completed.Status)
		}

		listReq := httptest.NewRequest(http.MethodGet, "/alerts/"+alertID+"/actions", nil)
		listRR := httptest.NewRecorder()
		server.Router().ServeHTTP(listRR, listReq)

		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(listRR.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 action, got %d", resp.Count)
		}
	})

	t.Run("Resolve", func(t *testing.T) {
		rr := postJSON(t, server, "/alerts/"+alertID+"/resolve", AlertResolutionRequest{
			ResolvedBy: "analyst-7",
			Notes:      "confirmed fraud, card blocked",
		})

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var alert domain.FraudAlert
		json.Unmarshal(rr.Body.Bytes(), &alert)
		if alert.Status != domain.AlertResolved {
			t.Errorf("expected status RESOLVED, got %s", alert.Status)
		}
		if alert.ResolvedAt == nil {
			t.Error("expected resolvedAt to be set")
		}
	})

	t.Run("ResolveTerminalAlertConflicts", func(t *testing.T) {
		rr := postJSON(t, server, "/alerts/"+alertID+"/resolve", AlertResolutionRequest{
			ResolvedBy: "analyst-8",
		})

		if rr.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d", rr.Code)
		}
	})

	t.Run("ResolveRequiresResolvedBy", func(t *testing.T) {
		rr := postJSON(t, server, "/alerts/"+alertID+"/resolve", AlertResolutionRequest{})

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("UnknownAlert", func(t *testing.T) {
		rr := postJSON(t, server, "/alerts/no-such-alert/resolve", AlertResolutionRequest{
			ResolvedBy: "analyst-9",
		})

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestRuleEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("ListRules", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/rules", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 rule, got %d", resp.Count)
		}
	})

	t.Run("GetRule", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/rules/test-rule-001", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var rule domain.Rule
		json.Unmarshal(rr.Body.Bytes(), &rule)
		if rule.Kind != domain.RuleAmount {
			t.Errorf("expected AMOUNT rule, got %s", rule.Kind)
		}
	})

	t.Run("GetUnknownRule", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/rules/no-such-rule", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("CreateRule", func(t *testing.T) {
		rr := postJSON(t, server, "/rules", CreateRuleRequest{
			ID:        "velocity-user-1h",
			Name:      "User velocity 1h",
			Kind:      domain.RuleVelocity,
			Threshold: 10,
			Weight:    0.5,
			Entity:    domain.EntityUser,
			Metric:    domain.MetricCount,
			Window:    domain.Window1h,
			Enabled:   true,
		})

		if rr.Code != http.StatusCreated {
			t.Errorf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("CreateInvalidRule", func(t *testing.T) {
		rr := postJSON(t, server, "/rules", CreateRuleRequest{
			ID:      "bad-expression",
			Name:    "Broken expression",
			Kind:    domain.RuleExpression,
			Weight:  0.5,
			Enabled: true,
		})

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ReloadWithoutRepository", func(t *testing.T) {
		rr := postJSON(t, server, "/rules/reload", struct{}{})

		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})
}

type fakeRuleRepo struct {
	domain.Repository

	rules []*domain.Rule
}

func (f *fakeRuleRepo) ListRules(ctx context.Context) ([]*domain.Rule, error) {
	return f.rules, nil
}

func TestReloadRulesFromDatabase(t *testing.T) {
	repo := &fakeRuleRepo{rules: []*domain.Rule{
		{ID: "amount-5k", Name: "Over 5k", Kind: domain.RuleAmount, Threshold: 5000, Weight: 1.0, Enabled: true},
		{ID: "amount-1k", Name: "Over 1k", Kind: domain.RuleAmount, Threshold: 1000, Weight: 1.0, Enabled: false},
	}}

	cfg := domain.ServerConfig{Host: "localhost", Port: 8080}
	eng, err := engine.New(engine.Options{
		Config: domain.EngineConfig{
			LargeAmountThreshold: 1000,
			MediumRiskThreshold:  0.4,
			HighRiskThreshold:    0.8,
			MaxWorkers:           5,
		},
		Repository: repo,
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	server := NewServer(cfg, repo, nil, nil, eng, "test-v1")

	rr := postJSON(t, server, "/rules/reload", struct{}{})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Count int `json:"count"`
	}
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Count != 1 {
		t.Errorf("expected 1 active rule after reload, got %d", resp.Count)
	}
	if got := eng.Rules().RulesCount(); got != 1 {
		t.Errorf("engine should hold the enabled rule only, got %d", got)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
