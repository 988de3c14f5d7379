package rest

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/niikun/social-listening/internal/config"
	"github.com/niikun/social-listening/internal/model"
	"github.com/niikun/social-listening/internal/service"
	"github.com/niikun/social-listening/internal/transport/ws"
)

type testServer struct {
	handler http.Handler
	runs    *service.RunService
	token   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()

	client := service.NewModelClient(service.NewSimulationCompleter(), service.ModelClientOptions{
		Model:     "gpt-4o-mini",
		MaxTokens: 100,
		Timeout:   2 * time.Second,
		Retry:     service.RetryPolicy{MaxAttempts: 1},
	}, logger)
	orch := service.NewOrchestrator(nil, client, logger)
	generator := service.NewPersonaGenerator(nil)
	insights := service.NewInsightService(client, logger)

	hub := ws.NewHub(logger)
	t.Cleanup(hub.Stop)

	seed := int64(11)
	defaults := config.SurveyConfig{
		PersonaCount:      4,
		ConcurrencyLimit:  2,
		ModelName:         "gpt-4o-mini",
		MaxTokens:         100,
		SearchMaxResults:  5,
		SearchConcurrency: 4,
		SearchTimeout:     time.Second,
		RetryLimit:        1,
		Seed:              &seed,
	}
	runs := service.NewRunService(orch, generator, service.NewAnalyticsService(nil, logger), defaults, 10,
		service.RunStores{Broadcaster: hub, Insights: insights}, logger)

	authSvc := service.NewAuthService(config.AuthConfig{
		Username:  "operator",
		Password:  "secret",
		JWTSecret: "test-secret",
		TokenTTL:  time.Hour,
	})
	login, err := authSvc.Login("operator", "secret")
	require.NoError(t, err)

	h := NewRouter(&Container{
		AuthService:    authSvc,
		RunService:     runs,
		Orchestrator:   orch,
		Generator:      generator,
		InsightService: insights,
		Search:         service.NewSearchService(nil, nil, time.Second, logger),
		WSHub:          hub,
		Logger:         logger,
	})
	return &testServer{handler: h, runs: runs, token: login.Token}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestRouter_HealthAndCORS(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = s.do(t, http.MethodOptions, "/v1/runs", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/metrics", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_Login(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/v1/auth/login", model.LoginRequest{Username: "operator", Password: "nope"}, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/auth/login", model.LoginRequest{Username: "operator", Password: "secret"}, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp model.LoginResponse
	decode(t, rec, &resp)
	assert.NotEmpty(t, resp.Token)
	assert.True(t, strings.HasPrefix(resp.OperatorID, "op_"))
}

func TestRouter_RequiresOperator(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/v1/runs", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/runs", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_Preflight(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/v1/preflight", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var caps model.Capabilities
	decode(t, rec, &caps)
	assert.True(t, caps.ModelOK)
	assert.Equal(t, string(config.ProviderSimulation), caps.Provider)
	assert.Equal(t, model.SearchDisabled, caps.SearchMode)
}

func TestRouter_PersonaPreview(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/v1/personas/preview", map[string]interface{}{"count": 3, "seed": 5}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Personas []model.Persona `json:"personas"`
	}
	decode(t, rec, &resp)
	assert.Len(t, resp.Personas, 3)

	rec = s.do(t, http.MethodPost, "/v1/personas/preview", map[string]interface{}{"count": 0}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_RunLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/v1/runs", map[string]interface{}{
		"question": map[string]interface{}{"text": "Should the city add more bike lanes?"},
	}, true)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var started map[string]string
	decode(t, rec, &started)
	runID := started["runId"]
	require.NotEmpty(t, runID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.runs.Wait(ctx, runID)
	require.NoError(t, err)

	rec = s.do(t, http.MethodGet, "/v1/runs/"+runID, nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var run model.SurveyRun
	decode(t, rec, &run)
	assert.Equal(t, model.RunCompleted, run.Status)
	assert.Len(t, run.Records, 4)

	rec = s.do(t, http.MethodGet, "/v1/runs", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []model.RunSummary
	decode(t, rec, &list)
	require.Len(t, list, 1)
	assert.Equal(t, runID, list[0].ID)

	rec = s.do(t, http.MethodGet, "/v1/runs/"+runID+"/dataset?format=csv", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), runID+".csv")
	rows, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 5)

	rec = s.do(t, http.MethodGet, "/v1/runs/"+runID+"/dataset?format=json", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	rec = s.do(t, http.MethodGet, "/v1/runs/"+runID+"/dataset?format=xml", nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/runs/"+runID+"/analytics", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var analytics model.RunAnalytics
	decode(t, rec, &analytics)
	assert.Equal(t, 4, analytics.Analyzed)

	rec = s.do(t, http.MethodPost, "/v1/runs/"+runID+"/cancel", nil, true)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/runs/"+runID+"/insight", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"not_started"}`, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/v1/runs/"+runID+"/insight", nil, true)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRouter_RunErrors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/v1/runs", map[string]interface{}{
		"question": map[string]interface{}{"text": "   "},
	}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/runs/missing", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/runs/missing/insight", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/runs/missing/cancel", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_SearchSummary(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/v1/search/summary", model.SurveyQuestion{Text: "rice prices"}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Context model.SearchContext `json:"context"`
		Summary struct {
			Text      string `json:"text"`
			Simulated bool   `json:"simulated"`
		} `json:"summary"`
	}
	decode(t, rec, &resp)
	assert.True(t, resp.Context.Simulated)
	assert.Len(t, resp.Context.Snippets, 5)
	assert.Contains(t, resp.Summary.Text, "rice prices")
	assert.True(t, resp.Summary.Simulated)

	rec = s.do(t, http.MethodPost, "/v1/search/summary", model.SurveyQuestion{Text: " "}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
