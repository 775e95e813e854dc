package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/couchcryptid/hunger-risk-pipeline/internal/adapter/http"
	"github.com/couchcryptid/hunger-risk-pipeline/internal/domain"
	"github.com/couchcryptid/hunger-risk-pipeline/internal/pipeline"
)

type mockRuns struct {
	err    error
	report *pipeline.RunReport
}

func (m *mockRuns) CheckReadiness(_ context.Context) error { return m.err }

func (m *mockRuns) LatestReport() (*pipeline.RunReport, bool) {
	return m.report, m.report != nil
}

func newTestServer(runs *mockRuns) *httpadapter.Server {
	return httpadapter.NewServer(":0", runs, slog.Default())
}

func TestHealthzReturns200(t *testing.T) {
	srv := newTestServer(&mockRuns{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	srv := newTestServer(&mockRuns{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	srv := newTestServer(&mockRuns{err: fmt.Errorf("no monthly run has completed yet")})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "no monthly run has completed yet", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(&mockRuns{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestLatestRunReturns404BeforeFirstRun(t *testing.T) {
	srv := newTestServer(&mockRuns{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/latest", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "no monthly run")
}

func TestLatestRunReturnsReport(t *testing.T) {
	month := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	report := &pipeline.RunReport{
		RunID:       uuid.MustParse("6f1c1d4e-8a57-4b8e-9a55-3f0d7c2b9e10"),
		TargetMonth: month,
		Predictions: []domain.PredictionRecord{{
			UnitCode:    "KE023001",
			TargetMonth: month,
			Phase:       domain.PhaseEmergency,
			RiskLevel:   "emergency",
		}},
		Summary: domain.Summary{TotalUnits: 1, MaxPhase: domain.PhaseEmergency},
		Failures: []*pipeline.UnitError{
			{Code: "KE023002", Stage: pipeline.StagePersistPrediction, Err: fmt.Errorf("deadlock detected")},
		},
	}
	srv := newTestServer(&mockRuns{report: report})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/latest", nil)

	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		RunID       string `json:"run_id"`
		Predictions []struct {
			Code  string `json:"subcounty_code"`
			Phase int    `json:"ipc_phase_predicted"`
		} `json:"predictions"`
		Summary struct {
			Total int `json:"total_subcounties"`
		} `json:"summary"`
		Failures []map[string]string `json:"failures"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, report.RunID.String(), body.RunID)
	require.Len(t, body.Predictions, 1)
	assert.Equal(t, "KE023001", body.Predictions[0].Code)
	assert.Equal(t, 4, body.Predictions[0].Phase)
	assert.Equal(t, 1, body.Summary.Total)
	require.Len(t, body.Failures, 1)
	assert.Equal(t, map[string]string{
		"subcounty_code": "KE023002",
		"stage":          "persist_prediction",
		"error":          "deadlock detected",
	}, body.Failures[0])
}

func TestLatestRunRejectsOtherMethods(t *testing.T) {
	srv := newTestServer(&mockRuns{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/runs/latest", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
