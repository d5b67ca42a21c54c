package ingestion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/licitaciones/platform/pkg/common/models"
)

func newTestRouter(t *testing.T, h *harness) *mux.Router {
	t.Helper()
	router := mux.NewRouter()
	NewHTTPHandler(context.Background(), h.service, h.tenders, 1<<20).Register(router)
	return router
}

func do(router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHTTPStatus(t *testing.T) {
	h := newHarness(t, false)
	router := newTestRouter(t, h)

	rec := do(router, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status []models.SourceStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Len(t, status, 4)

	rec = do(router, http.MethodGet, "/api/v1/eligible", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var jobs []models.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	assert.Len(t, jobs, 2)
}

func TestHTTPIncrementalWait(t *testing.T) {
	h := newHarness(t, false)
	h.write(t, "COMPRASMX", "a.json", "["+record("LA-1", "")+"]", time.Hour)
	router := newTestRouter(t, h)

	rec := do(router, http.MethodPost, "/api/v1/runs/incremental?wait=true", `{"source":"COMPRASMX"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Results []models.RunResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Results, 1)
	assert.Equal(t, 1, body.Results[0].Stats.Inserted)

	rec = do(router, http.MethodGet, "/api/v1/runs?source=COMPRASMX", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, TriggerManual, runs[0].Trigger)

	rec = do(router, http.MethodGet, "/api/v1/tenders?fuente=COMPRASMX", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var tenders []models.Tender
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tenders))
	require.Len(t, tenders, 1)

	rec = do(router, http.MethodGet, "/api/v1/tenders/"+tenders[0].IdentityHash, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(router, http.MethodGet, "/api/v1/tenders/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(router, http.MethodGet, "/api/v1/tenders/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"COMPRASMX":1}`, rec.Body.String())
}

func TestHTTPAsyncRunIsAccepted(t *testing.T) {
	h := newHarness(t, false)
	h.write(t, "ESTATAL", "e.json", "["+record("E-1", "")+"]", time.Hour)
	router := newTestRouter(t, h)

	rec := do(router, http.MethodPost, "/api/v1/runs/batch", `{"profile":"all"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	assert.Eventually(t, func() bool {
		h.history.mu.Lock()
		defer h.history.mu.Unlock()
		return len(h.history.runs) == 3
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHTTPErrors(t *testing.T) {
	h := newHarness(t, false)
	router := newTestRouter(t, h)

	cases := []struct {
		target string
		body   string
		want   int
	}{
		{"/api/v1/runs/incremental", `{"source":"NOPE"}`, http.StatusNotFound},
		{"/api/v1/runs/incremental", `{"source":"ARCHIVO"}`, http.StatusConflict},
		{"/api/v1/runs/incremental", `{not json`, http.StatusBadRequest},
		{"/api/v1/runs/historical", `{"source":"COMPRASMX"}`, http.StatusBadRequest},
		{"/api/v1/runs/historical", `{"source":"COMPRASMX","since":"2025-13-01"}`, http.StatusBadRequest},
		{"/api/v1/runs/batch", `{"profile":"nightly"}`, http.StatusBadRequest},
		{"/api/v1/runs/batch", ``, http.StatusBadRequest},
	}
	for _, tc := range cases {
		rec := do(router, http.MethodPost, tc.target, tc.body)
		assert.Equal(t, tc.want, rec.Code, "%s %s", tc.target, tc.body)
	}

	rec := do(router, http.MethodGet, "/api/v1/runs/incremental", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHTTPRunByID(t *testing.T) {
	h := newHarness(t, false)
	h.write(t, "COMPRASMX", "a.json", "["+record("LA-1", "")+"]", time.Hour)
	results, err := h.service.Incremental(context.Background(), "COMPRASMX")
	require.NoError(t, err)
	router := newTestRouter(t, h)

	rec := do(router, http.MethodGet, "/api/v1/runs/"+results[0].RunID, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var run RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, "COMPRASMX", run.Source)
	assert.Equal(t, string(models.OutcomeSuccess), run.Outcome)

	rec = do(router, http.MethodGet, "/api/v1/runs/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
