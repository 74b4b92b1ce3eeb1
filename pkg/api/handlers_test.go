package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garagehq/advisor/pkg/browser"
	"github.com/garagehq/advisor/pkg/dispatch"
	"github.com/garagehq/advisor/pkg/kb"
	"github.com/garagehq/advisor/pkg/models"
	"github.com/garagehq/advisor/pkg/pipeline"
	"github.com/garagehq/advisor/pkg/platformauth"
	"github.com/garagehq/advisor/pkg/retry"
	"github.com/garagehq/advisor/pkg/runs"
	"github.com/garagehq/advisor/pkg/sched"
	"github.com/garagehq/advisor/pkg/store"
	"github.com/garagehq/advisor/pkg/tabs"
)

func newTestRouter(t *testing.T) (*gin.Engine, *store.Store, *runs.Manager) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.New()
	registry := tabs.NewRegistry()

	orch := pipeline.New(pipeline.Config{
		Timeouts: pipeline.Timeouts{Pipeline: 5 * time.Second},
		Retry:    retry.Policy{MaxRetries: 0, BaseDelay: time.Millisecond},
	}, pipeline.Deps{
		Scheduler: sched.New(log, 4),
		Breakers:  retry.NewBreakers(retry.BreakerConfig{FailThreshold: 100, Cooldown: time.Minute}),
		Tabs:      registry,
		Auth:      platformauth.NewManager(log),
		Store:     st,
		KB:        kb.New("", 0),
	})
	manager := runs.NewManager(orch, registry, 2, log)
	t.Cleanup(func() { _ = manager.Shutdown(context.Background()) })

	d := dispatch.New(st, manager, nil, log)
	driver := browser.NewDriver("http://127.0.0.1:1", t.TempDir())
	srv := NewServer(manager, st, d, driver, registry)
	return srv.Router(), st, manager
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestCreateEstimate_Accepted(t *testing.T) {
	router, st, _ := newTestRouter(t)

	w := doJSON(router, http.MethodPost, "/api/estimates", `{
		"chat_id": "chat-1",
		"query":   "quick question about my invoice",
		"vehicle": {"year": 2015, "make": "Toyota", "model": "Camry"}
	}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body["run_id"])
	assert.Equal(t, "running", body["status"])

	assert.Eventually(t, func() bool {
		return st.Get("chat-1") != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCreateEstimate_MissingQuery(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doJSON(router, http.MethodPost, "/api/estimates", `{"chat_id": "chat-1"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateEstimate_MalformedDTC(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doJSON(router, http.MethodPost, "/api/estimates", `{
		"chat_id": "chat-1",
		"query":   "check engine light",
		"dtcs":    ["X9999"]
	}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "malformed trouble code")
}

func TestGetEstimate(t *testing.T) {
	router, st, _ := newTestRouter(t)

	w := doJSON(router, http.MethodGet, "/api/estimates/chat-2", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	st.Put("chat-2", &models.EstimateResult{RunID: "run-9", ChatID: "chat-2", CustomerReady: true})

	w = doJSON(router, http.MethodGet, "/api/estimates/chat-2", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "run-9")
}

func TestOrderParts_NoEstimateConflict(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doJSON(router, http.MethodPost, "/api/estimates/chat-3/order-parts", "")

	require.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "no estimate on file")
}

func TestCancelRun_Unknown(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doJSON(router, http.MethodPost, "/api/runs/run-404/cancel", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth_DegradedWithoutBrowser(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doJSON(router, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, false, body["cdp_reachable"])
}
