package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fnal-rts/rts-coordinator/internal/config"
	"github.com/fnal-rts/rts-coordinator/internal/health"
	"github.com/fnal-rts/rts-coordinator/internal/plan"
	"github.com/fnal-rts/rts-coordinator/internal/state"
	"github.com/fnal-rts/rts-coordinator/internal/station"
	"github.com/fnal-rts/rts-coordinator/internal/store"
	"github.com/fnal-rts/rts-coordinator/pkg/api"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, *station.Stand) {
	t.Helper()

	db, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	chips, err := plan.FullTray(1, 1)
	require.NoError(t, err)

	sm := state.NewMachine()
	reg := prometheus.NewRegistry()
	monitor := health.NewMonitor(config.DefaultConfig(), sm, health.NewMetrics(reg), zap.NewNop())
	t.Cleanup(monitor.Stop)

	stand, err := station.New(station.Config{
		Machine:  sm,
		Plan:     chips,
		Motion:   station.NewSimulatedMotion(zap.NewNop()),
		Store:    station.Persistence{State: db.State, Sessions: db.Sessions, Results: db.Results},
		Recorder: monitor,
		ImageDir: t.TempDir(),
	}, zap.NewNop())
	require.NoError(t, err)
	monitor.SetProbe(stand)

	ctx, cancel := context.WithCancel(context.Background())
	go stand.Run(ctx)
	t.Cleanup(func() {
		cancel()
		stand.Close()
	})

	return NewServer("127.0.0.1:0", stand, monitor, reg, zap.NewNop()), stand
}

func do(t *testing.T, s *Server, method, path string, body any) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	var resp Response
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestServer_Healthz(t *testing.T) {
	s, _ := newTestServer(t)
	w, _ := do(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestServer_Status(t *testing.T) {
	s, _ := newTestServer(t)
	w, resp := do(t, s, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)

	data := resp.Data.(map[string]any)
	assert.Equal(t, "ground", data["state"])
	assert.Equal(t, float64(40), data["plan_size"])
}

func TestServer_CycleEvent(t *testing.T) {
	s, stand := newTestServer(t)

	w, resp := do(t, s, http.MethodPost, "/api/v1/events", EventRequest{Event: EventCycle})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "surveying_sockets", resp.Data.(map[string]any)["state"])

	w, resp = do(t, s, http.MethodPost, "/api/v1/events", EventRequest{Event: EventAdvanceTo, Target: "testing"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, api.ErrNotPermitted, resp.Error.Code)
	assert.Equal(t, state.StateSurveyingSockets, stand.Snapshot().State)

	w, resp = do(t, s, http.MethodPost, "/api/v1/events", EventRequest{Event: EventAdvanceTo, Target: "moving_chip_to_socket"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "moving_chip_to_socket", resp.Data.(map[string]any)["state"])
}

func TestServer_BadEvents(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name string
		body any
	}{
		{"missing event", map[string]string{}},
		{"unknown event", EventRequest{Event: "jump"}},
		{"bad target", EventRequest{Event: EventAdvanceTo, Target: "paused"}},
		{"bad fault", EventRequest{Event: EventReportFault, Fault: "ground"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := do(t, s, http.MethodPost, "/api/v1/events", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			require.NotNil(t, resp.Error)
			assert.Equal(t, api.ErrInvalidInput, resp.Error.Code)
		})
	}
}

func TestServer_FaultAndRecover(t *testing.T) {
	s, stand := newTestServer(t)

	w, _ := do(t, s, http.MethodPost, "/api/v1/events", EventRequest{Event: EventReportFault, Fault: "no_server_connection"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, state.StateNoServerConnection, stand.Snapshot().State)

	w, _ = do(t, s, http.MethodPost, "/api/v1/events", EventRequest{Event: EventRecover})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, state.StateGround, stand.Snapshot().State)
}

func TestServer_PauseDecision(t *testing.T) {
	s, stand := newTestServer(t)

	w, resp := do(t, s, http.MethodPost, "/api/v1/pause/resume", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, api.ErrNotAwaiting, resp.Error.Code)

	do(t, s, http.MethodPost, "/api/v1/events", EventRequest{Event: EventCycle})
	w, _ = do(t, s, http.MethodPost, "/api/v1/events", EventRequest{Event: EventPause})
	require.Equal(t, http.StatusOK, w.Code)
	require.Eventually(t, func() bool { return stand.AwaitingChoice() == "pause" }, 2*time.Second, 5*time.Millisecond)

	w, resp = do(t, s, http.MethodPost, "/api/v1/events", EventRequest{Event: EventCycle})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, api.ErrAwaitingDecision, resp.Error.Code)

	w, _ = do(t, s, http.MethodPost, "/api/v1/pause/9", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, s, http.MethodPost, "/api/v1/pause/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Eventually(t, func() bool {
		return stand.Snapshot().State == state.StateGround && stand.AwaitingChoice() == ""
	}, 2*time.Second, 5*time.Millisecond)
}

func TestServer_HistoryAndPlan(t *testing.T) {
	s, _ := newTestServer(t)

	w, resp := do(t, s, http.MethodPost, "/api/v1/events", EventRequest{Event: EventRunFullCycle})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, false, resp.Data.(map[string]any)["wrapped"])

	w, resp = do(t, s, http.MethodGet, "/api/v1/history?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp.Data.([]any), 2)

	w, _ = do(t, s, http.MethodGet, "/api/v1/history?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = do(t, s, http.MethodGet, "/api/v1/plan", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(1), data["index"])
	assert.Equal(t, float64(40), data["size"])
}

func TestServer_Metrics(t *testing.T) {
	s, _ := newTestServer(t)

	do(t, s, http.MethodPost, "/api/v1/events", EventRequest{Event: EventCycle})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rts_transitions_total")
	assert.Contains(t, w.Body.String(), `rts_state{state="surveying_sockets"} 1`)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(api.ErrBusy))
	assert.Equal(t, http.StatusGone, statusFor(api.ErrSessionEnded))
	assert.Equal(t, http.StatusBadGateway, statusFor(api.ErrEntryFailed))
	assert.Equal(t, http.StatusInternalServerError, statusFor(api.ErrInternal))
}
