package session_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/2beens/homecoach/internal/calendar"
	"github.com/2beens/homecoach/internal/playback"
	"github.com/2beens/homecoach/internal/progress"
	"github.com/2beens/homecoach/internal/session"
	"github.com/2beens/homecoach/internal/stats"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSessionRouter(t *testing.T, opts session.Options) (*mux.Router, *progress.Service) {
	t.Helper()
	clock := calendar.FixedClock{T: testNow}
	progressService := progress.NewService(progress.NewMemoryBackend(nil), clock, nil)
	aggregator, err := stats.NewAggregator(testCal, 5, stats.PolicyTodayOrYesterday)
	require.NoError(t, err)
	statsService := stats.NewService(progressService, aggregator, clock, 1, nil)

	manager := session.NewManager(progressService, statsService, opts)
	t.Cleanup(func() {
		_ = manager.Shutdown(context.Background())
	})

	handler := session.NewHandler(manager)
	r := mux.NewRouter()
	r.HandleFunc("/sessions", handler.HandleCreate).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}", handler.HandleGet).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/play", handler.HandlePlay).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/pause", handler.HandlePause).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/tick", handler.HandleTick).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/end", handler.HandleEnd).Methods(http.MethodPost)
	return r, progressService
}

func doRequest(r http.Handler, method, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func TestHandler_SessionFlow(t *testing.T) {
	r, progressService := newSessionRouter(t, testOptions())

	rr := doRequest(r, http.MethodPost, "/sessions")
	require.Equal(t, http.StatusCreated, rr.Code)
	var created session.Progress
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.NotEmpty(t, created.SessionID)
	assert.Equal(t, playback.PhaseRunning, created.Phase)
	assert.Equal(t, "/sessions/"+created.SessionID, rr.Header().Get("Location"))

	base := "/sessions/" + created.SessionID
	for i := 0; i < 90; i++ {
		require.Equal(t, http.StatusOK, doRequest(r, http.MethodPost, base+"/tick").Code)
	}

	rr = doRequest(r, http.MethodPost, base+"/pause")
	require.Equal(t, http.StatusOK, rr.Code)
	var p session.Progress
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	assert.Equal(t, playback.PhasePaused, p.Phase)
	assert.Equal(t, int64(90_000), p.AccumulatedMs)
	assert.Equal(t, 2, p.AudioMinutes)

	require.Equal(t, http.StatusOK, doRequest(r, http.MethodPost, base+"/tick").Code)
	require.Equal(t, http.StatusOK, doRequest(r, http.MethodPost, base+"/play").Code)

	rr = doRequest(r, http.MethodGet, base)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	assert.Equal(t, int64(90_000), p.AccumulatedMs)
	assert.True(t, p.Running)

	rr = doRequest(r, http.MethodPost, base+"/end")
	require.Equal(t, http.StatusOK, rr.Code)
	var ended session.EndResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ended))
	assert.True(t, ended.Persisted)
	assert.Equal(t, calendar.DateKey("2024-03-16"), ended.Outcome.Date)
	assert.Equal(t, 2, ended.Outcome.AudioMinutes)
	assert.False(t, ended.Outcome.Completed)
	assert.Equal(t, 2, ended.Stats.TotalMinutes)

	_, ok := progressService.Current().Get("2024-03-16")
	assert.True(t, ok)

	assert.Equal(t, http.StatusNotFound, doRequest(r, http.MethodPost, base+"/end").Code)
	assert.Equal(t, http.StatusNotFound, doRequest(r, http.MethodGet, base).Code)
}

func TestHandler_TickConflictWithServerTicks(t *testing.T) {
	opts := testOptions()
	opts.ServerTicks = true
	opts.TickerFactory = playback.NewManualTicker().Factory()
	r, _ := newSessionRouter(t, opts)

	rr := doRequest(r, http.MethodPost, "/sessions")
	require.Equal(t, http.StatusCreated, rr.Code)
	var created session.Progress
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))

	assert.Equal(t, http.StatusConflict, doRequest(r, http.MethodPost, "/sessions/"+created.SessionID+"/tick").Code)
}

func TestHandler_UnknownSession(t *testing.T) {
	r, _ := newSessionRouter(t, testOptions())
	for _, path := range []string{"/sessions/x/play", "/sessions/x/pause", "/sessions/x/tick", "/sessions/x/end"} {
		assert.Equal(t, http.StatusNotFound, doRequest(r, http.MethodPost, path).Code, path)
	}
	assert.Equal(t, http.StatusNotFound, doRequest(r, http.MethodGet, "/sessions/x").Code)
}
