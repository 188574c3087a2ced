package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/2beens/homecoach/internal/telemetry/metrics"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func newPanicRecTestRouter(metricsManager *metrics.Manager, next http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/sessions/{id}/tick", next).Methods("POST").Name("tick-session")
	r.Use(PanicRecovery(metricsManager))
	return r
}

func Test_panicRecoveryMiddleware_nonPanic(t *testing.T) {
	metricsManager := metrics.NewTestManager()

	next := &panicRecTestHandler{}
	r := newPanicRecTestRouter(metricsManager, next)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sessions/abc/tick", nil)
	r.ServeHTTP(rr, req)

	assert.True(t, next.called)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, testutil.CollectAndCount(metricsManager.CounterHandlerPanics))
}

func Test_panicRecoveryMiddleware_panic(t *testing.T) {
	metricsManager := metrics.NewTestManager()

	next := &panicRecTestHandler{panic: true}
	r := newPanicRecTestRouter(metricsManager, next)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sessions/abc/tick", nil)
	r.ServeHTTP(rr, req)

	assert.True(t, next.called)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(metricsManager.CounterHandlerPanics.WithLabelValues("tick-session")))
}

func Test_panicRecoveryMiddleware_outsideRouter(t *testing.T) {
	metricsManager := metrics.NewTestManager()

	next := &panicRecTestHandler{panic: true}
	handlerFunc := PanicRecovery(metricsManager)(next)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/progress", nil)
	handlerFunc.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(metricsManager.CounterHandlerPanics.WithLabelValues(unnamedRoute)))
}

func Test_panicRecoveryMiddleware_nilMetrics(t *testing.T) {
	next := &panicRecTestHandler{panic: true}
	handlerFunc := PanicRecovery(nil)(next)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/progress", nil)
	assert.NotPanics(t, func() {
		handlerFunc.ServeHTTP(rr, req)
	})
}

type panicRecTestHandler struct {
	panic  bool
	called bool
}

func (p *panicRecTestHandler) ServeHTTP(http.ResponseWriter, *http.Request) {
	p.called = true
	if p.panic {
		panic("YOLO")
	}
}
