package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/2beens/homecoach/internal/telemetry/metrics"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

const unnamedRoute = "unmatched"

// PanicRecovery turns a handler panic into a 500, so a bad request cannot take
// down live workout sessions. Panics are counted per route name.
func PanicRecovery(metricsManager *metrics.Manager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				recovered := recover()
				if recovered == nil {
					return
				}

				route := routeName(r)
				log.WithFields(log.Fields{
					"route":  route,
					"method": r.Method,
					"path":   r.URL.Path,
				}).Errorf("homecoach handler panic: %v\n%s", recovered, debug.Stack())
				if metricsManager != nil {
					metricsManager.CounterHandlerPanics.WithLabelValues(route).Inc()
				}
				http.Error(w, "internal error", http.StatusInternalServerError)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

func routeName(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil || route.GetName() == "" {
		return unnamedRoute
	}
	return route.GetName()
}
