package middleware

import (
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// unread body past this is dropped with the connection
const maxDrainBytes = 64 << 10

// DrainAndCloseRequest discards up to maxDrainBytes of request body the handler
// did not read, then closes it.
func DrainAndCloseRequest() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			if r.Body == nil || r.Body == http.NoBody {
				return
			}

			drained, _ := io.CopyN(io.Discard, r.Body, maxDrainBytes+1)
			if drained > maxDrainBytes {
				log.Debugf("request %s %s: unread body over %d bytes, not drained", r.Method, r.URL.Path, maxDrainBytes)
			}
			_ = r.Body.Close()
		})
	}
}
