package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trackingBody struct {
	io.Reader
	read   int
	closed bool
}

func (b *trackingBody) Read(p []byte) (int, error) {
	n, err := b.Reader.Read(p)
	b.read += n
	return n, err
}

func (b *trackingBody) Close() error {
	b.closed = true
	return nil
}

func TestDrainAndCloseRequest(t *testing.T) {
	for _, tc := range []struct {
		name     string
		size     int
		wantRead int
	}{
		{name: "small leftover drained", size: 512, wantRead: 512},
		{name: "large leftover dropped", size: 4 * maxDrainBytes, wantRead: maxDrainBytes + 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			body := &trackingBody{Reader: strings.NewReader(strings.Repeat("x", tc.size))}
			req := httptest.NewRequest(http.MethodPost, "/progress/import", nil)
			req.Body = body

			var handled bool
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handled = true
				w.WriteHeader(http.StatusBadRequest)
			})
			rr := httptest.NewRecorder()
			DrainAndCloseRequest()(next).ServeHTTP(rr, req)

			require.True(t, handled)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, tc.wantRead, body.read)
			assert.True(t, body.closed)
		})
	}
}

func TestDrainAndCloseRequest_NoBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/progress/stats", nil)
	rr := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		DrainAndCloseRequest()(http.NotFoundHandler()).ServeHTTP(rr, req)
	})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
