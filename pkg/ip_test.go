package pkg

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIPIsLocal(t *testing.T) {
	cases := []struct {
		addr            string
		expectedIsLocal bool
	}{
		{addr: "83.12.53.65:2145", expectedIsLocal: false},
		{addr: "127.23.0.1:35325", expectedIsLocal: false},
		{addr: "172.20.0.1:60102", expectedIsLocal: true},
		{addr: "172.20.0.1:60096", expectedIsLocal: true},
		{addr: "172.200.0.1:60096", expectedIsLocal: true},
		{addr: "172.19.0.1:42452", expectedIsLocal: true},
		{addr: "172.0.0.1:42452", expectedIsLocal: true},
		{addr: "83.12.53.65:214", expectedIsLocal: false},
		{addr: "172.19.0.1:42452", expectedIsLocal: true},
		{addr: "172.0.0.1:352345", expectedIsLocal: true},
		{addr: "111.12.56.65:8080", expectedIsLocal: false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.expectedIsLocal, IPIsLocal(tc.addr))
	}
}

func TestReadUserIP(t *testing.T) {
	cases := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		expectedIP string
		expectErr  bool
	}{
		{name: "remote addr with port", remoteAddr: "83.12.53.65:2145", expectedIP: "83.12.53.65"},
		{name: "local", remoteAddr: "127.0.0.1:5000", expectedIP: "localhost"},
		{name: "docker local", remoteAddr: "172.20.0.1:60102", expectedIP: "localhost"},
		{name: "real ip header", remoteAddr: "10.0.0.1:80", headers: map[string]string{"X-Real-Ip": "111.12.56.65"}, expectedIP: "111.12.56.65"},
		{name: "forwarded for chain", remoteAddr: "10.0.0.1:80", headers: map[string]string{"X-Forwarded-For": "83.12.53.65, 10.0.0.2"}, expectedIP: "83.12.53.65"},
		{name: "garbage", remoteAddr: "not-an-ip", expectErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/progress", nil)
			r.RemoteAddr = tc.remoteAddr
			for k, v := range tc.headers {
				r.Header.Set(k, v)
			}

			ip, err := ReadUserIP(r)
			if tc.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectedIP, ip)
		})
	}
}
