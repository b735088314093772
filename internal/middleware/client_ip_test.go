package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolveIP(t *testing.T, cfg ClientIPConfig, remoteAddr string, headers map[string]string) string {
	t.Helper()
	var got string
	handler := ClientIP(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, ok := ClientIPFromContext(r.Context())
		require.True(t, ok)
		got = ip.String()
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	handler.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestClientIPNoProxyConfig(t *testing.T) {
	ip := resolveIP(t, ClientIPConfig{}, "198.51.100.7:40000", map[string]string{
		"X-Forwarded-For": "203.0.113.9",
	})
	// Without configured headers the forwarded value is ignored.
	assert.Equal(t, "198.51.100.7", ip)
}

func TestClientIPTrustedProxy(t *testing.T) {
	cfg := ClientIPConfig{
		TrustedProxyIPHeaders: []string{"X-Forwarded-For"},
		TrustedProxyCIDRs:     []string{"10.0.0.0/8"},
	}

	ip := resolveIP(t, cfg, "10.1.2.3:40000", map[string]string{
		"X-Forwarded-For": "203.0.113.9, 10.1.2.3",
	})
	assert.Equal(t, "203.0.113.9", ip)
}

func TestClientIPUntrustedPeerIgnoresHeaders(t *testing.T) {
	cfg := ClientIPConfig{
		TrustedProxyIPHeaders: []string{"X-Forwarded-For"},
		TrustedProxyCIDRs:     []string{"10.0.0.0/8"},
	}

	// The peer is not a trusted proxy: spoofed headers do not count.
	ip := resolveIP(t, cfg, "198.51.100.7:40000", map[string]string{
		"X-Forwarded-For": "203.0.113.9",
	})
	assert.Equal(t, "198.51.100.7", ip)
}

func TestClientIPCustomHeader(t *testing.T) {
	cfg := ClientIPConfig{
		TrustedProxyIPHeaders: []string{"X-Real-IP"},
		TrustedProxyCIDRs:     []string{"10.0.0.0/8"},
	}

	ip := resolveIP(t, cfg, "10.1.2.3:40000", map[string]string{
		"X-Real-IP": "203.0.113.9",
	})
	assert.Equal(t, "203.0.113.9", ip)
}

func TestRequestLimiterMemoryMode(t *testing.T) {
	rl := NewRequestLimiter(RequestLimiterConfig{
		RatePerInterval: 2,
		Interval:        time.Minute,
		Burst:           2,
	})

	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.7:40000"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code, "request %d", i+1)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:40000"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	// A different client has its own bucket.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.8:40000"
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}
