package httpserver

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestRouter_Health(t *testing.T) {
	ready := false
	h := NewRouter(Options{Ready: func() bool { return ready }})

	code, body := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, _ = get(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	ready = true
	code, body = get(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body)
}

func TestRouter_MountsHandlers(t *testing.T) {
	named := func(name string) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(name + " " + r.URL.Path))
		})
	}
	h := NewRouter(Options{
		RPCPath:     "/svc.v1.Service/",
		RPC:         named("rpc"),
		Events:      named("events"),
		MetricsPath: "/metrics",
		Metrics:     named("metrics"),
	})

	tests := []struct {
		path     string
		expected string
	}{
		{"/svc.v1.Service/Enqueue", "rpc /svc.v1.Service/Enqueue"},
		{"/ws", "events /ws"},
		{"/metrics", "metrics /metrics"},
	}
	for _, tt := range tests {
		code, body := get(t, h, tt.path)
		assert.Equal(t, http.StatusOK, code, tt.path)
		assert.Equal(t, tt.expected, body)
	}

	code, _ := get(t, h, "/nope")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRouter_RPCRateLimit(t *testing.T) {
	h := NewRouter(Options{
		RPCPath:   "/svc.v1.Service/",
		RPC:       http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }),
		RateLimit: 2,
	})

	for i := 0; i < 2; i++ {
		code, _ := get(t, h, "/svc.v1.Service/Status")
		require.Equal(t, http.StatusOK, code)
	}
	code, _ := get(t, h, "/svc.v1.Service/Status")
	assert.Equal(t, http.StatusTooManyRequests, code)

	// Health checks are not limited.
	code, _ = get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, code)
}

func TestRouter_RPCPreflight(t *testing.T) {
	h := NewRouter(Options{
		RPCPath:        "/svc.v1.Service/",
		RPC:            http.NotFoundHandler(),
		AllowedOrigins: []string{"https://panel.example"},
	})

	req := httptest.NewRequest(http.MethodOptions, "/svc.v1.Service/Enqueue", nil)
	req.Header.Set("Origin", "https://panel.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type, X-Admin-Token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://panel.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
