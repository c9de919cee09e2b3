package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claude-bridge/internal/config"
)

func testManager(t *testing.T, apiKey string) *config.Manager {
	t.Helper()

	mgr := config.NewManager(t.TempDir())
	cfg := config.Default()
	cfg.APIKey = apiKey
	require.NoError(t, mgr.Save(cfg))

	return mgr
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewAuthMiddleware(testManager(t, "secret"), logger)(okHandler())

	tests := []struct {
		name     string
		path     string
		headers  map[string]string
		expected int
	}{
		{"x-api-key accepted", "/v1/messages", map[string]string{"X-Api-Key": "secret"}, 200},
		{"bearer accepted", "/v1/messages", map[string]string{"Authorization": "Bearer secret"}, 200},
		{"wrong key rejected", "/v1/messages", map[string]string{"X-Api-Key": "wrong"}, 401},
		{"missing key rejected", "/v1/messages", nil, 401},
		{"health exempt", "/health", nil, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", tt.path, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.expected, rec.Code)
		})
	}
}

func TestAuthMiddleware_NoKeyConfigured(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewAuthMiddleware(testManager(t, ""), logger)(okHandler())

	req := httptest.NewRequest("POST", "/v1/messages", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
}

func TestTelemetryStub(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewTelemetryStubMiddleware(logger)(okHandler())

	stubbed := httptest.NewRequest("POST", "/v1/log_event", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, stubbed)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"success": true}`, rec.Body.String())

	passed := httptest.NewRequest("POST", "/v1/messages", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, passed)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChainOrder(t *testing.T) {
	var order []string

	tag := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	chain := New(tag("outer")).Then(tag("inner"))
	rec := httptest.NewRecorder()
	chain.Handler(okHandler()).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, []string{"outer", "inner"}, order)
}
