package middleware

import (
	"log/slog"
	"net/http"
	"strings"
)

// TelemetryStubMiddleware short-circuits the telemetry calls clients aim at
// the proxy base URL. Answering them locally keeps clients from retrying or
// logging delivery failures.
type TelemetryStubMiddleware struct {
	logger *slog.Logger
}

func NewTelemetryStubMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	tm := &TelemetryStubMiddleware{logger: logger}

	return tm.middleware
}

func (tm *TelemetryStubMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tm.isTelemetryRequest(r.URL.Path) {
			tm.logger.Debug("stubbing telemetry request", "path", r.URL.Path)

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte(`{"success":true}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (tm *TelemetryStubMiddleware) isTelemetryRequest(path string) bool {
	telemetryPaths := []string{
		"/v1/initialize",
		"/v1/log_event",
		"/v1/rgstr",
		"/api/event_report",
		"/statsig",
		"/telemetry",
		"/analytics",
	}

	for _, p := range telemetryPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}

	return false
}
