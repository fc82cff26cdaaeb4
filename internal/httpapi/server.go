// Package httpapi serves the device status while it waits between cycles.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/wattcode/plant-monitor/internal/utils"
)

// StatusSource reports the current cycle state and the last cycle report.
// Snapshot returns ok=false until the first cycle has finished.
type StatusSource interface {
	State() string
	Snapshot() (report any, ok bool)
}

func NewMux(src StatusSource) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
			"state":  src.State(),
		})
	})
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, _ *http.Request) {
		report, ok := src.Snapshot()
		if !ok {
			utils.WriteError(w, http.StatusServiceUnavailable, "no cycle has run yet")
			return
		}
		utils.WriteJSON(w, http.StatusOK, report)
	})
	return mux
}

func NewServer(addr string, mux *http.ServeMux) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           requestLogger(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)

		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sr.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
