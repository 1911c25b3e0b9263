package server

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"cdr.dev/slog/v3"

	"github.com/SmitUplenchwar2687/Beacon/internal/clock"
)

// statusWriter remembers the status code written by a handler.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack is required by the websocket upgrade.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer %T cannot hijack", w.ResponseWriter)
	}
	if w.status == 0 {
		w.status = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

// LoggingMiddleware logs one line per request. Successful health checks are
// logged at debug level only.
func LoggingMiddleware(next http.Handler, logger slog.Logger, clk clock.Clock) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := clk.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		status := sw.status
		if status == 0 {
			status = http.StatusOK
		}
		fields := []slog.Field{
			slog.F("method", r.Method),
			slog.F("path", r.URL.Path),
			slog.F("status", status),
			slog.F("bytes", sw.bytes),
			slog.F("remote_addr", r.RemoteAddr),
			slog.F("took", clk.Since(start).Round(time.Microsecond)),
		}
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error(r.Context(), "request failed", fields...)
		case r.URL.Path == "/health" && status == http.StatusOK:
			logger.Debug(r.Context(), "health check", fields...)
		default:
			logger.Info(r.Context(), "request", fields...)
		}
	})
}

// CORSMiddleware allows pages on any origin to post telemetry. Preflight
// requests are answered directly.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		h.Set("Access-Control-Expose-Headers", "Retry-After, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset")
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
