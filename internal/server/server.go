// Package server is the Beacon collector: it accepts telemetry records and
// teardown summaries over HTTP, stores them in SQLite and streams them to
// the live dashboard.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cdr.dev/slog/v3"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SmitUplenchwar2687/Beacon/internal/clock"
	"github.com/SmitUplenchwar2687/Beacon/internal/limiter"
	"github.com/SmitUplenchwar2687/Beacon/internal/recorder"
	"github.com/SmitUplenchwar2687/Beacon/internal/sink"
	"github.com/SmitUplenchwar2687/Beacon/internal/telemetry"
)

const (
	maxBodyBytes     = 64 << 10
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Options configures a collector Server.
type Options struct {
	Addr  string
	Store *Datastore
	// Limiter budgets records per session. Nil disables limiting.
	Limiter limiter.Limiter
	// Recorder, when set, journals every accepted record.
	Recorder *recorder.Recorder
	// RequireIdentity rejects record writes without a token issued by
	// /v1/auth/anonymous.
	RequireIdentity bool
	Clock           clock.Clock
	// Registry receives the collector metrics and backs /metrics. Nil gets
	// a private registry.
	Registry *prometheus.Registry
	Logger   slog.Logger
}

// Server is the Beacon collector HTTP server.
type Server struct {
	httpServer      *http.Server
	store           *Datastore
	limiter         limiter.Limiter
	recorder        *recorder.Recorder
	hub             *Hub
	clock           clock.Clock
	requireIdentity bool
	metrics         *metrics
	registry        *prometheus.Registry
	logger          slog.Logger
	mux             *http.ServeMux
}

// New creates a collector server.
func New(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("collector datastore is required")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.NewRealClock()
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	logger := opts.Logger.Named("collector")

	s := &Server{
		store:           opts.Store,
		limiter:         opts.Limiter,
		recorder:        opts.Recorder,
		hub:             NewHub(logger),
		clock:           clk,
		requireIdentity: opts.RequireIdentity,
		metrics:         newMetrics(reg),
		registry:        reg,
		logger:          logger,
		mux:             http.NewServeMux(),
	}
	s.routes()
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           CORSMiddleware(LoggingMiddleware(s.mux, logger, clk)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /v1/auth/anonymous", s.handleAnonymous)
	s.mux.HandleFunc("POST /v1/{namespace}/{version}/{category}", s.handleRecord)
	s.mux.HandleFunc("POST /api/feedback", s.handleFeedback)
	s.mux.HandleFunc("GET /api/records", s.handleListRecords)
	s.mux.HandleFunc("GET /api/summaries", s.handleListSummaries)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("GET /dashboard/", s.handleDashboard)
	s.mux.HandleFunc("GET /ws", s.hub.HandleWebSocket)
}

// Handler returns the fully wrapped handler, for use with httptest.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Hub returns the live feed hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	counts, err := s.store.CountByCategory(r.Context())
	if err != nil {
		s.logger.Error(r.Context(), "count records", slog.Error(err))
		writeError(w, http.StatusInternalServerError, "count records")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":      "beacon-collector",
		"status":       "running",
		"time":         s.clock.Now().Format(time.RFC3339),
		"records":      counts,
		"live_clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAnonymous(w http.ResponseWriter, r *http.Request) {
	uid := uuid.NewString()
	token := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	if err := s.store.CreateIdentity(r.Context(), uid, token, s.clock.Now()); err != nil {
		s.logger.Error(r.Context(), "create identity", slog.Error(err))
		writeError(w, http.StatusInternalServerError, "create identity")
		return
	}
	s.metrics.signIns.Inc()
	writeJSON(w, http.StatusOK, map[string]string{"uid": uid, "token": token})
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cat, err := telemetry.ParseCategory(r.PathValue("category"))
	if err != nil {
		s.metrics.ingest.WithLabelValues("unknown", resultRejected).Inc()
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	path := sink.Path{
		Namespace: r.PathValue("namespace"),
		Version:   r.PathValue("version"),
		Category:  cat,
	}
	reject := func(result string, status int, msg string) {
		s.metrics.ingest.WithLabelValues(string(cat), result).Inc()
		writeError(w, status, msg)
	}

	var uid string
	if s.requireIdentity {
		token, ok := bearerToken(r)
		if !ok {
			reject(resultUnauthorized, http.StatusUnauthorized, "bearer token required")
			return
		}
		uid, err = s.store.LookupToken(ctx, token)
		if err != nil {
			s.logger.Error(ctx, "lookup token", slog.Error(err))
			reject(resultFailed, http.StatusInternalServerError, "lookup token")
			return
		}
		if uid == "" {
			reject(resultUnauthorized, http.StatusUnauthorized, "unknown token")
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		reject(resultRejected, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	rec, err := telemetry.Decode(body)
	if err != nil {
		reject(resultRejected, http.StatusBadRequest, err.Error())
		return
	}
	if rec.Category == "" {
		rec.Category = cat
	}
	if rec.Category != cat {
		reject(resultRejected, http.StatusBadRequest,
			fmt.Sprintf("record category %q does not match path %q", rec.Category, cat))
		return
	}
	if err := rec.Validate(); err != nil {
		reject(resultRejected, http.StatusBadRequest, err.Error())
		return
	}

	if s.limiter != nil {
		decision := s.limiter.Allow(ctx, rec.SessionID)
		setRateLimitHeaders(w, decision)
		if !decision.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(decision.RetryAfter(s.clock.Now()))))
			reject(resultLimited, http.StatusTooManyRequests, "session ingest budget exceeded")
			return
		}
	}

	receivedAt := s.clock.Now()
	id, err := s.store.InsertRecord(ctx, path, uid, rec, receivedAt)
	if err != nil {
		s.logger.Error(ctx, "store record", slog.F("path", path.String()), slog.Error(err))
		reject(resultFailed, http.StatusInternalServerError, "store record")
		return
	}
	s.metrics.ingest.WithLabelValues(string(cat), resultAccepted).Inc()

	received := recorder.Received{Path: path.String(), Record: rec, ReceivedAt: receivedAt}
	if s.recorder != nil {
		if err := s.recorder.Record(received); err != nil {
			s.logger.Warn(ctx, "journal record", slog.Error(err))
		}
	}
	s.hub.Broadcast(LiveEvent{Kind: LiveRecord, Time: receivedAt, Record: &received})

	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// retryAfterSeconds rounds d up to whole seconds, never below 1.
func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	return max(secs, 1)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var summary telemetry.Summary
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&summary); err != nil {
		s.metrics.summaries.WithLabelValues(resultRejected).Inc()
		writeError(w, http.StatusBadRequest, "decode summary: "+err.Error())
		return
	}
	if summary.SessionID == "" {
		s.metrics.summaries.WithLabelValues(resultRejected).Inc()
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	receivedAt := s.clock.Now()
	if _, err := s.store.InsertSummary(ctx, summary, receivedAt); err != nil {
		s.logger.Error(ctx, "store summary", slog.Error(err))
		s.metrics.summaries.WithLabelValues(resultFailed).Inc()
		writeError(w, http.StatusInternalServerError, "store summary")
		return
	}
	s.metrics.summaries.WithLabelValues(resultAccepted).Inc()
	s.hub.Broadcast(LiveEvent{Kind: LiveSummary, Time: receivedAt, Summary: &summary})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := RecordQuery{SessionID: q.Get("session")}
	if c := q.Get("category"); c != "" {
		cat, err := telemetry.ParseCategory(c)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		query.Category = cat
	}
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	query.Limit = limit

	records, err := s.store.ListRecords(r.Context(), query)
	if err != nil {
		s.logger.Error(r.Context(), "list records", slog.Error(err))
		writeError(w, http.StatusInternalServerError, "list records")
		return
	}
	if records == nil {
		records = []StoredRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleListSummaries(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	summaries, err := s.store.ListSummaries(r.Context(), limit)
	if err != nil {
		s.logger.Error(r.Context(), "list summaries", slog.Error(err))
		writeError(w, http.StatusInternalServerError, "list summaries")
		return
	}
	if summaries == nil {
		summaries = []StoredSummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, DashboardHTML)
}

// Start begins listening. It blocks until the server is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.StartOnListener(ln)
}

// StartOnListener begins serving on the provided listener.
// Useful for tests that need to pick an ephemeral port.
func (s *Server) StartOnListener(ln net.Listener) error {
	s.logger.Info(context.Background(), "collector listening", slog.F("addr", ln.Addr().String()))
	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server and disconnects live clients.
func (s *Server) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	err := s.httpServer.Shutdown(ctx)
	s.hub.Close()
	return err
}

func setRateLimitHeaders(w http.ResponseWriter, d limiter.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", d.ResetAt.Format(time.RFC3339))
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	token = strings.TrimSpace(token)
	return token, ok && token != ""
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer, got %q", raw)
	}
	return min(n, maxListLimit), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
