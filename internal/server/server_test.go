package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/SmitUplenchwar2687/Beacon/internal/clock"
	"github.com/SmitUplenchwar2687/Beacon/internal/limiter"
	"github.com/SmitUplenchwar2687/Beacon/internal/recorder"
	"github.com/SmitUplenchwar2687/Beacon/internal/sink"
	"github.com/SmitUplenchwar2687/Beacon/internal/telemetry"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

var testPath = sink.Path{Namespace: "template_feedback", Version: "v0.1", Category: telemetry.CategoryError}

func openTestStore(t *testing.T) *Datastore {
	t.Helper()
	store, err := OpenDatastore(context.Background(), filepath.Join(t.TempDir(), "collector.db"))
	if err != nil {
		t.Fatalf("OpenDatastore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// startTestServer serves opts on an ephemeral port. Store, Clock and Logger
// are filled in when unset.
func startTestServer(t *testing.T, opts Options) (*Server, string) {
	t.Helper()
	if opts.Store == nil {
		opts.Store = openTestStore(t)
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewVirtualClock(epoch)
	}
	opts.Logger = slogtest.Make(t, &slogtest.Options{IgnoreErrors: true})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go func() { _ = srv.StartOnListener(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv, "http://" + ln.Addr().String()
}

func newHTTPSink(t *testing.T, baseURL string, requireIdentity bool) *sink.HTTPSink {
	t.Helper()
	s, err := sink.NewHTTPSink(sink.HTTPOptions{
		BaseURL:         baseURL,
		RequireIdentity: requireIdentity,
		Logger:          slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}),
	})
	if err != nil {
		t.Fatalf("NewHTTPSink: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleRecord(session string) telemetry.Record {
	return telemetry.NewRecord(telemetry.CategoryError, telemetry.Payload{
		"message": "Unexpected token",
		"line":    float64(511),
	}, session, epoch.Add(-time.Minute))
}

func postRecord(t *testing.T, baseURL string, path sink.Path, rec telemetry.Record) *http.Response {
	t.Helper()
	body, err := telemetry.Encode(rec)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(baseURL+"/v1/"+path.String(), "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestNew_RequiresStore(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("New without a datastore should fail")
	}
}

func TestServer_Root(t *testing.T) {
	_, baseURL := startTestServer(t, Options{})

	resp, err := http.Get(baseURL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["service"] != "beacon-collector" {
		t.Errorf("service = %v, want beacon-collector", body["service"])
	}
	if body["time"] != epoch.Format(time.RFC3339) {
		t.Errorf("time = %v, want virtual clock time", body["time"])
	}
}

func TestServer_Health(t *testing.T) {
	_, baseURL := startTestServer(t, Options{})

	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("CORS header = %q, want *", got)
	}
}

func TestServer_NotFound(t *testing.T) {
	_, baseURL := startTestServer(t, Options{})

	resp, err := http.Get(baseURL + "/nonexistent")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestServer_Preflight(t *testing.T) {
	_, baseURL := startTestServer(t, Options{})

	req, _ := http.NewRequest(http.MethodOptions, baseURL+"/v1/"+testPath.String(), nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Access-Control-Allow-Headers"), "Authorization") {
		t.Error("preflight should allow the Authorization header")
	}
}

func TestServer_HTTPSinkWrite(t *testing.T) {
	rec := recorder.New(nil)
	srv, baseURL := startTestServer(t, Options{Recorder: rec})
	s := newHTTPSink(t, baseURL, false)
	ctx := context.Background()

	want := sampleRecord("sess-1")
	if err := s.Write(ctx, testPath, want); err != nil {
		t.Fatalf("Write: %v", err)
	}

	stored, err := srv.store.ListRecords(ctx, RecordQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 {
		t.Fatalf("stored %d records, want 1", len(stored))
	}
	got := stored[0]
	if got.Path != testPath.String() {
		t.Errorf("path = %q, want %q", got.Path, testPath.String())
	}
	if got.Record.SessionID != "sess-1" || got.Record.Payload["message"] != "Unexpected token" {
		t.Errorf("record = %+v", got.Record)
	}
	if !got.ReceivedAt.Equal(epoch) {
		t.Errorf("received_at = %v, want server clock %v", got.ReceivedAt, epoch)
	}
	if !got.Record.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.Record.CreatedAt, want.CreatedAt)
	}

	if rec.Len() != 1 {
		t.Errorf("recorder journaled %d entries, want 1", rec.Len())
	}
	if v := testutil.ToFloat64(srv.metrics.ingest.WithLabelValues("errors", resultAccepted)); v != 1 {
		t.Errorf("accepted counter = %v, want 1", v)
	}
}

func TestServer_Ping(t *testing.T) {
	_, baseURL := startTestServer(t, Options{})
	s := newHTTPSink(t, baseURL, false)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestServer_RequireIdentity(t *testing.T) {
	srv, baseURL := startTestServer(t, Options{RequireIdentity: true})
	ctx := context.Background()

	resp := postRecord(t, baseURL, testPath, sampleRecord("sess-1"))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	s := newHTTPSink(t, baseURL, true)
	if err := s.Write(ctx, testPath, sampleRecord("sess-1")); !errors.Is(err, sink.ErrUnauthorized) {
		t.Fatalf("Write before sign-in = %v, want ErrUnauthorized", err)
	}
	uid, err := s.SignInAnonymously(ctx)
	if err != nil {
		t.Fatalf("SignInAnonymously: %v", err)
	}
	if err := s.Write(ctx, testPath, sampleRecord("sess-1")); err != nil {
		t.Fatalf("Write after sign-in: %v", err)
	}

	stored, err := srv.store.ListRecords(ctx, RecordQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 || stored[0].UID != uid {
		t.Fatalf("stored = %+v, want one record owned by %q", stored, uid)
	}
	if v := testutil.ToFloat64(srv.metrics.signIns); v != 1 {
		t.Errorf("sign-in counter = %v, want 1", v)
	}
}

func TestServer_UnknownToken(t *testing.T) {
	_, baseURL := startTestServer(t, Options{RequireIdentity: true})

	body, _ := telemetry.Encode(sampleRecord("sess-1"))
	req, _ := http.NewRequest(http.MethodPost, baseURL+"/v1/"+testPath.String(), bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer not-issued")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestServer_RateLimitPerSession(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	lim := limiter.NewTokenBucket(2, time.Minute, 2, vc)
	srv, baseURL := startTestServer(t, Options{Clock: vc, Limiter: lim})

	for i := 0; i < 2; i++ {
		resp := postRecord(t, baseURL, testPath, sampleRecord("noisy"))
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("request %d status = %d, want 201", i+1, resp.StatusCode)
		}
	}

	resp := postRecord(t, baseURL, testPath, sampleRecord("noisy"))
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") != "30" {
		t.Errorf("Retry-After = %q, want 30", resp.Header.Get("Retry-After"))
	}

	// Another session has its own budget.
	resp = postRecord(t, baseURL, testPath, sampleRecord("quiet"))
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("other session status = %d, want 201", resp.StatusCode)
	}

	// The HTTP sink reports a limited write as unavailable so the client buffers it.
	s := newHTTPSink(t, baseURL, false)
	if err := s.Write(context.Background(), testPath, sampleRecord("noisy")); !errors.Is(err, sink.ErrUnavailable) {
		t.Errorf("limited Write = %v, want ErrUnavailable", err)
	}
	if v := testutil.ToFloat64(srv.metrics.ingest.WithLabelValues("errors", resultLimited)); v != 2 {
		t.Errorf("limited counter = %v, want 2", v)
	}

	vc.Advance(31 * time.Second)
	resp = postRecord(t, baseURL, testPath, sampleRecord("noisy"))
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status after refill = %d, want 201", resp.StatusCode)
	}
}

func TestServer_RejectsBadRecords(t *testing.T) {
	_, baseURL := startTestServer(t, Options{})

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown category", "/v1/template_feedback/v0.1/clicks", `{}`, http.StatusNotFound},
		{"not json", "/v1/template_feedback/v0.1/errors", `{`, http.StatusBadRequest},
		{"category mismatch", "/v1/template_feedback/v0.1/errors",
			`{"category":"performance","payload":{},"session_id":"s","created_at":"2024-01-01T00:00:00Z"}`, http.StatusBadRequest},
		{"missing session", "/v1/template_feedback/v0.1/errors",
			`{"payload":{},"created_at":"2024-01-01T00:00:00Z"}`, http.StatusBadRequest},
		{"too large", "/v1/template_feedback/v0.1/errors",
			`{"payload":{"x":"` + strings.Repeat("a", maxBodyBytes) + `"}}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(baseURL+tt.path, "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestServer_CategoryFromPath(t *testing.T) {
	srv, baseURL := startTestServer(t, Options{})

	body := `{"payload":{"element":"#loginButton","duration":8500},"session_id":"s","created_at":"2024-01-01T00:00:00Z"}`
	resp, err := http.Post(baseURL+"/v1/template_feedback/v0.1/stuck_points", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	stored, err := srv.store.ListRecords(context.Background(), RecordQuery{Category: telemetry.CategoryStuckPoint})
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 || stored[0].Record.Category != telemetry.CategoryStuckPoint {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestServer_Feedback(t *testing.T) {
	_, baseURL := startTestServer(t, Options{})

	summary := telemetry.Summary{SessionID: "sess-9", Version: "v0.2", Duration: 42000, CompletionRate: 25, Errors: 3}
	body, _ := json.Marshal(summary)

	s := newHTTPSink(t, baseURL, false)
	if !s.Beacon("/api/feedback", body) {
		t.Fatal("Beacon returned false")
	}
	_ = s.Close() // waits for the beacon

	resp, err := http.Get(baseURL + "/api/summaries")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var got []StoredSummary
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Summary != summary {
		t.Fatalf("summaries = %+v, want %+v", got, summary)
	}

	bad, err := http.Post(baseURL+"/api/feedback", "application/json", strings.NewReader(`{"duration":1}`))
	if err != nil {
		t.Fatal(err)
	}
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("summary without session status = %d, want 400", bad.StatusCode)
	}
}

func TestServer_ListRecordsFilters(t *testing.T) {
	_, baseURL := startTestServer(t, Options{})

	perf := sink.Path{Namespace: "template_feedback", Version: "v0.1", Category: telemetry.CategoryPerformance}
	postRecord(t, baseURL, testPath, sampleRecord("a"))
	postRecord(t, baseURL, testPath, sampleRecord("b"))
	postRecord(t, baseURL, perf, telemetry.NewRecord(telemetry.CategoryPerformance,
		telemetry.Payload{"memory": float64(12)}, "a", epoch))

	tests := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"?category=errors", 2},
		{"?category=performance&session=a", 1},
		{"?session=b", 1},
		{"?limit=1", 1},
	}
	for _, tt := range tests {
		resp, err := http.Get(baseURL + "/api/records" + tt.query)
		if err != nil {
			t.Fatal(err)
		}
		var got []StoredRecord
		err = json.NewDecoder(resp.Body).Decode(&got)
		resp.Body.Close()
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != tt.want {
			t.Errorf("GET /api/records%s returned %d, want %d", tt.query, len(got), tt.want)
		}
	}

	for _, q := range []string{"?category=clicks", "?limit=0", "?limit=abc"} {
		resp, err := http.Get(baseURL + "/api/records" + q)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("GET /api/records%s status = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestServer_MetricsAndDashboard(t *testing.T) {
	_, baseURL := startTestServer(t, Options{})
	postRecord(t, baseURL, testPath, sampleRecord("a"))

	resp, err := http.Get(baseURL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	resp.Body.Close()
	if !strings.Contains(buf.String(), `beacon_collector_records_total{category="errors",result="accepted"} 1`) {
		t.Errorf("metrics output missing ingest counter:\n%s", buf.String())
	}

	resp, err = http.Get(baseURL + "/dashboard/")
	if err != nil {
		t.Fatal(err)
	}
	buf.Reset()
	_, _ = buf.ReadFrom(resp.Body)
	resp.Body.Close()
	if !strings.Contains(buf.String(), "Beacon Collector") {
		t.Error("dashboard page not served")
	}
}

func TestServer_LiveFeed(t *testing.T) {
	srv, baseURL := startTestServer(t, Options{})

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(baseURL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for srv.Hub().ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	postRecord(t, baseURL, testPath, sampleRecord("live"))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev LiveEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Kind != LiveRecord || ev.Record == nil {
		t.Fatalf("event = %+v, want a record event", ev)
	}
	if ev.Record.Path != testPath.String() || ev.Record.Record.SessionID != "live" {
		t.Errorf("record event = %+v", ev.Record)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int
	}{
		{0, 1},
		{-time.Second, 1},
		{300 * time.Millisecond, 1},
		{time.Second, 1},
		{1001 * time.Millisecond, 2},
		{30 * time.Second, 30},
	}
	for _, tt := range tests {
		if got := retryAfterSeconds(tt.in); got != tt.want {
			t.Errorf("retryAfterSeconds(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
