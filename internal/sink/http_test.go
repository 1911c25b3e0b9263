package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"

	"github.com/SmitUplenchwar2687/Beacon/internal/telemetry"
)

type fakeCollector struct {
	mu       sync.Mutex
	status   int
	token    string
	paths    []string
	auths    []string
	beacons  [][]byte
	beaconCh chan struct{}
}

func newFakeCollector() *fakeCollector {
	return &fakeCollector{status: http.StatusCreated, token: "tok-1", beaconCh: make(chan struct{}, 8)}
}

func (f *fakeCollector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/v1/auth/anonymous":
		_ = json.NewEncoder(w).Encode(map[string]string{"uid": "anon-1", "token": f.token})
	case "/health":
		w.WriteHeader(f.status)
	case "/api/feedback":
		body, _ := io.ReadAll(r.Body)
		f.beacons = append(f.beacons, body)
		w.WriteHeader(http.StatusNoContent)
		f.beaconCh <- struct{}{}
	default:
		f.paths = append(f.paths, r.URL.Path)
		f.auths = append(f.auths, r.Header.Get("Authorization"))
		w.WriteHeader(f.status)
	}
}

func testRecord() telemetry.Record {
	return telemetry.NewRecord(telemetry.CategoryError, telemetry.Payload{"message": "boom"}, "sess-1",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
}

var testPath = Path{Namespace: "template_feedback", Version: "v0.1", Category: telemetry.CategoryError}

func newTestHTTPSink(t *testing.T, url string, requireIdentity bool) *HTTPSink {
	t.Helper()
	s, err := NewHTTPSink(HTTPOptions{
		BaseURL:         url,
		RequireIdentity: requireIdentity,
		Logger:          slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}),
	})
	if err != nil {
		t.Fatalf("NewHTTPSink() error = %v", err)
	}
	return s
}

func TestHTTPSink_Write(t *testing.T) {
	fc := newFakeCollector()
	srv := httptest.NewServer(fc)
	defer srv.Close()

	s := newTestHTTPSink(t, srv.URL, false)
	if err := s.Write(context.Background(), testPath, testRecord()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if len(fc.paths) != 1 || fc.paths[0] != "/v1/template_feedback/v0.1/errors" {
		t.Errorf("paths = %v", fc.paths)
	}
	if fc.auths[0] != "" {
		t.Errorf("Authorization = %q, want empty", fc.auths[0])
	}
}

func TestHTTPSink_WriteStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusServiceUnavailable, ErrUnavailable},
		{http.StatusTooManyRequests, ErrUnavailable},
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrUnauthorized},
	}
	for _, tt := range tests {
		fc := newFakeCollector()
		fc.status = tt.status
		srv := httptest.NewServer(fc)

		s := newTestHTTPSink(t, srv.URL, false)
		err := s.Write(context.Background(), testPath, testRecord())
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: Write() error = %v, want %v", tt.status, err, tt.want)
		}
		srv.Close()
	}
}

func TestHTTPSink_WriteUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s := newTestHTTPSink(t, url, false)
	err := s.Write(context.Background(), testPath, testRecord())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Write() error = %v, want ErrUnavailable", err)
	}
	if err := s.Ping(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Ping() error = %v, want ErrUnavailable", err)
	}
}

func TestHTTPSink_SignInSendsBearer(t *testing.T) {
	fc := newFakeCollector()
	srv := httptest.NewServer(fc)
	defer srv.Close()

	s := newTestHTTPSink(t, srv.URL, true)
	if !s.RequiresIdentity() {
		t.Fatal("RequiresIdentity() = false")
	}
	uid, err := s.SignInAnonymously(context.Background())
	if err != nil {
		t.Fatalf("SignInAnonymously() error = %v", err)
	}
	if uid != "anon-1" || s.Identity() != "anon-1" {
		t.Errorf("uid = %q, Identity() = %q", uid, s.Identity())
	}
	if err := s.Write(context.Background(), testPath, testRecord()); err != nil {
		t.Fatal(err)
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.auths[0] != "Bearer tok-1" {
		t.Errorf("Authorization = %q, want %q", fc.auths[0], "Bearer tok-1")
	}
}

func TestHTTPSink_UnauthorizedClearsIdentity(t *testing.T) {
	fc := newFakeCollector()
	srv := httptest.NewServer(fc)
	defer srv.Close()

	s := newTestHTTPSink(t, srv.URL, true)
	if _, err := s.SignInAnonymously(context.Background()); err != nil {
		t.Fatal(err)
	}
	fc.mu.Lock()
	fc.status = http.StatusUnauthorized
	fc.mu.Unlock()

	_ = s.Write(context.Background(), testPath, testRecord())
	if s.Identity() != "" {
		t.Errorf("Identity() = %q after 401, want empty", s.Identity())
	}
}

func TestHTTPSink_Beacon(t *testing.T) {
	fc := newFakeCollector()
	srv := httptest.NewServer(fc)
	defer srv.Close()

	s := newTestHTTPSink(t, srv.URL, false)
	if !s.Beacon("/api/feedback", []byte(`{"sessionId":"s"}`)) {
		t.Fatal("Beacon() = false")
	}

	select {
	case <-fc.beaconCh:
	case <-time.After(5 * time.Second):
		t.Fatal("beacon never arrived")
	}
	_ = s.Close()

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if string(fc.beacons[0]) != `{"sessionId":"s"}` {
		t.Errorf("beacon body = %s", fc.beacons[0])
	}
}

func TestHTTPSink_BeaconUnreachableStillQueues(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s := newTestHTTPSink(t, url, false)
	if !s.Beacon("/api/feedback", []byte(`{}`)) {
		t.Error("Beacon() = false, want true even when unreachable")
	}
	_ = s.Close()
}

func TestNewHTTPSink_Validation(t *testing.T) {
	for _, u := range []string{"", "  ", "ftp://x", "::bad"} {
		if _, err := NewHTTPSink(HTTPOptions{BaseURL: u}); err == nil {
			t.Errorf("NewHTTPSink(%q) should fail", u)
		}
	}
}
