package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"cdr.dev/slog/v3"

	"github.com/SmitUplenchwar2687/Beacon/internal/telemetry"
)

// beaconTimeout bounds a single beacon transmission.
const beaconTimeout = 10 * time.Second

// HTTPOptions configures an HTTPSink.
type HTTPOptions struct {
	// BaseURL is the collector root, e.g. http://localhost:8080.
	BaseURL string
	// RequireIdentity makes Write sign in anonymously first.
	RequireIdentity bool
	// Client defaults to a client with a 10s timeout.
	Client *http.Client
	Logger slog.Logger
}

// HTTPSink writes records to a Beacon collector over HTTP.
type HTTPSink struct {
	base            *url.URL
	client          *http.Client
	requireIdentity bool
	logger          slog.Logger

	mu    sync.RWMutex
	uid   string
	token string

	beacons sync.WaitGroup
}

// NewHTTPSink validates opts and builds the sink.
func NewHTTPSink(opts HTTPOptions) (*HTTPSink, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, fmt.Errorf("sink base url is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse sink base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("sink base url must be http or https, got %q", base.Scheme)
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSink{
		base:            base,
		client:          client,
		requireIdentity: opts.RequireIdentity,
		logger:          opts.Logger.Named("http_sink"),
	}, nil
}

// Write POSTs rec to /v1/<namespace>/<version>/<category>.
func (s *HTTPSink) Write(ctx context.Context, path Path, rec telemetry.Record) error {
	body, err := telemetry.Encode(rec)
	if err != nil {
		return err
	}

	u := s.base.JoinPath("v1", path.Namespace, path.Version, string(path.Category))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := s.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer drainClose(resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// The token is stale; forget it so the next attempt signs in again.
		s.setIdentity("", "")
		return fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
}

func (s *HTTPSink) RequiresIdentity() bool { return s.requireIdentity }

func (s *HTTPSink) Identity() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uid
}

// SignInAnonymously calls /v1/auth/anonymous and stores the issued token.
func (s *HTTPSink) SignInAnonymously(ctx context.Context) (string, error) {
	u := s.base.JoinPath("v1", "auth", "anonymous")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer drainClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: anonymous sign-in status %d", ErrUnauthorized, resp.StatusCode)
	}

	var out struct {
		UID   string `json:"uid"`
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode sign-in response: %w", err)
	}
	if out.UID == "" || out.Token == "" {
		return "", fmt.Errorf("%w: empty identity in sign-in response", ErrUnauthorized)
	}

	s.setIdentity(out.UID, out.Token)
	s.logger.Debug(ctx, "signed in anonymously", slog.F("uid", out.UID))
	return out.UID, nil
}

// Ping checks GET /health.
func (s *HTTPSink) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base.JoinPath("health").String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer drainClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// Beacon POSTs body to endpoint in the background. A relative endpoint is
// resolved against the base URL. The request runs on a detached context so
// it outlives the caller; failures are logged at debug level and never
// reported back.
func (s *HTTPSink) Beacon(endpoint string, body []byte) bool {
	target, err := s.base.Parse(endpoint)
	if err != nil {
		s.logger.Debug(context.Background(), "beacon endpoint invalid", slog.F("endpoint", endpoint), slog.Error(err))
		return false
	}
	payload := bytes.Clone(body)

	s.beacons.Add(1)
	go func() {
		defer s.beacons.Done()
		ctx, cancel := context.WithTimeout(context.Background(), beaconTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(payload))
		if err != nil {
			s.logger.Debug(ctx, "beacon request failed", slog.Error(err))
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.client.Do(req)
		if err != nil {
			s.logger.Debug(ctx, "beacon send failed", slog.Error(err))
			return
		}
		drainClose(resp.Body)
	}()
	return true
}

// Close waits for in-flight beacons.
func (s *HTTPSink) Close() error {
	s.beacons.Wait()
	return nil
}

func (s *HTTPSink) bearer() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *HTTPSink) setIdentity(uid, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uid = uid
	s.token = token
}

func drainClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, rc)
	_ = rc.Close()
}
