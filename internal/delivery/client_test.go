package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"

	"github.com/SmitUplenchwar2687/Beacon/internal/buffer"
	"github.com/SmitUplenchwar2687/Beacon/internal/clock"
	"github.com/SmitUplenchwar2687/Beacon/internal/sink"
	"github.com/SmitUplenchwar2687/Beacon/internal/storage"
	"github.com/SmitUplenchwar2687/Beacon/internal/telemetry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type harness struct {
	client  *Client
	sink    *sink.Memory
	buffer  *buffer.Buffer
	store   *storage.MemoryStore
	signal  *sink.Signal
	clock   *clock.VirtualClock
	metrics *Metrics
	spans   *tracetest.SpanRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	vc := clock.NewVirtualClock(epoch)
	store := storage.NewMemoryStore()
	buf := buffer.New(store, vc)
	mem := sink.NewMemory()
	sig := sink.NewSignal()
	metrics := NewMetrics(prometheus.NewRegistry())

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	c, err := New(Options{
		Sink:           mem,
		Buffer:         buf,
		Watcher:        sig,
		Namespace:      "template_feedback",
		Version:        "v0.1",
		BeaconEndpoint: "/api/feedback",
		Logger:         slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}),
		Metrics:        metrics,
		Tracer:         tp.Tracer(t.Name()),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return &harness{client: c, sink: mem, buffer: buf, store: store, signal: sig, clock: vc, metrics: metrics, spans: sr}
}

func errRecord(msg string) telemetry.Record {
	return telemetry.NewRecord(telemetry.CategoryError, telemetry.Payload{"message": msg}, "sess-1", epoch)
}

func count(t *testing.T, b *buffer.Buffer) int {
	t.Helper()
	n, err := b.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestClient_SendDelivered(t *testing.T) {
	h := newHarness(t)

	out, err := h.client.Send(context.Background(), errRecord("boom"))
	if err != nil || out != OutcomeDelivered {
		t.Fatalf("Send() = %v, %v, want delivered", out, err)
	}
	w := h.sink.Records()
	if len(w) != 1 || w[0].Path.String() != "template_feedback/v0.1/errors" {
		t.Fatalf("written = %+v", w)
	}
	if count(t, h.buffer) != 0 {
		t.Error("delivered record was buffered")
	}
	if got := testutil.ToFloat64(h.metrics.Sends.WithLabelValues("delivered")); got != 1 {
		t.Errorf("sends{delivered} = %v, want 1", got)
	}
}

func TestClient_BufferOnFailure(t *testing.T) {
	h := newHarness(t)
	h.sink.SetFailing(true)
	ctx := context.Background()

	const n = 10
	for i := 0; i < n; i++ {
		out, err := h.client.Send(ctx, errRecord("boom"))
		if err != nil {
			t.Fatalf("Send() error = %v, want nil for buffered", err)
		}
		if out != OutcomeBuffered {
			t.Fatalf("Send() outcome = %v, want buffered", out)
		}
	}

	if got := count(t, h.buffer); got != n {
		t.Fatalf("Count() = %d, want %d", got, n)
	}
	seen := map[string]bool{}
	for e, err := range h.buffer.Drain(ctx) {
		if err != nil {
			t.Fatal(err)
		}
		if seen[e.Key] {
			t.Fatalf("duplicate key %s", e.Key)
		}
		seen[e.Key] = true
		if e.Record.Payload["message"] != "boom" {
			t.Errorf("entry %s payload = %v", e.Key, e.Record.Payload)
		}
	}
	if !h.client.Armed() {
		t.Error("replay watcher not armed after failed send")
	}
	if h.signal.Pending() != 1 {
		t.Errorf("watcher registrations = %d, want 1", h.signal.Pending())
	}
}

func TestClient_SendMalformedDropped(t *testing.T) {
	h := newHarness(t)
	rec := telemetry.NewRecord(telemetry.CategoryPerformance, telemetry.Payload{"fps": math.NaN()}, "s", epoch)

	out, err := h.client.Send(context.Background(), rec)
	if out != OutcomeDropped || !errors.Is(err, telemetry.ErrMalformed) {
		t.Fatalf("Send() = %v, %v, want dropped + ErrMalformed", out, err)
	}
	if count(t, h.buffer) != 0 {
		t.Error("malformed record was buffered")
	}
	if len(h.sink.Records()) != 0 {
		t.Error("malformed record reached the sink")
	}
}

type failingStore struct{ *storage.MemoryStore }

func (failingStore) Create(context.Context, string, []byte) error {
	return errors.New("quota exceeded")
}

func TestClient_SendBufferFailureDropped(t *testing.T) {
	mem := sink.NewMemory()
	mem.SetFailing(true)
	c, err := New(Options{
		Sink:      mem,
		Buffer:    buffer.New(failingStore{storage.NewMemoryStore()}, clock.NewVirtualClock(epoch)),
		Namespace: "ns", Version: "v1",
		Logger: slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}),
	})
	if err != nil {
		t.Fatal(err)
	}

	out, err := c.Send(context.Background(), errRecord("x"))
	if out != OutcomeDropped || err == nil {
		t.Fatalf("Send() = %v, %v, want dropped with error", out, err)
	}
}

func TestClient_DrainIdempotentUnderSuccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.sink.SetFailing(true)
	for i := 0; i < 5; i++ {
		_, _ = h.client.Send(ctx, errRecord("x"))
	}
	h.sink.SetFailing(false)

	first := h.client.Drain(ctx)
	if first.Delivered != 5 || first.Failed != 0 || first.Err != nil {
		t.Fatalf("first Drain() = %+v", first)
	}
	if count(t, h.buffer) != 0 {
		t.Fatal("buffer not empty after successful drain")
	}
	second := h.client.Drain(ctx)
	if second.Attempted != 0 || second.Delivered != 0 {
		t.Errorf("second Drain() = %+v, want no attempts", second)
	}
	if len(h.sink.Records()) != 5 {
		t.Errorf("sink got %d records, want 5", len(h.sink.Records()))
	}
}

func TestClient_PartialDrain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.sink.SetFailing(true)
	for _, m := range []string{"ok-1", "bad-1", "ok-2", "bad-2"} {
		_, _ = h.client.Send(ctx, errRecord(m))
		h.clock.Advance(time.Millisecond)
	}
	h.sink.SetFailing(false)
	h.sink.FailWhen(func(w sink.Written) bool {
		msg, _ := w.Record.Payload["message"].(string)
		return msg == "bad-1" || msg == "bad-2"
	})

	res := h.client.Drain(ctx)
	if res.Attempted != 4 || res.Delivered != 2 || res.Failed != 2 {
		t.Fatalf("Drain() = %+v, want 4 attempted, 2 delivered, 2 failed", res)
	}
	if res.Err == nil {
		t.Error("Drain() Err = nil, want aggregated failures")
	}

	var left []string
	for e, err := range h.buffer.Drain(ctx) {
		if err != nil {
			t.Fatal(err)
		}
		left = append(left, e.Record.Payload["message"].(string))
	}
	if len(left) != 2 || left[0] != "bad-1" || left[1] != "bad-2" {
		t.Errorf("remaining = %v, want [bad-1 bad-2]", left)
	}
	if !h.client.Armed() {
		t.Error("watcher not re-armed after partial drain")
	}
}

func TestClient_DrainRemovesUnreadable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_ = h.store.Set(ctx, buffer.KeyPrefix+"errors_1_corrupt", []byte("not json"))

	res := h.client.Drain(ctx)
	if res.Dropped != 1 || res.Attempted != 0 {
		t.Fatalf("Drain() = %+v, want 1 dropped", res)
	}
	if count(t, h.buffer) != 0 {
		t.Error("unreadable entry left in buffer")
	}
}

func TestClient_ReplayOnAvailability(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.sink.SetFailing(true)
	_, _ = h.client.Send(ctx, errRecord("a"))
	_, _ = h.client.Send(ctx, errRecord("b"))

	// Still down: the replay fails and re-arms.
	h.signal.Signal()
	if count(t, h.buffer) != 2 {
		t.Fatalf("Count() = %d, want 2", count(t, h.buffer))
	}
	if h.signal.Pending() != 1 {
		t.Fatalf("watcher not re-armed after failed replay")
	}

	h.sink.SetFailing(false)
	h.signal.Signal()
	if count(t, h.buffer) != 0 {
		t.Errorf("Count() = %d after recovery, want 0", count(t, h.buffer))
	}
	if len(h.sink.Records()) != 2 {
		t.Errorf("sink got %d records, want 2", len(h.sink.Records()))
	}
	if h.client.Armed() {
		t.Error("watcher still armed with an empty buffer")
	}
}

// heldWatcher keeps the registered callback so a test can fire it late.
type heldWatcher struct {
	fn func()
}

func (w *heldWatcher) OnAvailable(fn func()) func() {
	w.fn = fn
	return func() {}
}

func TestClient_NoReplayAfterClose(t *testing.T) {
	h := newHarness(t)
	w := &heldWatcher{}
	c, err := New(Options{
		Sink:      h.sink,
		Buffer:    h.buffer,
		Watcher:   w,
		Namespace: "template_feedback",
		Version:   "v0.1",
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	h.sink.SetFailing(true)
	if out, _ := c.Send(ctx, errRecord("late")); out != OutcomeBuffered {
		t.Fatalf("Send() = %v, want buffered", out)
	}
	if w.fn == nil {
		t.Fatal("replay was not registered")
	}
	h.sink.SetFailing(false)

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	// The watcher fires after Close already ran.
	w.fn()

	if n := len(h.sink.Records()); n != 0 {
		t.Errorf("closed client replayed %d records", n)
	}
	if count(t, h.buffer) != 1 {
		t.Errorf("Count() = %d, want the entry kept", count(t, h.buffer))
	}

	w.fn = nil
	h.sink.SetFailing(true)
	_, _ = c.Send(ctx, errRecord("after close"))
	if w.fn != nil || c.Armed() {
		t.Error("closed client armed a new replay")
	}
}

func TestClient_IdentitySignInOnce(t *testing.T) {
	h := newHarness(t)
	h.sink.SetRequireIdentity(true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		out, err := h.client.Send(ctx, errRecord("x"))
		if err != nil || out != OutcomeDelivered {
			t.Fatalf("Send() = %v, %v", out, err)
		}
	}
	if h.sink.SignIns() != 1 {
		t.Errorf("sign-ins = %d, want 1", h.sink.SignIns())
	}
}

func TestClient_SignInFailureBuffers(t *testing.T) {
	h := newHarness(t)
	h.sink.SetRequireIdentity(true)
	h.sink.SetSignInFails(true)

	out, err := h.client.Send(context.Background(), errRecord("x"))
	if err != nil || out != OutcomeBuffered {
		t.Fatalf("Send() = %v, %v, want buffered", out, err)
	}
	if count(t, h.buffer) != 1 {
		t.Error("record not buffered after sign-in failure")
	}
}

func TestClient_SendBeacon(t *testing.T) {
	h := newHarness(t)
	h.sink.SetFailing(true)

	ok := h.client.SendBeacon(telemetry.Summary{SessionID: "s", Duration: 42000, CompletionRate: 50, Errors: 3})
	if !ok {
		t.Fatal("SendBeacon() = false")
	}
	calls := h.sink.Beacons()
	if len(calls) != 1 || calls[0].Endpoint != "/api/feedback" {
		t.Fatalf("beacons = %+v", calls)
	}
	var got telemetry.Summary
	if err := json.Unmarshal(calls[0].Body, &got); err != nil {
		t.Fatal(err)
	}
	if got.Errors != 3 || got.Duration != 42000 {
		t.Errorf("summary = %+v", got)
	}
}

type plainSink struct{}

func (plainSink) Write(context.Context, sink.Path, telemetry.Record) error { return nil }

func TestClient_SendBeaconUnsupported(t *testing.T) {
	c, err := New(Options{
		Sink:      plainSink{},
		Buffer:    buffer.New(storage.NewMemoryStore(), nil),
		Namespace: "ns", Version: "v1", BeaconEndpoint: "/api/feedback",
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.SendBeacon(telemetry.Summary{SessionID: "s"}) {
		t.Error("SendBeacon() = true for a sink without a beacon transport")
	}
}

func TestClient_Spans(t *testing.T) {
	h := newHarness(t)
	_, _ = h.client.Send(context.Background(), errRecord("x"))
	_ = h.client.Drain(context.Background())

	var names []string
	for _, s := range h.spans.Ended() {
		names = append(names, s.Name())
	}
	if len(names) != 2 || names[0] != "delivery.Send" || names[1] != "delivery.Drain" {
		t.Errorf("spans = %v", names)
	}
}

func TestNew_Validation(t *testing.T) {
	buf := buffer.New(storage.NewMemoryStore(), nil)
	cases := []Options{
		{Buffer: buf, Namespace: "n", Version: "v"},
		{Sink: plainSink{}, Namespace: "n", Version: "v"},
		{Sink: plainSink{}, Buffer: buf, Version: "v"},
	}
	for i, o := range cases {
		if _, err := New(o); err == nil {
			t.Errorf("case %d: New() should fail", i)
		}
	}
}

func TestOutcomeString(t *testing.T) {
	if OutcomeBuffered.String() != "buffered" || Outcome(9).String() != "outcome(9)" {
		t.Error("unexpected Outcome strings")
	}
}
