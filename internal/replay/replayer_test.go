package replay

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"

	"github.com/SmitUplenchwar2687/Beacon/internal/buffer"
	"github.com/SmitUplenchwar2687/Beacon/internal/clock"
	"github.com/SmitUplenchwar2687/Beacon/internal/delivery"
	"github.com/SmitUplenchwar2687/Beacon/internal/recorder"
	"github.com/SmitUplenchwar2687/Beacon/internal/sink"
	"github.com/SmitUplenchwar2687/Beacon/internal/storage"
	"github.com/SmitUplenchwar2687/Beacon/internal/telemetry"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeSender records what it is given and answers with outcome.
type fakeSender struct {
	mu      sync.Mutex
	sent    []telemetry.Record
	outcome func(telemetry.Record) (delivery.Outcome, error)
}

func (f *fakeSender) Send(_ context.Context, r telemetry.Record) (delivery.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, r)
	if f.outcome == nil {
		return delivery.OutcomeDelivered, nil
	}
	return f.outcome(r)
}

func makeRecords(count int, cat telemetry.Category, session string, interval time.Duration) []telemetry.Record {
	records := make([]telemetry.Record, count)
	for i := range records {
		records[i] = telemetry.NewRecord(cat, telemetry.Payload{"i": i}, session, epoch.Add(time.Duration(i)*interval))
	}
	return records
}

func TestReplayer_BasicReplay(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	fs := &fakeSender{}
	r := New(fs, vc, 0, Filter{})
	r.LoadRecords(makeRecords(10, telemetry.CategoryError, "s1", time.Second))

	var results []Result
	summary, err := r.Run(context.Background(), func(res Result) {
		results = append(results, res)
	})
	if err != nil {
		t.Fatal(err)
	}

	if summary.Replayed != 10 || summary.Delivered != 10 {
		t.Errorf("Replayed/Delivered = %d/%d, want 10/10", summary.Replayed, summary.Delivered)
	}
	if len(results) != 10 || len(fs.sent) != 10 {
		t.Errorf("got %d results and %d sends, want 10", len(results), len(fs.sent))
	}
	if summary.Duration != 9*time.Second {
		t.Errorf("Duration = %v, want 9s", summary.Duration)
	}
}

func TestReplayer_AdvancesClock(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	records := makeRecords(3, telemetry.CategoryPerformance, "s1", 5*time.Second)

	r := New(&fakeSender{}, vc, 0, Filter{})
	r.LoadRecords(records)

	var times []time.Time
	if _, err := r.Run(context.Background(), func(res Result) {
		times = append(times, res.Time)
	}); err != nil {
		t.Fatal(err)
	}

	for i, got := range times {
		if want := epoch.Add(time.Duration(i) * 5 * time.Second); !got.Equal(want) {
			t.Errorf("result %d at %v, want %v", i, got, want)
		}
	}
}

func TestReplayer_Outcomes(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	fs := &fakeSender{outcome: func(r telemetry.Record) (delivery.Outcome, error) {
		switch r.SessionID {
		case "offline":
			return delivery.OutcomeBuffered, nil
		case "broken":
			return delivery.OutcomeDropped, telemetry.ErrMalformed
		}
		return delivery.OutcomeDelivered, nil
	}}

	records := append(makeRecords(2, telemetry.CategoryError, "ok", time.Second),
		makeRecords(3, telemetry.CategoryModification, "offline", time.Second)...)
	records = append(records, makeRecords(1, telemetry.CategoryError, "broken", time.Second)...)

	r := New(fs, vc, 0, Filter{})
	r.LoadRecords(records)

	var errs int
	summary, err := r.Run(context.Background(), func(res Result) {
		if res.Err != nil {
			errs++
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	if summary.Delivered != 2 || summary.Buffered != 3 || summary.Dropped != 1 {
		t.Errorf("delivered/buffered/dropped = %d/%d/%d, want 2/3/1",
			summary.Delivered, summary.Buffered, summary.Dropped)
	}
	if errs != 1 {
		t.Errorf("results with errors = %d, want 1", errs)
	}

	errSum := summary.PerCategory[telemetry.CategoryError]
	if errSum.Delivered != 2 || errSum.Dropped != 1 {
		t.Errorf("errors category = %+v, want 2 delivered 1 dropped", errSum)
	}
	if mod := summary.PerCategory[telemetry.CategoryModification]; mod.Buffered != 3 {
		t.Errorf("modifications category = %+v, want 3 buffered", mod)
	}
}

func TestReplayer_Filter(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	fs := &fakeSender{}
	records := append(makeRecords(4, telemetry.CategoryError, "s1", time.Second),
		makeRecords(4, telemetry.CategoryStuckPoint, "s2", time.Second)...)

	r := New(fs, vc, 0, Filter{Sessions: []string{"s2"}})
	r.LoadRecords(records)

	summary, err := r.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if summary.TotalRecords != 8 || summary.Filtered != 4 || summary.Replayed != 4 {
		t.Errorf("total/filtered/replayed = %d/%d/%d, want 8/4/4",
			summary.TotalRecords, summary.Filtered, summary.Replayed)
	}
	for _, r := range fs.sent {
		if r.SessionID != "s2" {
			t.Errorf("sent record from session %q", r.SessionID)
		}
	}
}

func TestReplayer_FilterMatchesNothing(t *testing.T) {
	r := New(&fakeSender{}, clock.NewVirtualClock(epoch), 0, Filter{Sessions: []string{"nobody"}})
	r.LoadRecords(makeRecords(3, telemetry.CategoryError, "s1", time.Second))

	summary, err := r.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Filtered != 0 || summary.Replayed != 0 {
		t.Errorf("summary = %+v, want nothing replayed", summary)
	}
}

func TestReplayer_Load_FromRecorderExport(t *testing.T) {
	rec := recorder.New(nil)
	for _, r := range makeRecords(3, telemetry.CategoryError, "s1", time.Second) {
		if err := rec.Record(recorder.Received{Path: "template_feedback/v0.1/errors", Record: r, ReceivedAt: epoch}); err != nil {
			t.Fatal(err)
		}
	}
	var buf bytes.Buffer
	if err := rec.ExportJSON(&buf); err != nil {
		t.Fatal(err)
	}

	fs := &fakeSender{}
	r := New(fs, clock.NewVirtualClock(epoch), 0, Filter{})
	if err := r.Load(&buf); err != nil {
		t.Fatal(err)
	}
	summary, err := r.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Replayed != 3 {
		t.Errorf("Replayed = %d, want 3", summary.Replayed)
	}
}

func TestReplayer_LoadInvalidJSON(t *testing.T) {
	r := New(&fakeSender{}, clock.NewVirtualClock(epoch), 0, Filter{})
	if err := r.Load(bytes.NewBufferString("{")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestReplayer_EmptyRecords(t *testing.T) {
	r := New(&fakeSender{}, clock.NewVirtualClock(epoch), 0, Filter{})

	if _, err := r.Run(context.Background(), nil); !errors.Is(err, ErrNoRecords) {
		t.Errorf("Run = %v, want ErrNoRecords", err)
	}
}

func TestReplayer_ContextCancellation(t *testing.T) {
	r := New(&fakeSender{}, clock.NewVirtualClock(epoch), 0, Filter{})
	r.LoadRecords(makeRecords(1000, telemetry.CategoryError, "s1", time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	count := 0
	summary, err := r.Run(ctx, func(Result) {
		count++
		if count >= 5 {
			cancel()
		}
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if summary.Replayed != 5 {
		t.Errorf("Replayed = %d, want 5", summary.Replayed)
	}
}

func TestReplayer_SortsRecords(t *testing.T) {
	records := []telemetry.Record{
		telemetry.NewRecord(telemetry.CategoryError, telemetry.Payload{"n": "c"}, "s", epoch.Add(2*time.Second)),
		telemetry.NewRecord(telemetry.CategoryError, telemetry.Payload{"n": "a"}, "s", epoch),
		telemetry.NewRecord(telemetry.CategoryError, telemetry.Payload{"n": "b"}, "s", epoch.Add(time.Second)),
	}

	r := New(&fakeSender{}, clock.NewVirtualClock(epoch), 0, Filter{})
	r.LoadRecords(records)

	var order []string
	if _, err := r.Run(context.Background(), func(res Result) {
		order = append(order, res.Record.Payload["n"].(string))
	}); err != nil {
		t.Fatal(err)
	}
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("order = %v, want [a b c]", order)
	}
}

func TestReplayer_ThroughDeliveryClient(t *testing.T) {
	mem := sink.NewMemory()
	mem.FailWhen(func(w sink.Written) bool { return w.Record.SessionID == "flaky" })
	store := storage.NewMemoryStore()
	client, err := delivery.New(delivery.Options{
		Sink:      mem,
		Buffer:    buffer.New(store, nil),
		Namespace: "template_feedback",
		Version:   "v0.1",
		Logger:    slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	records := append(makeRecords(3, telemetry.CategoryError, "steady", time.Second),
		makeRecords(2, telemetry.CategoryError, "flaky", time.Second)...)
	r := New(client, clock.NewVirtualClock(epoch), 0, Filter{})
	r.LoadRecords(records)

	summary, err := r.Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Delivered != 3 || summary.Buffered != 2 {
		t.Errorf("delivered/buffered = %d/%d, want 3/2", summary.Delivered, summary.Buffered)
	}
	if got := len(mem.Records()); got != 3 {
		t.Errorf("sink holds %d records, want 3", got)
	}
	if store.Len() != 2 {
		t.Errorf("buffer holds %d entries, want 2", store.Len())
	}
}
