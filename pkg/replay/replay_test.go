package replay

import (
	"context"
	"testing"
	"time"

	"github.com/SmitUplenchwar2687/Beacon/internal/delivery"
	"github.com/SmitUplenchwar2687/Beacon/pkg/clock"
	"github.com/SmitUplenchwar2687/Beacon/pkg/telemetry"
)

type countingSender struct{ n int }

func (s *countingSender) Send(context.Context, telemetry.Record) (delivery.Outcome, error) {
	s.n++
	return delivery.OutcomeDelivered, nil
}

func TestReplayBasic(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	vc := clock.NewVirtualClock(start)
	sender := &countingSender{}

	r := New(sender, vc, 0, Filter{Categories: []telemetry.Category{telemetry.CategoryError}})
	r.LoadRecords([]telemetry.Record{
		telemetry.NewRecord(telemetry.CategoryError, telemetry.Payload{"message": "a"}, "s1", start),
		telemetry.NewRecord(telemetry.CategoryPerformance, telemetry.Payload{"memory": 1}, "s1", start.Add(time.Second)),
		telemetry.NewRecord(telemetry.CategoryError, telemetry.Payload{"message": "b"}, "s1", start.Add(2*time.Second)),
	})

	summary, err := r.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if summary.Replayed != 2 || sender.n != 2 {
		t.Fatalf("Replayed = %d, sent = %d, want 2", summary.Replayed, sender.n)
	}
	if !vc.Now().Equal(start.Add(2 * time.Second)) {
		t.Fatalf("virtual clock at %v, want %v", vc.Now(), start.Add(2*time.Second))
	}
}
