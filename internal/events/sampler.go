package events

import (
	"context"
	"math"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/SmitUplenchwar2687/Beacon/internal/telemetry"
)

// Sample is one performance reading.
type Sample struct {
	MemoryMiB  int64
	FPS        int
	HasFPS     bool
	Goroutines int
}

// MetricsSource produces performance readings. ok is false when the
// platform cannot measure, in which case nothing is recorded.
type MetricsSource interface {
	Sample(ctx context.Context) (s Sample, ok bool)
}

// ProcessMetrics samples the resident memory of the current process.
type ProcessMetrics struct {
	proc *process.Process
}

// NewProcessMetrics attaches to the current process. If the platform does
// not support process introspection the source reports unsupported.
func NewProcessMetrics(ctx context.Context) *ProcessMetrics {
	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return &ProcessMetrics{}
	}
	return &ProcessMetrics{proc: p}
}

func (m *ProcessMetrics) Sample(ctx context.Context) (Sample, bool) {
	if m.proc == nil {
		return Sample{}, false
	}
	mem, err := m.proc.MemoryInfoWithContext(ctx)
	if err != nil || mem == nil {
		return Sample{}, false
	}
	return Sample{
		MemoryMiB:  int64(math.Round(float64(mem.RSS) / (1 << 20))),
		Goroutines: runtime.NumGoroutine(),
	}, true
}

// StaticMetrics always returns the same reading. Simulations use it to
// stand in for a page's heap and frame rate.
type StaticMetrics struct {
	Reading     Sample
	Unsupported bool
}

func (m StaticMetrics) Sample(context.Context) (Sample, bool) {
	return m.Reading, !m.Unsupported
}

// PeriodicSampler records a performance sample on every tick.
type PeriodicSampler struct {
	rec    PerformanceRecorder
	source MetricsSource
}

func NewPeriodicSampler(rec PerformanceRecorder, source MetricsSource) *PeriodicSampler {
	return &PeriodicSampler{rec: rec, source: source}
}

func (s *PeriodicSampler) Attach(sub Subscriber) (func(), error) {
	return Subscribe(sub, s.handle)
}

func (s *PeriodicSampler) handle(ctx context.Context, _ TickEvent) {
	sample, ok := s.source.Sample(ctx)
	if !ok {
		return
	}
	data := telemetry.Payload{"memory": sample.MemoryMiB}
	if sample.HasFPS {
		data["fps"] = sample.FPS
	}
	if sample.Goroutines > 0 {
		data["goroutines"] = sample.Goroutines
	}
	_, _ = s.rec.RecordPerformance(ctx, data)
}
