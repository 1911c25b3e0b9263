package delivery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ns        = "beacon"
	subsystem = "delivery"

	LabelOutcome = "outcome"
	LabelResult  = "result"

	ResultDelivered = "delivered"
	ResultFailed    = "failed"
	ResultDropped   = "dropped"
)

// Metrics counts what happens to records on their way to the sink.
type Metrics struct {
	Sends   *prometheus.CounterVec
	Drained *prometheus.CounterVec
	Drains  prometheus.Counter
	Beacons *prometheus.CounterVec
}

// NewMetrics registers the delivery metrics with reg. A nil reg gets a
// private registry so several clients can coexist in one process.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Metrics{
		Sends: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sends_total", Namespace: ns, Subsystem: subsystem,
			Help: "Records passed to Send, by outcome (delivered, buffered, dropped).",
		}, []string{LabelOutcome}),
		Drained: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "drained_records_total", Namespace: ns, Subsystem: subsystem,
			Help: "Buffered entries processed by a drain, by result.",
		}, []string{LabelResult}),
		Drains: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "drains_total", Namespace: ns, Subsystem: subsystem,
			Help: "Buffer drains started.",
		}),
		Beacons: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "beacons_total", Namespace: ns, Subsystem: subsystem,
			Help: "Teardown beacons, by whether the transport queued them.",
		}, []string{LabelResult}),
	}
}
