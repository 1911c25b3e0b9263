package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ns        = "beacon"
	subsystem = "collector"

	labelCategory = "category"
	labelResult   = "result"

	resultAccepted     = "accepted"
	resultRejected     = "rejected"
	resultUnauthorized = "unauthorized"
	resultLimited      = "limited"
	resultFailed       = "failed"
)

type metrics struct {
	ingest    *prometheus.CounterVec
	summaries *prometheus.CounterVec
	signIns   prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		ingest: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "records_total", Namespace: ns, Subsystem: subsystem,
			Help: "Record writes received, by category and result.",
		}, []string{labelCategory, labelResult}),
		summaries: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "summaries_total", Namespace: ns, Subsystem: subsystem,
			Help: "Teardown summaries received, by result.",
		}, []string{labelResult}),
		signIns: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "anonymous_identities_total", Namespace: ns, Subsystem: subsystem,
			Help: "Anonymous identities issued.",
		}),
	}
}
