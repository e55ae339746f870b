package rendezvous

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce    sync.Once
	waitHist       *prometheus.HistogramVec
	timeoutCounter *prometheus.CounterVec
)

func ensureMetrics() {
	metricsOnce.Do(func() {
		waitHist = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "slearn",
			Subsystem: "rendezvous",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for every expected party to publish a readiness token",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"phase", "outcome"})
		timeoutCounter = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slearn",
			Subsystem: "rendezvous",
			Name:      "timeouts_total",
			Help:      "Number of barriers that expired before all parties were observed",
		}, []string{"phase"})
	})
}
