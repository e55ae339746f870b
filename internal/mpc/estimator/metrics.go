package estimator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce  sync.Once
	callDuration *prometheus.HistogramVec
)

func ensureMetrics() {
	metricsOnce.Do(func() {
		callDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "slearn",
			Subsystem: "estimator",
			Name:      "call_seconds",
			Help:      "Duration of fit and predict calls including rendezvous",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"mode", "op"})
	})
}
