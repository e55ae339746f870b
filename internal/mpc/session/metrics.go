package session

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce       sync.Once
	transitionCounter *prometheus.CounterVec
)

func ensureMetrics() {
	metricsOnce.Do(func() {
		transitionCounter = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slearn",
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session state transitions",
		}, []string{"from", "to"})
	})
}
