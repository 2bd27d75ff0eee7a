package proxy

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dominant-strategies/go-merge-mining-proxy/util"
)

var (
	prometheusRequests    *prometheus.HistogramVec
	prometheusSubmissions *prometheus.CounterVec
	prometheusTemplates   prometheus.Counter
)

var (
	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusRequests = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "proxy",
			Name:      "request",
			Help:      "Histogram of JSON-RPC calls handled by the proxy",
			Buckets:   util.MetricsBucketsMilliSeconds,
		},
		[]string{"method", "status"},
	)
	prometheusSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proxy",
			Name:      "block_submissions",
			Help:      "Number of solved blocks handed to each chain",
		},
		[]string{"chain", "outcome"},
	)
	prometheusTemplates = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "proxy",
			Name:      "block_templates",
			Help:      "Number of merged block templates issued",
		},
	)
}

func observeRequest(method, status string, start time.Time) {
	prometheusRequests.WithLabelValues(method, status).Observe(time.Since(start).Seconds())
}

func (s *ProxyServer) observeSubmission(chain string, accepted bool) {
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	prometheusSubmissions.WithLabelValues(chain, outcome).Inc()
}
