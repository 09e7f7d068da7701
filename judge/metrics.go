package judge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"time"
)

const metricsNamespace = "sql_judge"

type Metrics struct {
	submissions       *prometheus.CounterVec
	provisionDuration *prometheus.HistogramVec
	provisionFailures *prometheus.CounterVec
	queryDuration     *prometheus.HistogramVec
	activeInstances   prometheus.Gauge
	teardownFailures  prometheus.Counter
}

// NewMetrics registers the judge metrics with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "submissions_total",
			Help:      "Graded submissions by verdict.",
		}, []string{"verdict"}),
		provisionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "provision_duration_seconds",
			Help:      "Time spent provisioning and seeding instances.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"backend"}),
		provisionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "provision_failures_total",
			Help:      "Instances that could not be provisioned.",
		}, []string{"backend"}),
		queryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "query_duration_seconds",
			Help:      "Time spent executing submitted queries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),
		activeInstances: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_instances",
			Help:      "Instances currently provisioned.",
		}),
		teardownFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "teardown_failures_total",
			Help:      "Instances whose teardown reported an error.",
		}),
	}
}

func (m *Metrics) observeProvision(backend string, d time.Duration, err error) {
	if err != nil {
		m.provisionFailures.WithLabelValues(backend).Inc()
		return
	}
	m.provisionDuration.WithLabelValues(backend).Observe(d.Seconds())
}
