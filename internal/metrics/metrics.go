// Package metrics exposes gateway outcomes as Prometheus collectors and can
// push them to a Pushgateway at the end of a CLI run.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/v1nybarreto/genai-agent/pkg/models"
)

// Recorder implements gateway.Observer on a private registry
type Recorder struct {
	reg *prometheus.Registry

	outcomes       *prometheus.CounterVec
	estimatedBytes prometheus.Histogram
	duration       *prometheus.HistogramVec
}

// NewRecorder registers the gateway collectors
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()

	outcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genai_agent_queries_total",
			Help: "Gateway passes partitioned by terminal stage.",
		},
		[]string{"stage"},
	)
	estimatedBytes := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "genai_agent_estimated_bytes",
		Help: "Dry-run byte estimates of queries that reached the estimator.",
		// 1 MB .. ~68 GB
		Buckets: prometheus.ExponentialBuckets(1<<20, 4, 9),
	})
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "genai_agent_gateway_duration_seconds",
			Help:    "Wall time of a gateway pass by terminal stage.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	reg.MustRegister(outcomes, estimatedBytes, duration)

	return &Recorder{
		reg:            reg,
		outcomes:       outcomes,
		estimatedBytes: estimatedBytes,
		duration:       duration,
	}
}

// ObserveOutcome records one gateway pass
func (r *Recorder) ObserveOutcome(stage models.Stage, estimatedBytes int64, elapsed time.Duration) {
	label := stage.String()
	r.outcomes.WithLabelValues(label).Inc()
	r.duration.WithLabelValues(label).Observe(elapsed.Seconds())
	if stage != models.StageRejected && stage != models.StageEstimationFailed {
		r.estimatedBytes.Observe(float64(estimatedBytes))
	}
}

// Registry returns the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.reg
}

// Push sends the collected metrics to a Pushgateway under the given job name
func (r *Recorder) Push(gatewayURL, job string) error {
	if gatewayURL == "" {
		return fmt.Errorf("metrics: pushgateway URL is required")
	}
	if job == "" {
		job = "genai-agent"
	}
	if err := push.New(gatewayURL, job).Gatherer(r.reg).Push(); err != nil {
		return fmt.Errorf("metrics: push to %s: %w", gatewayURL, err)
	}
	return nil
}
