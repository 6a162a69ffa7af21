// Package metrics exports submission outcomes as Prometheus metrics.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"vaultctl/internal/multisig"
)

// Recorder observes multisig submissions.
type Recorder struct {
	Submissions *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
	LastIndex   *prometheus.GaugeVec
}

// NewRecorder registers the metrics with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultctl_submissions_total",
			Help: "Multisig submissions by operation and outcome.",
		}, []string{"op", "outcome"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vaultctl_submission_duration_seconds",
			Help:    "Time from signing to confirmation or failure.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"op"}),
		LastIndex: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vaultctl_last_confirmed_index",
			Help: "Transaction index of the last confirmed submission.",
		}, []string{"op"}),
	}
}

func (r *Recorder) Observe(_ context.Context, e multisig.Event) {
	outcome := "confirmed"
	if e.Err != nil {
		outcome = multisig.KindOf(e.Err)
	}
	r.Submissions.WithLabelValues(e.Op, outcome).Inc()
	r.Duration.WithLabelValues(e.Op).Observe(e.Duration.Seconds())
	if e.Err == nil {
		r.LastIndex.WithLabelValues(e.Op).Set(float64(e.Index))
	}
}
