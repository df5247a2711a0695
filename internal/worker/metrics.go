package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Refresh result labels.
const (
	resultSuccess    = "success"
	resultFailure    = "failure"
	resultSuperseded = "superseded"
)

type collectors struct {
	refreshes *prometheus.CounterVec
	duration  prometheus.Histogram
}

func newCollectors(reg prometheus.Registerer, snapshotAge func() float64) *collectors {
	factory := promauto.With(reg)

	c := &collectors{
		refreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weatherdash_refresh_total",
				Help: "Dashboard refreshes by result.",
			},
			[]string{"result"},
		),
		duration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "weatherdash_refresh_duration_seconds",
				Help:    "Dashboard refresh duration in seconds.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "weatherdash_snapshot_age_seconds",
			Help: "Age of the published forecast in seconds, 0 before the first refresh.",
		},
		snapshotAge,
	)

	for _, result := range []string{resultSuccess, resultFailure, resultSuperseded} {
		c.refreshes.WithLabelValues(result)
	}

	return c
}
