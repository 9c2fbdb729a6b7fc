package campaign

import "github.com/prometheus/client_golang/prometheus"

var (
	runsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "campaign_runs_started_total",
		Help: "Campaign runs launched.",
	})
	runsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "campaign_runs_finished_total",
		Help: "Campaign runs finished by terminal status.",
	}, []string{"status"})
	runsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "campaign_runs_active",
		Help: "Campaign runs currently owned by this process.",
	})
	stepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "campaign_step_duration_seconds",
		Help:    "Time spent persisting and executing a step, excluding the pacing wait.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	})
)

func init() {
	prometheus.MustRegister(runsStarted, runsFinished, runsActive, stepDuration)
}
