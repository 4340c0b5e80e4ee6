package reminders

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the reminder run.
type Metrics struct {
	RemindersTotal   *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	LastRunTimestamp prometheus.Gauge
}

// NewMetrics creates reminder metrics and registers them with reg. A nil
// registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RemindersTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "menlo",
				Name:      "reminders_total",
				Help:      "Reminders by outcome",
			},
			[]string{"status"},
		),
		RunDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "menlo",
				Name:      "reminder_run_duration_seconds",
				Help:      "Time to process one daily reminder run",
				Buckets:   []float64{.1, .5, 1, 5, 15, 60},
			},
		),
		LastRunTimestamp: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "menlo",
				Name:      "reminder_last_run_timestamp_seconds",
				Help:      "Unix time of the last completed reminder run",
			},
		),
	}
}

func (m *Metrics) inc(status string) {
	if m == nil {
		return
	}
	m.RemindersTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) observeRun(seconds float64, finishedAt int64) {
	if m == nil {
		return
	}
	m.RunDuration.Observe(seconds)
	m.LastRunTimestamp.Set(float64(finishedAt))
}
