package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Ticks      *prometheus.CounterVec
	Evaluated  prometheus.Counter
	Triggered  prometheus.Counter
	Errors     *prometheus.CounterVec
	Downgraded prometheus.Counter
	Actions    *prometheus.CounterVec
	Duration   prometheus.Histogram
	LastTick   prometheus.Gauge
}

// NewMetrics registers the cycle metrics on reg; a nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Ticks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "alerts_ticks_total",
			Help: "Evaluation ticks by result.",
		}, []string{"result"}),
		Evaluated: f.NewCounter(prometheus.CounterOpts{
			Name: "alerts_evaluated_total",
			Help: "Alerts evaluated.",
		}),
		Triggered: f.NewCounter(prometheus.CounterOpts{
			Name: "alerts_triggered_total",
			Help: "Alerts whose notification was delivered.",
		}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "alerts_errors_total",
			Help: "Per-alert soft failures by kind.",
		}, []string{"kind"}),
		Downgraded: f.NewCounter(prometheus.CounterOpts{
			Name: "subscriptions_downgraded_total",
			Help: "Premium users downgraded by the expiry sweep.",
		}),
		Actions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "alerts_actions_total",
			Help: "State machine decisions by action.",
		}, []string{"action"}),
		Duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "alerts_tick_duration_seconds",
			Help:    "Wall time of one evaluation tick.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		LastTick: f.NewGauge(prometheus.GaugeOpts{
			Name: "alerts_last_tick_timestamp_seconds",
			Help: "Unix time of the last completed tick.",
		}),
	}
}
