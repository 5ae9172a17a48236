// Package metrics exposes the choreographer's operational counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	SessionsStarted  prometheus.Counter
	SessionsFinished *prometheus.CounterVec
	ActiveSessions   prometheus.Gauge
	StepsDispatched  prometheus.Counter
	StepRetries      prometheus.Counter
	AcquireFailures  prometheus.Counter
	DispatchInFlight prometheus.Gauge
}

// New creates and registers the engine metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "choreo_sessions_started_total",
			Help: "Number of plan execution sessions started.",
		}),
		SessionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "choreo_sessions_finished_total",
			Help: "Number of sessions reaching a terminal status, by status.",
		}, []string{"status"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "choreo_active_sessions",
			Help: "Number of sessions currently running.",
		}),
		StepsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "choreo_steps_dispatched_total",
			Help: "Number of step execution attempts dispatched to executors.",
		}),
		StepRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "choreo_step_retries_total",
			Help: "Number of step attempts beyond the first.",
		}),
		AcquireFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "choreo_executor_acquire_failures_total",
			Help: "Number of dispatch ticks where no eligible executor was available.",
		}),
		DispatchInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "choreo_dispatch_in_flight",
			Help: "Number of remote step executions currently in flight.",
		}),
	}
	reg.MustRegister(m.SessionsStarted, m.SessionsFinished, m.ActiveSessions,
		m.StepsDispatched, m.StepRetries, m.AcquireFailures, m.DispatchInFlight)
	return m
}
