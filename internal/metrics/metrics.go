// Package metrics declares the Prometheus instrumentation threaded through
// the MPC optimizer, the reflow supervisor, and the TMS link.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every gauge/counter exported by the control stack.
type Metrics struct {
	OvenTemperature    prometheus.Gauge
	DesiredDutyCycle   prometheus.Gauge
	ControlState       prometheus.Gauge
	SolveDuration      prometheus.Histogram
	SolveFailuresTotal prometheus.Counter
	HeartbeatSentTotal prometheus.Counter
	HeartbeatRecvTotal prometheus.Counter
}

// New registers every metric against registerer and returns the bundle.
// Pass prometheus.DefaultRegisterer in production; tests should pass a
// fresh prometheus.NewRegistry() to avoid cross-test collisions.
func New(registerer prometheus.Registerer) *Metrics {
	return &Metrics{
		OvenTemperature: promauto.With(registerer).NewGauge(prometheus.GaugeOpts{
			Name: "reflow_oven_temperature_celsius",
			Help: "Last reported oven temperature.",
		}),
		DesiredDutyCycle: promauto.With(registerer).NewGauge(prometheus.GaugeOpts{
			Name: "reflow_desired_duty_cycle_percent",
			Help: "Duty cycle most recently written to the shared-state bus by the supervisor.",
		}),
		ControlState: promauto.With(registerer).NewGauge(prometheus.GaugeOpts{
			Name: "reflow_control_state",
			Help: "Current supervisor phase, as its ControlState ordinal.",
		}),
		SolveDuration: promauto.With(registerer).NewHistogram(prometheus.HistogramOpts{
			Name:    "reflow_mpc_solve_duration_seconds",
			Help:    "Wall-clock time spent in one MPC solve.",
			Buckets: prometheus.DefBuckets,
		}),
		SolveFailuresTotal: promauto.With(registerer).NewCounter(prometheus.CounterOpts{
			Name: "reflow_mpc_solve_failures_total",
			Help: "Count of MPC solves that failed to converge.",
		}),
		HeartbeatSentTotal: promauto.With(registerer).NewCounter(prometheus.CounterOpts{
			Name: "reflow_tmslink_heartbeat_sent_total",
			Help: "Count of outbound heartbeat frames sent to the TMS.",
		}),
		HeartbeatRecvTotal: promauto.With(registerer).NewCounter(prometheus.CounterOpts{
			Name: "reflow_tmslink_frames_received_total",
			Help: "Count of inbound frames received from the TMS.",
		}),
	}
}
