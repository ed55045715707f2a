package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// serverMetrics is the instrumentation for the HTTP control surface.
// Each Server owns its registry so tests can spin up instances freely.
type serverMetrics struct {
	registry *prometheus.Registry

	commandsTotal  *prometheus.CounterVec
	devicesTracked prometheus.Gauge
	initAttempts   prometheus.Counter
	initFailures   prometheus.Counter
	statusRequests prometheus.Counter
}

func newServerMetrics() *serverMetrics {
	m := &serverMetrics{
		registry: prometheus.NewRegistry(),
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "robobridge_commands_total",
			Help: "Vacuum commands dispatched, partitioned by command and result.",
		}, []string{"command", "result"}),
		devicesTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "robobridge_devices_tracked",
			Help: "Devices currently present in the status registry.",
		}),
		initAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "robobridge_session_init_attempts_total",
			Help: "Vendor session initialization attempts.",
		}),
		initFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "robobridge_session_init_failures_total",
			Help: "Vendor session initialization failures.",
		}),
		statusRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "robobridge_status_requests_total",
			Help: "Device status reads served.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.commandsTotal,
		m.devicesTracked,
		m.initAttempts,
		m.initFailures,
		m.statusRequests,
	)
	return m
}

func (m *serverMetrics) observeCommand(command string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	m.commandsTotal.WithLabelValues(command, result).Inc()
}
