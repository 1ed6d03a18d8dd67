package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ticksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "legion_missions_ticks_total",
			Help: "Total number of mission clock ticks processed.",
		},
	)

	phaseTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legion_missions_phase_transitions_total",
			Help: "Mission phase transitions by target phase.",
		},
		[]string{"phase"},
	)

	weatherHoldsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "legion_missions_weather_holds_total",
			Help: "Number of times a mission entered WEATHER_HOLD.",
		},
	)

	scanAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legion_missions_scan_attempts_total",
			Help: "Checkpoint scan attempts by result.",
		},
		[]string{"result"},
	)

	outcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legion_missions_outcomes_total",
			Help: "Finished missions by terminal phase.",
		},
		[]string{"phase"},
	)

	activeMissions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "legion_missions_active",
			Help: "Missions currently running.",
		},
	)

	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legion_missions_commands_total",
			Help: "Operator commands by kind and outcome.",
		},
		[]string{"kind", "accepted"},
	)

	telemetryDropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legion_missions_telemetry_drops_total",
			Help: "Telemetry updates dropped by the multiplexer, by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		ticksTotal,
		phaseTransitionsTotal,
		weatherHoldsTotal,
		scanAttemptsTotal,
		outcomesTotal,
		activeMissions,
		commandsTotal,
		telemetryDropsTotal,
	)
}

// RecordTelemetryDrop counts a dropped telemetry update. It matches the
// multiplexer's drop callback.
func RecordTelemetryDrop(_ string, reason string) {
	telemetryDropsTotal.WithLabelValues(reason).Inc()
}
