package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "studybot"

// Metrics counts bot activity. Each instance owns its registry so tests can
// create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	absenceChecks *prometheus.CounterVec
	absentees     prometheus.Gauge
	commands      *prometheus.CounterVec
	commandTime   *prometheus.HistogramVec
	rolloverTicks *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		absenceChecks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "absence_checks_total",
				Help:      "Absence checks run, by trigger and outcome",
			},
			[]string{"trigger", "outcome"},
		),
		absentees: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_absentees",
				Help:      "Absentees found by the most recent absence check",
			},
		),
		commands: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Slash commands processed, by command and outcome",
			},
			[]string{"command", "outcome"},
		),
		commandTime: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Time spent computing a command result",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"command"},
		),
		rolloverTicks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollover_ticks_total",
				Help:      "Rollover polls, by whether the date changed",
			},
			[]string{"rolled"},
		),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ObserveAbsenceCheck(trigger string, absentees int, err error) {
	m.absenceChecks.WithLabelValues(trigger, outcome(err)).Inc()
	if err == nil {
		m.absentees.Set(float64(absentees))
	}
}

func (m *Metrics) ObserveCommand(command string, seconds float64, err error) {
	m.commands.WithLabelValues(command, outcome(err)).Inc()
	m.commandTime.WithLabelValues(command).Observe(seconds)
}

func (m *Metrics) ObserveTick(rolled bool) {
	label := "false"
	if rolled {
		label = "true"
	}
	m.rolloverTicks.WithLabelValues(label).Inc()
}
