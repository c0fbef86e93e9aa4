package transfer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "transferd"
	subsystem = "engine"
)

var allModes = []Mode{ModeOffline, ModeOnline, ModeHoming, ModeAutoIdle, ModeAutoRunning}

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	mode           *prometheus.GaugeVec
	phase          prometheus.Gauge
	cycles         *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	phaseDuration  *prometheus.HistogramVec
	faults         *prometheus.CounterVec
	pollDuration   *prometheus.HistogramVec
	interlockWrite prometheus.Counter
	zone           *prometheus.GaugeVec
}

// NewMetrics registers the engine collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		mode: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "mode",
			Help:      "Current engine mode (1 for the active mode, 0 otherwise)",
		}, []string{"mode"}),
		phase: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sequencer_phase",
			Help:      "Current sequencer phase number (0 when idle)",
		}),
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cycles_total",
			Help:      "Total number of transfer cycles by outcome",
		}, []string{"outcome"}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of completed transfer cycles",
			Buckets:   []float64{15, 30, 60, 120, 300, 600, 1200},
		}),
		phaseDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "phase_duration_seconds",
			Help:      "Time spent in each sequencer phase",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
		}, []string{"phase"}),
		faults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "faults_total",
			Help:      "Total number of faults by kind and source",
		}, []string{"kind", "source"}),
		pollDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "poll_duration_seconds",
			Help:      "Duration of one monitor poll",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"monitor"}),
		interlockWrite: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "interlock_writes_total",
			Help:      "Total number of clear-to-load output writes by the zone interlock",
		}),
		zone: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "zone_membership",
			Help:      "Zone membership flags (1 when the stage is inside the zone)",
		}, []string{"zone"}),
	}
}

func (m *Metrics) setMode(mode Mode) {
	for _, candidate := range allModes {
		v := 0.0
		if candidate == mode {
			v = 1
		}
		m.mode.WithLabelValues(string(candidate)).Set(v)
	}
}

func (m *Metrics) setPhase(p Phase) {
	m.phase.Set(float64(p))
}

func (m *Metrics) observePhase(p Phase, d time.Duration) {
	m.phaseDuration.WithLabelValues(p.String()).Observe(d.Seconds())
}

func (m *Metrics) observeCycle(rec CycleRecord) {
	m.cycles.WithLabelValues(string(rec.Outcome)).Inc()
	if rec.Outcome == CycleComplete {
		m.cycleDuration.Observe(rec.Duration().Seconds())
	}
}

func (m *Metrics) observeFault(f Fault) {
	m.faults.WithLabelValues(string(f.Kind), f.Source).Inc()
}

func (m *Metrics) observePoll(monitor string, d time.Duration) {
	m.pollDuration.WithLabelValues(monitor).Observe(d.Seconds())
}

func (m *Metrics) setZones(z ZoneMembership) {
	m.zone.WithLabelValues("home").Set(b2f(z.AtHome))
	m.zone.WithLabelValues("robomet_load").Set(b2f(z.AtRobometLoad))
	m.zone.WithLabelValues("xz_transfer").Set(b2f(z.AtXZTransfer))
	m.zone.WithLabelValues("sras_load").Set(b2f(z.AtSrasLoad))
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
