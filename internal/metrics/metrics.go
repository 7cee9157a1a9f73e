// Package metrics exposes lifecycle counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "memocapture"

// Metrics implements the outcome hooks of the session, controller and
// trash manager on one registry.
type Metrics struct {
	registry *prometheus.Registry

	recordings         *prometheus.CounterVec
	playbackCompletion prometheus.Counter
	trashPurged        prometheus.Counter
	trashRestored      prometheus.Counter
	sweeps             prometheus.Counter
	requests           *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		recordings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "recording",
				Name:      "sessions_total",
				Help:      "Finished recording attempts by outcome.",
			},
			[]string{"outcome"},
		),
		playbackCompletion: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "playback",
			Name:      "completions_total",
			Help:      "Play cycles that reached the completion threshold.",
		}),
		trashPurged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trash",
			Name:      "purged_total",
			Help:      "Recordings permanently deleted.",
		}),
		trashRestored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trash",
			Name:      "restored_total",
			Help:      "Recordings restored from the trash.",
		}),
		sweeps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trash",
			Name:      "sweeps_total",
			Help:      "Expiry sweeps run.",
		}),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP API requests by route and status class.",
			},
			[]string{"route", "code"},
		),
	}
}

func (m *Metrics) RecordingOutcome(outcome string) {
	m.recordings.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PlaybackCompleted() {
	m.playbackCompletion.Inc()
}

func (m *Metrics) TrashPurged(n int) {
	m.trashPurged.Add(float64(n))
}

func (m *Metrics) TrashRestored() {
	m.trashRestored.Inc()
}

func (m *Metrics) SweepRan() {
	m.sweeps.Inc()
}

// HTTPRequest counts one API request. code is the status class, e.g. "2xx".
func (m *Metrics) HTTPRequest(route, code string) {
	m.requests.WithLabelValues(route, code).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
