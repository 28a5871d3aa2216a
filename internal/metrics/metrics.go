// Package metrics exposes the Prometheus collectors of a ShowSync process.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AaronLay10/ShowSync/internal/events"
	"github.com/AaronLay10/ShowSync/internal/version"
)

const namespace = "showsync"

// Metrics holds the process collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	controlCommands  *prometheus.CounterVec
	sceneActivations *prometheus.CounterVec
	cueChanges       prometheus.Counter
	sinkErrors       *prometheus.CounterVec
	sinkDuration     *prometheus.HistogramVec
	busMessages      prometheus.Counter
	busDropped       prometheus.Counter
	sceneIndex       prometheus.Gauge
	busConnected     prometheus.Gauge
}

// New creates the collectors for module on a private registry together
// with the Go and process collectors.
func New(module string) *Metrics {
	labels := prometheus.Labels{"module": module}
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		controlCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "control", Name: "commands_total",
			Help: "Control verbs received, by verb.", ConstLabels: labels,
		}, []string{"verb"}),
		sceneActivations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scene", Name: "activations_total",
			Help: "Scene activations, by mode.", ConstLabels: labels,
		}, []string{"mode"}),
		cueChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scene", Name: "cue_changes_total",
			Help: "Timed-output cues applied.", ConstLabels: labels,
		}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sink", Name: "errors_total",
			Help: "Output sink failures, by sink and kind.", ConstLabels: labels,
		}, []string{"sink", "kind"}),
		sinkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "sink", Name: "call_duration_seconds",
			Help:        "Duration of output sink calls.",
			ConstLabels: labels,
			Buckets:     []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"sink"}),
		busMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "messages_total",
			Help: "Inbound bus messages queued for the main loop.", ConstLabels: labels,
		}),
		busDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "dropped_total",
			Help: "Inbound bus messages dropped because the queue was full.", ConstLabels: labels,
		}),
		sceneIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scene", Name: "index",
			Help: "Active scene index, -1 when idle.", ConstLabels: labels,
		}),
		busConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "bus", Name: "connected",
			Help: "Whether the MQTT broker is connected (1) or not (0).", ConstLabels: labels,
		}),
	}
	m.sceneIndex.Set(-1)

	start := time.Now()
	reg.MustRegister(
		m.controlCommands, m.sceneActivations, m.cueChanges,
		m.sinkErrors, m.sinkDuration,
		m.busMessages, m.busDropped,
		m.sceneIndex, m.busConnected,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "uptime_seconds",
			Help: "Seconds since the process started.", ConstLabels: labels,
		}, func() float64 { return time.Since(start).Seconds() }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_total",
			Help: "Events emitted since startup.", ConstLabels: labels,
		}, func() float64 { return float64(events.TotalCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "ws_clients",
			Help: "Active WebSocket event subscribers.", ConstLabels: labels,
		}, func() float64 { return float64(events.SubscriberCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "build_info",
			Help:        "Build information.",
			ConstLabels: prometheus.Labels{"module": module, "version": version.Version},
		}, func() float64 { return 1 }),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ControlCommand(verb string) {
	if m != nil {
		m.controlCommands.WithLabelValues(verb).Inc()
	}
}

func (m *Metrics) SceneActivated(mode string, index int) {
	if m != nil {
		m.sceneActivations.WithLabelValues(mode).Inc()
		m.sceneIndex.Set(float64(index))
	}
}

func (m *Metrics) SceneIdle() {
	if m != nil {
		m.sceneIndex.Set(-1)
	}
}

func (m *Metrics) CueChanged() {
	if m != nil {
		m.cueChanges.Inc()
	}
}

// SinkCall records one sink invocation. kind is empty on success.
func (m *Metrics) SinkCall(sink string, took time.Duration, kind string) {
	if m == nil {
		return
	}
	m.sinkDuration.WithLabelValues(sink).Observe(took.Seconds())
	if kind != "" {
		m.sinkErrors.WithLabelValues(sink, kind).Inc()
	}
}

func (m *Metrics) BusMessage() {
	if m != nil {
		m.busMessages.Inc()
	}
}

func (m *Metrics) BusDropped() {
	if m != nil {
		m.busDropped.Inc()
	}
}

func (m *Metrics) BusConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.busConnected.Set(1)
	} else {
		m.busConnected.Set(0)
	}
}
