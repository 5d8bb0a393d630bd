package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the relay
type Metrics struct {
	registry *prometheus.Registry

	// connection metrics
	Connections prometheus.Gauge

	// session metrics
	ActiveSessions  prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionsStopped *prometheus.CounterVec // reason
	SessionDuration prometheus.Histogram

	// sub-stream metrics
	SubStreamsOpened *prometheus.CounterVec // cause: start, restart, finalize, retry
	SubStreamErrors  *prometheus.CounterVec // class
	RestartLatency   prometheus.Histogram

	// audio metrics
	FramesReceived prometheus.Counter
	FramesDropped  *prometheus.CounterVec // stage: inbox, provider, handover

	// output metrics
	Transcripts   *prometheus.CounterVec // kind: interim, final, stale
	EventsDropped prometheus.Counter
	Errors        *prometheus.CounterVec // code

	// credential / synthesis metrics
	CredentialSwaps   prometheus.Counter
	SynthesisRequests *prometheus.CounterVec // result: ok, error
}

var (
	discardOnce sync.Once
	discard     *Metrics
)

// Discard returns a shared instance nobody scrapes, for components built
// without metrics.
func Discard() *Metrics {
	discardOnce.Do(func() { discard = New() })
	return discard
}

// New creates metrics registered on a private registry, so several
// instances (one per test) can coexist.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "speechrelay_connections",
			Help: "Current number of open client websocket connections",
		}),

		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "speechrelay_active_sessions",
			Help: "Current number of recognition sessions streaming",
		}),
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "speechrelay_sessions_started_total",
			Help: "Total number of recognition sessions started",
		}),
		SessionsStopped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "speechrelay_sessions_stopped_total",
			Help: "Total number of recognition sessions stopped, by reason",
		}, []string{"reason"}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "speechrelay_session_duration_seconds",
			Help:    "Duration of recognition sessions",
			Buckets: []float64{5, 15, 30, 60, 300, 900, 1800, 3600, 7200},
		}),

		SubStreamsOpened: f.NewCounterVec(prometheus.CounterOpts{
			Name: "speechrelay_substreams_opened_total",
			Help: "Total number of provider recognition calls opened, by cause",
		}, []string{"cause"}),
		SubStreamErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "speechrelay_substream_errors_total",
			Help: "Total number of provider stream errors, by class",
		}, []string{"class"}),
		RestartLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "speechrelay_restart_latency_seconds",
			Help:    "Time from restart decision to the replacement stream accepting audio",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),

		FramesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "speechrelay_frames_received_total",
			Help: "Total number of audio frames received from clients",
		}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "speechrelay_frames_dropped_total",
			Help: "Total number of audio frames dropped by a full bounded queue, by stage",
		}, []string{"stage"}),

		Transcripts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "speechrelay_transcripts_total",
			Help: "Total number of transcript events sent, by kind",
		}, []string{"kind"}),
		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "speechrelay_events_dropped_total",
			Help: "Total number of server events dropped because the client outbox was full",
		}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "speechrelay_errors_total",
			Help: "Total number of error events sent to clients, by code",
		}, []string{"code"}),

		CredentialSwaps: f.NewCounter(prometheus.CounterOpts{
			Name: "speechrelay_credential_swaps_total",
			Help: "Total number of provider handle replacements",
		}),
		SynthesisRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "speechrelay_synthesis_requests_total",
			Help: "Total number of text-to-speech requests, by result",
		}, []string{"result"}),
	}
}

// RegisterRuntime adds the Go runtime and process collectors
func (m *Metrics) RegisterRuntime() {
	m.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
