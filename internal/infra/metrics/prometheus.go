package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements application.Recorder on a private Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	// Capture side
	FramesSent prometheus.Counter
	BytesSent  prometheus.Counter
	Level      prometheus.Gauge

	// Receive side
	FramesReceived prometheus.Counter
	BytesReceived  prometheus.Counter

	// Drops by reason, both directions
	FramesDropped *prometheus.CounterVec

	// Playback
	PlaybackResets   prometheus.Counter
	BuffersScheduled prometheus.Counter
	ScheduleLead     prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicestream_frames_sent_total",
			Help: "Total number of audio frames handed to the transport",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicestream_bytes_sent_total",
			Help: "Total encoded bytes handed to the transport",
		}),
		Level: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicestream_audio_level",
			Help: "Most recent capture level on a 0-100 scale",
		}),

		FramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicestream_frames_received_total",
			Help: "Total number of messages received from the transport",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicestream_bytes_received_total",
			Help: "Total bytes received from the transport",
		}),

		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicestream_frames_dropped_total",
			Help: "Total number of frames dropped, by reason",
		}, []string{"reason"}),

		PlaybackResets: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicestream_playback_resets_total",
			Help: "Times the playback timeline restarted after an arrival gap",
		}),
		BuffersScheduled: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicestream_buffers_scheduled_total",
			Help: "Total number of decoded buffers scheduled for playback",
		}),
		ScheduleLead: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicestream_schedule_lead_seconds",
			Help:    "How far ahead of the audio clock each buffer was scheduled",
			Buckets: []float64{0, 0.02, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) FrameSent(bytes int) {
	m.FramesSent.Inc()
	m.BytesSent.Add(float64(bytes))
}

func (m *Metrics) FrameDropped(reason string) {
	m.FramesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) FrameReceived(bytes int) {
	m.FramesReceived.Inc()
	m.BytesReceived.Add(float64(bytes))
}

func (m *Metrics) PlaybackReset() {
	m.PlaybackResets.Inc()
}

// BufferScheduled records one scheduled buffer. A negative lead means the
// buffer started late and is counted in the lowest bucket.
func (m *Metrics) BufferScheduled(lead time.Duration) {
	m.BuffersScheduled.Inc()
	m.ScheduleLead.Observe(max(lead.Seconds(), 0))
}

func (m *Metrics) AudioLevel(level float64) {
	m.Level.Set(level)
}
