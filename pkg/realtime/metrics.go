package realtime

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for one client. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Protocol metrics
	EventsReceived *prometheus.CounterVec
	MessagesSent   *prometheus.CounterVec
	ProtocolErrors prometheus.Counter
	RemoteErrors   *prometheus.CounterVec
	EventsDropped  prometheus.Counter

	// Audio metrics
	ChunksSent    prometheus.Counter
	ChunksDropped prometheus.Counter
	ChunksPlayed  prometheus.Counter
	PlaybackQueue prometheus.Gauge
	FramesDropped prometheus.Counter
	DeviceErrors  *prometheus.CounterVec
	Interruptions prometheus.Counter

	// Session metrics
	ConnectDuration prometheus.Histogram
	State           prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_events_received_total",
			Help: "Inbound protocol events by type",
		}, []string{"type"}),
		MessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_messages_sent_total",
			Help: "Outbound protocol messages by type",
		}, []string{"type"}),
		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "realtime_protocol_errors_total",
			Help: "Inbound messages dropped as malformed",
		}),
		RemoteErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_remote_errors_total",
			Help: "Error events reported by the remote service",
		}, []string{"code"}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "realtime_observer_events_dropped_total",
			Help: "Observer notifications dropped because the events buffer was full",
		}),

		ChunksSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "realtime_audio_chunks_sent_total",
			Help: "Captured audio chunks transmitted",
		}),
		ChunksDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "realtime_audio_chunks_dropped_total",
			Help: "Captured audio chunks dropped because the send queue was full",
		}),
		ChunksPlayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "realtime_audio_chunks_played_total",
			Help: "Inbound audio chunks rendered to the output device",
		}),
		PlaybackQueue: factory.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_playback_queue_chunks",
			Help: "Chunks waiting in the playback queue",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "realtime_capture_frames_dropped_total",
			Help: "Captured frames dropped because the encoder fell behind",
		}),
		DeviceErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_device_errors_total",
			Help: "Audio device failures",
		}, []string{"device"}),
		Interruptions: factory.NewCounter(prometheus.CounterOpts{
			Name: "realtime_interruptions_total",
			Help: "Responses interrupted by the caller",
		}),

		ConnectDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "realtime_connect_duration_seconds",
			Help:    "Time from dial to session.created",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		State: factory.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_state",
			Help: "Current conversational state (0 disconnected .. 5 processing)",
		}),
	}
}

func (m *Metrics) eventReceived(typ string) {
	if m == nil {
		return
	}
	m.EventsReceived.WithLabelValues(typ).Inc()
}

func (m *Metrics) messageSent(typ string) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(typ).Inc()
	if typ == TypeInputAudioAppend {
		m.ChunksSent.Inc()
	}
}

func (m *Metrics) protocolError() {
	if m == nil {
		return
	}
	m.ProtocolErrors.Inc()
}

func (m *Metrics) remoteError(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "unknown"
	}
	m.RemoteErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) eventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

func (m *Metrics) chunkDropped() {
	if m == nil {
		return
	}
	m.ChunksDropped.Inc()
}

func (m *Metrics) chunkPlayed() {
	if m == nil {
		return
	}
	m.ChunksPlayed.Inc()
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.PlaybackQueue.Set(float64(n))
}

func (m *Metrics) frameDropped() {
	if m == nil {
		return
	}
	m.FramesDropped.Inc()
}

func (m *Metrics) deviceError(device string) {
	if m == nil {
		return
	}
	m.DeviceErrors.WithLabelValues(device).Inc()
}

func (m *Metrics) interrupted() {
	if m == nil {
		return
	}
	m.Interruptions.Inc()
}

func (m *Metrics) observeConnect(d time.Duration) {
	if m == nil {
		return
	}
	m.ConnectDuration.Observe(d.Seconds())
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	m.State.Set(float64(s))
}
