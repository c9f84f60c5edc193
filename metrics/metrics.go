package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the counters for one listening pipeline.
type Metrics struct {
	// Audio
	FramesCaptured prometheus.Counter
	FramesSent     prometheus.Counter
	FramesDropped  prometheus.Counter

	// Transport
	KeepalivesSent   prometheus.Counter
	KeepalivesMissed prometheus.Counter
	TransportErrors  prometheus.Counter

	// Transcript and downstream
	UtterancesCompleted prometheus.Counter
	DownstreamFailures  *prometheus.CounterVec
	DownstreamLatency   prometheus.Histogram

	// Lifecycle
	StartFailures *prometheus.CounterVec
	Listening     prometheus.Gauge
}

// New registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FramesCaptured: f.NewCounter(prometheus.CounterOpts{
			Name: "parley_audio_frames_captured_total",
			Help: "Audio frames delivered by the capture callback",
		}),
		FramesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "parley_audio_frames_sent_total",
			Help: "Audio frames written to the transcription stream",
		}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "parley_audio_frames_dropped_total",
			Help: "Audio frames evicted from the relay before sending",
		}),
		KeepalivesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "parley_keepalives_sent_total",
			Help: "Keepalive messages sent to the transcription service",
		}),
		KeepalivesMissed: f.NewCounter(prometheus.CounterOpts{
			Name: "parley_keepalives_missed_total",
			Help: "Keepalive ticks that found the stream closed",
		}),
		TransportErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "parley_transport_errors_total",
			Help: "Errors reported by the transcription stream",
		}),
		UtterancesCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "parley_utterances_completed_total",
			Help: "Utterances handed to the language model",
		}),
		DownstreamFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_downstream_failures_total",
			Help: "Failed downstream calls by stage",
		}, []string{"stage"}),
		DownstreamLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "parley_downstream_duration_seconds",
			Help:    "Time from utterance to finished playback",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to 32s
		}),
		StartFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_start_failures_total",
			Help: "Failed session starts by error kind",
		}, []string{"kind"}),
		Listening: f.NewGauge(prometheus.GaugeOpts{
			Name: "parley_listening",
			Help: "1 while a session is listening",
		}),
	}
}
