// Package metrics exposes Prometheus instrumentation for the streaming
// pipeline. Collectors are registered on the default registry; the chat
// command serves them via promhttp when --metrics-addr is set.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesSent counts outbound audio frames written to the streaming
	// channel. Dropped sends (channel not open) are not counted.
	FramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voicewire",
		Subsystem: "transport",
		Name:      "frames_sent_total",
		Help:      "Outbound audio frames written to the streaming channel.",
	})

	// AudioBytesSent counts outbound audio payload bytes.
	AudioBytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voicewire",
		Subsystem: "transport",
		Name:      "audio_bytes_sent_total",
		Help:      "Outbound audio payload bytes written to the streaming channel.",
	})

	// EventsReceived counts decoded inbound events by wire tag.
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voicewire",
		Subsystem: "transport",
		Name:      "events_received_total",
		Help:      "Inbound protocol events decoded, by event type.",
	}, []string{"type"})

	// Reconnects counts streaming-channel reconnect attempts.
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voicewire",
		Subsystem: "transport",
		Name:      "reconnects_total",
		Help:      "Streaming channel reconnect attempts.",
	})

	// UploadFailures counts failed fallback uploads.
	UploadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voicewire",
		Subsystem: "transport",
		Name:      "upload_failures_total",
		Help:      "Fallback HTTP uploads that failed.",
	})
)
