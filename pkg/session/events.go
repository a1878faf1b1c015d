package session

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Event is an inbound protocol event from the backend. The set is closed:
// every wire tag the backend emits has a concrete type here, and anything
// else decodes to UnknownEvent so new server tags surface in logs instead of
// vanishing in a default branch.
type Event interface {
	eventType() string
}

// ReadyEvent is the first event on a fresh channel; it unlocks capture.
type ReadyEvent struct {
	Message string `json:"message,omitempty"`
}

func (ReadyEvent) eventType() string { return "ready" }

// AudioReceivedEvent acknowledges one inbound audio frame.
type AudioReceivedEvent struct {
	BytesReceived int64 `json:"bytes_received"`
	TotalFileSize int64 `json:"total_file_size"`
}

func (AudioReceivedEvent) eventType() string { return "audio_received" }

// TranscriptEvent carries a speech-to-text hypothesis. Final transcripts
// commit the user turn; partials only update the live display.
type TranscriptEvent struct {
	Content string `json:"content"`
	Final   bool   `json:"final"`
}

func (TranscriptEvent) eventType() string { return "transcript" }

// TurnEndEvent signals server-side turn detection. It commits the turn only
// when no final transcript already has; otherwise it is advisory.
type TurnEndEvent struct {
	Transcript string `json:"transcript"`
}

func (TurnEndEvent) eventType() string { return "turn_end" }

// LLMChunkEvent is one streamed fragment of the assistant reply.
type LLMChunkEvent struct {
	Content string `json:"content"`
}

func (LLMChunkEvent) eventType() string { return "llm_chunk" }

// AudioReadyEvent announces the synthesized reply audio.
type AudioReadyEvent struct {
	AudioURL string `json:"audio_url"`
}

func (AudioReadyEvent) eventType() string { return "audio_ready" }

// CompleteEvent is the terminal marker for a turn. It may arrive before or
// after audio_ready.
type CompleteEvent struct{}

func (CompleteEvent) eventType() string { return "complete" }

// UpstreamErrorEvent is a server-reported failure; its message is surfaced
// verbatim.
type UpstreamErrorEvent struct {
	Message string `json:"message"`
}

func (UpstreamErrorEvent) eventType() string { return "error" }

// UnknownEvent preserves an unrecognized tag (the server also emits "ack"
// frames for text control messages). It is logged and dropped.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (e UnknownEvent) eventType() string { return e.Type }

// ChannelOpenedEvent and ChannelClosedEvent are produced by the transport,
// not the wire; they flow through the same ordered entry point so channel
// lifecycle and protocol events cannot race.
type ChannelOpenedEvent struct{}

func (ChannelOpenedEvent) eventType() string { return "channel_opened" }

type ChannelClosedEvent struct {
	Err error
}

func (ChannelClosedEvent) eventType() string { return "channel_closed" }

// playbackDoneEvent re-enters the state machine when assistant audio stops.
type playbackDoneEvent struct {
	err error
}

func (playbackDoneEvent) eventType() string { return "playback_done" }

// DecodeEvent parses one JSON text frame into its event type. Both the
// streaming channel and the replayed fallback stream go through here, so the
// two paths cannot diverge.
func DecodeEvent(data []byte) (Event, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, fmt.Errorf("event frame missing type")
	}

	switch typ {
	case "ready":
		var ev ReadyEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode ready: %w", err)
		}
		return ev, nil
	case "audio_received":
		var ev AudioReceivedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode audio_received: %w", err)
		}
		return ev, nil
	case "transcript":
		var ev TranscriptEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode transcript: %w", err)
		}
		return ev, nil
	case "turn_end":
		var ev TurnEndEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode turn_end: %w", err)
		}
		return ev, nil
	case "llm_chunk":
		var ev LLMChunkEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode llm_chunk: %w", err)
		}
		return ev, nil
	case "audio_ready":
		var ev AudioReadyEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode audio_ready: %w", err)
		}
		return ev, nil
	case "complete":
		return CompleteEvent{}, nil
	case "error":
		var ev UpstreamErrorEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode error event: %w", err)
		}
		return ev, nil
	default:
		return UnknownEvent{Type: typ, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}
