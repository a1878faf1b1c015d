package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voicewire/voicewire/internal/metrics"
	"github.com/voicewire/voicewire/pkg/session"
)

const (
	defaultDialTimeout    = 15 * time.Second
	defaultReconnectDelay = 5 * time.Second
)

// EventSink receives decoded inbound events in arrival order. The session
// implements it.
type EventSink interface {
	HandleEvent(ev session.Event)
}

// StreamConfig configures the streaming channel.
type StreamConfig struct {
	// BaseURL is the backend root, e.g. "ws://localhost:8000" or
	// "https://voice.example.com" (http schemes are rewritten to ws).
	BaseURL   string
	SessionID string

	// ReconnectDelay is the fixed pause before a reconnect attempt.
	// Defaults to 5s. There is no retry cap: the timer is cheap and the
	// user is expected to be present.
	ReconnectDelay time.Duration

	DialTimeout time.Duration
	Logger      *zap.Logger
}

// Stream is the persistent duplex channel: binary PCM frames out, JSON
// events in. Sends are fire-and-forget and are silently dropped while the
// channel is not open; inbound frames are decoded and forwarded to the sink
// strictly in arrival order by a single read loop.
type Stream struct {
	cfg    StreamConfig
	sink   EventSink
	logger *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	writeMu   sync.Mutex
	open      atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once

	// reconnectPending guarantees at most one scheduled reconnect at a
	// time; a second close observed before the timer fires must not stack
	// another attempt.
	reconnectPending atomic.Bool

	// afterFunc is time.AfterFunc, swappable in tests.
	afterFunc func(d time.Duration, f func()) *time.Timer
}

// NewStream builds a streaming channel; Connect opens it.
func NewStream(cfg StreamConfig, sink EventSink) (*Stream, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL must not be empty")
	}
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("session ID must not be empty")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stream{
		cfg:       cfg,
		sink:      sink,
		logger:    logger.With(zap.String("session_id", cfg.SessionID)),
		afterFunc: time.AfterFunc,
	}, nil
}

// URL returns the websocket endpoint the stream dials.
func (s *Stream) URL() (string, error) {
	parsed, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	switch parsed.Scheme {
	case "ws", "wss":
	case "http", "":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/ws/" + s.cfg.SessionID
	return parsed.String(), nil
}

// Connect dials the backend and starts the read loop. On any later channel
// close it schedules exactly one reconnect after the fixed delay, forever,
// until Close.
func (s *Stream) Connect(ctx context.Context) error {
	wsURL, err := s.URL()
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()
	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return &TransportError{Op: "dial", URL: wsURL, Err: err}
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.open.Store(true)
	s.logger.Info("streaming channel open", zap.String("url", stripUserInfo(wsURL)))
	s.sink.HandleEvent(session.ChannelOpenedEvent{})

	go s.readLoop(ctx, conn)
	return nil
}

// Send writes one binary audio frame. Frames offered while the channel is
// not open are dropped, never queued; the caller owns any replay policy.
func (s *Stream) Send(frame []byte) error {
	if !s.open.Load() {
		s.logger.Debug("frame dropped, channel not open", zap.Int("bytes", len(frame)))
		return nil
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}

	s.writeMu.Lock()
	err := conn.WriteMessage(websocket.BinaryMessage, frame)
	s.writeMu.Unlock()
	if err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	metrics.FramesSent.Inc()
	metrics.AudioBytesSent.Add(float64(len(frame)))
	return nil
}

// IsOpen reports whether the channel currently accepts sends.
func (s *Stream) IsOpen() bool {
	return s.open.Load()
}

// Close tears the channel down and stops reconnecting.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.open.Store(false)
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			s.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(2*time.Second))
			s.writeMu.Unlock()
			_ = conn.Close()
		}
	})
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) {
	var closeErr error
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				closeErr = err
			}
			break
		}
		if messageType != websocket.TextMessage {
			s.logger.Warn("non-text inbound frame dropped", zap.Int("message_type", messageType))
			continue
		}
		ev, err := session.DecodeEvent(data)
		if err != nil {
			// Malformed frame: logged and dropped, session continues.
			s.logger.Warn("malformed event frame dropped", zap.Error(err))
			continue
		}
		metrics.EventsReceived.WithLabelValues(eventLabel(ev)).Inc()
		s.sink.HandleEvent(ev)
	}

	s.open.Store(false)
	_ = conn.Close()
	if s.closed.Load() || ctx.Err() != nil {
		return
	}

	if closeErr != nil {
		s.logger.Warn("streaming channel lost", zap.Error(closeErr))
		s.sink.HandleEvent(session.ChannelClosedEvent{Err: &TransportError{Op: "read", Err: closeErr}})
	} else {
		s.logger.Info("streaming channel closed by server")
		s.sink.HandleEvent(session.ChannelClosedEvent{})
	}
	s.scheduleReconnect(ctx)
}

// scheduleReconnect arms the single reconnect timer. A close event arriving
// while a reconnect is already pending is a no-op.
func (s *Stream) scheduleReconnect(ctx context.Context) {
	if !s.reconnectPending.CompareAndSwap(false, true) {
		return
	}
	s.logger.Info("reconnect scheduled", zap.Duration("delay", s.cfg.ReconnectDelay))
	s.afterFunc(s.cfg.ReconnectDelay, func() {
		s.reconnectPending.Store(false)
		if s.closed.Load() || ctx.Err() != nil {
			return
		}
		metrics.Reconnects.Inc()
		if err := s.Connect(ctx); err != nil {
			s.logger.Warn("reconnect failed", zap.Error(err))
			s.scheduleReconnect(ctx)
		}
	})
}

func eventLabel(ev session.Event) string {
	switch ev.(type) {
	case session.ReadyEvent:
		return "ready"
	case session.AudioReceivedEvent:
		return "audio_received"
	case session.TranscriptEvent:
		return "transcript"
	case session.TurnEndEvent:
		return "turn_end"
	case session.LLMChunkEvent:
		return "llm_chunk"
	case session.AudioReadyEvent:
		return "audio_ready"
	case session.CompleteEvent:
		return "complete"
	case session.UpstreamErrorEvent:
		return "error"
	case session.UnknownEvent:
		// Unknown tags share one label value to bound cardinality.
		return "unknown"
	default:
		return "other"
	}
}
