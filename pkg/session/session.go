package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// State is the session's position in the conversation protocol.
type State int

const (
	StateIdle State = iota
	StateAwaitingReady
	StateListening
	StateAwaitingResponse
	StateResponding
	StatePlayingAudio
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingReady:
		return "awaiting_ready"
	case StateListening:
		return "listening"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateResponding:
		return "responding"
	case StatePlayingAudio:
		return "playing_audio"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// CaptureController is the narrow surface the session needs over the
// microphone. Start acquires the device; Stop halts frame production
// immediately.
type CaptureController interface {
	Start() error
	Stop()
}

// Player plays assistant audio. done must be called exactly once; Flush
// discards anything still sounding.
type Player interface {
	Play(ctx context.Context, audioURL string, done func(error))
	Flush()
}

// TurnLog receives finalized turns in order.
type TurnLog interface {
	Append(turn Turn) error
}

// TurnAudioUpdater is implemented by logs that can patch a turn's audio URL
// after the fact. Needed because complete may arrive before audio_ready, in
// which case the turn is appended before its URL is known.
type TurnAudioUpdater interface {
	SetTurnAudio(turnID, audioURL string) error
}

// Features parameterizes optional protocol behavior so one session type
// covers every deployment variant instead of forked copies.
type Features struct {
	// TurnDetection accepts server turn_end events as a commit trigger.
	// A final transcript is always canonical; turn_end only commits when
	// no final transcript already has.
	TurnDetection bool
	// Persona and FileCheck gate collaborator lookups done by the caller
	// before the session starts; the protocol itself ignores them.
	Persona   bool
	FileCheck bool
}

// Config carries per-session identity and feature flags.
type Config struct {
	SessionID string
	Features  Features
	Logger    *zap.Logger
}

// UpdateKind tags entries on the Updates channel.
type UpdateKind int

const (
	UpdateState UpdateKind = iota
	UpdatePartialTranscript
	UpdateUserCommitted
	UpdateAssistantDelta
	UpdateTurnFinalized
	UpdateTurnErrored
	UpdateError
)

// Update is one observer-facing notification. The session never blocks on
// its observers: a full channel drops the update with a logged warning.
type Update struct {
	Kind  UpdateKind
	State State
	Text  string
	Turn  *Turn
	Err   error
}

// Session is the client-side conversation state machine. All inbound events
// — wire events decoded by the transport, channel lifecycle, and playback
// completion — funnel through one ordered queue consumed by a single Run
// goroutine, so no two events are ever processed concurrently.
type Session struct {
	cfg    Config
	logger *zap.Logger

	capture CaptureController
	player  Player
	log     TurnLog
	asm     *Assembler

	in      chan Event
	updates chan Update

	mu    sync.Mutex
	state State

	// Protocol-loop state, touched only by Run.
	streaming   bool
	committed   bool
	pendingUser string
	lastLogged  string

	closeOnce sync.Once
	done      chan struct{}
}

// New builds a session. capture, player, and log may each be nil when the
// caller does not need that side effect (tests, text-only mode).
func New(cfg Config, capture CaptureController, player Player, log TurnLog) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		cfg:     cfg,
		logger:  logger.With(zap.String("session_id", cfg.SessionID)),
		capture: capture,
		player:  player,
		log:     log,
		asm:     NewAssembler(),
		in:      make(chan Event, 128),
		updates: make(chan Update, 64),
		state:   StateIdle,
		done:    make(chan struct{}),
	}
}

// SetCapture attaches the microphone controller. Capture usually depends on
// the outbound stream, which depends on the session, so it is attached after
// construction. Must be called before Run.
func (s *Session) SetCapture(capture CaptureController) {
	s.capture = capture
}

// HandleEvent enqueues one inbound event. Protocol events are never dropped;
// the call blocks if the queue is full, which backpressures the transport's
// read loop rather than reordering or discarding.
func (s *Session) HandleEvent(ev Event) {
	select {
	case s.in <- ev:
	case <-s.done:
	}
}

// Updates returns the observer channel. Slow consumers lose updates rather
// than stalling the protocol.
func (s *Session) Updates() <-chan Update {
	return s.updates
}

// State reports the current protocol state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close stops the event loop. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// Run consumes inbound events until ctx is canceled or the session is
// closed. It owns every state transition; nothing else mutates the machine.
func (s *Session) Run(ctx context.Context) {
	defer s.stopCapture()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case ev := <-s.in:
			s.dispatch(ctx, ev)
		}
	}
}

func (s *Session) dispatch(ctx context.Context, ev Event) {
	switch ev := ev.(type) {
	case ChannelOpenedEvent:
		s.handleChannelOpened()
	case ChannelClosedEvent:
		s.handleChannelClosed(ev)
	case ReadyEvent:
		s.handleReady(ev)
	case AudioReceivedEvent:
		s.logger.Debug("audio frame acknowledged",
			zap.Int64("bytes_received", ev.BytesReceived),
			zap.Int64("total_file_size", ev.TotalFileSize))
	case TranscriptEvent:
		s.handleTranscript(ev)
	case TurnEndEvent:
		s.handleTurnEnd(ev)
	case LLMChunkEvent:
		s.handleChunk(ev)
	case AudioReadyEvent:
		s.handleAudioReady(ctx, ev)
	case CompleteEvent:
		s.handleComplete()
	case UpstreamErrorEvent:
		s.handleUpstreamError(ev)
	case playbackDoneEvent:
		s.handlePlaybackDone(ev)
	case UnknownEvent:
		s.logger.Warn("unknown event tag dropped", zap.String("type", ev.Type))
	default:
		s.logger.Warn("unhandled event", zap.String("type", ev.eventType()))
	}
}

func (s *Session) handleChannelOpened() {
	s.setState(StateAwaitingReady)
}

func (s *Session) handleChannelClosed(ev ChannelClosedEvent) {
	s.stopCapture()
	if turn := s.asm.Abort(); turn != nil {
		s.emit(Update{Kind: UpdateTurnErrored, Turn: turn, Err: ev.Err})
		s.logger.Warn("channel closed with turn in flight",
			zap.String("turn_id", turn.ID), zap.Error(ev.Err))
	}
	s.streaming = false
	s.committed = false
	s.pendingUser = ""
	s.setState(StateError)
	if ev.Err != nil {
		s.emit(Update{Kind: UpdateError, Err: ev.Err})
	}
}

func (s *Session) handleReady(ev ReadyEvent) {
	if s.State() != StateAwaitingReady {
		s.logger.Warn("ready event outside handshake", zap.String("state", s.State().String()))
	}
	s.logger.Info("channel ready", zap.String("message", ev.Message))
	s.setState(StateListening)
	s.startCapture()
}

func (s *Session) handleTranscript(ev TranscriptEvent) {
	if !ev.Final {
		s.emit(Update{Kind: UpdatePartialTranscript, Text: ev.Content})
		return
	}
	s.commitUserTurn(ev.Content)
}

func (s *Session) handleTurnEnd(ev TurnEndEvent) {
	if !s.cfg.Features.TurnDetection {
		return
	}
	// Advisory when a final transcript already committed this turn.
	if s.committed {
		s.logger.Debug("turn_end after final transcript, ignoring")
		return
	}
	s.commitUserTurn(ev.Transcript)
}

// commitUserTurn locks in the user's utterance and stops capture so the
// assistant's reply is not recorded back into the stream.
func (s *Session) commitUserTurn(text string) {
	if s.committed {
		s.logger.Debug("duplicate commit ignored", zap.String("text", text))
		return
	}
	s.committed = true
	s.streaming = true
	s.pendingUser = text
	s.stopCapture()
	s.emit(Update{Kind: UpdateUserCommitted, Text: text})
	s.setState(StateAwaitingResponse)
}

func (s *Session) handleChunk(ev LLMChunkEvent) {
	// Chunks are only valid between a turn commit and its playback end.
	// Anything else (notably a chunk after complete) is an interleaving
	// anomaly: logged and dropped, never merged into a logged turn.
	if !s.committed {
		s.logger.Warn("reply chunk with no committed turn, dropping")
		return
	}
	if s.asm.Current() == nil || s.asm.Current().Status != TurnStreaming {
		turn, err := s.asm.BeginTurn(s.pendingUser)
		if err != nil {
			s.logger.Warn("cannot open turn for chunk", zap.Error(err))
			return
		}
		s.logger.Debug("assistant turn opened", zap.String("turn_id", turn.ID))
	}
	turn, err := s.asm.AppendChunk(ev.Content)
	if err != nil {
		s.logger.Warn("chunk dropped", zap.Error(err))
		return
	}
	s.setState(StateResponding)
	s.emit(Update{Kind: UpdateAssistantDelta, Text: ev.Content, Turn: turn})
}

func (s *Session) handleAudioReady(ctx context.Context, ev AudioReadyEvent) {
	turn, err := s.asm.SetAudioURL(ev.AudioURL)
	if err != nil {
		s.logger.Warn("audio_ready with no turn, dropping", zap.String("url", ev.AudioURL))
		return
	}
	alreadyLogged := turn.ID == s.lastLogged
	s.finalizeTurn()
	if alreadyLogged {
		// complete arrived first, so the logged entry went out without a
		// URL; patch it now that synthesis caught up.
		if up, ok := s.log.(TurnAudioUpdater); ok {
			if err := up.SetTurnAudio(turn.ID, turn.AudioURL); err != nil {
				s.logger.Warn("conversation log audio update failed", zap.Error(err))
			}
		}
	}
	s.setState(StatePlayingAudio)
	if s.player == nil {
		// No speaker wired; playback is over before it starts. Handled
		// inline rather than re-enqueued so a saturated inbound queue can
		// never wedge the run loop on its own send.
		s.handlePlaybackDone(playbackDoneEvent{})
		return
	}
	s.player.Play(ctx, turn.AudioURL, func(err error) {
		s.HandleEvent(playbackDoneEvent{err: err})
	})
}

func (s *Session) handleComplete() {
	s.streaming = false
	if s.asm.Current() != nil {
		s.finalizeTurn()
	}
	// No audio for this turn: the state machine is done with it now.
	if s.State() == StateResponding || s.State() == StateAwaitingResponse {
		s.committed = false
		s.pendingUser = ""
		s.setState(StateIdle)
	}
}

func (s *Session) handleUpstreamError(ev UpstreamErrorEvent) {
	err := fmt.Errorf("server error: %s", ev.Message)
	s.logger.Warn("upstream error", zap.String("message", ev.Message))
	if turn := s.asm.Abort(); turn != nil {
		s.emit(Update{Kind: UpdateTurnErrored, Turn: turn, Err: err})
	}
	s.emit(Update{Kind: UpdateError, Err: err})
	s.streaming = false
	s.committed = false
	s.pendingUser = ""
	s.stopCapture()
	s.setState(StateIdle)
}

func (s *Session) handlePlaybackDone(ev playbackDoneEvent) {
	if ev.err != nil {
		// Surfaced but not fatal: the conversation continues either way.
		s.emit(Update{Kind: UpdateError, Err: fmt.Errorf("playback: %w", ev.err)})
		s.logger.Warn("playback failed", zap.Error(ev.err))
	}
	s.committed = false
	s.pendingUser = ""
	if s.streaming {
		// Server is still mid-turn; re-arm and keep listening.
		s.setState(StateListening)
		s.startCapture()
		return
	}
	s.setState(StateIdle)
}

// finalizeTurn marks the current turn final and appends it to the log
// exactly once, however many completion markers arrive.
func (s *Session) finalizeTurn() {
	turn, err := s.asm.Finalize()
	if err != nil {
		s.logger.Warn("finalize with no turn", zap.Error(err))
		return
	}
	if turn.ID == s.lastLogged {
		return
	}
	s.lastLogged = turn.ID
	s.emit(Update{Kind: UpdateTurnFinalized, Turn: turn})
	if s.log != nil {
		if err := s.log.Append(*turn); err != nil {
			s.logger.Warn("conversation log append failed", zap.Error(err))
		}
	}
}

func (s *Session) startCapture() {
	if s.capture == nil {
		return
	}
	if err := s.capture.Start(); err != nil {
		s.logger.Error("capture start failed", zap.Error(err))
		s.emit(Update{Kind: UpdateError, Err: err})
		s.setState(StateIdle)
	}
}

func (s *Session) stopCapture() {
	if s.capture != nil {
		s.capture.Stop()
	}
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	if prev == next {
		return
	}
	s.logger.Debug("state transition",
		zap.String("from", prev.String()),
		zap.String("to", next.String()))
	s.emit(Update{Kind: UpdateState, State: next})
}

func (s *Session) emit(u Update) {
	select {
	case s.updates <- u:
	default:
		s.logger.Warn("update dropped, observer too slow", zap.Int("kind", int(u.Kind)))
	}
}
