package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type fakeCapture struct {
	mu     sync.Mutex
	starts int
	stops  int
	active bool
}

func (f *fakeCapture) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.active = true
	return nil
}

func (f *fakeCapture) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.active = false
}

func (f *fakeCapture) snapshot() (starts, stops int, active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops, f.active
}

type fakeLog struct {
	mu    sync.Mutex
	turns []Turn
}

func (f *fakeLog) Append(turn Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, turn)
	return nil
}

func (f *fakeLog) SetTurnAudio(turnID, audioURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.turns {
		if f.turns[i].ID == turnID {
			f.turns[i].AudioURL = audioURL
			return nil
		}
	}
	return fmt.Errorf("turn %s not logged", turnID)
}

func (f *fakeLog) all() []Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Turn(nil), f.turns...)
}

func newTestSession(t *testing.T, features Features) (*Session, *fakeCapture, *fakeLog) {
	t.Helper()
	capture := &fakeCapture{}
	log := &fakeLog{}
	s := New(Config{
		SessionID: "test-session",
		Features:  features,
		Logger:    zaptest.NewLogger(t),
	}, capture, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(func() {
		cancel()
		s.Close()
	})
	return s, capture, log
}

func waitForState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for state %v, still %v", want, s.State())
		case <-tick.C:
			if s.State() == want {
				return
			}
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-tick.C:
			if cond() {
				return
			}
		}
	}
}

func TestSession_FullTurnScenario(t *testing.T) {
	s, capture, log := newTestSession(t, Features{})

	s.HandleEvent(ChannelOpenedEvent{})
	waitForState(t, s, StateAwaitingReady)

	s.HandleEvent(ReadyEvent{Message: "Connected"})
	waitForState(t, s, StateListening)
	if starts, _, active := capture.snapshot(); starts != 1 || !active {
		t.Fatalf("capture not started on ready: starts=%d active=%v", starts, active)
	}

	s.HandleEvent(TranscriptEvent{Content: "hel", Final: false})
	s.HandleEvent(TranscriptEvent{Content: "hello", Final: true})
	waitForState(t, s, StateAwaitingResponse)
	if _, _, active := capture.snapshot(); active {
		t.Error("capture still active after turn commit")
	}

	s.HandleEvent(LLMChunkEvent{Content: "Hi"})
	s.HandleEvent(LLMChunkEvent{Content: " there"})
	// No player wired, so playback finishes inside audio_ready handling,
	// before complete clears the streaming flag: capture re-arms.
	s.HandleEvent(AudioReadyEvent{AudioURL: "/a.mp3"})
	s.HandleEvent(CompleteEvent{})
	waitForState(t, s, StateListening)

	waitFor(t, "turn in log", func() bool { return len(log.all()) == 1 })
	turns := log.all()
	turn := turns[0]
	if turn.UserText != "hello" {
		t.Errorf("UserText = %q, want %q", turn.UserText, "hello")
	}
	if turn.Text != "Hi there" {
		t.Errorf("Text = %q, want %q", turn.Text, "Hi there")
	}
	if turn.AudioURL != "/a.mp3" {
		t.Errorf("AudioURL = %q, want %q", turn.AudioURL, "/a.mp3")
	}
	if turn.Status != TurnFinal {
		t.Errorf("Status = %v, want final", turn.Status)
	}

	// A duplicate completion marker must not append a second entry.
	s.HandleEvent(CompleteEvent{})
	time.Sleep(20 * time.Millisecond)
	if got := len(log.all()); got != 1 {
		t.Errorf("log has %d turns after duplicate complete, want 1", got)
	}
}

func TestSession_ErrorMidResponse(t *testing.T) {
	s, capture, log := newTestSession(t, Features{})

	s.HandleEvent(ChannelOpenedEvent{})
	s.HandleEvent(ReadyEvent{})
	s.HandleEvent(TranscriptEvent{Content: "hello", Final: true})
	s.HandleEvent(LLMChunkEvent{Content: "Hi"})
	waitForState(t, s, StateResponding)

	s.HandleEvent(UpstreamErrorEvent{Message: "boom"})
	waitForState(t, s, StateIdle)

	if got := len(log.all()); got != 0 {
		t.Errorf("errored turn was appended to log (%d entries)", got)
	}
	if _, _, active := capture.snapshot(); active {
		t.Error("capture active after upstream error")
	}

	// The session stays usable: the next turn proceeds normally.
	s.HandleEvent(ReadyEvent{})
	waitForState(t, s, StateListening)
	s.HandleEvent(TranscriptEvent{Content: "again", Final: true})
	s.HandleEvent(LLMChunkEvent{Content: "Sure"})
	s.HandleEvent(AudioReadyEvent{AudioURL: "/b.mp3"})
	waitFor(t, "second turn in log", func() bool { return len(log.all()) == 1 })
	if turn := log.all()[0]; turn.UserText != "again" || turn.Text != "Sure" {
		t.Errorf("recovered turn = %+v", turn)
	}
}

func TestSession_TurnEndCommit(t *testing.T) {
	s, _, _ := newTestSession(t, Features{TurnDetection: true})

	s.HandleEvent(ChannelOpenedEvent{})
	s.HandleEvent(ReadyEvent{})
	waitForState(t, s, StateListening)

	s.HandleEvent(TurnEndEvent{Transcript: "hello from vad"})
	waitForState(t, s, StateAwaitingResponse)
}

func TestSession_TurnEndAdvisoryAfterFinalTranscript(t *testing.T) {
	s, _, log := newTestSession(t, Features{TurnDetection: true})

	s.HandleEvent(ChannelOpenedEvent{})
	s.HandleEvent(ReadyEvent{})
	s.HandleEvent(TranscriptEvent{Content: "canonical", Final: true})
	waitForState(t, s, StateAwaitingResponse)

	// turn_end for the same utterance must not open a second commit.
	s.HandleEvent(TurnEndEvent{Transcript: "canonical"})
	s.HandleEvent(LLMChunkEvent{Content: "reply"})
	s.HandleEvent(AudioReadyEvent{AudioURL: "/a.mp3"})
	waitFor(t, "turn in log", func() bool { return len(log.all()) == 1 })
	if turn := log.all()[0]; turn.UserText != "canonical" {
		t.Errorf("UserText = %q", turn.UserText)
	}
}

func TestSession_TurnEndIgnoredWithoutFeature(t *testing.T) {
	s, _, _ := newTestSession(t, Features{TurnDetection: false})

	s.HandleEvent(ChannelOpenedEvent{})
	s.HandleEvent(ReadyEvent{})
	waitForState(t, s, StateListening)

	s.HandleEvent(TurnEndEvent{Transcript: "ignored"})
	time.Sleep(20 * time.Millisecond)
	if got := s.State(); got != StateListening {
		t.Errorf("state = %v after turn_end without feature, want listening", got)
	}
}

func TestSession_ChannelClosedAbortsTurn(t *testing.T) {
	s, capture, log := newTestSession(t, Features{})

	s.HandleEvent(ChannelOpenedEvent{})
	s.HandleEvent(ReadyEvent{})
	s.HandleEvent(TranscriptEvent{Content: "hello", Final: true})
	s.HandleEvent(LLMChunkEvent{Content: "Hi"})
	waitForState(t, s, StateResponding)

	s.HandleEvent(ChannelClosedEvent{})
	waitForState(t, s, StateError)

	if got := len(log.all()); got != 0 {
		t.Errorf("aborted turn reached the log (%d entries)", got)
	}
	if _, _, active := capture.snapshot(); active {
		t.Error("microphone still held after channel loss")
	}

	// Reconnect path: a fresh channel restarts the handshake.
	s.HandleEvent(ChannelOpenedEvent{})
	waitForState(t, s, StateAwaitingReady)
	s.HandleEvent(ReadyEvent{})
	waitForState(t, s, StateListening)
}

func TestSession_StrayChunkDropped(t *testing.T) {
	s, _, log := newTestSession(t, Features{})

	s.HandleEvent(ChannelOpenedEvent{})
	s.HandleEvent(ReadyEvent{})
	waitForState(t, s, StateListening)

	// No committed turn: chunks are an anomaly, logged and dropped.
	s.HandleEvent(LLMChunkEvent{Content: "stray"})
	time.Sleep(20 * time.Millisecond)
	if got := s.State(); got != StateListening {
		t.Errorf("state = %v after stray chunk, want listening", got)
	}
	if got := len(log.all()); got != 0 {
		t.Errorf("stray chunk produced a logged turn")
	}
}

func TestSession_StrayChunkAfterCompletedTurn(t *testing.T) {
	s, _, log := newTestSession(t, Features{})

	s.HandleEvent(ChannelOpenedEvent{})
	s.HandleEvent(ReadyEvent{})
	s.HandleEvent(TranscriptEvent{Content: "hello", Final: true})
	s.HandleEvent(LLMChunkEvent{Content: "Hi there"})
	s.HandleEvent(AudioReadyEvent{AudioURL: "/a.mp3"})
	s.HandleEvent(CompleteEvent{})
	waitFor(t, "turn in log", func() bool { return len(log.all()) == 1 })
	waitForState(t, s, StateListening)

	// With no new commit, a late chunk must not open a second turn keyed to
	// the previous utterance, and a trailing complete must not log one.
	s.HandleEvent(LLMChunkEvent{Content: "stray"})
	s.HandleEvent(CompleteEvent{})
	time.Sleep(20 * time.Millisecond)

	turns := log.all()
	if len(turns) != 1 {
		t.Fatalf("log has %d turns after stray chunk, want 1: %+v", len(turns), turns)
	}
	if turns[0].Text != "Hi there" {
		t.Errorf("logged turn text = %q, stray chunk leaked in", turns[0].Text)
	}
}

func TestSession_AudioReadyAfterComplete(t *testing.T) {
	s, _, log := newTestSession(t, Features{})

	s.HandleEvent(ChannelOpenedEvent{})
	s.HandleEvent(ReadyEvent{})
	s.HandleEvent(TranscriptEvent{Content: "hello", Final: true})
	s.HandleEvent(LLMChunkEvent{Content: "Hi there"})
	// complete beats audio_ready: the turn is logged without a URL first.
	s.HandleEvent(CompleteEvent{})
	waitForState(t, s, StateIdle)
	waitFor(t, "turn in log", func() bool { return len(log.all()) == 1 })
	if url := log.all()[0].AudioURL; url != "" {
		t.Fatalf("AudioURL = %q before audio_ready", url)
	}

	s.HandleEvent(AudioReadyEvent{AudioURL: "/late.mp3"})
	waitFor(t, "logged URL patched", func() bool {
		turns := log.all()
		return len(turns) == 1 && turns[0].AudioURL == "/late.mp3"
	})
	// Still exactly one entry; playback ran with streaming already cleared.
	waitForState(t, s, StateIdle)
	if got := len(log.all()); got != 1 {
		t.Errorf("log has %d turns, want 1", got)
	}
}

func TestSession_AudioReadyCompletesInlineWhenQueueFull(t *testing.T) {
	log := &fakeLog{}
	s := New(Config{SessionID: "test-session", Logger: zaptest.NewLogger(t)}, nil, nil, log)
	defer s.Close()

	// Saturate the inbound queue so any enqueue from inside the run path
	// would block forever; the events below are driven directly instead of
	// through Run, as the run goroutine would.
	for i := 0; i < cap(s.in); i++ {
		s.in <- UnknownEvent{Type: "pad"}
	}

	ctx := context.Background()
	s.dispatch(ctx, ChannelOpenedEvent{})
	s.dispatch(ctx, ReadyEvent{})
	s.dispatch(ctx, TranscriptEvent{Content: "hello", Final: true})
	s.dispatch(ctx, LLMChunkEvent{Content: "Hi"})
	s.dispatch(ctx, AudioReadyEvent{AudioURL: "/a.mp3"})

	// Playback completion must have run inline despite the full queue.
	if got := s.State(); got != StateListening {
		t.Errorf("state = %v after audio_ready with full queue, want listening", got)
	}
	if got := len(log.all()); got != 1 {
		t.Errorf("log has %d turns, want 1", got)
	}
}

func TestSession_CompleteWithoutAudio(t *testing.T) {
	s, _, log := newTestSession(t, Features{})

	s.HandleEvent(ChannelOpenedEvent{})
	s.HandleEvent(ReadyEvent{})
	s.HandleEvent(TranscriptEvent{Content: "hello", Final: true})
	s.HandleEvent(LLMChunkEvent{Content: "text only"})
	s.HandleEvent(CompleteEvent{})
	waitForState(t, s, StateIdle)

	waitFor(t, "turn in log", func() bool { return len(log.all()) == 1 })
	if turn := log.all()[0]; turn.AudioURL != "" || turn.Text != "text only" {
		t.Errorf("turn = %+v", turn)
	}
}
