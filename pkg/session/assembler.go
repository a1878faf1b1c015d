package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TurnStatus tracks an assistant turn through assembly.
type TurnStatus int

const (
	TurnStreaming TurnStatus = iota
	TurnFinal
	TurnErrored
)

func (s TurnStatus) String() string {
	switch s {
	case TurnStreaming:
		return "streaming"
	case TurnFinal:
		return "final"
	case TurnErrored:
		return "errored"
	default:
		return fmt.Sprintf("TurnStatus(%d)", int(s))
	}
}

// Turn is one assistant reply under assembly. Text accumulates chunk by
// chunk in arrival order; AudioURL is set when synthesis finishes.
type Turn struct {
	ID        string
	UserText  string
	Text      string
	AudioURL  string
	Status    TurnStatus
	StartedAt time.Time
	EndedAt   time.Time
}

// Assembler accumulates streamed reply fragments into turns. At most one
// turn is in flight at a time; the session serializes all calls, so the
// assembler itself needs no locking.
type Assembler struct {
	current *Turn
}

// NewAssembler returns an empty assembler with no turn in flight.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// BeginTurn opens a new assistant turn keyed to the committed user text.
// Opening a turn while one is still streaming is a protocol violation.
func (a *Assembler) BeginTurn(userText string) (*Turn, error) {
	if a.current != nil && a.current.Status == TurnStreaming {
		return nil, fmt.Errorf("turn %s still streaming", a.current.ID)
	}
	a.current = &Turn{
		ID:        uuid.NewString(),
		UserText:  strings.TrimSpace(userText),
		Status:    TurnStreaming,
		StartedAt: time.Now(),
	}
	return a.current, nil
}

// AppendChunk concatenates one reply fragment onto the in-flight turn.
// Fragments are appended exactly as received; the server owns whitespace.
func (a *Assembler) AppendChunk(content string) (*Turn, error) {
	if a.current == nil || a.current.Status != TurnStreaming {
		return nil, fmt.Errorf("no turn in flight for chunk")
	}
	a.current.Text += content
	return a.current, nil
}

// SetAudioURL records the synthesized audio location for the current turn.
// The URL may arrive after Finalize, so a final turn still accepts it.
func (a *Assembler) SetAudioURL(url string) (*Turn, error) {
	if a.current == nil {
		return nil, fmt.Errorf("no turn in flight for audio")
	}
	a.current.AudioURL = url
	return a.current, nil
}

// Finalize marks the in-flight turn complete. Finalizing an already-final
// turn is a no-op; duplicate completion markers are tolerated.
func (a *Assembler) Finalize() (*Turn, error) {
	if a.current == nil {
		return nil, fmt.Errorf("no turn in flight to finalize")
	}
	if a.current.Status == TurnFinal {
		return a.current, nil
	}
	a.current.Status = TurnFinal
	a.current.EndedAt = time.Now()
	return a.current, nil
}

// Abort marks the in-flight turn errored, keeping whatever text arrived.
// Returns nil when nothing was in flight.
func (a *Assembler) Abort() *Turn {
	if a.current == nil || a.current.Status != TurnStreaming {
		return nil
	}
	a.current.Status = TurnErrored
	a.current.EndedAt = time.Now()
	turn := a.current
	a.current = nil
	return turn
}

// Current returns the turn under assembly, or nil.
func (a *Assembler) Current() *Turn {
	return a.current
}

// Reset drops any turn state, in flight or not.
func (a *Assembler) Reset() {
	a.current = nil
}
