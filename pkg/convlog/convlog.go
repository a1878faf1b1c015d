// Package convlog keeps the per-session conversation record: an append-only
// sequence of finalized turns and system notices, backed by one JSON file per
// session. It is a convenience cache, not a system of record; a corrupt file
// degrades to an empty log instead of failing the session.
package convlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voicewire/voicewire/pkg/session"
)

// EntryKind distinguishes conversation turns from system notices.
type EntryKind string

const (
	KindTurn   EntryKind = "turn"
	KindNotice EntryKind = "notice"
)

// Entry is one record in the log.
type Entry struct {
	Kind          EntryKind `json:"kind"`
	TurnID        string    `json:"turn_id,omitempty"`
	UserText      string    `json:"user_text,omitempty"`
	AssistantText string    `json:"assistant_text,omitempty"`
	AudioURL      string    `json:"audio_url,omitempty"`
	Notice        string    `json:"notice,omitempty"`
	At            time.Time `json:"at"`
}

// Log is the conversation record for one session. It satisfies the session's
// TurnLog interface.
type Log struct {
	dir       string
	sessionID string
	logger    *zap.Logger

	mu sync.Mutex
}

// DefaultDir returns the per-user conversation cache directory.
func DefaultDir() (string, error) {
	cache, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolve cache dir: %w", err)
	}
	return filepath.Join(cache, "voicewire", "conversations"), nil
}

// Open binds a log to a session. The directory is created on first append,
// not here, so read-only use never touches the filesystem.
func Open(dir, sessionID string, logger *zap.Logger) (*Log, error) {
	if dir == "" {
		return nil, fmt.Errorf("log directory must not be empty")
	}
	if sessionID == "" {
		return nil, fmt.Errorf("session ID must not be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{dir: dir, sessionID: sessionID, logger: logger}, nil
}

func (l *Log) path() string {
	return filepath.Join(l.dir, l.sessionID+".json")
}

// Append records one finalized turn.
func (l *Log) Append(turn session.Turn) error {
	return l.appendEntry(Entry{
		Kind:          KindTurn,
		TurnID:        turn.ID,
		UserText:      turn.UserText,
		AssistantText: turn.Text,
		AudioURL:      turn.AudioURL,
		At:            turn.EndedAt,
	})
}

// AppendNotice records a system notice (reconnects, degraded modes).
func (l *Log) AppendNotice(text string) error {
	return l.appendEntry(Entry{Kind: KindNotice, Notice: text, At: time.Now()})
}

func (l *Log) appendEntry(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeLocked(append(l.loadLocked(), entry))
}

// SetTurnAudio patches the audio URL of an already-appended turn. The
// session uses this when the completion marker beats the synthesized-audio
// announcement, so the persisted entry would otherwise lack its URL.
func (l *Log) SetTurnAudio(turnID, audioURL string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.loadLocked()
	for i := range entries {
		if entries[i].Kind == KindTurn && entries[i].TurnID == turnID {
			entries[i].AudioURL = audioURL
			return l.writeLocked(entries)
		}
	}
	return fmt.Errorf("turn %s not in conversation log", turnID)
}

func (l *Log) writeLocked(entries []Entry) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode conversation log: %w", err)
	}
	// Write-then-rename keeps the log readable if we crash mid-write.
	tmp := l.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write conversation log: %w", err)
	}
	if err := os.Rename(tmp, l.path()); err != nil {
		return fmt.Errorf("replace conversation log: %w", err)
	}
	return nil
}

// Load returns a snapshot of the log in append order. Re-reading returns the
// same snapshot until the next append.
func (l *Log) Load() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadLocked()
}

func (l *Log) loadLocked() []Entry {
	data, err := os.ReadFile(l.path())
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.Warn("conversation log unreadable, starting empty", zap.Error(err))
		}
		return nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		l.logger.Warn("conversation log corrupt, starting empty",
			zap.String("path", l.path()), zap.Error(err))
		return nil
	}
	return entries
}

// Clear deletes the session's record. Missing files are not an error.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.Remove(l.path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear conversation log: %w", err)
	}
	return nil
}
