package convlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/voicewire/voicewire/pkg/session"
)

func testLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(t.TempDir(), "sess-1", zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return l
}

func TestLog_AppendAndLoad(t *testing.T) {
	l := testLog(t)

	turns := []session.Turn{
		{ID: "t1", UserText: "hello", Text: "Hi there", AudioURL: "/a.mp3", EndedAt: time.Now()},
		{ID: "t2", UserText: "bye", Text: "Goodbye"},
	}
	for _, turn := range turns {
		if err := l.Append(turn); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := l.AppendNotice("reconnected"); err != nil {
		t.Fatalf("AppendNotice: %v", err)
	}

	entries := l.Load()
	if len(entries) != 3 {
		t.Fatalf("Load returned %d entries, want 3", len(entries))
	}
	if entries[0].TurnID != "t1" || entries[0].AssistantText != "Hi there" || entries[0].AudioURL != "/a.mp3" {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[1].UserText != "bye" {
		t.Errorf("entry 1 = %+v", entries[1])
	}
	if entries[2].Kind != KindNotice || entries[2].Notice != "reconnected" {
		t.Errorf("entry 2 = %+v", entries[2])
	}

	// Stable snapshot until the next append.
	again := l.Load()
	if len(again) != len(entries) {
		t.Errorf("second Load = %d entries, want %d", len(again), len(entries))
	}
}

func TestLog_EmptyWithoutFile(t *testing.T) {
	l := testLog(t)
	if entries := l.Load(); len(entries) != 0 {
		t.Errorf("fresh log has %d entries, want 0", len(entries))
	}
}

func TestLog_CorruptFileDegradesToEmpty(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, "sess-1", zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sess-1.json"), []byte("{{{ not json"), 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	if entries := l.Load(); len(entries) != 0 {
		t.Fatalf("corrupt log returned %d entries, want 0", len(entries))
	}

	// Appending over a corrupt file starts a fresh record.
	if err := l.Append(session.Turn{ID: "t1", UserText: "hi"}); err != nil {
		t.Fatalf("Append over corrupt file: %v", err)
	}
	entries := l.Load()
	if len(entries) != 1 || entries[0].TurnID != "t1" {
		t.Errorf("entries after recovery = %+v", entries)
	}
}

func TestLog_Clear(t *testing.T) {
	l := testLog(t)
	if err := l.Append(session.Turn{ID: "t1"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if entries := l.Load(); len(entries) != 0 {
		t.Errorf("log has %d entries after Clear", len(entries))
	}
	// Clearing an already-empty log is fine.
	if err := l.Clear(); err != nil {
		t.Errorf("second Clear: %v", err)
	}
}

func TestLog_SetTurnAudio(t *testing.T) {
	l := testLog(t)

	if err := l.Append(session.Turn{ID: "t1", UserText: "hello", Text: "Hi"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.AppendNotice("reconnected"); err != nil {
		t.Fatalf("AppendNotice: %v", err)
	}

	if err := l.SetTurnAudio("t1", "/late.mp3"); err != nil {
		t.Fatalf("SetTurnAudio: %v", err)
	}
	entries := l.Load()
	if len(entries) != 2 {
		t.Fatalf("Load returned %d entries, want 2", len(entries))
	}
	if entries[0].AudioURL != "/late.mp3" {
		t.Errorf("entry 0 AudioURL = %q, want %q", entries[0].AudioURL, "/late.mp3")
	}
	if entries[0].AssistantText != "Hi" {
		t.Errorf("patch rewrote other fields: %+v", entries[0])
	}

	if err := l.SetTurnAudio("missing", "/x.mp3"); err == nil {
		t.Error("SetTurnAudio on unknown turn did not error")
	}
}

func TestLog_SessionsAreIsolated(t *testing.T) {
	dir := t.TempDir()
	logger := zaptest.NewLogger(t)
	a, _ := Open(dir, "sess-a", logger)
	b, _ := Open(dir, "sess-b", logger)

	if err := a.Append(session.Turn{ID: "t1", UserText: "only in a"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if entries := b.Load(); len(entries) != 0 {
		t.Errorf("session b sees %d entries from session a", len(entries))
	}
}
