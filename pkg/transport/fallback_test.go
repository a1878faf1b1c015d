package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/voicewire/voicewire/pkg/session"
)

func TestFallback_StreamUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agent/chat/sess-1/stream" {
			t.Errorf("upload path = %q", r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		defer file.Close()
		if header.Filename != "turn.wav" {
			t.Errorf("filename = %q", header.Filename)
		}
		payload, _ := io.ReadAll(file)
		if len(payload) != 4 {
			t.Errorf("payload = %d bytes, want 4", len(payload))
		}

		// Same event protocol as the websocket, newline-delimited.
		io.WriteString(w, `{"type":"transcript","content":"hello","final":true}`+"\n")
		io.WriteString(w, `{"type":"llm_chunk","content":"Hi there"}`+"\n")
		io.WriteString(w, "\n") // blank lines are tolerated
		io.WriteString(w, `{"type":"complete"}`+"\n")
	}))
	defer srv.Close()

	sink := &collectSink{}
	fb := NewFallback(srv.URL, srv.Client(), zaptest.NewLogger(t))
	err := fb.StreamUpload(context.Background(), "sess-1", "turn.wav", []byte{1, 2, 3, 4}, sink)
	if err != nil {
		t.Fatalf("StreamUpload: %v", err)
	}

	evs := sink.all()
	if len(evs) != 3 {
		t.Fatalf("replayed %d events, want 3: %v", len(evs), evs)
	}
	if tr, ok := evs[0].(session.TranscriptEvent); !ok || !tr.Final || tr.Content != "hello" {
		t.Errorf("event 0 = %#v", evs[0])
	}
	if ch, ok := evs[1].(session.LLMChunkEvent); !ok || ch.Content != "Hi there" {
		t.Errorf("event 1 = %#v", evs[1])
	}
	if _, ok := evs[2].(session.CompleteEvent); !ok {
		t.Errorf("event 2 = %#v", evs[2])
	}
}

func TestFallback_MalformedLinesDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "not json\n")
		io.WriteString(w, `{"type":"complete"}`+"\n")
	}))
	defer srv.Close()

	sink := &collectSink{}
	fb := NewFallback(srv.URL, srv.Client(), zaptest.NewLogger(t))
	if err := fb.StreamUpload(context.Background(), "s", "a.wav", []byte{0}, sink); err != nil {
		t.Fatalf("StreamUpload: %v", err)
	}
	evs := sink.all()
	if len(evs) != 1 {
		t.Fatalf("got %d events, want 1 (malformed line dropped)", len(evs))
	}
}

func TestFallback_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "transcription unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	fb := NewFallback(srv.URL, srv.Client(), zaptest.NewLogger(t))
	err := fb.StreamUpload(context.Background(), "s", "a.wav", []byte{0}, &collectSink{})
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("error type = %T, want *TransportError", err)
	}
	if terr.Op != "upload" {
		t.Errorf("Op = %q, want upload", terr.Op)
	}
}
