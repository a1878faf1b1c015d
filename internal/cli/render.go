package cli

import (
	"fmt"
	"io"

	"github.com/voicewire/voicewire/pkg/session"
)

// renderer prints session updates as a readable conversation. Partial
// transcripts overwrite in place; committed text and streamed reply deltas
// accumulate on their own lines.
type renderer struct {
	out         io.Writer
	partialLive bool
	replyOpen   bool
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out}
}

func (r *renderer) handle(u session.Update) {
	switch u.Kind {
	case session.UpdateState:
		r.clearPartial()
		switch u.State {
		case session.StateListening:
			fmt.Fprintln(r.out, "-- listening --")
		case session.StateError:
			fmt.Fprintln(r.out, "-- connection lost, reconnecting --")
		}
	case session.UpdatePartialTranscript:
		fmt.Fprintf(r.out, "\r\033[K  %s", u.Text)
		r.partialLive = true
	case session.UpdateUserCommitted:
		r.clearPartial()
		fmt.Fprintf(r.out, "You: %s\n", u.Text)
	case session.UpdateAssistantDelta:
		if !r.replyOpen {
			fmt.Fprint(r.out, "Assistant: ")
			r.replyOpen = true
		}
		fmt.Fprint(r.out, u.Text)
	case session.UpdateTurnFinalized:
		r.closeReply()
	case session.UpdateTurnErrored:
		r.closeReply()
		fmt.Fprintf(r.out, "-- turn failed: %v --\n", u.Err)
	case session.UpdateError:
		r.clearPartial()
		r.closeReply()
		fmt.Fprintf(r.out, "-- %v --\n", u.Err)
	}
}

func (r *renderer) clearPartial() {
	if r.partialLive {
		fmt.Fprint(r.out, "\r\033[K")
		r.partialLive = false
	}
}

func (r *renderer) closeReply() {
	if r.replyOpen {
		fmt.Fprintln(r.out)
		r.replyOpen = false
	}
}
