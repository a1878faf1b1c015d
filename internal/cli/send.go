package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/voicewire/voicewire/pkg/audio"
	"github.com/voicewire/voicewire/pkg/convlog"
	"github.com/voicewire/voicewire/pkg/session"
	"github.com/voicewire/voicewire/pkg/transport"
)

func NewSendCmd(deps *Dependencies) *cobra.Command {
	var (
		sync    bool
		noAudio bool
	)

	cmd := &cobra.Command{
		Use:   "send <audio-file>",
		Short: "Upload one recorded audio file as a conversation turn",
		Long:  "Uploads a complete audio file through the fallback channel and replays the server's streamed events. With --sync the backend processes the whole turn before responding.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading audio file: %w", err)
			}
			filename := filepath.Base(args[0])
			if sync {
				return runSendSync(cmd.Context(), deps, filename, data, noAudio)
			}
			return runSendStream(cmd.Context(), deps, filename, data, noAudio)
		},
	}

	cmd.Flags().BoolVar(&sync, "sync", false, "Use the non-streaming endpoint (one response, no event replay)")
	cmd.Flags().BoolVar(&noAudio, "no-audio", false, "Skip assistant audio playback")

	return cmd
}

func runSendStream(ctx context.Context, deps *Dependencies, filename string, data []byte, noAudio bool) error {
	record, err := openRecord(deps)
	if err != nil {
		return err
	}

	var player session.Player
	if !noAudio {
		p, err := audio.NewPlayer(audio.DefaultPlayerConfig(), deps.Backend, deps.Logger)
		if err != nil {
			return fmt.Errorf("initializing speaker: %w", err)
		}
		defer p.Close()
		player = p
	}

	sess := session.New(session.Config{
		SessionID: deps.SessionID,
		Features: session.Features{
			TurnDetection: deps.Config.Session.TurnDetection,
		},
		Logger: deps.Logger,
	}, nil, player, record)
	defer sess.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go sess.Run(runCtx)

	r := newRenderer(os.Stdout)
	renderDone := make(chan struct{})
	go func() {
		defer close(renderDone)
		for {
			select {
			case <-runCtx.Done():
				return
			case u := <-sess.Updates():
				r.handle(u)
			}
		}
	}()

	fb := transport.NewFallback(deps.Config.Backend.URL, nil, deps.Logger)
	if err := fb.StreamUpload(ctx, deps.SessionID, filename, data, sess); err != nil {
		return err
	}

	// Events are queued; give the session time to assemble the turn and
	// finish playback before tearing down.
	waitForSettled(ctx, sess)
	cancel()
	<-renderDone
	return nil
}

func runSendSync(ctx context.Context, deps *Dependencies, filename string, data []byte, noAudio bool) error {
	record, err := openRecord(deps)
	if err != nil {
		return err
	}

	result, err := deps.Backend.Chat(ctx, deps.SessionID, filename, data)
	if err != nil {
		return err
	}

	fmt.Printf("You: %s\n", result.Transcript)
	fmt.Printf("Assistant: %s\n", result.LLMResponse)

	audioURL := ""
	if len(result.AudioURLs) > 0 {
		audioURL = result.AudioURLs[0]
	}
	if err := record.Append(session.Turn{
		ID:       fmt.Sprintf("sync-%d", time.Now().UnixNano()),
		UserText: result.Transcript,
		Text:     result.LLMResponse,
		AudioURL: audioURL,
		Status:   session.TurnFinal,
		EndedAt:  time.Now(),
	}); err != nil {
		deps.Logger.Warn("conversation log append failed")
	}

	if !noAudio && audioURL != "" {
		p, err := audio.NewPlayer(audio.DefaultPlayerConfig(), deps.Backend, deps.Logger)
		if err != nil {
			return fmt.Errorf("initializing speaker: %w", err)
		}
		defer p.Close()

		done := make(chan error, 1)
		p.Play(ctx, audioURL, func(err error) { done <- err })
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("playback: %w", err)
			}
		case <-ctx.Done():
		}
	}
	return nil
}

func openRecord(deps *Dependencies) (*convlog.Log, error) {
	logDir := deps.Config.Session.LogDir
	if logDir == "" {
		var err error
		logDir, err = convlog.DefaultDir()
		if err != nil {
			return nil, err
		}
	}
	return convlog.Open(logDir, deps.SessionID, deps.Logger)
}

// waitForSettled polls until the session has left the response states (turn
// assembled, playback finished) or a deadline passes.
func waitForSettled(ctx context.Context, sess *session.Session) {
	// Give the run loop a beat to drain the replayed queue before sampling.
	time.Sleep(200 * time.Millisecond)
	deadline := time.After(2 * time.Minute)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case <-tick.C:
			switch sess.State() {
			case session.StateIdle, session.StateListening, session.StateError:
				return
			}
		}
	}
}
