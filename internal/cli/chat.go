package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/voicewire/voicewire/pkg/audio"
	"github.com/voicewire/voicewire/pkg/convlog"
	"github.com/voicewire/voicewire/pkg/session"
	"github.com/voicewire/voicewire/pkg/transport"
)

func NewChatCmd(deps *Dependencies) *cobra.Command {
	var (
		noAudio     bool
		meter       bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start a realtime voice conversation",
		Long:  "Streams microphone audio to the backend and renders transcripts, streamed replies, and synthesized speech. Ctrl+C ends the session.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, deps, chatOptions{
				noAudio:     noAudio,
				meter:       meter,
				metricsAddr: metricsAddr,
			})
		},
	}

	cmd.Flags().BoolVar(&noAudio, "no-audio", false, "Skip assistant audio playback")
	cmd.Flags().BoolVar(&meter, "meter", false, "Show a microphone level meter")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9137)")

	return cmd
}

type chatOptions struct {
	noAudio     bool
	meter       bool
	metricsAddr string
}

func runChat(ctx context.Context, deps *Dependencies, opts chatOptions) error {
	cfg := deps.Config
	logger := deps.Logger

	if opts.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(opts.metricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	if cfg.Session.Persona != "" {
		if err := deps.Backend.SetPersona(ctx, deps.SessionID, cfg.Session.Persona); err != nil {
			return fmt.Errorf("setting persona: %w", err)
		}
		fmt.Printf("Persona: %s\n", cfg.Session.Persona)
	}

	if cfg.Session.FileCheck {
		if files, err := deps.Backend.ListRecordings(ctx, deps.SessionID); err != nil {
			logger.Warn("recording listing unavailable", zap.Error(err))
		} else {
			fmt.Printf("Session has %d stored recordings\n", len(files))
		}
	}

	logDir := cfg.Session.LogDir
	if logDir == "" {
		var err error
		logDir, err = convlog.DefaultDir()
		if err != nil {
			return err
		}
	}
	record, err := convlog.Open(logDir, deps.SessionID, logger)
	if err != nil {
		return err
	}

	var player session.Player
	if !opts.noAudio {
		p, err := audio.NewPlayer(audio.DefaultPlayerConfig(), deps.Backend, logger)
		if err != nil {
			return fmt.Errorf("initializing speaker: %w", err)
		}
		defer p.Close()
		player = p
	}

	encoder := audio.NewEncoder(cfg.Audio.TargetSampleRate)

	sess := session.New(session.Config{
		SessionID: deps.SessionID,
		Features: session.Features{
			TurnDetection: cfg.Session.TurnDetection,
			Persona:       cfg.Session.Persona != "",
			FileCheck:     cfg.Session.FileCheck,
		},
		Logger: logger,
	}, nil, player, record)
	defer sess.Close()

	stream, err := transport.NewStream(transport.StreamConfig{
		BaseURL:        cfg.Backend.URL,
		SessionID:      deps.SessionID,
		ReconnectDelay: cfg.Backend.ReconnectDelay(),
		Logger:         logger,
	}, sess)
	if err != nil {
		return err
	}
	defer stream.Close()

	capture, err := audio.OpenCapture(audio.CaptureConfig{
		NativeRate:   cfg.Audio.NativeSampleRate,
		FrameSamples: cfg.Audio.FrameSamples * cfg.Audio.NativeSampleRate / cfg.Audio.TargetSampleRate,
	}, func(samples []float32, nativeRate int) {
		frame := encoder.Encode(samples, nativeRate)
		if opts.meter {
			printMeter(audio.RMSEnergy(frame))
		}
		if err := stream.Send(frame); err != nil {
			logger.Warn("frame send failed", zap.Error(err))
		}
	}, logger)
	if err != nil {
		return fmt.Errorf("opening microphone: %w", err)
	}
	defer capture.Close()
	sess.SetCapture(capture)

	go sess.Run(ctx)

	if err := stream.Connect(ctx); err != nil {
		return fmt.Errorf("opening streaming channel (try 'voicewire send' for one-shot uploads): %w", err)
	}

	fmt.Printf("Session %s connected to %s\n", deps.SessionID, cfg.Backend.URL)

	r := newRenderer(os.Stdout)
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nSession ended")
			return nil
		case u := <-sess.Updates():
			r.handle(u)
		}
	}
}

// printMeter draws a coarse RMS bar over the current line.
func printMeter(rms float64) {
	const width = 30
	filled := int(rms * width * 4)
	if filled > width {
		filled = width
	}
	bar := make([]byte, width)
	for i := range bar {
		if i < filled {
			bar[i] = '#'
		} else {
			bar[i] = '-'
		}
	}
	fmt.Fprintf(os.Stderr, "\rmic [%s]", bar)
}
