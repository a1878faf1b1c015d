// Package cli wires the voicewire commands: the realtime chat loop, one-shot
// uploads, and the request/response collaborator surface (persona, history,
// recordings, health).
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/voicewire/voicewire/internal/config"
	"github.com/voicewire/voicewire/internal/version"
	"github.com/voicewire/voicewire/pkg/backend"
)

// Dependencies is assembled once in the root command's PersistentPreRunE and
// shared by every subcommand.
type Dependencies struct {
	Config    config.Config
	Logger    *zap.Logger
	SessionID string
	Backend   *backend.Client
}

func NewRootCmd() *cobra.Command {
	deps := &Dependencies{}
	var (
		configPath string
		backendURL string
		sessionID  string
	)

	rootCmd := &cobra.Command{
		Use:           "voicewire",
		Short:         "Realtime voice conversation client",
		Long:          "voicewire streams microphone audio to a conversational voice backend and renders transcripts, streamed replies, and synthesized speech.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if backendURL != "" {
				cfg.Backend.URL = backendURL
			}
			if sessionID != "" {
				cfg.Session.ID = sessionID
			}

			logger, err := config.BuildLogger(cfg.Log)
			if err != nil {
				return fmt.Errorf("initializing logger: %w", err)
			}

			id := cfg.Session.ID
			if id == "" {
				id, err = config.EnsureSessionID()
				if err != nil {
					return fmt.Errorf("resolving session identity: %w", err)
				}
			}

			client, err := backend.NewClient(cfg.Backend.URL, nil, logger)
			if err != nil {
				return fmt.Errorf("initializing backend client: %w", err)
			}

			deps.Config = cfg
			deps.Logger = logger
			deps.SessionID = id
			deps.Backend = client
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if deps.Logger != nil {
				_ = deps.Logger.Sync()
			}
		},
	}

	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Full() + "\n")

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default: ~/.config/voicewire/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend-url", "", "Backend root URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session", "", "Session ID (overrides the persistent identity)")

	rootCmd.AddCommand(NewChatCmd(deps))
	rootCmd.AddCommand(NewSendCmd(deps))
	rootCmd.AddCommand(NewPersonaCmd(deps))
	rootCmd.AddCommand(NewHistoryCmd(deps))
	rootCmd.AddCommand(NewRecordingsCmd(deps))
	rootCmd.AddCommand(NewDoctorCmd(deps))

	return rootCmd
}
