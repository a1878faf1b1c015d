package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voicewire/voicewire/pkg/convlog"
)

func NewHistoryCmd(deps *Dependencies) *cobra.Command {
	var (
		server bool
		clear  bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show or clear the conversation record",
		Long:  "Shows the local conversation log for this session. --server reads the backend's copy instead; --clear wipes both.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if clear {
				record, err := openRecord(deps)
				if err != nil {
					return err
				}
				if err := record.Clear(); err != nil {
					return err
				}
				if err := deps.Backend.ClearConversation(ctx, deps.SessionID); err != nil {
					return fmt.Errorf("clearing server history: %w", err)
				}
				fmt.Println("Conversation cleared")
				return nil
			}

			if server {
				history, err := deps.Backend.History(ctx, deps.SessionID)
				if err != nil {
					return err
				}
				if len(history) == 0 {
					fmt.Println("No server-side history for this session")
					return nil
				}
				for _, msg := range history {
					fmt.Printf("%s: %s\n", msg.Role, msg.Content)
				}
				return nil
			}

			record, err := openRecord(deps)
			if err != nil {
				return err
			}
			entries := record.Load()
			if len(entries) == 0 {
				fmt.Println("No local conversation log for this session")
				return nil
			}
			for _, e := range entries {
				switch e.Kind {
				case convlog.KindNotice:
					fmt.Printf("-- %s --\n", e.Notice)
				default:
					fmt.Printf("You: %s\n", e.UserText)
					fmt.Printf("Assistant: %s\n", e.AssistantText)
					if e.AudioURL != "" {
						fmt.Printf("  audio: %s\n", e.AudioURL)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&server, "server", false, "Read the backend's conversation history")
	cmd.Flags().BoolVar(&clear, "clear", false, "Clear local and server history for this session")

	return cmd
}
