package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewRecordingsCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "recordings",
		Short: "List the audio files stored for this session",
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := deps.Backend.ListRecordings(cmd.Context(), deps.SessionID)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				fmt.Println("No recordings for this session")
				return nil
			}
			for _, f := range files {
				fmt.Printf("%-40s %8d bytes\n", f.Filename, f.SizeBytes)
			}
			fmt.Printf("%d recordings\n", len(files))
			return nil
		},
	}
}
