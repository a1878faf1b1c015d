package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewPersonaCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "persona [name]",
		Short: "Show or set the assistant persona for this session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(args) == 0 {
				persona, err := deps.Backend.GetPersona(ctx, deps.SessionID)
				if err != nil {
					return err
				}
				fmt.Printf("Persona: %s\n", persona)
				return nil
			}
			if err := deps.Backend.SetPersona(ctx, deps.SessionID, args[0]); err != nil {
				return err
			}
			fmt.Printf("Persona set to %s\n", args[0])
			return nil
		},
	}
}
