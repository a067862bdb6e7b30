package chat

import (
	"github.com/spf13/cobra"
)

func NewChatCommand() *cobra.Command {
	var userID string
	var debug bool

	cmd := &cobra.Command{
		Use:     "chat",
		Aliases: []string{"c"},
		Short:   "Start the interactive mulyachat client",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return chatCmd(userID, debug)
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "User id to log in as (required)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
