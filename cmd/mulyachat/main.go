package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mulyachat/mulyachat/cmd/mulyachat/internal/chat"
	"github.com/mulyachat/mulyachat/cmd/mulyachat/internal/version"
)

func NewMulyachatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "mulyachat",
		Short:   "mulyachat - terminal client for the mulyachat messaging service",
		Example: "mulyachat chat --user 1",
	}

	cmd.AddCommand(
		chat.NewChatCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewMulyachatCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
