package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mulyachat/mulyachat/cmd/mulyachat/internal"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the mulyachat version",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println("mulyachat v" + internal.GetVersion())
		},
	}
}
