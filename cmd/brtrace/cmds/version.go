package cmds

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the build version string, set via -ldflags at release
// build time the same way the teacher's cmd/dlv sets Build.
var Version = "dev"

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the brtrace version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("brtrace", Version)
			return nil
		},
	}
}
