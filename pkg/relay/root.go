// Package relay wires the audit pipeline into a standalone process:
// it reads change events from stdin as JSON lines, runs them through
// the capture engine and delivers the resulting entries to the
// configured sink.
package relay

import (
	"github.com/spf13/cobra"
)

// NewRootCommand builds the trailcap CLI.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "trailcap",
		Short:         "Audit capture and batched delivery relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		NewRunCommand(),
		NewVersionCommand(),
	)

	return root
}
