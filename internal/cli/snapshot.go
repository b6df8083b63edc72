package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewSnapshotCommand creates the snapshot command.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Fetch the authority's state and print the theatre list",
		Long: `Fetch the full state from the authority, save it to the journal and
print every session's ordered list plus the unscheduled cases.

Examples:
  theatresync snapshot
  theatresync snapshot --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(_ context.Context, a *app) error {
				board := buildBoard(a.state)
				if rootOpts.Format == "json" {
					f := &OutputFormatter{Format: "json", Writer: cmd.OutOrStdout()}
					return f.Success(board)
				}
				renderBoard(cmd.OutOrStdout(), board)
				return nil
			})
		},
	}
	return cmd
}
