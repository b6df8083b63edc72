package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/theatresync/internal/command"
	"github.com/roach88/theatresync/internal/domain"
)

// scheduleCommand describes one scheduling command of the CLI.
type scheduleCommand struct {
	use   string
	short string
	args  cobra.PositionalArgs
	flags func(cmd *cobra.Command)
	run   func(ctx context.Context, a *app, args []string) (data any, summary string, err error)
}

// newScheduleCommands builds the commands that change the theatre list.
func newScheduleCommands(rootOpts *RootOptions) []*cobra.Command {
	var (
		position     int
		subspecialty string
		newCase      command.NewCase
	)

	defs := []scheduleCommand{
		{
			use:   "assign <case-id> <session-id>",
			short: "Schedule an awaiting case at the end of a session",
			args:  cobra.ExactArgs(2),
			run: func(ctx context.Context, a *app, args []string) (any, string, error) {
				s, err := a.commander.Assign(ctx, args[0], args[1])
				return s, fmt.Sprintf("Assigned case %s to session %s at position %d", s.CaseID, s.SessionID, s.OrderIndex), err
			},
		},
		{
			use:   "move <case-id> <session-id>",
			short: "Move a scheduled case to a position in a session",
			args:  cobra.ExactArgs(2),
			flags: func(cmd *cobra.Command) {
				cmd.Flags().IntVar(&position, "position", 0, "1-based target position (default: end)")
			},
			run: func(ctx context.Context, a *app, args []string) (any, string, error) {
				s, err := a.commander.Move(ctx, args[0], args[1], position)
				return s, fmt.Sprintf("Moved case %s to session %s at position %d", s.CaseID, s.SessionID, s.OrderIndex), err
			},
		},
		{
			use:   "reorder <session-id> <schedule-id>...",
			short: "Set a session's order",
			args:  cobra.MinimumNArgs(2),
			run: func(ctx context.Context, a *app, args []string) (any, string, error) {
				list, err := a.commander.Reorder(ctx, args[0], args[1:])
				return list, fmt.Sprintf("Reordered session %s (%d cases)", args[0], len(list)), err
			},
		},
		{
			use:   "unschedule <case-id>",
			short: "Remove a case from its session and return it to awaiting surgery",
			args:  cobra.ExactArgs(1),
			run: caseCommand("Unscheduled", func(a *app) func(context.Context, string) (domain.Case, error) {
				return a.commander.Unschedule
			}),
		},
		{
			use:   "complete <case-id>",
			short: "Mark a case completed",
			args:  cobra.ExactArgs(1),
			run: caseCommand("Completed", func(a *app) func(context.Context, string) (domain.Case, error) {
				return a.commander.Complete
			}),
		},
		{
			use:   "archive <case-id>",
			short: "Archive an unscheduled case",
			args:  cobra.ExactArgs(1),
			run: caseCommand("Archived", func(a *app) func(context.Context, string) (domain.Case, error) {
				return a.commander.Archive
			}),
		},
		{
			use:   "unarchive <case-id>",
			short: "Return an archived case to awaiting surgery",
			args:  cobra.ExactArgs(1),
			run: caseCommand("Unarchived", func(a *app) func(context.Context, string) (domain.Case, error) {
				return a.commander.Unarchive
			}),
		},
		{
			use:   "cancel <case-id>",
			short: "Cancel a scheduled case and free its slot",
			args:  cobra.ExactArgs(1),
			run: caseCommand("Cancelled", func(a *app) func(context.Context, string) (domain.Case, error) {
				return a.commander.Cancel
			}),
		},
		{
			use:   "triage <case-id>",
			short: "Move a new referral to awaiting surgery",
			args:  cobra.ExactArgs(1),
			flags: func(cmd *cobra.Command) {
				cmd.Flags().StringVar(&subspecialty, "subspecialty", "", "subspecialty to tag the case with")
			},
			run: func(ctx context.Context, a *app, args []string) (any, string, error) {
				c, err := a.commander.Triage(ctx, args[0], subspecialty)
				return c, fmt.Sprintf("Triaged case %s: %s", c.ID, c.Status), err
			},
		},
		{
			use:   "create-case <name>",
			short: "Create a new referral",
			args:  cobra.ExactArgs(1),
			flags: func(cmd *cobra.Command) {
				cmd.Flags().StringVar(&newCase.Diagnosis, "diagnosis", "", "diagnosis")
				cmd.Flags().StringVar(&newCase.Outcome, "outcome", "", "planned procedure or outcome")
				cmd.Flags().StringVar(&newCase.Subspecialty, "subspecialty", "", "subspecialty to tag the case with")
			},
			run: func(ctx context.Context, a *app, args []string) (any, string, error) {
				in := newCase
				in.Name = args[0]
				c, err := a.commander.CreateCase(ctx, in)
				return c, fmt.Sprintf("Created case %s: %s", c.ID, c.Status), err
			},
		},
		{
			use:   "delete-case <case-id>",
			short: "Permanently delete an unscheduled case",
			args:  cobra.ExactArgs(1),
			run: func(ctx context.Context, a *app, args []string) (any, string, error) {
				err := a.commander.DeleteCase(ctx, args[0])
				return map[string]string{"id": args[0]}, fmt.Sprintf("Deleted case %s", args[0]), err
			},
		},
	}

	cmds := make([]*cobra.Command, 0, len(defs))
	for _, def := range defs {
		cmds = append(cmds, def.command(rootOpts))
	}
	return cmds
}

// caseCommand adapts a single-case commander method.
func caseCommand(verb string, method func(a *app) func(context.Context, string) (domain.Case, error)) func(context.Context, *app, []string) (any, string, error) {
	return func(ctx context.Context, a *app, args []string) (any, string, error) {
		c, err := method(a)(ctx, args[0])
		return c, fmt.Sprintf("%s case %s: %s", verb, c.ID, c.Status), err
	}
}

func (s scheduleCommand) command(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           s.use,
		Short:         s.short,
		Args:          s.args,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		f := &OutputFormatter{
			Format:    rootOpts.Format,
			Writer:    cmd.OutOrStdout(),
			ErrWriter: cmd.ErrOrStderr(),
			Verbose:   rootOpts.Verbose,
		}
		return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
			data, summary, err := s.run(ctx, a, args)
			if err != nil {
				_ = f.Error(errorCode(err), err.Error(), errorDetails(err))
				return commandExit(cmd.Name(), err)
			}
			if f.Format == "json" {
				return f.Success(data)
			}
			f.VerboseLog("%s: ok", cmd.Name())
			return f.Success(summary)
		})
	}
	if s.flags != nil {
		s.flags(cmd)
	}
	return cmd
}
