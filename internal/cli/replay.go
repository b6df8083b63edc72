package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/theatresync/internal/canonical"
	"github.com/roach88/theatresync/internal/schema"
	"github.com/roach88/theatresync/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Journal string // overrides journal.path
}

// ReplayResult holds the outcome of rebuilding the store from the journal.
type ReplayResult struct {
	FromSeq       int64   `json:"from_seq"`
	LastSeq       int64   `json:"last_seq"`
	Applied       int     `json:"applied"`
	Dropped       int     `json:"dropped"`
	ResyncSeqs    []int64 `json:"resync_seqs,omitempty"`
	Hash          string  `json:"hash"`
	Deterministic bool    `json:"deterministic"`
	Board         Board   `json:"board"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild the theatre list from the journal",
		Long: `Rebuild the entity store from the latest journaled snapshot plus every
event received after it, without contacting the authority.

The journal is replayed twice and the resulting stores compared by
canonical hash to verify determinism.

Exit codes:
  0 - Replay succeeded and is deterministic
  1 - Determinism verification failed
  2 - Command error (journal not readable, etc.)

Examples:
  theatresync replay
  theatresync replay --journal ./journal.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to journal database (default from config)")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	path := opts.Journal
	if path == "" {
		cfg, err := loadConfig(opts.RootOptions, cmd)
		if err != nil {
			return err
		}
		path = cfg.Journal.Path
	}

	st, err := store.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer st.Close()

	v, err := schema.New()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load envelope schema", err)
	}

	first, err := st.Replay(ctx, v)
	if err != nil {
		return WrapExitError(ExitCommandError, "first replay failed", err)
	}
	second, err := st.Replay(ctx, v)
	if err != nil {
		return WrapExitError(ExitCommandError, "second replay failed", err)
	}

	h1, err := canonical.Hash(canonical.DomainSnapshot, first.Store.Snapshot())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to hash replayed store", err)
	}
	h2, err := canonical.Hash(canonical.DomainSnapshot, second.Store.Snapshot())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to hash replayed store", err)
	}

	result := ReplayResult{
		FromSeq:       first.FromSeq,
		LastSeq:       first.LastSeq,
		Applied:       first.Applied,
		Dropped:       first.Dropped,
		ResyncSeqs:    first.Resyncs,
		Hash:          h1,
		Deterministic: h1 == h2,
		Board:         buildBoard(first.Store),
	}

	if opts.Format == "json" {
		return outputReplayJSON(cmd, result)
	}
	return outputReplayText(cmd, result, opts.Verbose)
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(cmd *cobra.Command, result ReplayResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	if !result.Deterministic {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_DETERMINISM",
			Message: "determinism verification failed",
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if !result.Deterministic {
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(cmd *cobra.Command, result ReplayResult, verbose bool) error {
	w := cmd.OutOrStdout()

	if result.FromSeq > 0 {
		fmt.Fprintf(w, "Replayed from snapshot at seq %d to seq %d\n", result.FromSeq, result.LastSeq)
	} else {
		fmt.Fprintf(w, "Replayed from empty store to seq %d\n", result.LastSeq)
	}
	fmt.Fprintf(w, "  Events: %d applied, %d dropped\n", result.Applied, result.Dropped)
	if verbose {
		fmt.Fprintf(w, "  Hash: %s\n", result.Hash)
		if len(result.ResyncSeqs) > 0 {
			fmt.Fprintf(w, "  Resync requested at seq: %v\n", result.ResyncSeqs)
		}
	}
	fmt.Fprintln(w)
	renderBoard(w, result.Board)
	fmt.Fprintln(w)

	if result.Deterministic {
		fmt.Fprintln(w, "✓ Replay verified deterministic")
		return nil
	}

	fmt.Fprintln(w, "✗ Determinism verification failed")
	return NewExitError(ExitFailure, "determinism verification failed")
}
