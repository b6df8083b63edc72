package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/theatresync/internal/command"
	"github.com/roach88/theatresync/internal/config"
	"github.com/roach88/theatresync/internal/engine"
	"github.com/roach88/theatresync/internal/metrics"
	"github.com/roach88/theatresync/internal/reconcile"
	"github.com/roach88/theatresync/internal/remote"
	"github.com/roach88/theatresync/internal/schema"
	"github.com/roach88/theatresync/internal/state"
	"github.com/roach88/theatresync/internal/store"
)

// app is a running client: journal, engine, remote client and commander.
type app struct {
	cfg       config.Config
	journal   *store.Store
	state     *state.Store
	engine    *engine.Engine
	client    *remote.Client
	commander *command.Commander
	metrics   *metrics.Metrics

	cancel context.CancelFunc
	done   chan error
}

// loadConfig reads configuration and installs logging.
func loadConfig(opts *RootOptions, cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(opts.Config, opts.EnvFile)
	if err != nil {
		return cfg, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	level, _ := cfg.LogLevel()
	setupLogging(cmd.ErrOrStderr(), level, opts.Verbose)
	return cfg, nil
}

// openApp wires a client from cfg and starts its engine. The engine's clock
// resumes after the journal's last seq. Call close when done.
func openApp(ctx context.Context, cfg config.Config) (*app, error) {
	if err := cfg.RequireAuthority(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	journal, err := store.Open(cfg.Journal.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	lastSeq, err := journal.LastSeq(ctx)
	if err != nil {
		journal.Close()
		return nil, WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	client, err := remote.New(cfg.Authority.URL, cfg.TokenSource())
	if err != nil {
		journal.Close()
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	validator, err := schema.New()
	if err != nil {
		journal.Close()
		return nil, WrapExitError(ExitCommandError, "failed to load envelope schema", err)
	}

	m := metrics.New()
	st := state.New()
	eng := engine.New(st, reconcile.New(st, validator),
		engine.WithClock(engine.NewClockAt(lastSeq)),
		engine.WithFetcher(client),
		engine.WithJournal(journal),
		engine.WithMetrics(m),
		engine.WithDensityGrace(cfg.Engine.DensityGrace),
	)
	cmdr := command.New(eng, client,
		command.WithAuditor(journal),
		command.WithMetrics(m),
		command.WithTimeout(cfg.Command.Timeout),
	)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a := &app{
		cfg:       cfg,
		journal:   journal,
		state:     st,
		engine:    eng,
		client:    client,
		commander: cmdr,
		metrics:   m,
		cancel:    cancel,
		done:      make(chan error, 1),
	}
	go func() { a.done <- eng.Run(runCtx) }()
	return a, nil
}

// close stops the engine once it is idle and closes the journal.
func (a *app) close() {
	a.engine.Stop()
	if err := <-a.done; err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("engine stopped with error", "error", err)
	}
	a.cancel()
	if err := a.journal.Close(); err != nil {
		slog.Error("error closing journal", "error", err)
	}
}

// sync loads the authority's state into the local store.
func (a *app) sync(ctx context.Context) error {
	if err := a.engine.Resync(ctx, engine.ReasonManual); err != nil {
		return WrapExitError(ExitCommandError, "failed to load state from authority", err)
	}
	return nil
}

// withApp runs fn against a freshly synced client.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(opts, cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.sync(ctx); err != nil {
		return err
	}
	if err := fn(ctx, a); err != nil {
		return err
	}
	if err := a.engine.Settle(ctx); err != nil {
		return fmt.Errorf("settle: %w", err)
	}
	return nil
}
