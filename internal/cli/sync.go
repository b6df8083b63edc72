package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/theatresync/internal/push"
	"github.com/roach88/theatresync/internal/state"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Keep the local store in step with the authority",
		Long: `Connect to the authority's push channel and apply every change it sends
to the local store, journaling each envelope. Every (re)connect triggers a
full resync. Runs until interrupted.

If metrics.listen is set, Prometheus metrics are served at /metrics.

Example:
  theatresync sync
  theatresync sync --config ./theatresync.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, cmd)
		},
	}
	return cmd
}

func runSync(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts, cmd)
	if err != nil {
		return err
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	unsubscribe := a.state.Subscribe(func(c state.Change) {
		slog.Debug("store changed", "origin", c.Origin, "keys", len(c.Keys))
	})
	defer unsubscribe()

	if cfg.Metrics.Listen != "" {
		stopMetrics, err := serveMetrics(cfg.Metrics.Listen, a)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to serve metrics", err)
		}
		defer stopMetrics()
	}

	client := push.New(cfg.Push.URL, cfg.TokenSource(), a.engine,
		push.WithMetrics(a.metrics),
		push.WithBackOff(push.ExponentialBackOff(cfg.Push.BackoffInitial, cfg.Push.BackoffMax)),
	)

	slog.Info("sync starting", "authority", cfg.Authority.URL, "push", cfg.Push.URL, "journal", cfg.Journal.Path)
	fmt.Fprintln(cmd.OutOrStdout(), "Sync started. Listening for changes...")
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := client.Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "push channel failed", err)
	}

	slog.Info("sync stopped gracefully")
	return nil
}

// serveMetrics exposes the app's registry on addr until the returned stop
// is called.
func serveMetrics(addr string, a *app) (stop func(), err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	slog.Info("serving metrics", "addr", ln.Addr().String())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
