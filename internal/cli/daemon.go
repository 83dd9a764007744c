package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/listenupapp/listenup-sync/internal/di"
)

// NewDaemonCommand creates the daemon command.
func NewDaemonCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Replay the outbox periodically and serve metrics",
		Long: `Run in the foreground until interrupted.

The daemon replays queued uploads every OUTBOX_REPLAY_INTERVAL and serves Prometheus
metrics on --metrics-addr when set. Pending reading positions are uploaded on
SIGINT or SIGTERM before it exits.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, rootOpts, runDaemon)
		},
	}
}

func runDaemon(ctx context.Context, rt *runtime) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := di.StartDaemon(rt.injector); err != nil {
		return WrapExitError(ExitFailure, "failed to start daemon", err)
	}

	// Load every account so shutdown flushes all of them.
	for _, libraryID := range rt.libraries.IDs() {
		if _, err := rt.libraries.Get(ctx, libraryID); err != nil {
			rt.log.Warn("Library unavailable", "library_id", libraryID, "error", err)
		}
	}

	rt.log.Info("Daemon running", "libraries", len(rt.libraries.IDs()), "metrics_addr", rt.cfg.Metrics.Addr)
	if rt.out.Format == FormatText {
		fmt.Fprintln(rt.out.Writer, "listenup-sync daemon running, press Ctrl+C to stop.")
	}

	<-ctx.Done()

	rt.log.Info("Shutting down daemon gracefully...")
	rt.libraries.Flush()
	return nil
}
