package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/listenupapp/listenup-sync/internal/annotations"
)

// NewOutboxCommand creates the outbox command group.
func NewOutboxCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and replay uploads queued while offline",
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "replay",
		Short:         "Send every queued upload whose library is signed in",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, rootOpts, runOutboxReplay)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "status",
		Short:         "Count the queued uploads",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, rootOpts, func(ctx context.Context, rt *runtime) error {
				pending, err := rt.db.CountPending(ctx)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to count outbox entries", err)
				}
				return rt.out.Emit(map[string]int{"pending": pending}, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "%d pending\n", pending)
					return err
				})
			})
		},
	})

	return cmd
}

// replayView is the printed form of a replay report.
type replayView struct {
	Sent     int `json:"sent"`
	Dropped  int `json:"dropped"`
	Retained int `json:"retained"`
}

func runOutboxReplay(ctx context.Context, rt *runtime) error {
	replayer := do.MustInvoke[*annotations.Replayer](rt.injector)

	report, err := replayer.Replay(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "outbox replay failed", err)
	}

	view := replayView{Sent: report.Sent, Dropped: report.Dropped, Retained: report.Retained}
	return rt.out.Emit(view, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "Sent %d, dropped %d, retained %d.\n", view.Sent, view.Dropped, view.Retained)
		return err
	})
}
