package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/listenupapp/listenup-sync/internal/domain"
)

// NewPositionCommand creates the position command group.
func NewPositionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "position",
		Short: "Save and read the reading position of a book",
	}

	cmd.AddCommand(newPositionSaveCommand(rootOpts))
	cmd.AddCommand(newPositionGetCommand(rootOpts))

	return cmd
}

func newPositionSaveCommand(rootOpts *RootOptions) *cobra.Command {
	var loc locatorFlags

	cmd := &cobra.Command{
		Use:   "save <library> <book>",
		Short: "Save the reading position and upload it",
		Long: `Save the reading position locally and upload it to the library.

The upload waits for the debounce delay and is sent before the command exits. When
the library cannot be reached the position is queued and sent by "outbox replay"
or the daemon.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := loc.bookmark(cmd, args[1])
			if err != nil {
				return err
			}
			return withRuntime(cmd, rootOpts, func(ctx context.Context, rt *runtime) error {
				lib, err := rt.library(ctx, args[0])
				if err != nil {
					return err
				}
				if err := lib.Engine.SaveReadingPosition(ctx, b); err != nil {
					return WrapExitError(ExitFailure, "failed to save reading position", err)
				}
				lib.Engine.Flush()

				return rt.out.Emit(newBookmarkView(b), func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "Saved reading position of %s.\n", b.BookID)
					return err
				})
			})
		},
	}
	loc.register(cmd)

	return cmd
}

// PositionGetOptions holds flags for the position get command.
type PositionGetOptions struct {
	*RootOptions
	Remote bool
}

func newPositionGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PositionGetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "get <library> <book>",
		Short:         "Show the last saved reading position",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, rootOpts, func(ctx context.Context, rt *runtime) error {
				lib, err := rt.library(ctx, args[0])
				if err != nil {
					return err
				}

				var b *domain.Bookmark
				if opts.Remote {
					b, err = lib.Engine.FetchReadingPosition(ctx, args[1])
				} else {
					b, err = lib.Engine.ReadingPosition(ctx, args[1])
				}
				if err != nil {
					return WrapExitError(ExitFailure, "failed to read reading position", err)
				}
				if b == nil {
					return rt.out.Emit(nil, func(w io.Writer) error {
						_, err := fmt.Fprintln(w, "No reading position.")
						return err
					})
				}
				return rt.out.Emit(newBookmarkView(b), func(w io.Writer) error { return writeBookmark(w, b) })
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Remote, "remote", false, "fetch the newest position from the server")

	return cmd
}

// NewReturnCommand creates the return command.
func NewReturnCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "return <library> <book>",
		Short:         "Forget the bookmarks and position of a returned loan",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, rootOpts, func(ctx context.Context, rt *runtime) error {
				lib, err := rt.library(ctx, args[0])
				if err != nil {
					return err
				}
				if err := lib.Engine.ReturnBook(ctx, args[1]); err != nil {
					return WrapExitError(ExitFailure, "failed to return book", err)
				}
				return rt.out.Emit(map[string]string{"book_id": args[1]}, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "Returned %s.\n", args[1])
					return err
				})
			})
		},
	}
}
