package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/listenupapp/listenup-sync/internal/errors"
	"github.com/listenupapp/listenup-sync/internal/store"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <library> <book>",
		Short: "Reconcile the bookmarks of a book with the library",
		Long: `Reconcile the bookmarks of a book with the library's annotation server.

Pending local bookmarks are uploaded, bookmarks deleted on another device are dropped
and bookmarks created elsewhere are added. Signed-out accounts and accounts with sync
turned off print the local set unchanged.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, rootOpts, func(ctx context.Context, rt *runtime) error {
				lib, err := rt.library(ctx, args[0])
				if err != nil {
					return err
				}

				set, syncErr := lib.Engine.Sync(ctx, args[1])
				if set != nil || syncErr == nil {
					if err := rt.out.Emit(views(set), func(w io.Writer) error { return writeBookmarks(w, set) }); err != nil {
						return err
					}
				}
				if syncErr != nil {
					return WrapExitError(ExitFailure, "sync failed", syncErr)
				}
				return nil
			})
		},
	}
}

// NewBookmarksCommand creates the bookmarks command group.
func NewBookmarksCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bookmarks",
		Short: "List, add and delete bookmarks",
	}

	cmd.AddCommand(newBookmarksListCommand(rootOpts))
	cmd.AddCommand(newBookmarksAddCommand(rootOpts))
	cmd.AddCommand(newBookmarksDeleteCommand(rootOpts))

	return cmd
}

func newBookmarksListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list <library> <book>",
		Short:         "List the bookmarks stored on this device",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, rootOpts, func(ctx context.Context, rt *runtime) error {
				lib, err := rt.library(ctx, args[0])
				if err != nil {
					return err
				}
				set, err := lib.Engine.Bookmarks(ctx, args[1])
				if err != nil {
					return WrapExitError(ExitFailure, "failed to list bookmarks", err)
				}
				return rt.out.Emit(views(set), func(w io.Writer) error { return writeBookmarks(w, set) })
			})
		},
	}
}

func newBookmarksAddCommand(rootOpts *RootOptions) *cobra.Command {
	var loc locatorFlags

	cmd := &cobra.Command{
		Use:   "add <library> <book>",
		Short: "Add a bookmark and upload it when online",
		Long: `Add a bookmark and upload it when online.

Example:
  listenup-sync bookmarks add springfield urn:isbn:9780000000001 --track track-3.mp3 --offset-ms 120000`,
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
				saved, err := lib.Engine.AddBookmark(ctx, b)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to add bookmark", err)
				}
				return rt.out.Emit(newBookmarkView(saved), func(w io.Writer) error { return writeBookmark(w, saved) })
			})
		},
	}
	loc.register(cmd)

	return cmd
}

func newBookmarksDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <library> <bookmark-id>",
		Short:         "Delete a bookmark here and on the server",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, rootOpts, func(ctx context.Context, rt *runtime) error {
				lib, err := rt.library(ctx, args[0])
				if err != nil {
					return err
				}
				b, err := lib.Local.GetBookmark(ctx, args[1])
				if errors.Is(err, store.ErrNotFound) {
					return WrapExitError(ExitCommandError, fmt.Sprintf("no bookmark %q", args[1]), nil)
				}
				if err != nil {
					return WrapExitError(ExitFailure, "failed to load bookmark", err)
				}
				if err := lib.Engine.Delete(ctx, b); err != nil {
					return WrapExitError(ExitFailure, "failed to delete bookmark", err)
				}
				return rt.out.Emit(newBookmarkView(b), func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "Deleted %s.\n", b.LocalID)
					return err
				})
			})
		},
	}
}
