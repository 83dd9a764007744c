package cli

import (
	"context"
	"time"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/listenupapp/listenup-sync/internal/config"
	"github.com/listenupapp/listenup-sync/internal/di"
	"github.com/listenupapp/listenup-sync/internal/di/providers"
	"github.com/listenupapp/listenup-sync/internal/errors"
	"github.com/listenupapp/listenup-sync/internal/libraries"
	"github.com/listenupapp/listenup-sync/internal/logger"
	"github.com/listenupapp/listenup-sync/internal/signin"
)

// runtime is the wired client behind one command invocation.
type runtime struct {
	injector  *do.RootScope
	cfg       *config.Config
	log       *logger.Logger
	libraries *providers.LibrariesHandle
	db        *providers.BookmarkDBHandle
	out       *OutputFormatter
}

// openRuntime builds and bootstraps the client container. The prompt agent reads the
// pasted redirect address from the command's stdin.
func openRuntime(cmd *cobra.Command, opts *RootOptions) (*runtime, error) {
	agent := &signin.PromptAgent{Out: cmd.ErrOrStderr(), In: cmd.InOrStdin()}
	injector := di.NewClientContainer(opts.Overrides(), agent)

	if err := di.BootstrapClient(injector); err != nil {
		_ = injector.Shutdown()
		return nil, WrapExitError(ExitCommandError, "failed to start", err)
	}

	return &runtime{
		injector:  injector,
		cfg:       do.MustInvoke[*config.Config](injector),
		log:       do.MustInvoke[*logger.Logger](injector),
		libraries: do.MustInvoke[*providers.LibrariesHandle](injector),
		db:        do.MustInvoke[*providers.BookmarkDBHandle](injector),
		out:       &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()},
	}, nil
}

// Close uploads pending positions and releases every service.
func (r *runtime) Close() {
	if err := r.injector.Shutdown(); err != nil {
		r.log.Error("Shutdown error", "error", err)
	}
}

func (r *runtime) library(ctx context.Context, libraryID string) (*libraries.Library, error) {
	lib, err := r.libraries.Get(ctx, libraryID)
	if err != nil {
		if errors.CodeOf(err) == errors.CodeNotFound {
			return nil, WrapExitError(ExitCommandError, "unknown library", err)
		}
		return nil, WrapExitError(ExitFailure, "failed to open library", err)
	}
	return lib, nil
}

func (r *runtime) timeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// withRuntime runs fn against a freshly opened runtime and closes it afterwards.
func withRuntime(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, rt *runtime) error) error {
	rt, err := openRuntime(cmd, opts)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(cmd.Context(), rt)
}
