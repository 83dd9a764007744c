// Package cli implements the listenup-sync command line.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/listenupapp/listenup-sync/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string // "json" | "text"

	Env          string
	EnvFile      string
	LogLevel     string
	DataPath     string
	DeviceID     string
	AccountsPath string
	MetricsAddr  string
	Language     string
	DRM          string
	Debounce     string
}

// Overrides maps the global flags onto config overrides. Unset flags fall through to the
// environment.
func (o *RootOptions) Overrides() config.Overrides {
	return config.Overrides{
		Env:           o.Env,
		EnvFile:       o.EnvFile,
		LogLevel:      o.LogLevel,
		DataPath:      o.DataPath,
		DeviceID:      o.DeviceID,
		AccountsPath:  o.AccountsPath,
		MetricsAddr:   o.MetricsAddr,
		Language:      o.Language,
		DRMEnabled:    o.DRM,
		DebounceDelay: o.Debounce,
	}
}

// NewRootCommand creates the root command of listenup-sync.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "listenup-sync",
		Short: "Library bookmark and reading-position sync",
		Long: `listenup-sync signs in to library accounts and keeps bookmarks and reading
positions in step with each library's annotation server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return WrapExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats), nil)
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.Format, "format", FormatText, "output format (json|text)")
	flags.StringVar(&opts.Env, "env", "", "environment (development|staging|production)")
	flags.StringVar(&opts.EnvFile, "env-file", "", "path to a .env file (default .env)")
	flags.StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	flags.StringVar(&opts.DataPath, "data", "", "data directory (default ~/.listenup-sync)")
	flags.StringVar(&opts.DeviceID, "device-id", "", "device identifier written into annotations")
	flags.StringVar(&opts.AccountsPath, "accounts", "", "accounts file (default {data}/accounts.yaml)")
	flags.StringVar(&opts.MetricsAddr, "metrics-addr", "", "daemon /metrics listen address")
	flags.StringVar(&opts.Language, "language", "", "language of user-facing messages")
	flags.StringVar(&opts.DRM, "drm", "", "enable device activation (true|false)")
	flags.StringVar(&opts.Debounce, "debounce", "", "reading position upload delay, e.g. 2s")

	cmd.AddCommand(NewSignInCommand(opts))
	cmd.AddCommand(NewSignOutCommand(opts))
	cmd.AddCommand(NewRefreshCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewBookmarksCommand(opts))
	cmd.AddCommand(NewPositionCommand(opts))
	cmd.AddCommand(NewReturnCommand(opts))
	cmd.AddCommand(NewOutboxCommand(opts))
	cmd.AddCommand(NewDaemonCommand(opts))

	return cmd
}
