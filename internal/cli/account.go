package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/listenupapp/listenup-sync/internal/errors"
	"github.com/listenupapp/listenup-sync/internal/libraries"
	"github.com/listenupapp/listenup-sync/internal/signin"
)

// SignInOptions holds flags for the signin command.
type SignInOptions struct {
	*RootOptions
	Barcode string
	PIN     string
}

// NewSignInCommand creates the signin command.
func NewSignInCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SignInOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "signin <library>",
		Short: "Sign in to a library account",
		Long: `Sign in to a library account.

Basic and token libraries take --barcode and --pin. OAuth and SAML libraries print
the sign-in address; open it in a browser and paste back the address the browser
was redirected to.

Example:
  listenup-sync signin springfield --barcode 1234 --pin 0000`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts.RootOptions, func(ctx context.Context, rt *runtime) error {
				return runSignIn(ctx, rt, opts, args[0])
			})
		},
	}

	cmd.Flags().StringVar(&opts.Barcode, "barcode", "", "library card barcode")
	cmd.Flags().StringVar(&opts.PIN, "pin", "", "library card PIN")

	return cmd
}

func runSignIn(ctx context.Context, rt *runtime, opts *SignInOptions, libraryID string) error {
	lib, err := rt.library(ctx, libraryID)
	if err != nil {
		return err
	}

	ctx, cancel := rt.timeout(ctx, rt.cfg.Sync.SignInTimeout)
	defer cancel()

	if err := lib.SignIn.SignIn(ctx, signin.Request{Barcode: opts.Barcode, PIN: opts.PIN}); err != nil {
		return signInError(err)
	}

	return rt.out.Emit(newAccountView(lib), func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "Signed in to %s.\n", displayName(lib))
		return err
	})
}

// signInError surfaces the localized failure title and message.
func signInError(err error) error {
	var failure *signin.Failure
	if errors.As(err, &failure) {
		msg := failure.Title
		if failure.Message != "" {
			msg += ": " + failure.Message
		}
		return &ExitError{Code: ExitFailure, Message: msg, Err: failure.Err}
	}
	return WrapExitError(ExitFailure, "sign-in failed", err)
}

// NewSignOutCommand creates the signout command.
func NewSignOutCommand(rootOpts *RootOptions) *cobra.Command {
	var local bool

	cmd := &cobra.Command{
		Use:   "signout <library>",
		Short: "Sign out and forget the stored credentials",
		Long: `Sign out and forget the stored credentials.

By default the session is revoked on the library and the device deactivated first.
With --local nothing is sent; use it when the library cannot be reached.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, rootOpts, func(ctx context.Context, rt *runtime) error {
				if local {
					if err := rt.libraries.Forget(ctx, args[0]); err != nil {
						if errors.CodeOf(err) == errors.CodeNotFound {
							return WrapExitError(ExitCommandError, err.Error(), nil)
						}
						return WrapExitError(ExitFailure, "sign-out failed", err)
					}
				}

				lib, err := rt.library(ctx, args[0])
				if err != nil {
					return err
				}
				if !local {
					if err := lib.SignIn.SignOut(ctx); err != nil {
						return WrapExitError(ExitFailure, "sign-out failed", err)
					}
				}
				return rt.out.Emit(newAccountView(lib), func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "Signed out of %s.\n", displayName(lib))
					return err
				})
			})
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "forget the credentials without contacting the library")
	return cmd
}

// NewRefreshCommand creates the refresh command.
func NewRefreshCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <library>",
		Short: "Re-authenticate a stale session with the stored barcode and PIN",
		Long: `Re-authenticate a session whose token expired.

Only basic and token libraries can refresh silently; OAuth and SAML sessions need a
new signin.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, rootOpts, func(ctx context.Context, rt *runtime) error {
				lib, err := rt.library(ctx, args[0])
				if err != nil {
					return err
				}
				ctx, cancel := rt.timeout(ctx, rt.cfg.Sync.SignInTimeout)
				defer cancel()
				if err := lib.SignIn.Refresh(ctx); err != nil {
					return signInError(err)
				}
				return rt.out.Emit(newAccountView(lib), func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "%s: %s\n", displayName(lib), lib.Account.AuthState())
					return err
				})
			})
		},
	}
}

// accountView is the printed state of one library account.
type accountView struct {
	ID             string `json:"id"`
	Name           string `json:"name,omitempty"`
	AuthMethod     string `json:"auth_method"`
	AuthState      string `json:"auth_state"`
	SyncAllowed    bool   `json:"sync_allowed"`
	AnnotationsURL string `json:"annotations_url,omitempty"`
	DRMActivated   bool   `json:"drm_activated"`
	// TokenExpires is unset for credentials without a known expiry.
	TokenExpires *time.Time `json:"token_expires,omitempty"`
}

func newAccountView(lib *libraries.Library) accountView {
	return accountView{
		ID:             lib.Config.ID,
		Name:           lib.Config.Name,
		AuthMethod:     string(lib.Config.AuthMethod),
		AuthState:      string(lib.Account.AuthState()),
		SyncAllowed:    lib.Account.SyncAllowed(),
		AnnotationsURL: lib.Engine.Endpoint(),
		DRMActivated:   lib.Account.DRMIdentity().Complete(),
		TokenExpires:   lib.Account.TokenExpiry(),
	}
}

func displayName(lib *libraries.Library) string {
	if lib.Config.Name != "" {
		return lib.Config.Name
	}
	return lib.Config.ID
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Show the sign-in state of every library account",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, rootOpts, runStatus)
		},
	}
}

func runStatus(ctx context.Context, rt *runtime) error {
	accounts := make([]accountView, 0, len(rt.libraries.IDs()))
	for _, libraryID := range rt.libraries.IDs() {
		lib, err := rt.library(ctx, libraryID)
		if err != nil {
			return err
		}
		accounts = append(accounts, newAccountView(lib))
	}

	pending, err := rt.db.CountPending(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to count outbox entries", err)
	}

	status := struct {
		Device   string        `json:"device"`
		Accounts []accountView `json:"accounts"`
		Outbox   int           `json:"outbox_pending"`
	}{Device: rt.cfg.Device.ID, Accounts: accounts, Outbox: pending}

	return rt.out.Emit(status, func(w io.Writer) error {
		fmt.Fprintf(w, "Device: %s\n", status.Device)
		if len(accounts) == 0 {
			fmt.Fprintln(w, "No library accounts configured.")
		}
		for _, a := range accounts {
			sync := "sync on"
			if !a.SyncAllowed {
				sync = "sync off"
			}
			if a.TokenExpires != nil {
				sync += "\ttoken expires " + a.TokenExpires.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, a.AuthMethod, a.AuthState, sync)
		}
		_, err := fmt.Fprintf(w, "Outbox: %d pending\n", status.Outbox)
		return err
	})
}
