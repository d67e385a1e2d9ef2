package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/djsync/internal/connectivity"
	"github.com/roach88/djsync/internal/journal"
	"github.com/roach88/djsync/internal/remote"
)

// LoginOptions holds flags for the login command.
type LoginOptions struct {
	*RootOptions
	Email         string
	PasswordStdin bool
	Register      string // username; non-empty creates the account first
}

// NewLoginCommand creates the login command.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoginOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and resume syncing",
		Long: `Log in to the journal server. The token is stored in the local database
and queued changes paused by an authentication failure are sent again.

The password is read from the first line of stdin.

Example:
  echo "$PASSWORD" | djsync login --email me@example.com --password-stdin
  echo "$PASSWORD" | djsync login --email me@example.com --password-stdin --register me`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Email, "email", "", "account email (required)")
	cmd.Flags().BoolVar(&opts.PasswordStdin, "password-stdin", false, "read the password from stdin (required)")
	cmd.Flags().StringVar(&opts.Register, "register", "", "create an account with this username first")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password-stdin")

	return cmd
}

// LoginResult is printed after a successful login.
type LoginResult struct {
	Email   string `json:"email"`
	Pending int    `json:"pending"`
}

func (r LoginResult) String() string {
	return fmt.Sprintf("logged in as %s (%d changes queued)", r.Email, r.Pending)
}

func runLogin(cmd *cobra.Command, opts *LoginOptions) error {
	password, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	password = strings.TrimRight(password, "\r\n")
	if password == "" {
		return WrapExitError(ExitCommandError, "no password on stdin", err)
	}

	a, err := openApp(cmd, opts.RootOptions, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	a.monitor.Check(ctx)
	if a.monitor.Status() != connectivity.Online {
		return NewExitError(ExitFailure, "offline: cannot log in")
	}

	if opts.Register != "" {
		_, err = a.journal.Register(ctx, remote.Registration{
			Username: opts.Register,
			Email:    opts.Email,
			Password: password,
		})
	} else {
		_, err = a.journal.Login(ctx, remote.Credentials{Email: opts.Email, Password: password})
	}
	switch {
	case err == nil:
	case remote.IsAuth(err):
		return WrapExitError(ExitFailure, "invalid credentials", err)
	case errors.Is(err, journal.ErrOffline), remote.IsNetwork(err):
		return WrapExitError(ExitFailure, "server unreachable", err)
	default:
		return WrapExitError(ExitFailure, "login failed", err)
	}

	pending, err := a.engine.PendingCount(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count pending changes", err)
	}
	return a.formatter(cmd, opts.RootOptions).Success(LoginResult{Email: opts.Email, Pending: pending})
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "logout",
		Short:         "Forget the stored token; queued changes are kept",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, rootOpts, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.journal.Logout(cmd.Context()); err != nil {
				return WrapExitError(ExitCommandError, "logout failed", err)
			}
			return a.formatter(cmd, rootOpts).Success("logged out")
		},
	}
}
