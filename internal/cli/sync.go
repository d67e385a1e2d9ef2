package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/djsync/internal/connectivity"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Refresh bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Send queued changes now",
		Long: `Probe connectivity and, if the server is reachable, send every queued
change in order. Changes the server rejects move to the failed list.

Example:
  djsync sync
  djsync sync --refresh`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Refresh, "refresh", false, "also pull journals and entries from the server")

	return cmd
}

func runSync(cmd *cobra.Command, opts *SyncOptions) error {
	a, err := openApp(cmd, opts.RootOptions, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if a.monitor.Check(ctx) != connectivity.Online {
		return NewExitError(ExitFailure, "offline: changes stay queued")
	}
	if err := a.engine.DrainOnce(ctx); err != nil {
		return WrapExitError(ExitFailure, "sync failed", err)
	}
	out := a.formatter(cmd, opts.RootOptions)
	if opts.Refresh {
		res, err := a.journal.Refresh(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "refresh failed", err)
		}
		out.VerboseLog("refreshed: %d journals, %d entries, %d kept, %d removed",
			res.Journals, res.Entries, res.Kept, res.Removed)
	}

	report, err := a.status(cmd)
	if err != nil {
		return err
	}
	if err := out.Success(report); err != nil {
		return err
	}
	if report.Pending > 0 {
		return NewExitError(ExitFailure, "some changes are still queued")
	}
	return nil
}
