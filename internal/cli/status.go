package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// StatusReport is what status and sync print.
type StatusReport struct {
	Connectivity string     `json:"connectivity"`
	State        string     `json:"state"`
	Pending      int        `json:"pending"`
	Failed       int        `json:"failed"`
	LastSync     *time.Time `json:"last_sync,omitempty"`
	LoggedIn     bool       `json:"logged_in"`
}

func (r StatusReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "connectivity: %s\n", r.Connectivity)
	fmt.Fprintf(&b, "sync state:   %s\n", r.State)
	fmt.Fprintf(&b, "pending:      %d\n", r.Pending)
	fmt.Fprintf(&b, "failed:       %d\n", r.Failed)
	if r.LastSync != nil {
		fmt.Fprintf(&b, "last sync:    %s\n", r.LastSync.Local().Format(time.RFC3339))
	} else {
		b.WriteString("last sync:    never\n")
	}
	fmt.Fprintf(&b, "logged in:    %t", r.LoggedIn)
	return b.String()
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, sync state and queue sizes",
		Long: `Probe connectivity and report the sync engine's view of the local
database: queued changes, rejected changes and the last refresh.

Example:
  djsync status
  djsync status --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, rootOpts, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			a.monitor.Check(cmd.Context())
			report, err := a.status(cmd)
			if err != nil {
				return err
			}
			return a.formatter(cmd, rootOpts).Success(report)
		},
	}
}

func (a *app) status(cmd *cobra.Command) (StatusReport, error) {
	ctx := cmd.Context()
	pending, err := a.engine.PendingCount(ctx)
	if err != nil {
		return StatusReport{}, WrapExitError(ExitCommandError, "failed to count pending changes", err)
	}
	failed, err := a.store.FailedCount(ctx)
	if err != nil {
		return StatusReport{}, WrapExitError(ExitCommandError, "failed to count failed changes", err)
	}
	report := StatusReport{
		Connectivity: a.monitor.Status().String(),
		State:        a.engine.State().String(),
		Pending:      pending,
		Failed:       failed,
		LoggedIn:     a.client.Token() != "",
	}
	last, ok, err := a.store.LastSyncTime(ctx)
	if err != nil {
		return StatusReport{}, WrapExitError(ExitCommandError, "failed to read last sync time", err)
	}
	if ok {
		report.LastSync = &last
	}
	return report, nil
}
