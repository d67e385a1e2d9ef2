package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/djsync/internal/model"
	"github.com/roach88/djsync/internal/store"
)

// MutationView is one queued or failed change as printed by the CLI.
type MutationView struct {
	Seq        int64     `json:"seq"`
	Op         model.Op  `json:"op"`
	Kind       string    `json:"kind"`
	ID         model.ID  `json:"id"`
	JournalID  model.ID  `json:"journal_id,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Reason     string    `json:"reason,omitempty"`
	Message    string    `json:"message,omitempty"`
}

func viewMutation(m model.Mutation) MutationView {
	return MutationView{
		Seq:        m.Seq,
		Op:         m.Op(),
		Kind:       string(m.Kind()),
		ID:         m.AffectedID(),
		JournalID:  m.ParentID(),
		EnqueuedAt: m.EnqueuedAt,
	}
}

func viewFailed(f store.FailedMutation) MutationView {
	v := viewMutation(f.Mutation)
	v.Reason = f.Reason
	v.Message = f.Message
	return v
}

// MutationList renders as one line per change in text mode.
type MutationList []MutationView

func (l MutationList) String() string {
	if len(l) == 0 {
		return "nothing queued"
	}
	var b strings.Builder
	for i, v := range l {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "#%-4d %-6s %-7s %s", v.Seq, v.Op, v.Kind, v.ID)
		if v.JournalID != "" {
			fmt.Fprintf(&b, " (journal %s)", v.JournalID)
		}
		if v.Reason != "" {
			fmt.Fprintf(&b, "  %s: %s", v.Reason, v.Message)
		}
	}
	return b.String()
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "pending",
		Short:         "List queued changes in replay order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, rootOpts, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			ms, err := a.store.ListAll(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read queue", err)
			}
			list := make(MutationList, 0, len(ms))
			for _, m := range ms {
				list = append(list, viewMutation(m))
			}
			return a.formatter(cmd, rootOpts).Success(list)
		},
	}
}

// NewFailedCommand creates the failed command and its retry and discard
// subcommands.
func NewFailedCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "failed",
		Short: "List changes the server rejected",
		Long: `List changes the server rejected. They are kept until retried or
discarded; changes that depended on a rejected create are listed with
reason DEPENDENCY_FAILED.

Example:
  djsync failed
  djsync failed retry 12
  djsync failed discard 12`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, rootOpts, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			fs, err := a.engine.Failed(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read failed list", err)
			}
			list := make(MutationList, 0, len(fs))
			for _, f := range fs {
				list = append(list, viewFailed(f))
			}
			return a.formatter(cmd, rootOpts).Success(list)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "retry <seq>",
		Short:         "Queue a rejected change and its dependents again",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := parseSeq(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd, rootOpts, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			ms, err := a.engine.RetryFailed(cmd.Context(), seq)
			if err != nil {
				return failedListError("retry", seq, err)
			}
			list := make(MutationList, 0, len(ms))
			for _, m := range ms {
				list = append(list, viewMutation(m))
			}
			return a.formatter(cmd, rootOpts).Success(list)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "discard <seq>",
		Short:         "Drop a rejected change and its dependents",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := parseSeq(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd, rootOpts, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			fs, err := a.engine.DiscardFailed(cmd.Context(), seq)
			if err != nil {
				return failedListError("discard", seq, err)
			}
			list := make(MutationList, 0, len(fs))
			for _, f := range fs {
				list = append(list, viewFailed(f))
			}
			return a.formatter(cmd, rootOpts).Success(list)
		},
	})

	return cmd
}

func parseSeq(arg string) (int64, error) {
	seq, err := strconv.ParseInt(strings.TrimPrefix(arg, "#"), 10, 64)
	if err != nil || seq <= 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid seq %q", arg))
	}
	return seq, nil
}

func failedListError(action string, seq int64, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return WrapExitError(ExitCommandError, fmt.Sprintf("no failed change #%d", seq), err)
	}
	return WrapExitError(ExitCommandError, fmt.Sprintf("failed to %s #%d", action, seq), err)
}
