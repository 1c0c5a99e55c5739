package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/fiscalsync/internal/engine"
	"github.com/roach88/fiscalsync/internal/store"
)

// RecordOptions holds flags shared by the commands addressing one record.
type RecordOptions struct {
	*RootOptions
	Provider string
}

// recordCommand builds a command taking <source-id> and --provider that
// runs op against the record and prints the result.
func recordCommand(rootOpts *RootOptions, use, short, long string, op func(a *app, ctx context.Context, sourceID, provider string) error) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           use + " <source-id>",
		Short:         short,
		Long:          long,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts.RootOptions, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			name, err := a.providerName(opts.Provider)
			if err != nil {
				return err
			}
			return op(a, cmd.Context(), args[0], name)
		},
	}

	cmd.Flags().StringVarP(&opts.Provider, "provider", "p", "", "provider name (default: the only enabled provider)")

	return cmd
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return recordCommand(rootOpts, "status", "Show the ledger state of an event",
		`Show the status, attempt count and next retry time of one record.`,
		func(a *app, ctx context.Context, sourceID, provider string) error {
			return a.out.Result(a.engine.Status(ctx, sourceID, provider))
		})
}

// NewRetryCommand creates the retry command.
func NewRetryCommand(rootOpts *RootOptions) *cobra.Command {
	return recordCommand(rootOpts, "retry", "Re-submit a failed event now",
		`Re-submit a failed record immediately, bypassing the retry schedule.

A failed_permanent record starts over with a fresh attempt budget. The
original source type and customer tax id are reused.`,
		func(a *app, ctx context.Context, sourceID, provider string) error {
			return a.out.Result(a.engine.Retry(ctx, sourceID, provider))
		})
}

// NewCancelCommand creates the cancel command.
func NewCancelCommand(rootOpts *RootOptions) *cobra.Command {
	return recordCommand(rootOpts, "cancel", "Stop retrying an event",
		`Drop the scheduled retry of a record and mark it failed_permanent.`,
		func(a *app, ctx context.Context, sourceID, provider string) error {
			return a.out.Result(a.engine.Cancel(ctx, sourceID, provider))
		})
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return recordCommand(rootOpts, "check", "Ask the provider for a submission's verdict",
		`Query the provider for the status of a submitted document and settle the
record if the provider has accepted or rejected it.`,
		func(a *app, ctx context.Context, sourceID, provider string) error {
			return a.out.Result(a.engine.CheckProviderStatus(ctx, sourceID, provider))
		})
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	return recordCommand(rootOpts, "history", "Show the audit trail of an event",
		`Show a record with its pending retry, every audit event and every
generated document.`,
		func(a *app, ctx context.Context, sourceID, provider string) error {
			h, err := a.engine.History(ctx, sourceID, provider)
			if err != nil {
				return a.out.Fail(err)
			}
			if a.out.Format == "json" {
				return a.out.Success(h)
			}
			writeHistory(a.out.Writer, h)
			return nil
		})
}

func writeHistory(w io.Writer, h *engine.History) {
	r := h.Record
	fmt.Fprintf(w, "Record %s\n", r.ID)
	fmt.Fprintf(w, "  Source:   %s %s\n", r.SourceType, r.SourceID)
	fmt.Fprintf(w, "  Provider: %s\n", r.Provider)
	fmt.Fprintf(w, "  Status:   %s (attempts: %d)\n", r.Status, r.AttemptCount)
	if r.ProviderDocumentID != "" {
		fmt.Fprintf(w, "  Upload:   %s\n", r.ProviderDocumentID)
	}
	if r.LastError != "" {
		fmt.Fprintf(w, "  Error:    %s\n", r.LastError)
	}
	if h.RetryTask != nil {
		fmt.Fprintf(w, "  Retry at: %s (%d/%d)\n", formatTime(h.RetryTask.NextEligibleAt), h.RetryTask.AttemptCount, h.RetryTask.MaxAttempts)
	}

	fmt.Fprintf(w, "\nEvents:\n")
	for _, ev := range h.Events {
		fmt.Fprintf(w, "  [%d] %s %s %s", ev.Seq, formatTime(ev.OccurredAt), ev.Action, ev.Result)
		if ev.Detail != "" {
			fmt.Fprintf(w, ": %s", ev.Detail)
		}
		fmt.Fprintln(w)
	}

	if len(h.Documents) > 0 {
		fmt.Fprintf(w, "\nDocuments:\n")
		for _, d := range h.Documents {
			fmt.Fprintf(w, "  %s %s %d bytes sha256:%s\n", formatTime(d.CreatedAt), d.Number, d.Size, d.Checksum)
		}
	}
}

// RecordsOptions holds flags for the records command.
type RecordsOptions struct {
	*RootOptions
	Provider string
	Status   string
	Limit    int
}

// NewRecordsCommand creates the records command.
func NewRecordsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "records",
		Short:         "List ledger records",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := store.RecordFilter{Provider: opts.Provider, Limit: opts.Limit}
			if opts.Status != "" {
				st, err := store.ParseStatus(opts.Status)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid --status", err)
				}
				f.Status = st
			}

			a, err := openApp(opts.RootOptions, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			recs, err := a.engine.ListRecords(cmd.Context(), f)
			if err != nil {
				return a.out.Fail(err)
			}
			if a.out.Format == "json" {
				return a.out.Success(recs)
			}
			if len(recs) == 0 {
				fmt.Fprintln(a.out.Writer, "No records.")
				return nil
			}
			for _, r := range recs {
				fmt.Fprintf(a.out.Writer, "%s  %-10s %-24s %-17s attempts=%d\n",
					formatTime(r.UpdatedAt), r.Provider, r.SourceID, r.Status, r.AttemptCount)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Provider, "provider", "p", "", "only records of this provider")
	cmd.Flags().StringVar(&opts.Status, "status", "", "only records in this status")
	cmd.Flags().IntVar(&opts.Limit, "limit", 100, "maximum number of records")

	return cmd
}
