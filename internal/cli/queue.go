package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/fiscalsync/internal/retry"
)

// NewQueueCommand creates the queue command and its subcommands.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the retry queue",
	}

	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueueRemoveCommand(rootOpts))
	cmd.AddCommand(newQueueSweepCommand(rootOpts))

	return cmd
}

func newQueueListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List scheduled retries, soonest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			tasks, err := a.engine.ListRetryQueue(cmd.Context())
			if err != nil {
				return a.out.Fail(err)
			}
			if a.out.Format == "json" {
				return a.out.Success(tasks)
			}
			if len(tasks) == 0 {
				fmt.Fprintln(a.out.Writer, "Retry queue is empty.")
				return nil
			}
			for _, t := range tasks {
				fmt.Fprintf(a.out.Writer, "%s  %-10s %-24s %d/%d  %s\n",
					formatTime(t.NextEligibleAt), t.Provider, t.SourceID, t.AttemptCount, t.MaxAttempts, t.ID)
				if t.LastError != "" {
					fmt.Fprintf(a.out.Writer, "    %s\n", t.LastError)
				}
			}
			return nil
		},
	}
}

func newQueueRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <task-id>",
		Short: "Drop a scheduled retry",
		Long: `Remove a task from the retry queue. Its record becomes failed_permanent
and can still be re-submitted with "fiscalsync retry".`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.out.Result(a.engine.RemoveRetryTask(cmd.Context(), args[0]))
		},
	}
}

func newQueueSweepCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one scheduler sweep now",
		Long: `Re-submit every retry that is due and poll uploads awaiting a provider
verdict, once, then exit. Useful from cron when serve is not running.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			sched := retry.NewScheduler(a.store, a.engine,
				retry.WithBatchSize(a.cfg.Retry.BatchSize),
				retry.WithLogger(a.logger),
			)
			report, err := sched.Sweep(cmd.Context())
			if err != nil {
				return a.out.Fail(err)
			}
			if a.out.Format == "json" {
				return a.out.Success(report)
			}
			fmt.Fprintf(a.out.Writer, "Due: %d (retried %d, failed %d)\n", report.Due, report.Retried, report.Failed)
			fmt.Fprintf(a.out.Writer, "Awaiting verdict: %d (checked %d)\n", report.Awaiting, report.Checked)
			return nil
		},
	}
}
