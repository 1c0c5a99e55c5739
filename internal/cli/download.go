package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/fiscalsync/internal/store"
)

// DownloadOptions holds flags for the download command.
type DownloadOptions struct {
	*RootOptions
	Provider string
	Format   string
	Output   string
}

// NewDownloadCommand creates the download command.
func NewDownloadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DownloadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "download <provider-document-id>",
		Short: "Fetch a submitted document from the provider",
		Long: `Download a document the provider holds, as xml, pdf or zip.

Without --output the raw bytes are written to stdout.

Example:
  fiscalsync download 5001120362 --provider anaf --format pdf -o factura.pdf`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDownload(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Provider, "provider", "p", "", "provider name (default: the only enabled provider)")
	cmd.Flags().StringVar(&opts.Format, "as", "pdf", "document format (xml|pdf|zip)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (default stdout)")

	return cmd
}

func runDownload(opts *DownloadOptions, id string, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	name, err := a.providerName(opts.Provider)
	if err != nil {
		return err
	}

	data, format, err := a.engine.Download(cmd.Context(), name, id, opts.Format)
	if err != nil {
		return a.out.Fail(err)
	}

	w, err := fileOut(opts.Output, cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create output file", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return WrapExitError(ExitCommandError, "failed to write document", err)
	}
	if err := w.Close(); err != nil {
		return WrapExitError(ExitCommandError, "failed to write document", err)
	}

	if opts.Output != "" && opts.Output != "-" {
		a.out.VerboseLog("wrote %d bytes of %s to %s", len(data), format, opts.Output)
		fmt.Fprintf(a.out.GetErrWriter(), "Saved %s (%d bytes)\n", opts.Output, len(data))
	}
	return nil
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "stats",
		Short:         "Summarize the ledger",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.engine.Stats(cmd.Context())
			if err != nil {
				return a.out.Fail(err)
			}
			if a.out.Format == "json" {
				return a.out.Success(st)
			}
			w := a.out.Writer
			fmt.Fprintf(w, "Records:          %d\n", st.Total)
			for _, s := range []store.Status{
				store.StatusPending,
				store.StatusProcessing,
				store.StatusCompleted,
				store.StatusFailedRetryable,
				store.StatusFailedPermanent,
			} {
				fmt.Fprintf(w, "  %-16s %d\n", s, st.ByStatus[s])
			}
			fmt.Fprintf(w, "Pending retries:  %d\n", st.PendingRetries)
			fmt.Fprintf(w, "Average attempts: %.2f\n", st.AverageAttempts)
			fmt.Fprintf(w, "Success rate:     %.1f%%\n", st.SuccessRate*100)
			return nil
		},
	}
}
