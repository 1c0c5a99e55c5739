package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/fiscalsync/internal/canonical"
	"github.com/roach88/fiscalsync/internal/engine"
)

// ProcessOptions holds flags for the process command.
type ProcessOptions struct {
	*RootOptions
	Provider      string
	SourceType    string
	CustomerTaxID string
	InvoiceNumber string
	Manual        bool
}

// NewProcessCommand creates the process command.
func NewProcessCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProcessOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "process <source-id>",
		Short: "Sync one billing event to a provider",
		Long: `Fetch a billing event, generate its fiscal document and submit it.

Re-running process for a completed event is a no-op. A record waiting for a
scheduled retry is left alone unless --manual is given.

Example:
  fiscalsync process in_1Nx2 --provider anaf --customer-tax-id RO18547290
  fiscalsync process ch_3Pq --source-type platform_charge --customer-tax-id -`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Provider, "provider", "p", "", "provider name (default: the only enabled provider)")
	cmd.Flags().StringVar(&opts.SourceType, "source-type", string(canonical.SourcePlatformInvoice), "platform_invoice or platform_charge")
	cmd.Flags().StringVar(&opts.CustomerTaxID, "customer-tax-id", "", `customer fiscal code, or "-" for an individual (required)`)
	cmd.Flags().StringVar(&opts.InvoiceNumber, "invoice-number", "", "override the document number")
	cmd.Flags().BoolVar(&opts.Manual, "manual", false, "re-submit a failed record now")
	_ = cmd.MarkFlagRequired("customer-tax-id")

	return cmd
}

func runProcess(opts *ProcessOptions, sourceID string, cmd *cobra.Command) error {
	st, err := canonical.ParseSourceType(opts.SourceType)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --source-type", err)
	}

	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	name, err := a.providerName(opts.Provider)
	if err != nil {
		return err
	}

	req := engine.Request{
		SourceType:    st,
		SourceID:      sourceID,
		Provider:      name,
		CustomerTaxID: opts.CustomerTaxID,
		InvoiceNumber: opts.InvoiceNumber,
	}
	a.out.VerboseLog("processing %s %s for %s", st, sourceID, name)

	var res *engine.Result
	if opts.Manual {
		res = a.engine.ManualRetry(cmd.Context(), req)
	} else {
		res = a.engine.Process(cmd.Context(), req)
	}
	if err := a.out.Result(res); err != nil {
		return err
	}
	if res.Deferred() {
		msg := "waiting for a scheduled retry"
		if res.NextRetryAt != nil {
			msg += " at " + formatTime(*res.NextRetryAt)
		}
		return NewExitError(ExitFailure, msg)
	}
	return nil
}

// BatchOptions holds flags for the batch command.
type BatchOptions struct {
	*RootOptions
	Provider string
}

// batchFile is the on-disk batch format. YAML and JSON are both accepted.
type batchFile struct {
	Provider string          `yaml:"provider"`
	Items    []batchFileItem `yaml:"items"`
}

type batchFileItem struct {
	SourceType    string `yaml:"source_type"`
	SourceID      string `yaml:"source_id"`
	CustomerTaxID string `yaml:"customer_tax_id"`
	InvoiceNumber string `yaml:"invoice_number"`
}

// NewBatchCommand creates the batch command.
func NewBatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "batch <file>",
		Short: "Sync a list of billing events",
		Long: `Process every item of a batch file, in order, against one provider.

The file is YAML or JSON:

  provider: anaf
  items:
    - source_type: platform_invoice
      source_id: in_1Nx2
      customer_tax_id: RO18547290

A failing item does not stop the batch. The command exits 1 if any item
failed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Provider, "provider", "p", "", "provider name (overrides the file)")

	return cmd
}

func runBatch(opts *BatchOptions, path string, cmd *cobra.Command) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read batch file", err)
	}
	var bf batchFile
	if err := yaml.Unmarshal(data, &bf); err != nil {
		return WrapExitError(ExitCommandError, "failed to parse batch file", err)
	}
	if len(bf.Items) == 0 {
		return NewExitError(ExitCommandError, "batch file has no items")
	}

	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	want := bf.Provider
	if opts.Provider != "" {
		want = opts.Provider
	}
	name, err := a.providerName(want)
	if err != nil {
		return err
	}

	br := engine.BatchRequest{Provider: name}
	for _, it := range bf.Items {
		st := canonical.SourceType(it.SourceType)
		if st == "" {
			st = canonical.SourcePlatformInvoice
		}
		br.Items = append(br.Items, engine.BatchItem{
			SourceType:    st,
			SourceID:      it.SourceID,
			CustomerTaxID: it.CustomerTaxID,
			InvoiceNumber: it.InvoiceNumber,
		})
	}

	out := a.engine.ProcessBatch(cmd.Context(), br)

	if a.out.Format == "json" {
		if err := a.out.Success(out); err != nil {
			return err
		}
	} else {
		w := a.out.Writer
		for _, res := range out.Results {
			writeResult(w, res)
		}
		fmt.Fprintf(w, "\n%d items: %d succeeded, %d pending, %d failed, %d skipped\n",
			out.Total, out.Succeeded, out.Pending, out.Failed, out.Skipped)
	}

	if out.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d items failed", out.Failed, out.Total))
	}
	return nil
}

// providerName resolves --provider, defaulting to the single enabled
// provider.
func (a *app) providerName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name != "" {
		return name, nil
	}
	infos := a.engine.Providers()
	if len(infos) == 1 {
		return infos[0].Name, nil
	}
	return "", NewExitError(ExitCommandError, "--provider is required when more or fewer than one provider is enabled")
}
