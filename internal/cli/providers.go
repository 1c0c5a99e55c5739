package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/fiscalsync/internal/engine"
)

// NewProvidersCommand creates the providers command and its subcommands.
func NewProvidersCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Inspect configured providers",
	}

	cmd.AddCommand(newProvidersListCommand(rootOpts))
	cmd.AddCommand(newProvidersValidateCommand(rootOpts))
	cmd.AddCommand(newProvidersCompanyCommand(rootOpts))

	return cmd
}

func newProvidersListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List enabled providers",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			infos := a.engine.Providers()
			if a.out.Format == "json" {
				return a.out.Success(infos)
			}
			for _, p := range infos {
				fmt.Fprintf(a.out.Writer, "%-12s %s\n", p.Name, p.Profile)
			}
			return nil
		},
	}
}

func newProvidersValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "validate <provider>",
		Short:         "Check a provider's credentials",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			valid, err := a.engine.ValidateCredentials(cmd.Context(), args[0])
			if err != nil && engine.CodeOf(err) != engine.CodeAuthentication {
				return a.out.Fail(err)
			}
			out := struct {
				Provider string              `json:"provider"`
				Valid    bool                `json:"valid"`
				Error    *engine.ErrorDetail `json:"error,omitempty"`
			}{Provider: args[0], Valid: valid && err == nil, Error: engine.Detail(err)}

			if a.out.Format == "json" {
				if err := a.out.Success(out); err != nil {
					return err
				}
			} else if out.Valid {
				fmt.Fprintf(a.out.Writer, "%s: credentials valid\n", args[0])
			} else {
				fmt.Fprintf(a.out.Writer, "%s: credentials rejected", args[0])
				if out.Error != nil {
					fmt.Fprintf(a.out.Writer, ": %s", out.Error.Message)
				}
				fmt.Fprintln(a.out.Writer)
			}
			if !out.Valid {
				return NewExitError(ExitFailure, "credentials rejected")
			}
			return nil
		},
	}
}

func newProvidersCompanyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "company <provider> <tax-id>",
		Short:         "Look up a company in a provider's public registry",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			info, err := a.engine.CompanyInfo(cmd.Context(), args[0], args[1])
			if err != nil {
				return a.out.Fail(err)
			}
			if a.out.Format == "json" {
				return a.out.Success(info)
			}
			w := a.out.Writer
			fmt.Fprintf(w, "%s %s\n", info.TaxID, info.Name)
			if info.Address != "" {
				fmt.Fprintf(w, "  Address:      %s %s\n", info.Address, info.PostalCode)
			}
			if info.RegistrationNumber != "" {
				fmt.Fprintf(w, "  Registration: %s\n", info.RegistrationNumber)
			}
			fmt.Fprintf(w, "  VAT payer:    %t\n", info.VATPayer)
			return nil
		},
	}
}
