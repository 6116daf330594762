package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/centralino/tariffa/internal/cli"
	"github.com/centralino/tariffa/internal/registry"
)

func contractsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contracts",
		Short: "Inspect and curate the contract registry",
		Long:  `The contract registry is discovered from the call stream. Curated fields (display name, billing reference, contract type, payment term, notes) are operator-owned and survive every ingestion.`,
	}

	cmd.AddCommand(listContractsCmd())
	cmd.AddCommand(showContractCmd())
	cmd.AddCommand(setContractCmd())

	return cmd
}

func listContractsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all discovered contracts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			contracts, err := a.registry.All(ctx)
			if err != nil {
				return err
			}
			if len(contracts) == 0 {
				fmt.Println(cli.InfoStyle.Render("No contracts discovered yet. Run 'tariffa ingest' first."))
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			defer w.Flush()

			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				cli.BoldStyle.Render("Code"),
				cli.BoldStyle.Render("Name"),
				cli.BoldStyle.Render("Billing ID"),
				cli.BoldStyle.Render("Type"),
				cli.BoldStyle.Render("Calls"),
				cli.BoldStyle.Render("Numbers"))

			for _, c := range contracts {
				billingID := c.ExternalBillingID
				if billingID == "" {
					billingID = cli.SubtleStyle.Render("(unset)")
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\n",
					c.ContractCode, c.DisplayName, billingID, c.ContractType,
					c.TotalCalls, len(c.PhoneNumbers))
			}
			return nil
		},
	}
}

func showContractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <code>",
		Short: "Show one contract in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid contract code %q: %w", args[0], err)
			}

			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			c, err := a.registry.Get(ctx, code)
			if err != nil {
				return err
			}

			fmt.Println(cli.TitleStyle.Render(fmt.Sprintf("Contract %d: %s", c.ContractCode, c.DisplayName)))
			fmt.Printf("  Billing ID:    %s\n", c.ExternalBillingID)
			fmt.Printf("  Type:          %s\n", c.ContractType)
			fmt.Printf("  Payment term:  %s\n", c.PaymentTerm)
			fmt.Printf("  End client:    %s\n", c.EndClientLabel)
			fmt.Printf("  Total calls:   %d\n", c.TotalCalls)
			fmt.Printf("  Numbers:       %s\n", strings.Join(c.PhoneNumbers, ", "))
			fmt.Printf("  Files:         %s\n", strings.Join(c.FilesFoundIn, ", "))
			if c.FirstSeenDate != nil {
				fmt.Printf("  First seen:    %s (%s)\n", c.FirstSeenDate.Format("2006-01-02"), c.FirstSeenFile)
			}
			if c.LastSeenDate != nil {
				fmt.Printf("  Last seen:     %s (%s)\n", c.LastSeenDate.Format("2006-01-02"), c.LastSeenFile)
			}
			if c.Notes != "" {
				fmt.Printf("  Notes:         %s\n", c.Notes)
			}
			if !c.BillingReady() {
				fmt.Println(cli.FormatWarning("Not billable: set --billing-id and --type via 'tariffa contracts set'"))
			}
			return nil
		},
	}
}

func setContractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <code>",
		Short: "Edit a contract's curated fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid contract code %q: %w", args[0], err)
			}

			var upd registry.CuratedUpdate
			if cmd.Flags().Changed("name") {
				v, _ := cmd.Flags().GetString("name")
				upd.DisplayName = &v
			}
			if cmd.Flags().Changed("billing-id") {
				v, _ := cmd.Flags().GetString("billing-id")
				upd.ExternalBillingID = &v
			}
			if cmd.Flags().Changed("type") {
				v, _ := cmd.Flags().GetString("type")
				upd.ContractType = &v
			}
			if cmd.Flags().Changed("payment-term") {
				v, _ := cmd.Flags().GetString("payment-term")
				upd.PaymentTerm = &v
			}
			if cmd.Flags().Changed("notes") {
				v, _ := cmd.Flags().GetString("notes")
				upd.Notes = &v
			}

			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			c, err := a.registry.SetCurated(ctx, code, upd)
			if err != nil {
				return err
			}
			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Contract %d updated", c.ContractCode)))
			if !c.BillingReady() {
				fmt.Println(cli.FormatWarning("Still not billable: billing-id and type are both required"))
			}
			return nil
		},
	}

	cmd.Flags().String("name", "", "Display name")
	cmd.Flags().String("billing-id", "", "External billing reference in the ERP")
	cmd.Flags().String("type", "", "Contract type")
	cmd.Flags().String("payment-term", "", "Payment term")
	cmd.Flags().String("notes", "", "Free-form notes")

	return cmd
}
