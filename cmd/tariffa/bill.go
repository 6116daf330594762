package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/centralino/tariffa/internal/billing"
	"github.com/centralino/tariffa/internal/cli"
	"github.com/centralino/tariffa/internal/erp"
	"github.com/centralino/tariffa/internal/model"
)

func billCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bill [periods...]",
		Short: "Run the extra-usage billing cycle",
		Long: `Bill every contract with complete curated metadata for the requested
periods. Periods are YYYY-MM or YYYY (expands to all twelve months); with no
argument the current month is billed.

The cycle is idempotent: a (contract, period) already marked billed in the
ledger is skipped with no side effects, so repeated or cron-triggered runs
are safe. Failed dispatches stay pending and retry on the next cycle.

Examples:
  tariffa bill               # current month
  tariffa bill 2024-03
  tariffa bill 2023 2024-01  # whole 2023 plus January 2024
  tariffa bill --dry-run 2024-03`,
		RunE: runBill,
	}

	cmd.Flags().Bool("dry-run", false, "Run the cycle against the mock biller; no charge leaves the machine and no ledger writes happen")

	return cmd
}

func runBill(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	var periods []model.Period
	for _, arg := range args {
		p, err := parsePeriod(arg)
		if err != nil {
			return err
		}
		periods = append(periods, p)
	}

	ctx := cmd.Context()
	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	var biller erp.Biller
	var mock *erp.MockBiller
	switch {
	case dryRun, a.cfg.ERPEndpoint == "":
		mock = erp.NewMockBiller()
		biller = mock
		if !dryRun {
			fmt.Println(cli.FormatWarning("No ERP endpoint configured; running against the mock biller"))
		}
	default:
		client, err := erp.NewClient(erp.Config{
			Endpoint: a.cfg.ERPEndpoint,
			Database: a.cfg.ERPDatabase,
			User:     a.cfg.ERPUser,
			Password: a.cfg.ERPPassword,
		})
		if err != nil {
			return err
		}
		biller = client
	}

	orch := billing.New(a.registry, a.reports, a.ledger, biller)
	if dryRun {
		orch = orch.DryRun()
	}

	result, err := orch.RunCycle(ctx, periods)
	if err != nil {
		return err
	}

	fmt.Println(cli.TitleStyle.Render("Billing cycle"))
	fmt.Println(cli.FormatSuccess(fmt.Sprintf(
		"%d billed, %d skipped, %d failed",
		result.PeriodsProcessed, result.PeriodsSkipped, result.PeriodsFailed)))

	for _, r := range result.Responses {
		switch {
		case r.Error != "":
			fmt.Println(cli.FormatError(fmt.Sprintf(
				"contract %d %s: %s", r.ContractCode, r.Period, r.Error)))
		case r.Skipped != "":
			fmt.Println(cli.SubtleStyle.Render(fmt.Sprintf(
				"  contract %d %s skipped (%s)", r.ContractCode, r.Period, r.Skipped)))
		default:
			ref := ""
			if r.Result != nil {
				ref = " ref " + r.Result.ReferenceID
			}
			fmt.Println(cli.InfoStyle.Render(fmt.Sprintf(
				"  contract %d %s: %s EUR%s", r.ContractCode, r.Period, r.Amount, ref)))
		}
	}

	if dryRun && mock != nil {
		fmt.Println(cli.SubtleStyle.Render(fmt.Sprintf(
			"dry run: %d charges would have been submitted", len(mock.Charges()))))
	}
	return nil
}
