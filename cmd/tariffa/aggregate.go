package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/centralino/tariffa/internal/aggregate"
	"github.com/centralino/tariffa/internal/cli"
)

func aggregateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aggregate <period>",
		Short: "Roll a bucket up into per-contract reports",
		Long: `Aggregate the ingested records of a (year, month) bucket: per-contract,
per-call-type totals are computed, the period aggregate document is written,
and one report per contract is emitted for the billing cycle.

Reports for contracts already billed keep their processed marker.`,
		Args: cobra.ExactArgs(1),
		RunE: runAggregate,
	}
	return cmd
}

func runAggregate(cmd *cobra.Command, args []string) error {
	period, err := parsePeriod(args[0])
	if err != nil {
		return err
	}
	if period.Month == 0 {
		return fmt.Errorf("aggregate needs a monthly period (YYYY-MM), got %q", args[0])
	}

	ctx := cmd.Context()
	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	records, err := a.ledger.GetRecords(ctx, period)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println(cli.InfoStyle.Render(fmt.Sprintf(
			"No records in bucket %s; nothing to aggregate.", period)))
	}

	agg := aggregate.Aggregate(period, records)
	if err := a.reports.SaveAggregate(ctx, agg); err != nil {
		return err
	}

	reports := aggregate.SplitByContract(agg)
	for i := range reports {
		if contract, err := a.registry.Get(ctx, reports[i].ContractCode); err == nil {
			reports[i].ContractInfo = contract
		}
	}
	if err := a.reports.SaveReports(ctx, reports); err != nil {
		return err
	}

	fmt.Println(cli.FormatSuccess(fmt.Sprintf(
		"Aggregated %d records into %d contract reports for %s (total %s EUR)",
		agg.Stats.TotalRecords, len(reports), period,
		aggregate.PresentationTotal(agg.Stats.TotalCost))))
	return nil
}
