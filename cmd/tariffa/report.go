package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/centralino/tariffa/internal/aggregate"
	"github.com/centralino/tariffa/internal/cli"
)

func reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report <contract-code> <period>",
		Short: "Render a contract's period report",
		Long:  `Show one contract's billing report for a period: per-call-type durations and marked-up costs, the contract total, and the billing status.`,
		Args:  cobra.ExactArgs(2),
		RunE:  runReport,
	}
}

func runReport(cmd *cobra.Command, args []string) error {
	code, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid contract code %q: %w", args[0], err)
	}
	period, err := parsePeriod(args[1])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.reports.LoadReport(ctx, code, period)
	if err != nil {
		return err
	}

	title := fmt.Sprintf("Contract %d, %s", report.ContractCode, report.Period)
	if report.ContractInfo != nil && report.ContractInfo.DisplayName != "" {
		title = fmt.Sprintf("%s (%s)", title, report.ContractInfo.DisplayName)
	}
	fmt.Println(cli.TitleStyle.Render(title))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
		cli.BoldStyle.Render("Call type"),
		cli.BoldStyle.Render("Calls"),
		cli.BoldStyle.Render("Duration"),
		cli.BoldStyle.Render("Cost (EUR)"))

	types := make([]string, 0, len(report.ByCallType))
	for t := range report.ByCallType {
		types = append(types, t)
	}
	sort.Strings(types)

	for _, t := range types {
		bucket := report.ByCallType[t]
		fmt.Fprintf(w, "%s\t%d\t%dm %02ds\t%s\n",
			t, bucket.CallCount,
			bucket.DurationSec/60, bucket.DurationSec%60,
			aggregate.PresentationTotal(bucket.CostWithMarkup))
	}
	w.Flush()

	fmt.Println(cli.BoldStyle.Render(fmt.Sprintf(
		"Total: %s EUR (%d calls, %dm %02ds)",
		aggregate.PresentationTotal(report.Summary.CostWithMarkup),
		report.Summary.CallCount,
		report.Summary.DurationSec/60, report.Summary.DurationSec%60)))

	if report.Processed {
		when := ""
		if report.ProcessedTimestamp != nil {
			when = " on " + report.ProcessedTimestamp.Format("2006-01-02 15:04")
		}
		fmt.Println(cli.FormatSuccess("Billed" + when))
	} else {
		fmt.Println(cli.InfoStyle.Render("Not yet billed"))
	}
	return nil
}
