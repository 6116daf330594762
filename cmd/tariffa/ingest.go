package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/centralino/tariffa/internal/cli"
	"github.com/centralino/tariffa/internal/ingest"
	"github.com/centralino/tariffa/internal/transport"
)

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Ingest CDR files into their billing bucket",
		Long: `Ingest raw CDR files. Each file is parsed, classified against the tariff
table, priced, and appended to its (year, month) bucket.

Files already ingested into the bucket (matched by content hash) are skipped,
so re-running over the same directory is safe. Use --reprocess after a tariff
fix to discard the bucket and rebuild it from scratch.

Examples:
  # Ingest explicit files
  tariffa ingest ~/cdr/TRAFFICO_2024_03_*.TXT

  # Ingest everything the transport fetched for March 2024
  tariffa ingest --pattern 'TRAFFICO_{YYYY}_{MM}_*.TXT' --period 2024-03

  # Rebuild the bucket after a pricing fix
  tariffa ingest --reprocess ~/cdr/TRAFFICO_2024_03_*.TXT`,
		RunE: runIngest,
	}

	cmd.Flags().Bool("reprocess", false, "Discard the bucket and rebuild it from these files")
	cmd.Flags().String("pattern", "", "Fetch files matching a pattern with {YYYY}/{MM} placeholders from the inbox")
	cmd.Flags().String("period", "", "Period (YYYY-MM) used to resolve pattern placeholders")

	return cmd
}

func runIngest(cmd *cobra.Command, args []string) error {
	reprocess, _ := cmd.Flags().GetBool("reprocess")
	pattern, _ := cmd.Flags().GetString("pattern")
	periodArg, _ := cmd.Flags().GetString("period")

	ctx := cmd.Context()
	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	var files []string
	if pattern != "" {
		year, month := 0, 0
		if periodArg != "" {
			p, err := parsePeriod(periodArg)
			if err != nil {
				return err
			}
			year, month = p.Year, p.Month
		}
		fetcher := transport.NewLocalFetcher(a.cfg.InboxDir)
		files, err = fetcher.Fetch(ctx, transport.ExpandPattern(pattern, year, month))
		if err != nil {
			return err
		}
	}

	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return fmt.Errorf("invalid pattern %s: %w", arg, err)
		}
		if len(matches) == 0 {
			if _, err := os.Stat(arg); err == nil {
				files = append(files, arg)
			} else {
				slog.Warn("No files found matching pattern", "pattern", arg)
			}
		} else {
			files = append(files, matches...)
		}
	}

	if len(files) == 0 {
		return fmt.Errorf("no files found to ingest")
	}

	slog.Info("☎️  Ingesting CDR files...",
		"file_count", len(files),
		"reprocess", reprocess)

	bar := progressbar.Default(int64(len(files)), "ingesting")

	ingestor := ingest.New(a.ledger, a.pricing, a.registry, a.locks)
	ingestor.OnFile = func(string) { _ = bar.Add(1) }
	stats, err := ingestor.Ingest(ctx, files, reprocess)
	_ = bar.Finish()
	if err != nil {
		return err
	}

	fmt.Println(cli.TitleStyle.Render(fmt.Sprintf("Bucket %s", stats.Bucket)))
	fmt.Println(cli.SuccessStyle.Render(fmt.Sprintf(
		"✓ %d files processed, %d skipped, %d records added (%d total)",
		stats.FilesProcessed, stats.FilesSkipped, stats.RecordsAdded, stats.TotalRecords)))
	if len(stats.Errors) > 0 {
		fmt.Println(cli.WarningStyle.Render(fmt.Sprintf("⚠ %d lines rejected:", len(stats.Errors))))
		for _, e := range stats.Errors {
			fmt.Println(cli.SubtleStyle.Render("  " + e))
		}
	}
	return nil
}
