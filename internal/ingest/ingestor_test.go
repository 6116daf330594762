package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/centralino/tariffa/internal/common"
	"github.com/centralino/tariffa/internal/model"
	"github.com/centralino/tariffa/internal/testutil"
)

const marchFile = "2024-03-05-10.15.30;0432123456;3331234567;90;URBANA;OPITEL;0,0300;42;7;ACME SRL;UDINE;0432\n" +
	"2024-03-06-11.00.00;0432123456;3339998877;60;MOBILE NAZIONALE;OPITEL;0,0900;42;7;ACME SRL;UDINE;0432\n"

const marchFileB = "2024-03-10-09.30.00;0481555555;0245678901;120;INTERURBANA;OPITEL;0,0400;7;3;BETA SPA;GORIZIA;0481\n"

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func setupIngestor(t *testing.T) (*Ingestor, *testutil.Pipeline) {
	t.Helper()
	p := testutil.SetupPipeline(t)
	return New(p.Ledger, p.Pricing, p.Registry, p.Locks), p
}

func TestIngest_FirstRun(t *testing.T) {
	ing, p := setupIngestor(t)
	ctx := context.Background()
	dir := t.TempDir()

	fileA := writeFile(t, dir, "march-a.txt", marchFile)
	fileB := writeFile(t, dir, "march-b.txt", marchFileB)

	stats, err := ing.Ingest(ctx, []string{fileA, fileB}, false)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	want := model.Period{Year: 2024, Month: 3}
	if stats.Bucket != want {
		t.Errorf("Bucket = %v, want %v", stats.Bucket, want)
	}
	if stats.FilesProcessed != 2 || stats.FilesSkipped != 0 {
		t.Errorf("files processed/skipped = %d/%d, want 2/0", stats.FilesProcessed, stats.FilesSkipped)
	}
	if stats.RecordsAdded != 3 || stats.TotalRecords != 3 {
		t.Errorf("records added/total = %d/%d, want 3/3", stats.RecordsAdded, stats.TotalRecords)
	}

	records, err := p.Ledger.GetRecords(ctx, want)
	if err != nil {
		t.Fatalf("GetRecords: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("persisted %d records, want 3", len(records))
	}

	// Classified pricing was frozen at ingest: URBANA matches FISSI at
	// 0.02/min with 10% markup, so 90 seconds cost 0.033.
	var urbana *model.CallRecord
	for i := range records {
		if records[i].CallType == "URBANA" {
			urbana = &records[i]
		}
	}
	if urbana == nil {
		t.Fatal("URBANA record missing")
	}
	if !urbana.CostWithMarkup.Equal(decimal.RequireFromString("0.033")) {
		t.Errorf("CostWithMarkup = %s, want 0.033", urbana.CostWithMarkup)
	}

	// Discovery fed the contract registry.
	c, err := p.Registry.Get(ctx, 42)
	if err != nil {
		t.Fatalf("registry Get: %v", err)
	}
	if c.TotalCalls != 2 {
		t.Errorf("contract 42 TotalCalls = %d, want 2", c.TotalCalls)
	}
}

func TestIngest_RepeatAddsNothing(t *testing.T) {
	ing, p := setupIngestor(t)
	ctx := context.Background()
	dir := t.TempDir()

	fileA := writeFile(t, dir, "march-a.txt", marchFile)

	if _, err := ing.Ingest(ctx, []string{fileA}, false); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}

	// Same content again, even under another name: hash-skipped.
	fileCopy := writeFile(t, dir, "march-a-copy.txt", marchFile)
	stats, err := ing.Ingest(ctx, []string{fileA, fileCopy}, false)
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if stats.FilesSkipped != 2 || stats.FilesProcessed != 0 {
		t.Errorf("files skipped/processed = %d/%d, want 2/0", stats.FilesSkipped, stats.FilesProcessed)
	}
	if stats.RecordsAdded != 0 {
		t.Errorf("RecordsAdded = %d, want 0", stats.RecordsAdded)
	}
	if stats.TotalRecords != 2 {
		t.Errorf("TotalRecords = %d, want 2", stats.TotalRecords)
	}

	count, _ := p.Ledger.CountRecords(ctx, model.Period{Year: 2024, Month: 3})
	if count != 2 {
		t.Errorf("record count after repeat = %d, want 2", count)
	}
}

func TestIngest_ReprocessRebuildsBucket(t *testing.T) {
	ing, p := setupIngestor(t)
	ctx := context.Background()
	dir := t.TempDir()

	fileA := writeFile(t, dir, "march-a.txt", marchFile)
	if _, err := ing.Ingest(ctx, []string{fileA}, false); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}

	// Change the global markup, then reprocess: records are repriced.
	if err := p.Pricing.SetGlobalMarkup(ctx, decimal.NewFromInt(50)); err != nil {
		t.Fatalf("SetGlobalMarkup: %v", err)
	}
	stats, err := ing.Ingest(ctx, []string{fileA}, true)
	if err != nil {
		t.Fatalf("reprocess Ingest: %v", err)
	}
	if stats.FilesProcessed != 1 || stats.FilesSkipped != 0 {
		t.Errorf("reprocess files processed/skipped = %d/%d, want 1/0", stats.FilesProcessed, stats.FilesSkipped)
	}
	if stats.TotalRecords != 2 {
		t.Errorf("TotalRecords = %d, want 2 (no duplication)", stats.TotalRecords)
	}

	records, _ := p.Ledger.GetRecords(ctx, model.Period{Year: 2024, Month: 3})
	for _, rec := range records {
		if rec.CallType == "URBANA" {
			// 0.02 * 1.50 = 0.03/min, 90s -> 0.045.
			if !rec.CostWithMarkup.Equal(decimal.RequireFromString("0.045")) {
				t.Errorf("reprocessed cost = %s, want 0.045", rec.CostWithMarkup)
			}
		}
	}
}

func TestIngest_PartialFailure(t *testing.T) {
	ing, _ := setupIngestor(t)
	ctx := context.Background()
	dir := t.TempDir()

	good := writeFile(t, dir, "march-a.txt", marchFile)
	missing := filepath.Join(dir, "does-not-exist.txt")
	withBadLine := writeFile(t, dir, "march-bad.txt",
		"garbage line\n"+marchFileB)

	stats, err := ing.Ingest(ctx, []string{good, missing, withBadLine}, false)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if stats.FilesProcessed != 2 {
		t.Errorf("FilesProcessed = %d, want 2 (unreadable file dropped)", stats.FilesProcessed)
	}
	if stats.RecordsAdded != 3 {
		t.Errorf("RecordsAdded = %d, want 3 (bad line rejected, rest kept)", stats.RecordsAdded)
	}
	// One unreadable file plus one rejected line.
	if len(stats.Errors) != 2 {
		t.Errorf("Errors = %v, want 2 entries", stats.Errors)
	}
}

func TestIngest_EmptyBatch(t *testing.T) {
	ing, _ := setupIngestor(t)
	ctx := context.Background()

	if _, err := ing.Ingest(ctx, nil, false); !errors.Is(err, common.ErrNoRecords) {
		t.Errorf("Ingest(nil) = %v, want ErrNoRecords", err)
	}

	// A batch with only unparseable content cannot derive its bucket.
	dir := t.TempDir()
	junk := writeFile(t, dir, "junk.txt", "not a cdr line\n")
	_, err := ing.Ingest(ctx, []string{junk}, false)
	if !errors.Is(err, common.ErrPeriodUnderived) {
		t.Errorf("Ingest(junk) = %v, want ErrPeriodUnderived", err)
	}
}

func TestIngest_OnFileCallback(t *testing.T) {
	ing, _ := setupIngestor(t)
	ctx := context.Background()
	dir := t.TempDir()

	fileA := writeFile(t, dir, "march-a.txt", marchFile)
	fileB := writeFile(t, dir, "march-b.txt", marchFileB)

	var seen []string
	ing.OnFile = func(name string) { seen = append(seen, name) }

	if _, err := ing.Ingest(ctx, []string{fileA, fileB}, false); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(seen) != 2 || seen[0] != "march-a.txt" || seen[1] != "march-b.txt" {
		t.Errorf("OnFile saw %v", seen)
	}
}
