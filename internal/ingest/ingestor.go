// Package ingest drives the exactly-once ingestion of CDR file batches.
package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/centralino/tariffa/internal/cdr"
	"github.com/centralino/tariffa/internal/common"
	"github.com/centralino/tariffa/internal/model"
	"github.com/centralino/tariffa/internal/pricing"
	"github.com/centralino/tariffa/internal/registry"
	"github.com/centralino/tariffa/internal/storage"
)

// IngestStats summarizes one ingestion run. Per-line and per-file failures
// are collected here instead of aborting the batch.
type IngestStats struct {
	Bucket         model.Period `json:"bucket"`
	Errors         []string     `json:"errors"`
	FilesProcessed int          `json:"files_processed"`
	FilesSkipped   int          `json:"files_skipped"`
	RecordsAdded   int          `json:"records_added"`
	TotalRecords   int          `json:"total_records"`
}

// Ingestor parses, classifies, and persists CDR batches.
type Ingestor struct {
	parser   *cdr.Parser
	store    *storage.SQLiteStorage
	pricing  *pricing.Store
	registry *registry.Registry
	locks    *common.KeyedLock

	// OnFile, when set, is called after each file is parsed; the CLI hangs
	// a progress bar off it.
	OnFile func(name string)
}

// New creates an ingestor.
func New(store *storage.SQLiteStorage, pricingStore *pricing.Store, reg *registry.Registry, locks *common.KeyedLock) *Ingestor {
	return &Ingestor{
		parser:   cdr.NewParser(),
		store:    store,
		pricing:  pricingStore,
		registry: reg,
		locks:    locks,
	}
}

// parsedFile is one file's parse output plus its ledger identity.
type parsedFile struct {
	name    string
	hash    string
	records []model.CallRecord
	errs    []cdr.ParseError
}

// Ingest processes a file batch into its (year, month) bucket.
//
// With reprocess=false, files whose content hash is already in the bucket's
// ledger are skipped; this is the exactly-once guarantee across repeated
// runs. With reprocess=true, the bucket's records and ledger are discarded
// first and everything is rebuilt, which is how a pricing-config fix is
// applied retroactively.
//
// The bucket is derived from the first parsed line of the first file of the
// batch, not per record; the upstream provider delivers single-month files.
func (ing *Ingestor) Ingest(ctx context.Context, files []string, reprocess bool) (*IngestStats, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files given", common.ErrNoRecords)
	}

	stats := &IngestStats{}

	// Parse everything up front: the bucket comes from the first line of
	// the first readable file, and we need it before touching the ledger.
	parsed := make([]parsedFile, 0, len(files))
	for _, path := range files {
		pf, err := ing.parseFile(ctx, path)
		if err != nil {
			stats.Errors = append(stats.Errors, err.Error())
			slog.Warn("skipping unreadable file", "file", path, "error", err)
			continue
		}
		parsed = append(parsed, pf)
		if ing.OnFile != nil {
			ing.OnFile(pf.name)
		}
	}
	if len(parsed) == 0 {
		return stats, fmt.Errorf("%w: no readable files in batch", common.ErrNoRecords)
	}

	bucket, err := ing.deriveBucket(parsed)
	if err != nil {
		return stats, err
	}
	stats.Bucket = bucket

	key := "records/" + bucket.String()
	ing.locks.Lock(key)
	defer ing.locks.Unlock(key)

	if reprocess {
		if err := ing.store.PurgeBucket(ctx, bucket); err != nil {
			return stats, err
		}
	}

	engine, err := ing.pricing.Engine(ctx)
	if err != nil {
		return stats, err
	}

	var batchRecords []model.CallRecord
	for _, pf := range parsed {
		seen, err := ing.store.IsFileIngested(ctx, bucket, pf.hash)
		if err != nil {
			return stats, err
		}
		if seen && !reprocess {
			stats.FilesSkipped++
			slog.Info("file already ingested, skipping",
				"file", pf.name,
				"bucket", bucket.String())
			continue
		}

		for _, perr := range pf.errs {
			stats.Errors = append(stats.Errors, perr.Error())
		}

		records := ing.priceRecords(engine, pf.records, bucket)
		if err := ing.store.SaveRecords(ctx, bucket, records); err != nil {
			return stats, err
		}
		if err := ing.store.RecordIngestedFile(ctx, bucket, storage.IngestedFile{
			FileName:    pf.name,
			ContentHash: pf.hash,
			RecordCount: len(records),
		}); err != nil {
			return stats, err
		}

		stats.FilesProcessed++
		stats.RecordsAdded += len(records)
		batchRecords = append(batchRecords, records...)
	}

	total, err := ing.store.CountRecords(ctx, bucket)
	if err != nil {
		return stats, err
	}
	stats.TotalRecords = total

	// Every ingestion feeds the contract registry, including reprocessed
	// batches (counters are additive, the purge above only clears records).
	if len(batchRecords) > 0 {
		facts := registry.Discover(batchRecords)
		if err := ing.registry.MergeInto(ctx, facts); err != nil {
			return stats, err
		}
	}

	slog.Info("ingestion complete",
		"bucket", bucket.String(),
		"files_processed", stats.FilesProcessed,
		"files_skipped", stats.FilesSkipped,
		"records_added", stats.RecordsAdded,
		"total_records", stats.TotalRecords,
		"errors", len(stats.Errors))
	return stats, nil
}

// parseFile reads, hashes, and parses one file.
func (ing *Ingestor) parseFile(ctx context.Context, path string) (parsedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return parsedFile{}, fmt.Errorf("%w: %s: %v", common.ErrFileUnreadable, path, err)
	}

	hash := fmt.Sprintf("%x", sha256.Sum256(data))
	name := filepath.Base(path)

	records, perrs, err := ing.parser.ParseFile(ctx, bytes.NewReader(data), name)
	if err != nil {
		return parsedFile{}, err
	}
	return parsedFile{name: name, hash: hash, records: records, errs: perrs}, nil
}

// deriveBucket takes the batch period from the first parsed record of the
// first file that produced any.
func (ing *Ingestor) deriveBucket(parsed []parsedFile) (model.Period, error) {
	for _, pf := range parsed {
		if len(pf.records) == 0 {
			continue
		}
		bucket, err := cdr.BatchPeriod(pf.records)
		if err != nil {
			continue
		}
		return bucket, nil
	}
	return model.Period{}, common.ErrPeriodUnderived
}

// priceRecords classifies each record with a non-zero original cost and
// freezes its marked-up cost. Records crossing the batch bucket's month are
// still filed under the bucket; log them so the operator can spot a
// month-spanning delivery.
func (ing *Ingestor) priceRecords(engine *pricing.Engine, records []model.CallRecord, bucket model.Period) []model.CallRecord {
	out := make([]model.CallRecord, len(records))
	for i, rec := range records {
		if !rec.CostOriginal.IsZero() {
			cat := engine.Classify(rec.CallType)
			rec.CostWithMarkup = engine.Price(cat, rec.DurationSec)
		}
		if own := model.PeriodOf(rec.Timestamp); own != bucket {
			slog.Warn("record month differs from batch bucket",
				"file", rec.SourceFile,
				"line", rec.LineNumber,
				"record_period", own.String(),
				"bucket", bucket.String())
		}
		out[i] = rec
	}
	return out
}
