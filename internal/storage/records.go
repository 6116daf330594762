package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/centralino/tariffa/internal/model"
)

// SaveRecords appends a batch of call records to a bucket's record store in
// one transaction. Records already present in the same bucket (same source
// file and line) are replaced, keeping ingestion idempotent at the record
// level too; other buckets are never touched, even when a provider reuses
// a file name across months.
func (s *SQLiteStorage) SaveRecords(ctx context.Context, bucket model.Period, records []model.CallRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePeriod(bucket); err != nil {
		return err
	}
	if err := validateRecords(records); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO call_records (
			source_file, line_number, bucket, timestamp,
			caller_number, called_number, duration_seconds, call_type,
			operator, cost_original, cost_with_markup,
			contract_code, service_code, end_client_label, city, dialed_prefix
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		_, err := stmt.ExecContext(ctx,
			rec.SourceFile, rec.LineNumber, bucket.String(), rec.Timestamp,
			rec.CallerNumber, rec.CalledNumber, rec.DurationSec, rec.CallType,
			rec.Operator, rec.CostOriginal.String(), rec.CostWithMarkup.String(),
			rec.ContractCode, rec.ServiceCode, rec.EndClientLabel, rec.City, rec.DialedPrefix,
		)
		if err != nil {
			return fmt.Errorf("failed to insert record %s: %w", rec.ID(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit records: %w", err)
	}

	slog.Debug("saved call records", "bucket", bucket.String(), "count", len(records))
	return nil
}

// GetRecords returns every call record filed under a bucket, ordered by
// source file and line number.
func (s *SQLiteStorage) GetRecords(ctx context.Context, bucket model.Period) ([]model.CallRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validatePeriod(bucket); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source_file, line_number, timestamp,
			caller_number, called_number, duration_seconds, call_type,
			operator, cost_original, cost_with_markup,
			contract_code, service_code, end_client_label, city, dialed_prefix
		FROM call_records
		WHERE bucket = ?
		ORDER BY source_file, line_number`, bucket.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []model.CallRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

// CountRecords returns how many records a bucket holds.
func (s *SQLiteStorage) CountRecords(ctx context.Context, bucket model.Period) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validatePeriod(bucket); err != nil {
		return 0, err
	}

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM call_records WHERE bucket = ?`, bucket.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// PurgeBucket drops a bucket's records and its file-hash ledger so a full
// reprocess can rebuild it from scratch.
func (s *SQLiteStorage) PurgeBucket(ctx context.Context, bucket model.Period) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePeriod(bucket); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM call_records WHERE bucket = ?`, bucket.String()); err != nil {
		return fmt.Errorf("failed to purge records: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM ingested_files WHERE bucket = ?`, bucket.String()); err != nil {
		return fmt.Errorf("failed to purge file ledger: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit purge: %w", err)
	}

	slog.Info("purged bucket for reprocess", "bucket", bucket.String())
	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (model.CallRecord, error) {
	var rec model.CallRecord
	var ts time.Time
	var costOriginal, costMarkup string
	err := row.Scan(
		&rec.SourceFile, &rec.LineNumber, &ts,
		&rec.CallerNumber, &rec.CalledNumber, &rec.DurationSec, &rec.CallType,
		&rec.Operator, &costOriginal, &costMarkup,
		&rec.ContractCode, &rec.ServiceCode, &rec.EndClientLabel, &rec.City, &rec.DialedPrefix,
	)
	if err != nil {
		return rec, fmt.Errorf("failed to scan record: %w", err)
	}
	rec.Timestamp = ts

	rec.CostOriginal, err = decimal.NewFromString(costOriginal)
	if err != nil {
		return rec, fmt.Errorf("corrupt cost_original %q for %s: %w", costOriginal, rec.ID(), err)
	}
	rec.CostWithMarkup, err = decimal.NewFromString(costMarkup)
	if err != nil {
		return rec, fmt.Errorf("corrupt cost_with_markup %q for %s: %w", costMarkup, rec.ID(), err)
	}
	return rec, nil
}
