package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/centralino/tariffa/internal/model"
)

// IngestedFile is one row of the per-bucket file-hash ledger.
type IngestedFile struct {
	IngestedAt  time.Time `json:"ingested_at"`
	FileName    string    `json:"file_name"`
	ContentHash string    `json:"content_hash"`
	RecordCount int       `json:"record_count"`
}

// IsFileIngested reports whether a file with this content hash was already
// ingested into the bucket. This is the exactly-once check.
func (s *SQLiteStorage) IsFileIngested(ctx context.Context, bucket model.Period, hash string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(hash, "hash"); err != nil {
		return false, err
	}

	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM ingested_files WHERE bucket = ? AND content_hash = ?`,
		bucket.String(), hash).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query file ledger: %w", err)
	}
	return true, nil
}

// RecordIngestedFile appends a file to the bucket's hash ledger.
func (s *SQLiteStorage) RecordIngestedFile(ctx context.Context, bucket model.Period, file IngestedFile) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(file.FileName, "fileName"); err != nil {
		return err
	}
	if err := validateString(file.ContentHash, "contentHash"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO ingested_files (bucket, file_name, content_hash, record_count, ingested_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		bucket.String(), file.FileName, file.ContentHash, file.RecordCount)
	if err != nil {
		return fmt.Errorf("failed to record ingested file %s: %w", file.FileName, err)
	}
	return nil
}

// GetIngestedFiles lists the bucket's ledger, oldest first.
func (s *SQLiteStorage) GetIngestedFiles(ctx context.Context, bucket model.Period) ([]IngestedFile, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT file_name, content_hash, record_count, ingested_at
		FROM ingested_files
		WHERE bucket = ?
		ORDER BY ingested_at`, bucket.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query file ledger: %w", err)
	}
	defer rows.Close()

	var files []IngestedFile
	for rows.Next() {
		var f IngestedFile
		if err := rows.Scan(&f.FileName, &f.ContentHash, &f.RecordCount, &f.IngestedAt); err != nil {
			return nil, fmt.Errorf("failed to scan file ledger row: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating file ledger: %w", err)
	}
	return files, nil
}
