package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application
// expects. If the database cannot be migrated to this version, it's a fatal
// error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema: call records and file ledger",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS call_records (
					source_file TEXT NOT NULL,
					line_number INTEGER NOT NULL,
					bucket TEXT NOT NULL,
					timestamp DATETIME NOT NULL,
					caller_number TEXT,
					called_number TEXT,
					duration_seconds INTEGER NOT NULL DEFAULT 0,
					call_type TEXT,
					operator TEXT,
					cost_original TEXT NOT NULL DEFAULT '0',
					cost_with_markup TEXT NOT NULL DEFAULT '0',
					contract_code INTEGER NOT NULL DEFAULT 0,
					service_code INTEGER NOT NULL DEFAULT 0,
					end_client_label TEXT,
					city TEXT,
					dialed_prefix TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (source_file, line_number)
				)`,
				`CREATE INDEX idx_call_records_bucket ON call_records(bucket)`,
				`CREATE INDEX idx_call_records_contract ON call_records(contract_code)`,

				`CREATE TABLE IF NOT EXISTS ingested_files (
					bucket TEXT NOT NULL,
					file_name TEXT NOT NULL,
					content_hash TEXT NOT NULL,
					record_count INTEGER NOT NULL DEFAULT 0,
					ingested_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (bucket, content_hash)
				)`,
				`CREATE INDEX idx_ingested_files_bucket ON ingested_files(bucket)`,
			}
			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Billing idempotency ledger",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS billing_ledger (
					contract_code INTEGER NOT NULL,
					year INTEGER NOT NULL,
					month INTEGER NOT NULL,
					state TEXT NOT NULL DEFAULT 'pending',
					charge_reference TEXT,
					last_error TEXT,
					billed_at DATETIME,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (contract_code, year, month)
				)`,
				`CREATE INDEX idx_billing_ledger_state ON billing_ledger(state)`,
			}
			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Scope call record identity by bucket",
		Up: func(tx *sql.Tx) error {
			// Providers reuse file names month after month, so (source_file,
			// line_number) alone is not a stable identity: the bucket has to
			// be part of the key or a recurring drop name overwrites another
			// month's rows. SQLite cannot alter a primary key in place, so
			// rebuild the table.
			queries := []string{
				`CREATE TABLE call_records_rekeyed (
					source_file TEXT NOT NULL,
					line_number INTEGER NOT NULL,
					bucket TEXT NOT NULL,
					timestamp DATETIME NOT NULL,
					caller_number TEXT,
					called_number TEXT,
					duration_seconds INTEGER NOT NULL DEFAULT 0,
					call_type TEXT,
					operator TEXT,
					cost_original TEXT NOT NULL DEFAULT '0',
					cost_with_markup TEXT NOT NULL DEFAULT '0',
					contract_code INTEGER NOT NULL DEFAULT 0,
					service_code INTEGER NOT NULL DEFAULT 0,
					end_client_label TEXT,
					city TEXT,
					dialed_prefix TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (bucket, source_file, line_number)
				)`,
				`INSERT INTO call_records_rekeyed (
					source_file, line_number, bucket, timestamp,
					caller_number, called_number, duration_seconds, call_type,
					operator, cost_original, cost_with_markup,
					contract_code, service_code, end_client_label, city, dialed_prefix,
					created_at
				) SELECT
					source_file, line_number, bucket, timestamp,
					caller_number, called_number, duration_seconds, call_type,
					operator, cost_original, cost_with_markup,
					contract_code, service_code, end_client_label, city, dialed_prefix,
					created_at
				FROM call_records`,
				`DROP TABLE call_records`,
				`ALTER TABLE call_records_rekeyed RENAME TO call_records`,
				`CREATE INDEX idx_call_records_contract ON call_records(contract_code)`,
			}
			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
}

// Migrate applies every pending migration in order.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}
	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
