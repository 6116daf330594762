package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/centralino/tariffa/internal/model"
)

// BillingState is the two-state idempotency ledger per (contract, period).
type BillingState string

const (
	// BillingPending means the period has not been billed yet (or the last
	// dispatch failed and will be retried next cycle).
	BillingPending BillingState = "pending"
	// BillingBilled means the charge was dispatched successfully; the period
	// must never be billed again.
	BillingBilled BillingState = "billed"
)

// BillingEntry is one ledger row.
type BillingEntry struct {
	BilledAt        *time.Time   `json:"billed_at,omitempty"`
	UpdatedAt       time.Time    `json:"updated_at"`
	State           BillingState `json:"state"`
	ChargeReference string       `json:"charge_reference,omitempty"`
	LastError       string       `json:"last_error,omitempty"`
	Period          model.Period `json:"period"`
	ContractCode    int          `json:"contract_code"`
}

// GetBillingState returns the ledger state for a (contract, period). A
// missing row is Pending.
func (s *SQLiteStorage) GetBillingState(ctx context.Context, contractCode int, period model.Period) (*BillingEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validatePeriod(period); err != nil {
		return nil, err
	}

	entry := &BillingEntry{
		State:        BillingPending,
		Period:       period,
		ContractCode: contractCode,
	}

	var billedAt sql.NullTime
	var chargeRef, lastErr sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT state, charge_reference, last_error, billed_at, updated_at
		FROM billing_ledger
		WHERE contract_code = ? AND year = ? AND month = ?`,
		contractCode, period.Year, period.Month,
	).Scan(&entry.State, &chargeRef, &lastErr, &billedAt, &entry.UpdatedAt)
	if err == sql.ErrNoRows {
		return entry, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query billing ledger: %w", err)
	}

	entry.ChargeReference = chargeRef.String
	entry.LastError = lastErr.String
	if billedAt.Valid {
		t := billedAt.Time
		entry.BilledAt = &t
	}
	return entry, nil
}

// MarkBilled durably flips a (contract, period) to Billed. Once billed, the
// state is never reverted by the pipeline.
func (s *SQLiteStorage) MarkBilled(ctx context.Context, contractCode int, period model.Period, chargeRef string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePeriod(period); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO billing_ledger (contract_code, year, month, state, charge_reference, last_error, billed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NULL, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (contract_code, year, month) DO UPDATE SET
			state = excluded.state,
			charge_reference = excluded.charge_reference,
			last_error = NULL,
			billed_at = CURRENT_TIMESTAMP,
			updated_at = CURRENT_TIMESTAMP`,
		contractCode, period.Year, period.Month, BillingBilled, chargeRef)
	if err != nil {
		return fmt.Errorf("failed to mark billed: %w", err)
	}

	slog.Info("billing ledger updated",
		"contract_code", contractCode,
		"period", period.String(),
		"state", BillingBilled,
		"charge_reference", chargeRef)
	return nil
}

// RecordBillingError keeps the (contract, period) Pending and stores the
// dispatch error for the operator; the next cycle retries automatically.
func (s *SQLiteStorage) RecordBillingError(ctx context.Context, contractCode int, period model.Period, dispatchErr string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePeriod(period); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO billing_ledger (contract_code, year, month, state, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (contract_code, year, month) DO UPDATE SET
			last_error = excluded.last_error,
			updated_at = CURRENT_TIMESTAMP
		WHERE billing_ledger.state != 'billed'`,
		contractCode, period.Year, period.Month, BillingPending, dispatchErr)
	if err != nil {
		return fmt.Errorf("failed to record billing error: %w", err)
	}
	return nil
}
