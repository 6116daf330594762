package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/centralino/tariffa/internal/model"
)

// Validation errors.
var (
	ErrNilContext    = errors.New("context cannot be nil")
	ErrEmptyString   = errors.New("string parameter cannot be empty")
	ErrNilParameter  = errors.New("parameter cannot be nil")
	ErrInvalidRecord = errors.New("invalid call record")
	ErrInvalidPeriod = errors.New("invalid period")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validatePeriod ensures a period is usable as a bucket key.
func validatePeriod(p model.Period) error {
	if !p.Valid() || p.Month == 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPeriod, p)
	}
	return nil
}

// validateRecords validates a slice of call records.
func validateRecords(records []model.CallRecord) error {
	if records == nil {
		return fmt.Errorf("%w: records", ErrNilParameter)
	}
	for i, rec := range records {
		if rec.SourceFile == "" {
			return fmt.Errorf("%w at index %d: missing source file", ErrInvalidRecord, i)
		}
		if rec.LineNumber <= 0 {
			return fmt.Errorf("%w at index %d: missing line number", ErrInvalidRecord, i)
		}
		if rec.Timestamp.IsZero() {
			return fmt.Errorf("%w at index %d: missing timestamp", ErrInvalidRecord, i)
		}
		if rec.DurationSec < 0 {
			return fmt.Errorf("%w at index %d: negative duration", ErrInvalidRecord, i)
		}
	}
	return nil
}
