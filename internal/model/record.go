// Package model defines the domain types shared across the pipeline.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CallRecord is a single parsed CDR line. Records are immutable once written;
// a record is identified by (SourceFile, LineNumber).
type CallRecord struct {
	Timestamp      time.Time       `json:"timestamp"`
	CallerNumber   string          `json:"caller_number"`
	CalledNumber   string          `json:"called_number"`
	CallType       string          `json:"call_type"`
	Operator       string          `json:"operator"`
	EndClientLabel string          `json:"end_client_label"`
	City           string          `json:"city"`
	DialedPrefix   string          `json:"dialed_prefix"`
	SourceFile     string          `json:"source_file"`
	CostOriginal   decimal.Decimal `json:"cost_original"`
	CostWithMarkup decimal.Decimal `json:"cost_with_markup"`
	DurationSec    int             `json:"duration_seconds"`
	ContractCode   int             `json:"contract_code"`
	ServiceCode    int             `json:"service_code"`
	LineNumber     int             `json:"line_number"`
}

// ID returns the stable identity of the record within its bucket.
func (r *CallRecord) ID() string {
	return fmt.Sprintf("%s:%d", r.SourceFile, r.LineNumber)
}

// Period is a (year, month) billing bucket. Month 0 means "whole year".
type Period struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// PeriodOf derives the bucket a timestamp falls in.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: int(t.Month())}
}

// String renders the period as YYYY-MM (or YYYY for a yearly period).
func (p Period) String() string {
	if p.Month == 0 {
		return fmt.Sprintf("%04d", p.Year)
	}
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// Valid reports whether the period is usable as a bucket key.
func (p Period) Valid() bool {
	return p.Year >= 2000 && p.Year <= 2200 && p.Month >= 0 && p.Month <= 12
}
