package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CallTypeTotals accumulates one (contract, call type) bucket.
type CallTypeTotals struct {
	CallType       string          `json:"call_type"`
	DurationSec    int             `json:"duration_seconds"`
	CallCount      int             `json:"call_count"`
	CostOriginal   decimal.Decimal `json:"cost_original"`
	CostWithMarkup decimal.Decimal `json:"cost_with_markup"`
}

// ContractAggregate is the per-contract rollup of one period: per-call-type
// buckets plus the contract-level total, which is always re-derived from the
// buckets.
type ContractAggregate struct {
	ByCallType     map[string]*CallTypeTotals `json:"aggregated_records"`
	Calls          []CallRecord               `json:"lista_chiamate"`
	ContractCode   int                        `json:"contract_code"`
	DurationSec    int                        `json:"duration_seconds"`
	CallCount      int                        `json:"call_count"`
	CostOriginal   decimal.Decimal            `json:"cost_original"`
	CostWithMarkup decimal.Decimal            `json:"cost_with_markup"`
}

// PeriodAggregate is the full rollup for one (year, month) bucket across all
// contracts.
type PeriodAggregate struct {
	Contracts map[int]*ContractAggregate `json:"contracts"`
	Period    Period                     `json:"period"`
	Stats     AggregateStats             `json:"statistics"`
}

// AggregateStats summarizes an aggregate for operators.
type AggregateStats struct {
	GeneratedAt    time.Time       `json:"generated_at"`
	TotalRecords   int             `json:"total_records"`
	TotalContracts int             `json:"total_contracts"`
	TotalDuration  int             `json:"total_duration_seconds"`
	TotalCost      decimal.Decimal `json:"total_cost_with_markup"`
}

// ReportSummary is the contract-level rollup a report document carries next
// to its call-type buckets.
type ReportSummary struct {
	DurationSec    int             `json:"duration_seconds"`
	CallCount      int             `json:"call_count"`
	CostOriginal   decimal.Decimal `json:"cost_original"`
	CostWithMarkup decimal.Decimal `json:"cost_with_markup"`
}

// ContractPeriodReport is the billing unit: one contract, one period. It is
// created by the aggregation engine and only ever mutated by the billing
// orchestrator, which flips Processed.
type ContractPeriodReport struct {
	GeneratedAt        time.Time                  `json:"generated_at"`
	ProcessedTimestamp *time.Time                 `json:"processed_timestamp,omitempty"`
	ContractInfo       *Contract                  `json:"contract_info,omitempty"`
	ByCallType         map[string]*CallTypeTotals `json:"aggregated_records"`
	Calls              []CallRecord               `json:"lista_chiamate"`
	Summary            ReportSummary              `json:"summary"`
	Period             Period                     `json:"period"`
	ContractCode       int                        `json:"contract_id"`
	Processed          bool                       `json:"processed"`
}
