// Package aggregate rolls classified call records up into per-contract,
// per-period totals.
//
// All functions are pure reducers over explicit structs. Merge is associative
// and commutative: merging two aggregates for the same contract sums
// same-keyed call-type buckets and re-derives the contract total from the
// merged buckets, so cross-file and monthly-to-yearly rollups compose in any
// order.
package aggregate

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/centralino/tariffa/internal/model"
)

// Aggregate reduces a record slice into a PeriodAggregate for the given
// period. Empty input yields a well-defined empty aggregate.
func Aggregate(period model.Period, records []model.CallRecord) *model.PeriodAggregate {
	agg := &model.PeriodAggregate{
		Contracts: make(map[int]*model.ContractAggregate),
		Period:    period,
	}
	for _, rec := range records {
		ca, ok := agg.Contracts[rec.ContractCode]
		if !ok {
			ca = &model.ContractAggregate{
				ByCallType:   make(map[string]*model.CallTypeTotals),
				ContractCode: rec.ContractCode,
			}
			agg.Contracts[rec.ContractCode] = ca
		}

		bucket, ok := ca.ByCallType[rec.CallType]
		if !ok {
			bucket = &model.CallTypeTotals{CallType: rec.CallType}
			ca.ByCallType[rec.CallType] = bucket
		}
		bucket.DurationSec += rec.DurationSec
		bucket.CallCount++
		bucket.CostOriginal = bucket.CostOriginal.Add(rec.CostOriginal).Round(4)
		bucket.CostWithMarkup = bucket.CostWithMarkup.Add(rec.CostWithMarkup).Round(4)

		ca.Calls = append(ca.Calls, rec)
	}

	for _, ca := range agg.Contracts {
		deriveContractTotals(ca)
	}
	finalizeStats(agg)
	return agg
}

// Merge combines two aggregates into a new one; neither input is mutated.
// Same-keyed call-type buckets are summed, never overwritten, and contract
// totals are re-derived from the merged buckets.
func Merge(a, b *model.PeriodAggregate) *model.PeriodAggregate {
	out := &model.PeriodAggregate{
		Contracts: make(map[int]*model.ContractAggregate),
		Period:    a.Period,
	}
	if len(a.Contracts) == 0 && b != nil {
		out.Period = b.Period
	}

	for _, src := range []*model.PeriodAggregate{a, b} {
		if src == nil {
			continue
		}
		for code, ca := range src.Contracts {
			dst, ok := out.Contracts[code]
			if !ok {
				dst = &model.ContractAggregate{
					ByCallType:   make(map[string]*model.CallTypeTotals),
					ContractCode: code,
				}
				out.Contracts[code] = dst
			}
			for callType, bucket := range ca.ByCallType {
				existing, ok := dst.ByCallType[callType]
				if !ok {
					existing = &model.CallTypeTotals{CallType: callType}
					dst.ByCallType[callType] = existing
				}
				existing.DurationSec += bucket.DurationSec
				existing.CallCount += bucket.CallCount
				existing.CostOriginal = existing.CostOriginal.Add(bucket.CostOriginal).Round(4)
				existing.CostWithMarkup = existing.CostWithMarkup.Add(bucket.CostWithMarkup).Round(4)
			}
			dst.Calls = append(dst.Calls, ca.Calls...)
		}
	}

	for _, ca := range out.Contracts {
		deriveContractTotals(ca)
	}
	finalizeStats(out)
	return out
}

// MergeAll folds any number of aggregates. Nil and empty inputs are skipped.
func MergeAll(aggs ...*model.PeriodAggregate) *model.PeriodAggregate {
	out := &model.PeriodAggregate{Contracts: make(map[int]*model.ContractAggregate)}
	for _, agg := range aggs {
		if agg == nil {
			continue
		}
		out = Merge(out, agg)
	}
	return out
}

// SplitByContract emits one ContractPeriodReport per contract in the
// aggregate. New reports always start unprocessed.
func SplitByContract(agg *model.PeriodAggregate) []model.ContractPeriodReport {
	reports := make([]model.ContractPeriodReport, 0, len(agg.Contracts))
	now := time.Now()
	for code, ca := range agg.Contracts {
		reports = append(reports, model.ContractPeriodReport{
			GeneratedAt: now,
			ByCallType:  ca.ByCallType,
			Calls:       ca.Calls,
			Summary: model.ReportSummary{
				DurationSec:    ca.DurationSec,
				CallCount:      ca.CallCount,
				CostOriginal:   ca.CostOriginal,
				CostWithMarkup: ca.CostWithMarkup,
			},
			Period:       agg.Period,
			ContractCode: code,
			Processed:    false,
		})
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].ContractCode < reports[j].ContractCode
	})
	return reports
}

// PresentationTotal rounds a cost for operator-facing output. Internal
// accumulation stays at 4 decimals; only presentation rounds to 2.
func PresentationTotal(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// deriveContractTotals recomputes a contract's totals from its call-type
// buckets. The buckets are the source of truth; the totals never drift.
func deriveContractTotals(ca *model.ContractAggregate) {
	ca.DurationSec = 0
	ca.CallCount = 0
	ca.CostOriginal = decimal.Zero
	ca.CostWithMarkup = decimal.Zero
	for _, bucket := range ca.ByCallType {
		ca.DurationSec += bucket.DurationSec
		ca.CallCount += bucket.CallCount
		ca.CostOriginal = ca.CostOriginal.Add(bucket.CostOriginal).Round(4)
		ca.CostWithMarkup = ca.CostWithMarkup.Add(bucket.CostWithMarkup).Round(4)
	}
}

func finalizeStats(agg *model.PeriodAggregate) {
	stats := model.AggregateStats{GeneratedAt: time.Now()}
	for _, ca := range agg.Contracts {
		stats.TotalContracts++
		stats.TotalRecords += ca.CallCount
		stats.TotalDuration += ca.DurationSec
		stats.TotalCost = stats.TotalCost.Add(ca.CostWithMarkup).Round(4)
	}
	agg.Stats = stats
}
