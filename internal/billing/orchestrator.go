// Package billing drives the idempotent extra-usage billing cycle.
//
// Safety model: the sqlite billing ledger is the at-most-once gate. A
// (contract, period) in state Billed is skipped with zero side effects no
// matter how often the cycle runs; a dispatch failure leaves it Pending so
// the next scheduled cycle retries. The ledger row is written durably before
// the cycle reports success for that period.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/centralino/tariffa/internal/aggregate"
	"github.com/centralino/tariffa/internal/common"
	"github.com/centralino/tariffa/internal/erp"
	"github.com/centralino/tariffa/internal/model"
	"github.com/centralino/tariffa/internal/registry"
	"github.com/centralino/tariffa/internal/storage"
)

// SkipReason explains why a (contract, period) produced no charge.
type SkipReason string

const (
	// SkipAlreadyBilled is the idempotency gate.
	SkipAlreadyBilled SkipReason = "already_billed"
	// SkipZeroCost is the eligibility gate: nothing strictly positive to bill.
	SkipZeroCost SkipReason = "zero_cost"
	// SkipNoReport means no report document exists for the period.
	SkipNoReport SkipReason = "no_report"
)

// ChargeOutcome is the result for one (contract, period).
type ChargeOutcome struct {
	Result       *erp.ChargeResult `json:"result,omitempty"`
	Period       model.Period      `json:"period"`
	Skipped      SkipReason        `json:"skipped,omitempty"`
	Error        string            `json:"error,omitempty"`
	Amount       decimal.Decimal   `json:"amount"`
	ContractCode int               `json:"contract_code"`
}

// CycleResult summarizes one billing cycle run.
type CycleResult struct {
	Responses        []ChargeOutcome `json:"responses"`
	Errors           []string        `json:"errors"`
	PeriodsProcessed int             `json:"periods_processed"`
	PeriodsSkipped   int             `json:"periods_skipped"`
	PeriodsFailed    int             `json:"periods_failed"`
}

// Orchestrator runs billing cycles.
type Orchestrator struct {
	registry *registry.Registry
	reports  *aggregate.Store
	ledger   *storage.SQLiteStorage
	biller   erp.Biller
	dryRun   bool
}

// New creates a billing orchestrator.
func New(reg *registry.Registry, reports *aggregate.Store, ledger *storage.SQLiteStorage, biller erp.Biller) *Orchestrator {
	return &Orchestrator{registry: reg, reports: reports, ledger: ledger, biller: biller}
}

// DryRun returns an orchestrator that runs the full cycle (gates, charge
// construction, dispatch to whatever biller it was built with) but writes
// nothing: neither the billing ledger nor the report markers change.
func (o *Orchestrator) DryRun() *Orchestrator {
	clone := *o
	clone.dryRun = true
	return &clone
}

// RunCycle bills every ready contract for the requested periods. A period
// with Month 0 expands to its whole year; an empty period list defaults to
// the current month. Safe under repeated or cron-triggered invocation.
func (o *Orchestrator) RunCycle(ctx context.Context, periods []model.Period) (*CycleResult, error) {
	result := &CycleResult{}

	months := expandPeriods(periods)
	if len(months) == 0 {
		return nil, fmt.Errorf("%w: no billable periods requested", common.ErrNothingToBill)
	}

	contracts, err := o.registry.All(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []*model.Contract
	for _, c := range contracts {
		if c.BillingReady() {
			candidates = append(candidates, c)
		}
	}
	slog.Info("billing cycle started",
		"periods", len(months),
		"candidates", len(candidates))

	for _, period := range months {
		for _, contract := range candidates {
			outcome := o.billOne(ctx, contract, period)
			result.Responses = append(result.Responses, outcome)
			switch {
			case outcome.Error != "":
				result.PeriodsFailed++
				result.Errors = append(result.Errors, fmt.Sprintf(
					"contract %d period %s: %s", contract.ContractCode, period, outcome.Error))
			case outcome.Skipped != "":
				result.PeriodsSkipped++
			default:
				result.PeriodsProcessed++
			}
		}
	}

	slog.Info("billing cycle finished",
		"processed", result.PeriodsProcessed,
		"skipped", result.PeriodsSkipped,
		"failed", result.PeriodsFailed)
	return result, nil
}

// billOne applies the gates and dispatches a single charge.
func (o *Orchestrator) billOne(ctx context.Context, contract *model.Contract, period model.Period) ChargeOutcome {
	outcome := ChargeOutcome{
		Period:       period,
		ContractCode: contract.ContractCode,
	}

	// Idempotency gate: the ledger decides, never the report content.
	entry, err := o.ledger.GetBillingState(ctx, contract.ContractCode, period)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	if entry.State == storage.BillingBilled {
		outcome.Skipped = SkipAlreadyBilled
		return outcome
	}

	report, err := o.reports.LoadReport(ctx, contract.ContractCode, period)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			outcome.Skipped = SkipNoReport
			return outcome
		}
		outcome.Error = err.Error()
		return outcome
	}

	// Fail closed: a report without its call-type buckets is a damaged
	// document, not a zero-cost period.
	if report.ByCallType == nil {
		outcome.Error = fmt.Sprintf("%v: report for contract %d period %s has no aggregated records",
			common.ErrDocumentCorrupted, contract.ContractCode, period)
		return outcome
	}

	total := report.Summary.CostWithMarkup
	if !total.IsPositive() {
		outcome.Skipped = SkipZeroCost
		return outcome
	}
	amount := aggregate.PresentationTotal(total)
	outcome.Amount = amount

	description := BuildDescription(report)
	chargeRes, err := o.biller.SubmitCharge(ctx, contract.ExternalBillingID, amount, description)
	if err != nil {
		// Leave the period Pending; the next cycle retries.
		outcome.Error = err.Error()
		if o.dryRun {
			return outcome
		}
		if recErr := o.ledger.RecordBillingError(ctx, contract.ContractCode, period, err.Error()); recErr != nil {
			common.LogError(recErr, "failed to record billing error", common.Fields{
				"contract_code": contract.ContractCode,
				"period":        period.String(),
			})
		}
		return outcome
	}
	outcome.Result = &chargeRes
	if o.dryRun {
		return outcome
	}

	// Durable ledger write before reporting success, so a crash after
	// dispatch cannot double-bill.
	if err := o.ledger.MarkBilled(ctx, contract.ContractCode, period, chargeRes.ReferenceID); err != nil {
		outcome.Error = fmt.Sprintf("charge dispatched but ledger write failed: %v", err)
		return outcome
	}
	if err := o.reports.MarkReportProcessed(ctx, contract.ContractCode, period, time.Now()); err != nil {
		// Ledger already protects idempotency; the report marker is
		// cosmetic, so log and move on.
		common.LogError(err, "failed to annotate report as processed", common.Fields{
			"contract_code": contract.ContractCode,
			"period":        period.String(),
		})
	}
	return outcome
}

// BuildDescription renders the charge description: per call-type duration
// (minutes+seconds) and marked-up cost for the period.
func BuildDescription(report *model.ContractPeriodReport) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Extra usage %s\n", report.Period)

	types := make([]string, 0, len(report.ByCallType))
	for callType := range report.ByCallType {
		types = append(types, callType)
	}
	sort.Strings(types)

	for _, callType := range types {
		bucket := report.ByCallType[callType]
		fmt.Fprintf(&sb, "- %s: %dm %02ds, %s EUR\n",
			callType,
			bucket.DurationSec/60,
			bucket.DurationSec%60,
			aggregate.PresentationTotal(bucket.CostWithMarkup))
	}
	fmt.Fprintf(&sb, "Total: %s EUR",
		aggregate.PresentationTotal(report.Summary.CostWithMarkup))
	return sb.String()
}

// expandPeriods normalizes the requested period list: empty defaults to the
// current month, Month 0 expands to the full year.
func expandPeriods(periods []model.Period) []model.Period {
	if len(periods) == 0 {
		now := time.Now()
		return []model.Period{{Year: now.Year(), Month: int(now.Month())}}
	}

	var months []model.Period
	seen := make(map[model.Period]bool)
	for _, p := range periods {
		if !p.Valid() {
			continue
		}
		if p.Month == 0 {
			for m := 1; m <= 12; m++ {
				month := model.Period{Year: p.Year, Month: m}
				if !seen[month] {
					seen[month] = true
					months = append(months, month)
				}
			}
			continue
		}
		if !seen[p] {
			seen[p] = true
			months = append(months, p)
		}
	}
	return months
}
