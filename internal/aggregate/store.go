package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/centralino/tariffa/internal/common"
	"github.com/centralino/tariffa/internal/docstore"
	"github.com/centralino/tariffa/internal/model"
)

// Store persists period aggregates and per-contract period reports as JSON
// documents. Reports are written by the aggregation engine and only ever
// mutated by the billing orchestrator, which flips the processed marker.
type Store struct {
	docs  *docstore.Store
	locks *common.KeyedLock
}

// NewStore creates a report store.
func NewStore(docs *docstore.Store, locks *common.KeyedLock) *Store {
	return &Store{docs: docs, locks: locks}
}

func aggregateDoc(period model.Period) string {
	return filepath.Join("aggregates", period.String()+".json")
}

func reportDoc(contractCode int, period model.Period) string {
	return filepath.Join("reports", period.String(), fmt.Sprintf("contract-%d.json", contractCode))
}

// SaveAggregate persists the period aggregate document.
func (s *Store) SaveAggregate(ctx context.Context, agg *model.PeriodAggregate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.docs.Save(aggregateDoc(agg.Period), agg)
}

// LoadAggregate loads the aggregate document for a period.
func (s *Store) LoadAggregate(ctx context.Context, period model.Period) (*model.PeriodAggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	agg := &model.PeriodAggregate{}
	if err := s.docs.Load(aggregateDoc(period), agg); err != nil {
		return nil, err
	}
	if agg.Contracts == nil {
		agg.Contracts = make(map[int]*model.ContractAggregate)
	}
	return agg, nil
}

// SaveReports writes one report document per contract. Existing reports that
// are already marked processed keep their marker: regeneration must not
// reopen a billed period.
func (s *Store) SaveReports(ctx context.Context, reports []model.ContractPeriodReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for i := range reports {
		rep := reports[i]
		name := reportDoc(rep.ContractCode, rep.Period)

		s.locks.Lock(name)
		prev := &model.ContractPeriodReport{}
		if err := s.docs.Load(name, prev); err == nil && prev.Processed {
			rep.Processed = true
			rep.ProcessedTimestamp = prev.ProcessedTimestamp
		}
		err := s.docs.Save(name, rep)
		s.locks.Unlock(name)
		if err != nil {
			return err
		}
	}
	slog.Info("reports written", "count", len(reports))
	return nil
}

// LoadReport loads one contract's report for a period.
func (s *Store) LoadReport(ctx context.Context, contractCode int, period model.Period) (*model.ContractPeriodReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rep := &model.ContractPeriodReport{}
	if err := s.docs.Load(reportDoc(contractCode, period), rep); err != nil {
		return nil, err
	}
	return rep, nil
}

// MarkReportProcessed annotates the report document after a successful
// billing dispatch. The sqlite billing ledger is authoritative; the document
// marker exists so exported reports are self-describing.
func (s *Store) MarkReportProcessed(ctx context.Context, contractCode int, period model.Period, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name := reportDoc(contractCode, period)
	s.locks.Lock(name)
	defer s.locks.Unlock(name)

	rep := &model.ContractPeriodReport{}
	if err := s.docs.Load(name, rep); err != nil {
		return err
	}
	rep.Processed = true
	rep.ProcessedTimestamp = &at
	return s.docs.Save(name, rep)
}
