package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/centralino/tariffa/internal/common"
	"github.com/centralino/tariffa/internal/docstore"
	"github.com/centralino/tariffa/internal/model"
)

func setupReportStore(t *testing.T) *Store {
	t.Helper()
	docs, err := docstore.New(t.TempDir(), 5)
	if err != nil {
		t.Fatalf("docstore.New: %v", err)
	}
	return NewStore(docs, common.NewKeyedLock())
}

func TestStore_AggregateRoundtrip(t *testing.T) {
	store := setupReportStore(t)
	ctx := context.Background()
	period := model.Period{Year: 2024, Month: 3}

	agg := Aggregate(period, []model.CallRecord{
		rec(42, "FISSI", 90, "0.0330"),
	})
	if err := store.SaveAggregate(ctx, agg); err != nil {
		t.Fatalf("SaveAggregate: %v", err)
	}

	got, err := store.LoadAggregate(ctx, period)
	if err != nil {
		t.Fatalf("LoadAggregate: %v", err)
	}
	if got.Period != period {
		t.Errorf("Period = %v", got.Period)
	}
	ca := got.Contracts[42]
	if ca == nil || ca.CallCount != 1 || !ca.CostWithMarkup.Equal(dec("0.033")) {
		t.Errorf("contract 42 = %+v", ca)
	}

	if _, err := store.LoadAggregate(ctx, model.Period{Year: 2023, Month: 1}); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("missing aggregate: err = %v, want ErrNotFound", err)
	}
}

func TestStore_ReportRoundtrip(t *testing.T) {
	store := setupReportStore(t)
	ctx := context.Background()
	period := model.Period{Year: 2024, Month: 3}

	agg := Aggregate(period, []model.CallRecord{
		rec(42, "FISSI", 90, "0.0330"),
		rec(7, "MOBILE", 60, "0.0990"),
	})
	if err := store.SaveReports(ctx, SplitByContract(agg)); err != nil {
		t.Fatalf("SaveReports: %v", err)
	}

	rep, err := store.LoadReport(ctx, 42, period)
	if err != nil {
		t.Fatalf("LoadReport: %v", err)
	}
	if rep.ContractCode != 42 || rep.Processed {
		t.Errorf("report = code %d processed %v", rep.ContractCode, rep.Processed)
	}
	if !rep.Summary.CostWithMarkup.Equal(dec("0.033")) {
		t.Errorf("report cost = %s", rep.Summary.CostWithMarkup)
	}
	if len(rep.ByCallType) != 1 || rep.ByCallType["FISSI"] == nil {
		t.Errorf("report buckets = %+v", rep.ByCallType)
	}
	if len(rep.Calls) != 1 {
		t.Errorf("report carries %d calls, want 1", len(rep.Calls))
	}

	if _, err := store.LoadReport(ctx, 99, period); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("missing report: err = %v, want ErrNotFound", err)
	}
}

func TestStore_RegenerationKeepsProcessedMarker(t *testing.T) {
	store := setupReportStore(t)
	ctx := context.Background()
	period := model.Period{Year: 2024, Month: 3}

	agg := Aggregate(period, []model.CallRecord{rec(42, "FISSI", 90, "0.0330")})
	if err := store.SaveReports(ctx, SplitByContract(agg)); err != nil {
		t.Fatalf("SaveReports: %v", err)
	}

	billedAt := time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)
	if err := store.MarkReportProcessed(ctx, 42, period, billedAt); err != nil {
		t.Fatalf("MarkReportProcessed: %v", err)
	}

	// Regenerating the report with new numbers keeps the marker.
	agg = Aggregate(period, []model.CallRecord{rec(42, "FISSI", 300, "0.1100")})
	if err := store.SaveReports(ctx, SplitByContract(agg)); err != nil {
		t.Fatalf("second SaveReports: %v", err)
	}

	rep, err := store.LoadReport(ctx, 42, period)
	if err != nil {
		t.Fatalf("LoadReport: %v", err)
	}
	if !rep.Processed {
		t.Error("regeneration dropped the processed marker")
	}
	if rep.ProcessedTimestamp == nil || !rep.ProcessedTimestamp.Equal(billedAt) {
		t.Errorf("ProcessedTimestamp = %v, want %v", rep.ProcessedTimestamp, billedAt)
	}
	// The content itself was refreshed.
	if !rep.Summary.CostWithMarkup.Equal(dec("0.11")) {
		t.Errorf("regenerated cost = %s, want 0.11", rep.Summary.CostWithMarkup)
	}
}

func TestStore_MarkReportProcessedMissing(t *testing.T) {
	store := setupReportStore(t)
	err := store.MarkReportProcessed(context.Background(), 42, model.Period{Year: 2024, Month: 3}, time.Now())
	if !errors.Is(err, common.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
