package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/centralino/tariffa/internal/model"
)

var testBucket = model.Period{Year: 2024, Month: 3}

func setupStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStorage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return store
}

func testRecord(file string, line int) model.CallRecord {
	return model.CallRecord{
		Timestamp:      time.Date(2024, 3, 5, 10, 15, 30, 0, time.UTC),
		CallerNumber:   "0432123456",
		CalledNumber:   "3331234567",
		CallType:       "URBANA",
		Operator:       "OPITEL",
		EndClientLabel: "ACME SRL",
		City:           "UDINE",
		DialedPrefix:   "0432",
		SourceFile:     file,
		CostOriginal:   decimal.RequireFromString("0.0300"),
		CostWithMarkup: decimal.RequireFromString("0.0330"),
		DurationSec:    90,
		ContractCode:   42,
		ServiceCode:    7,
		LineNumber:     line,
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	store := setupStorage(t)
	// A second run against the same database is a no-op.
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestSaveRecords_Roundtrip(t *testing.T) {
	store := setupStorage(t)
	ctx := context.Background()

	records := []model.CallRecord{
		testRecord("march.txt", 1),
		testRecord("march.txt", 2),
	}
	if err := store.SaveRecords(ctx, testBucket, records); err != nil {
		t.Fatalf("SaveRecords: %v", err)
	}

	got, err := store.GetRecords(ctx, testBucket)
	if err != nil {
		t.Fatalf("GetRecords: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}

	rec := got[0]
	if rec.LineNumber != 1 || rec.SourceFile != "march.txt" {
		t.Errorf("identity = %s:%d", rec.SourceFile, rec.LineNumber)
	}
	if !rec.Timestamp.Equal(records[0].Timestamp) {
		t.Errorf("Timestamp = %v, want %v", rec.Timestamp, records[0].Timestamp)
	}
	if !rec.CostWithMarkup.Equal(decimal.RequireFromString("0.0330")) {
		t.Errorf("CostWithMarkup = %s, want 0.0330", rec.CostWithMarkup)
	}
	if rec.ContractCode != 42 || rec.DurationSec != 90 {
		t.Errorf("contract/duration = %d/%d", rec.ContractCode, rec.DurationSec)
	}
}

func TestSaveRecords_ReplaceOnSameIdentity(t *testing.T) {
	store := setupStorage(t)
	ctx := context.Background()

	rec := testRecord("march.txt", 1)
	if err := store.SaveRecords(ctx, testBucket, []model.CallRecord{rec}); err != nil {
		t.Fatalf("SaveRecords: %v", err)
	}

	// Same (file, line) saved again replaces, never duplicates.
	rec.CostWithMarkup = decimal.RequireFromString("0.0450")
	if err := store.SaveRecords(ctx, testBucket, []model.CallRecord{rec}); err != nil {
		t.Fatalf("second SaveRecords: %v", err)
	}

	count, err := store.CountRecords(ctx, testBucket)
	if err != nil {
		t.Fatalf("CountRecords: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	got, _ := store.GetRecords(ctx, testBucket)
	if !got[0].CostWithMarkup.Equal(decimal.RequireFromString("0.0450")) {
		t.Errorf("replace kept the stale cost %s", got[0].CostWithMarkup)
	}
}

func TestSaveRecords_SameFileNameAcrossBuckets(t *testing.T) {
	store := setupStorage(t)
	ctx := context.Background()

	// Providers reuse drop names like TRAFFICO.TXT every month. The same
	// (file, line) landing in a different bucket is a new record, never a
	// replacement of the earlier month's row.
	if err := store.SaveRecords(ctx, testBucket, []model.CallRecord{testRecord("TRAFFICO.TXT", 1)}); err != nil {
		t.Fatalf("SaveRecords march: %v", err)
	}
	april := model.Period{Year: 2024, Month: 4}
	if err := store.SaveRecords(ctx, april, []model.CallRecord{testRecord("TRAFFICO.TXT", 1)}); err != nil {
		t.Fatalf("SaveRecords april: %v", err)
	}

	marchCount, err := store.CountRecords(ctx, testBucket)
	if err != nil {
		t.Fatalf("CountRecords march: %v", err)
	}
	if marchCount != 1 {
		t.Errorf("march count = %d, want 1 (april ingestion overwrote it)", marchCount)
	}
	aprilCount, err := store.CountRecords(ctx, april)
	if err != nil {
		t.Fatalf("CountRecords april: %v", err)
	}
	if aprilCount != 1 {
		t.Errorf("april count = %d, want 1", aprilCount)
	}
}

func TestGetRecords_BucketIsolation(t *testing.T) {
	store := setupStorage(t)
	ctx := context.Background()

	if err := store.SaveRecords(ctx, testBucket, []model.CallRecord{testRecord("march.txt", 1)}); err != nil {
		t.Fatalf("SaveRecords: %v", err)
	}
	april := model.Period{Year: 2024, Month: 4}
	if err := store.SaveRecords(ctx, april, []model.CallRecord{testRecord("april.txt", 1)}); err != nil {
		t.Fatalf("SaveRecords: %v", err)
	}

	march, _ := store.GetRecords(ctx, testBucket)
	if len(march) != 1 || march[0].SourceFile != "march.txt" {
		t.Errorf("march bucket = %v", march)
	}
}

func TestPurgeBucket(t *testing.T) {
	store := setupStorage(t)
	ctx := context.Background()

	if err := store.SaveRecords(ctx, testBucket, []model.CallRecord{testRecord("march.txt", 1)}); err != nil {
		t.Fatalf("SaveRecords: %v", err)
	}
	if err := store.RecordIngestedFile(ctx, testBucket, IngestedFile{
		FileName:    "march.txt",
		ContentHash: "abc123",
		RecordCount: 1,
	}); err != nil {
		t.Fatalf("RecordIngestedFile: %v", err)
	}

	// An unrelated bucket must survive the purge.
	april := model.Period{Year: 2024, Month: 4}
	if err := store.SaveRecords(ctx, april, []model.CallRecord{testRecord("april.txt", 1)}); err != nil {
		t.Fatalf("SaveRecords: %v", err)
	}

	if err := store.PurgeBucket(ctx, testBucket); err != nil {
		t.Fatalf("PurgeBucket: %v", err)
	}

	count, _ := store.CountRecords(ctx, testBucket)
	if count != 0 {
		t.Errorf("purged bucket still has %d records", count)
	}
	seen, _ := store.IsFileIngested(ctx, testBucket, "abc123")
	if seen {
		t.Error("purged bucket still remembers the file hash")
	}
	aprilCount, _ := store.CountRecords(ctx, april)
	if aprilCount != 1 {
		t.Errorf("purge touched another bucket: %d records", aprilCount)
	}
}

func TestFileLedger(t *testing.T) {
	store := setupStorage(t)
	ctx := context.Background()

	seen, err := store.IsFileIngested(ctx, testBucket, "deadbeef")
	if err != nil {
		t.Fatalf("IsFileIngested: %v", err)
	}
	if seen {
		t.Error("empty ledger reported a hash as seen")
	}

	if err := store.RecordIngestedFile(ctx, testBucket, IngestedFile{
		FileName:    "march.txt",
		ContentHash: "deadbeef",
		RecordCount: 42,
	}); err != nil {
		t.Fatalf("RecordIngestedFile: %v", err)
	}

	seen, _ = store.IsFileIngested(ctx, testBucket, "deadbeef")
	if !seen {
		t.Error("recorded hash not found")
	}

	// The same hash in another bucket is unknown.
	april := model.Period{Year: 2024, Month: 4}
	seen, _ = store.IsFileIngested(ctx, april, "deadbeef")
	if seen {
		t.Error("hash leaked across buckets")
	}

	files, err := store.GetIngestedFiles(ctx, testBucket)
	if err != nil {
		t.Fatalf("GetIngestedFiles: %v", err)
	}
	if len(files) != 1 || files[0].FileName != "march.txt" || files[0].RecordCount != 42 {
		t.Errorf("ledger = %+v", files)
	}
}

func TestBillingLedger(t *testing.T) {
	store := setupStorage(t)
	ctx := context.Background()

	// Missing row reads as pending.
	entry, err := store.GetBillingState(ctx, 42, testBucket)
	if err != nil {
		t.Fatalf("GetBillingState: %v", err)
	}
	if entry.State != BillingPending {
		t.Errorf("missing row state = %q, want pending", entry.State)
	}

	// A dispatch error keeps it pending with the message stored.
	if err := store.RecordBillingError(ctx, 42, testBucket, "erp unreachable"); err != nil {
		t.Fatalf("RecordBillingError: %v", err)
	}
	entry, _ = store.GetBillingState(ctx, 42, testBucket)
	if entry.State != BillingPending || entry.LastError != "erp unreachable" {
		t.Errorf("after error: state=%q lastError=%q", entry.State, entry.LastError)
	}

	// MarkBilled flips the state and clears the error.
	if err := store.MarkBilled(ctx, 42, testBucket, "CHG-001"); err != nil {
		t.Fatalf("MarkBilled: %v", err)
	}
	entry, _ = store.GetBillingState(ctx, 42, testBucket)
	if entry.State != BillingBilled {
		t.Errorf("state = %q, want billed", entry.State)
	}
	if entry.ChargeReference != "CHG-001" {
		t.Errorf("ChargeReference = %q", entry.ChargeReference)
	}
	if entry.LastError != "" {
		t.Errorf("LastError = %q, want cleared", entry.LastError)
	}
	if entry.BilledAt == nil {
		t.Error("BilledAt not set")
	}

	// A late dispatch error cannot demote a billed period.
	if err := store.RecordBillingError(ctx, 42, testBucket, "late failure"); err != nil {
		t.Fatalf("RecordBillingError on billed: %v", err)
	}
	entry, _ = store.GetBillingState(ctx, 42, testBucket)
	if entry.State != BillingBilled || entry.LastError != "" {
		t.Errorf("billed row changed: state=%q lastError=%q", entry.State, entry.LastError)
	}
}

func TestValidation(t *testing.T) {
	store := setupStorage(t)
	ctx := context.Background()

	if _, err := store.GetRecords(nil, testBucket); err == nil { //nolint:staticcheck
		t.Error("nil context accepted")
	}
	if _, err := store.GetRecords(ctx, model.Period{Year: 2024}); err == nil {
		t.Error("year-only period accepted for record query")
	}
	if _, err := store.IsFileIngested(ctx, testBucket, ""); err == nil {
		t.Error("empty hash accepted")
	}
}
