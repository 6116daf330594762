package model

import (
	"testing"
	"time"
)

func TestPeriodString(t *testing.T) {
	tests := []struct {
		name   string
		period Period
		want   string
	}{
		{"month", Period{Year: 2024, Month: 3}, "2024-03"},
		{"december", Period{Year: 2024, Month: 12}, "2024-12"},
		{"year only", Period{Year: 2024}, "2024"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.period.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPeriodValid(t *testing.T) {
	valid := []Period{
		{Year: 2024, Month: 1},
		{Year: 2024, Month: 12},
		{Year: 2024}, // year-only, expands to twelve months downstream
	}
	for _, p := range valid {
		if !p.Valid() {
			t.Errorf("%v reported invalid", p)
		}
	}

	invalid := []Period{
		{},
		{Year: 2024, Month: 13},
		{Year: 1999, Month: 1},
		{Year: 2201, Month: 1},
	}
	for _, p := range invalid {
		if p.Valid() {
			t.Errorf("%v reported valid", p)
		}
	}
}

func TestPeriodOf(t *testing.T) {
	ts := time.Date(2024, 3, 31, 23, 59, 0, 0, time.UTC)
	if got := PeriodOf(ts); got != (Period{Year: 2024, Month: 3}) {
		t.Errorf("PeriodOf = %v", got)
	}
}

func TestCallRecordID(t *testing.T) {
	rec := CallRecord{SourceFile: "march.txt", LineNumber: 42}
	if got := rec.ID(); got != "march.txt:42" {
		t.Errorf("ID() = %q", got)
	}
}

func TestContractBillingReady(t *testing.T) {
	c := &Contract{ContractCode: 42}
	if c.BillingReady() {
		t.Error("bare contract reported ready")
	}
	c.ExternalBillingID = "ERP-0042"
	if c.BillingReady() {
		t.Error("contract without type reported ready")
	}
	c.ContractType = "business"
	if !c.BillingReady() {
		t.Error("curated contract reported not ready")
	}
}
