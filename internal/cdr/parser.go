// Package cdr parses legacy fixed-field Call Detail Record files.
//
// A CDR file is a sequence of `;`-delimited lines with exactly 12 positional
// fields, encoded in a legacy single-byte codepage (Windows-1252). Lines that
// do not carry exactly 12 fields are rejected individually; one bad line
// never aborts the file.
package cdr

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/centralino/tariffa/internal/model"
)

// TimestampLayout is the fixed pattern of field 0: YYYY-MM-DD-HH.MM.SS.
const TimestampLayout = "2006-01-02-15.04.05"

// FieldCount is the exact number of `;`-separated fields per line.
const FieldCount = 12

// Positional field indexes within a line.
const (
	fieldTimestamp = iota
	fieldCaller
	fieldCalled
	fieldDuration
	fieldCallType
	fieldOperator
	fieldCost
	fieldContractCode
	fieldServiceCode
	fieldEndClient
	fieldCity
	fieldDialedPrefix
)

// ParseError describes one rejected line with enough context to locate it in
// the source file.
type ParseError struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
	Line   int    `json:"line"`
}

func (e ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Reason)
}

// Parser converts raw CDR text into CallRecords.
type Parser struct{}

// NewParser creates a CDR parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseFile reads one CDR file. Malformed lines are collected as ParseErrors
// and skipped; the returned error is reserved for I/O failures.
func (p *Parser) ParseFile(ctx context.Context, r io.Reader, sourceFile string) ([]model.CallRecord, []ParseError, error) {
	decoded := transform.NewReader(r, charmap.Windows1252.NewDecoder())
	scanner := bufio.NewScanner(decoded)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var records []model.CallRecord
	var errs []ParseError
	lineNo := 0

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		rec, perr := p.parseLine(line, sourceFile, lineNo)
		if perr != nil {
			errs = append(errs, *perr)
			slog.Warn("rejected CDR line",
				"file", sourceFile,
				"line", lineNo,
				"reason", perr.Reason)
			continue
		}
		records = append(records, rec)
	}

	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", sourceFile, err)
	}

	return records, errs, nil
}

// parseLine splits and coerces a single line. Coercion is forgiving for
// numeric fields (defaults to zero) but strict on field count and timestamp.
func (p *Parser) parseLine(line, sourceFile string, lineNo int) (model.CallRecord, *ParseError) {
	fields := strings.Split(line, ";")
	if len(fields) != FieldCount {
		return model.CallRecord{}, &ParseError{
			File:   sourceFile,
			Line:   lineNo,
			Reason: fmt.Sprintf("expected %d fields, got %d", FieldCount, len(fields)),
		}
	}

	ts, err := time.Parse(TimestampLayout, strings.TrimSpace(fields[fieldTimestamp]))
	if err != nil {
		return model.CallRecord{}, &ParseError{
			File:   sourceFile,
			Line:   lineNo,
			Reason: fmt.Sprintf("bad timestamp %q", fields[fieldTimestamp]),
		}
	}

	rec := model.CallRecord{
		Timestamp:      ts,
		CallerNumber:   strings.TrimSpace(fields[fieldCaller]),
		CalledNumber:   strings.TrimSpace(fields[fieldCalled]),
		DurationSec:    parseInt(fields[fieldDuration]),
		CallType:       strings.TrimSpace(fields[fieldCallType]),
		Operator:       strings.TrimSpace(fields[fieldOperator]),
		CostOriginal:   parseCost(fields[fieldCost]),
		ContractCode:   parseInt(fields[fieldContractCode]),
		ServiceCode:    parseInt(fields[fieldServiceCode]),
		EndClientLabel: strings.TrimSpace(fields[fieldEndClient]),
		City:           strings.TrimSpace(fields[fieldCity]),
		DialedPrefix:   strings.TrimSpace(fields[fieldDialedPrefix]),
		SourceFile:     sourceFile,
		LineNumber:     lineNo,
	}
	if rec.DurationSec < 0 {
		rec.DurationSec = 0
	}
	return rec, nil
}

// parseInt coerces an integer field, defaulting to 0 on failure.
func parseInt(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// parseCost coerces a decimal cost field, normalizing the comma decimal
// separator the upstream provider emits. Defaults to zero on failure.
func parseCost(s string) decimal.Decimal {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// BatchPeriod derives the (year, month) bucket for a batch from its first
// parsed record. The upstream provider guarantees single-month files; the
// whole batch is filed under the first record's period.
func BatchPeriod(records []model.CallRecord) (model.Period, error) {
	if len(records) == 0 {
		return model.Period{}, fmt.Errorf("cannot derive period from empty batch")
	}
	return model.PeriodOf(records[0].Timestamp), nil
}
