// Package registry maintains the durable contract catalog discovered from
// the call stream.
//
// The merge policy is the core invariant: curated fields are operator-owned
// and only ever populated by discovery when previously empty; discovered
// fields accumulate (set unions, running counters) and are never reset
// outside an explicit full reprocess.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/centralino/tariffa/internal/common"
	"github.com/centralino/tariffa/internal/docstore"
	"github.com/centralino/tariffa/internal/model"
)

const registryDoc = "contracts.json"

// Document is the on-disk registry shape.
type Document struct {
	Contracts      map[string]*model.Contract `json:"contracts"`
	LastExtraction *ExtractionSummary         `json:"last_extraction,omitempty"`
	Metadata       Metadata                   `json:"metadata"`
}

// Metadata describes the registry document itself.
type Metadata struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// ExtractionSummary records what the most recent merge run did.
type ExtractionSummary struct {
	RunAt            time.Time `json:"run_at"`
	SourceFiles      []string  `json:"source_files"`
	ContractsSeen    int       `json:"contracts_seen"`
	ContractsCreated int       `json:"contracts_created"`
	CallsDiscovered  int       `json:"calls_discovered"`
}

// Registry loads, merges, and persists the contract catalog.
type Registry struct {
	docs  *docstore.Store
	locks *common.KeyedLock
}

// New creates a registry over the given document store.
func New(docs *docstore.Store, locks *common.KeyedLock) *Registry {
	return &Registry{docs: docs, locks: locks}
}

// Discover groups a record batch by contract code and computes the facts one
// ingestion learned about each contract.
func Discover(records []model.CallRecord) map[int]*model.DiscoveredFacts {
	facts := make(map[int]*model.DiscoveredFacts)
	for _, rec := range records {
		f, ok := facts[rec.ContractCode]
		if !ok {
			f = &model.DiscoveredFacts{
				ContractCode:  rec.ContractCode,
				FirstSeen:     rec.Timestamp,
				LastSeen:      rec.Timestamp,
				FirstSeenFile: rec.SourceFile,
				LastSeenFile:  rec.SourceFile,
			}
			facts[rec.ContractCode] = f
		}

		f.CallCount++
		if rec.Timestamp.Before(f.FirstSeen) {
			f.FirstSeen = rec.Timestamp
			f.FirstSeenFile = rec.SourceFile
		}
		if !rec.Timestamp.Before(f.LastSeen) {
			f.LastSeen = rec.Timestamp
			f.LastSeenFile = rec.SourceFile
		}
		f.PhoneNumbers = appendUnique(f.PhoneNumbers, rec.CallerNumber)
		f.Files = appendUnique(f.Files, rec.SourceFile)
		if f.EndClientLabel == "" && rec.EndClientLabel != "" {
			f.EndClientLabel = rec.EndClientLabel
		}
	}
	return facts
}

// MergeInto applies one batch's discovered facts to the persisted registry.
// A malformed existing document fails closed: nothing is merged or written.
func (r *Registry) MergeInto(ctx context.Context, facts map[int]*model.DiscoveredFacts) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.locks.Lock(registryDoc)
	defer r.locks.Unlock(registryDoc)

	doc, err := r.loadLocked()
	if err != nil {
		return err
	}

	created := 0
	calls := 0
	fileSet := map[string]bool{}
	for code, f := range facts {
		calls += f.CallCount
		for _, file := range f.Files {
			fileSet[file] = true
		}

		key := contractKey(code)
		existing, ok := doc.Contracts[key]
		if !ok {
			doc.Contracts[key] = newContract(f)
			created++
			continue
		}
		mergeFacts(existing, f)
	}

	doc.Metadata.UpdatedAt = time.Now()
	doc.LastExtraction = &ExtractionSummary{
		RunAt:            time.Now(),
		SourceFiles:      sortedKeys(fileSet),
		ContractsSeen:    len(facts),
		ContractsCreated: created,
		CallsDiscovered:  calls,
	}

	if err := r.docs.Save(registryDoc, doc); err != nil {
		return err
	}

	slog.Info("contract registry merged",
		"contracts_seen", len(facts),
		"contracts_created", created,
		"calls_discovered", calls)
	return nil
}

// All returns every contract, ordered by contract code.
func (r *Registry) All(ctx context.Context) ([]*model.Contract, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.locks.Lock(registryDoc)
	defer r.locks.Unlock(registryDoc)

	doc, err := r.loadLocked()
	if err != nil {
		return nil, err
	}

	contracts := make([]*model.Contract, 0, len(doc.Contracts))
	for _, c := range doc.Contracts {
		contracts = append(contracts, c)
	}
	sort.Slice(contracts, func(i, j int) bool {
		return contracts[i].ContractCode < contracts[j].ContractCode
	})
	return contracts, nil
}

// Get returns one contract by code, or common.ErrNotFound.
func (r *Registry) Get(ctx context.Context, code int) (*model.Contract, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.locks.Lock(registryDoc)
	defer r.locks.Unlock(registryDoc)

	doc, err := r.loadLocked()
	if err != nil {
		return nil, err
	}
	c, ok := doc.Contracts[contractKey(code)]
	if !ok {
		return nil, fmt.Errorf("%w: contract %d", common.ErrNotFound, code)
	}
	return c, nil
}

// CuratedUpdate is the operator-editable field set. Nil pointers leave the
// field untouched; empty strings clear it, which only an operator may do.
type CuratedUpdate struct {
	DisplayName       *string
	ExternalBillingID *string
	ContractType      *string
	PaymentTerm       *string
	Notes             *string
}

// SetCurated applies an operator edit to a contract's curated fields.
func (r *Registry) SetCurated(ctx context.Context, code int, upd CuratedUpdate) (*model.Contract, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.locks.Lock(registryDoc)
	defer r.locks.Unlock(registryDoc)

	doc, err := r.loadLocked()
	if err != nil {
		return nil, err
	}
	c, ok := doc.Contracts[contractKey(code)]
	if !ok {
		return nil, fmt.Errorf("%w: contract %d", common.ErrNotFound, code)
	}

	if upd.DisplayName != nil {
		c.DisplayName = *upd.DisplayName
	}
	if upd.ExternalBillingID != nil {
		c.ExternalBillingID = *upd.ExternalBillingID
	}
	if upd.ContractType != nil {
		c.ContractType = *upd.ContractType
	}
	if upd.PaymentTerm != nil {
		c.PaymentTerm = *upd.PaymentTerm
	}
	if upd.Notes != nil {
		c.Notes = *upd.Notes
	}

	doc.Metadata.UpdatedAt = time.Now()
	if err := r.docs.Save(registryDoc, doc); err != nil {
		return nil, err
	}

	slog.Info("contract curated fields updated", "contract_code", code)
	return c, nil
}

// loadLocked reads the registry document, returning an empty document when
// none exists yet and failing closed on corruption.
func (r *Registry) loadLocked() (*Document, error) {
	doc := &Document{Contracts: make(map[string]*model.Contract)}
	err := r.docs.Load(registryDoc, doc)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			now := time.Now()
			doc.Metadata = Metadata{CreatedAt: now, UpdatedAt: now, Version: 1}
			return doc, nil
		}
		// Corrupt registry: abort rather than risk dropping contracts.
		return nil, err
	}
	if doc.Contracts == nil {
		doc.Contracts = make(map[string]*model.Contract)
	}
	return doc, nil
}

// mergeFacts folds one batch's facts into an existing contract under the
// additive-only policy.
func mergeFacts(c *model.Contract, f *model.DiscoveredFacts) {
	// Curated fields: populate only when previously empty.
	if c.DisplayName == "" && f.EndClientLabel != "" {
		c.DisplayName = f.EndClientLabel
	}

	// Discovered fields: accumulate.
	c.TotalCalls += f.CallCount
	for _, n := range f.PhoneNumbers {
		c.PhoneNumbers = appendUnique(c.PhoneNumbers, n)
	}
	for _, file := range f.Files {
		c.FilesFoundIn = appendUnique(c.FilesFoundIn, file)
	}
	if c.EndClientLabel == "" {
		c.EndClientLabel = f.EndClientLabel
	}
	if c.FirstSeenDate == nil || f.FirstSeen.Before(*c.FirstSeenDate) {
		t := f.FirstSeen
		c.FirstSeenDate = &t
		c.FirstSeenFile = f.FirstSeenFile
	}
	if c.LastSeenDate == nil || !f.LastSeen.Before(*c.LastSeenDate) {
		t := f.LastSeen
		c.LastSeenDate = &t
		c.LastSeenFile = f.LastSeenFile
	}
}

// newContract inserts a brand-new contract wholesale from one batch's facts.
func newContract(f *model.DiscoveredFacts) *model.Contract {
	first := f.FirstSeen
	last := f.LastSeen
	return &model.Contract{
		DisplayName:    f.EndClientLabel,
		EndClientLabel: f.EndClientLabel,
		FirstSeenFile:  f.FirstSeenFile,
		LastSeenFile:   f.LastSeenFile,
		FirstSeenDate:  &first,
		LastSeenDate:   &last,
		FilesFoundIn:   append([]string(nil), f.Files...),
		PhoneNumbers:   append([]string(nil), f.PhoneNumbers...),
		ContractCode:   f.ContractCode,
		TotalCalls:     f.CallCount,
	}
}

func contractKey(code int) string {
	return fmt.Sprintf("%d", code)
}

func appendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
