package erp

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// SubmittedCharge records one call the mock received.
type SubmittedCharge struct {
	ContractReference string
	Description       string
	Amount            decimal.Decimal
}

// MockBiller is an in-memory Biller for tests and dry runs.
type MockBiller struct {
	mu      sync.Mutex
	charges []SubmittedCharge

	// FailWith, when set, makes every SubmitCharge return this error.
	FailWith error
}

// NewMockBiller creates a mock that accepts every charge.
func NewMockBiller() *MockBiller {
	return &MockBiller{}
}

// SubmitCharge records the charge and returns a synthetic reference.
func (m *MockBiller) SubmitCharge(_ context.Context, contractReference string, amount decimal.Decimal, description string) (ChargeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return ChargeResult{Success: false, Message: m.FailWith.Error()}, m.FailWith
	}

	m.charges = append(m.charges, SubmittedCharge{
		ContractReference: contractReference,
		Amount:            amount,
		Description:       description,
	})
	return ChargeResult{
		Success:     true,
		Message:     "charge created",
		ReferenceID: fmt.Sprintf("MOCK-%04d", len(m.charges)),
	}, nil
}

// Charges returns a copy of everything submitted so far.
func (m *MockBiller) Charges() []SubmittedCharge {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SubmittedCharge, len(m.charges))
	copy(out, m.charges)
	return out
}
