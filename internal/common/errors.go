// Package common provides shared utilities and types used across the application.
package common

import (
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Storage errors.
	ErrNotFound          = errors.New("not found")
	ErrDuplicateEntry    = errors.New("duplicate entry")
	ErrDocumentCorrupted = errors.New("document corrupted")

	// Ingestion errors.
	ErrFileUnreadable  = errors.New("file unreadable")
	ErrNoRecords       = errors.New("no records in batch")
	ErrPeriodUnderived = errors.New("could not derive period from batch")

	// Classification errors.
	ErrCategoryExists    = errors.New("category already exists")
	ErrCategoryProtected = errors.New("category is protected")
	ErrInvalidPrice      = errors.New("price must not be negative")
	ErrInvalidMarkup     = errors.New("markup percent out of range")
	ErrNoPatterns        = errors.New("pattern list cannot be empty")

	// Billing errors.
	ErrAlreadyBilled    = errors.New("period already billed")
	ErrNothingToBill    = errors.New("nothing to bill")
	ErrBillingDispatch  = errors.New("billing dispatch failed")
	ErrContractNotReady = errors.New("contract missing billing metadata")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the operator with
// enough context to locate the source data.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}
