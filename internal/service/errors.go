package service

import (
	"context"
	"errors"

	"budgetledger/internal/repository"
)

// Input errors. They are returned before any state is read or written.
var (
	ErrInvalidAmount      = errors.New("amount must be positive with at most two decimal places")
	ErrInvalidActivityRef = errors.New("a transaction references at most one activity")
	ErrInvalidCategory    = errors.New("unknown transaction category")
	ErrInvalidApprover    = errors.New("approver is required")
	ErrInvalidTenant      = errors.New("tenant is required")
	ErrReasonRequired     = errors.New("a reason is required")
)

// ErrLedgerBusy is returned when the allocation lock or the atomic unit could not
// complete before its deadline. Nothing was committed and the request may be retried.
var ErrLedgerBusy = errors.New("ledger busy, retry later")

// Repository errors surfaced unchanged to callers of this package.
var (
	ErrAllocationNotFound      = repository.ErrAllocationNotFound
	ErrAllocationExists        = repository.ErrAllocationExists
	ErrAllocationNotActive     = repository.ErrAllocationNotActive
	ErrAllocationImbalanced    = repository.ErrAllocationImbalanced
	ErrInvalidStatusTransition = repository.ErrInvalidStatusTransition
	ErrInsufficientFunds       = repository.ErrInsufficientFunds
	ErrConcurrentUpdate        = repository.ErrConcurrentUpdate
	ErrTransactionNotFound     = repository.ErrTransactionNotFound
	ErrDuplicateNumber         = repository.ErrDuplicateNumber
	ErrAlreadyApproved         = repository.ErrAlreadyApproved
)

// InsufficientFundsError carries the requested and available amounts of a rejected
// debit.
type InsufficientFundsError = repository.InsufficientFundsError

// IsRetryable reports whether err is a transient conflict: the same request may
// succeed if submitted again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLedgerBusy) ||
		errors.Is(err, ErrDuplicateNumber) ||
		errors.Is(err, ErrConcurrentUpdate)
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
