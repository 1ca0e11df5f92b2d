package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrAllocationNotFound      = errors.New("allocation not found")
	ErrAllocationExists        = errors.New("an allocation already exists for this program, fiscal year and source")
	ErrAllocationNotActive     = errors.New("allocation is not active")
	ErrAllocationImbalanced    = errors.New("allocation totals do not reconcile")
	ErrInvalidStatusTransition = errors.New("allocation status transition not allowed")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrConcurrentUpdate        = errors.New("allocation was modified concurrently")

	ErrTransactionNotFound = errors.New("transaction not found")
	ErrDuplicateNumber     = errors.New("transaction number already exists")
	ErrAlreadyApproved     = errors.New("transaction already approved")
)

// InsufficientFundsError carries the numbers behind a rejected debit so callers can
// show exactly what was asked for and what was left.
type InsufficientFundsError struct {
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: requested %s, available %s", e.Requested.String(), e.Available.String())
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// isDuplicateKey recognises unique-constraint violations from every supported driver.
// gorm's TranslateError covers most cases; the message checks catch drivers or
// versions that do not translate.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "duplicate key value")
}
