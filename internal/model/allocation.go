package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type AllocationStatus string

const (
	AllocationStatusDraft  AllocationStatus = "DRAFT"
	AllocationStatusActive AllocationStatus = "ACTIVE"
	AllocationStatusFrozen AllocationStatus = "FROZEN"
	AllocationStatusClosed AllocationStatus = "CLOSED"
)

// ValidStatusTransitions lists the administrative moves an allocation may make.
// CLOSED has no entry and is therefore terminal.
var ValidStatusTransitions = map[AllocationStatus][]AllocationStatus{
	AllocationStatusDraft:  {AllocationStatusActive, AllocationStatusClosed},
	AllocationStatusActive: {AllocationStatusFrozen, AllocationStatusClosed},
	AllocationStatusFrozen: {AllocationStatusActive, AllocationStatusClosed},
}

func CanTransitionTo(current, target AllocationStatus) bool {
	for _, s := range ValidStatusTransitions[current] {
		if s == target {
			return true
		}
	}
	return false
}

type FundingSource string

const (
	FundingSourceCentralGovernment  FundingSource = "CENTRAL_GOVERNMENT"
	FundingSourceRegionalGovernment FundingSource = "REGIONAL_GOVERNMENT"
	FundingSourceGrant              FundingSource = "GRANT"
	FundingSourceOther              FundingSource = "OTHER"
)

func (s FundingSource) Valid() bool {
	switch s {
	case FundingSourceCentralGovernment, FundingSourceRegionalGovernment, FundingSourceGrant, FundingSourceOther:
		return true
	}
	return false
}

var (
	ErrAllocationFieldImmutable = errors.New("allocated amount and allocation identity are immutable")
	ErrAllocationNotDeletable   = errors.New("budget allocations are never deleted")
)

// BudgetAllocation is one pool of money granted to a program for a fiscal year
// from a single funding source.
//
// AllocatedAmount = SpentAmount + RemainingAmount must hold after every write.
// SpentAmount and RemainingAmount are only written by the debit path.
type BudgetAllocation struct {
	ID              uuid.UUID        `gorm:"type:char(36);primaryKey" json:"id"`
	TenantID        string           `gorm:"<-:create;type:varchar(64);not null;uniqueIndex:idx_allocation_scope,priority:1" json:"tenant_id"`
	ProgramID       string           `gorm:"<-:create;type:varchar(64);not null;uniqueIndex:idx_allocation_scope,priority:2" json:"program_id"`
	FiscalYear      int              `gorm:"<-:create;not null;uniqueIndex:idx_allocation_scope,priority:3" json:"fiscal_year"`
	Source          FundingSource    `gorm:"<-:create;type:varchar(32);not null;uniqueIndex:idx_allocation_scope,priority:4" json:"source"`
	AllocatedAmount decimal.Decimal  `gorm:"<-:create;type:DECIMAL(20,2);not null" json:"allocated_amount"`
	SpentAmount     decimal.Decimal  `gorm:"type:DECIMAL(20,2);not null;default:0" json:"spent_amount"`
	RemainingAmount decimal.Decimal  `gorm:"type:DECIMAL(20,2);not null" json:"remaining_amount"`
	Status          AllocationStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	StatusReason    string           `gorm:"type:varchar(256)" json:"status_reason,omitempty"`
	LastSpentAt     *time.Time       `json:"last_spent_at"`
	Version         int              `gorm:"not null;default:0" json:"version"`
	CreatedBy       string           `gorm:"<-:create;type:varchar(64)" json:"created_by"`
	CreatedAt       time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (BudgetAllocation) TableName() string {
	return "budget_allocations"
}

func (a *BudgetAllocation) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (a *BudgetAllocation) BeforeUpdate(tx *gorm.DB) error {
	if writesAny(tx, "tenant_id", "program_id", "fiscal_year", "source", "allocated_amount", "created_by") {
		return ErrAllocationFieldImmutable
	}
	return nil
}

func (a *BudgetAllocation) BeforeDelete(tx *gorm.DB) error {
	return ErrAllocationNotDeletable
}

// Balanced reports whether the stored triple reconciles.
func (a *BudgetAllocation) Balanced() bool {
	return a.AllocatedAmount.Equal(a.SpentAmount.Add(a.RemainingAmount))
}

// CanDebit reports whether amount may be drawn from the allocation as it is now.
func (a *BudgetAllocation) CanDebit(amount decimal.Decimal) bool {
	return a.Status == AllocationStatusActive && a.RemainingAmount.GreaterThanOrEqual(amount)
}
