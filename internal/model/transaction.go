package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ============================================================================
// Transaction categories
// ============================================================================

type TransactionCategory string

const (
	CategoryProcurement  TransactionCategory = "PROCUREMENT"
	CategoryProduction   TransactionCategory = "PRODUCTION"
	CategoryDistribution TransactionCategory = "DISTRIBUTION"
	CategoryAdjustment   TransactionCategory = "ADJUSTMENT"
)

func (c TransactionCategory) Valid() bool {
	switch c {
	case CategoryProcurement, CategoryProduction, CategoryDistribution, CategoryAdjustment:
		return true
	}
	return false
}

// ActivityKind names the kind of real-world activity a debit was caused by.
// The zero value means the debit is not linked to any activity.
type ActivityKind string

const (
	ActivityNone         ActivityKind = ""
	ActivityProcurement  ActivityKind = "PROCUREMENT"
	ActivityProduction   ActivityKind = "PRODUCTION"
	ActivityDistribution ActivityKind = "DISTRIBUTION"
)

// ActivityRef points at no more than one external activity record. Kind and RecordID are
// either both empty or both set.
type ActivityRef struct {
	Kind     ActivityKind `gorm:"<-:create;type:varchar(16);not null" json:"kind,omitempty"`
	RecordID string       `gorm:"<-:create;type:varchar(64);not null;index" json:"record_id,omitempty"`
}

func (r ActivityRef) IsZero() bool {
	return r.Kind == ActivityNone && r.RecordID == ""
}

func (r ActivityRef) Valid() bool {
	switch r.Kind {
	case ActivityNone:
		return r.RecordID == ""
	case ActivityProcurement, ActivityProduction, ActivityDistribution:
		return r.RecordID != ""
	}
	return false
}

var (
	ErrTransactionImmutable    = errors.New("committed transactions only accept approval annotations")
	ErrTransactionNotDeletable = errors.New("budget transactions are never deleted")
)

// ============================================================================
// Budget transaction entity
// ============================================================================

// BudgetTransaction is one committed debit against one allocation.
//
// [Ledger rules]
// 1. Append only. Rows are never deleted and only the approval columns change.
// 2. The identity columns are create-only, so even a hook-free Save leaves them alone.
// 3. The transaction number is unique per tenant and is what reconciliation reports.
type BudgetTransaction struct {
	ID                uuid.UUID           `gorm:"type:char(36);primaryKey" json:"id"`
	TenantID          string              `gorm:"<-:create;type:varchar(64);not null;uniqueIndex:idx_transaction_number,priority:1" json:"tenant_id"`
	AllocationID      uuid.UUID           `gorm:"<-:create;type:char(36);not null;index" json:"allocation_id"`
	Allocation        *BudgetAllocation   `gorm:"foreignKey:AllocationID;constraint:OnUpdate:RESTRICT,OnDelete:RESTRICT" json:"-"`
	TransactionNumber string              `gorm:"<-:create;type:varchar(64);not null;uniqueIndex:idx_transaction_number,priority:2" json:"transaction_number"`
	Amount            decimal.Decimal     `gorm:"<-:create;type:DECIMAL(20,2);not null;check:chk_budget_transactions_amount_positive,amount > 0" json:"amount"`
	Category          TransactionCategory `gorm:"<-:create;type:varchar(16);index;not null" json:"category"`
	Activity          ActivityRef         `gorm:"embedded;embeddedPrefix:activity_" json:"activity"`
	TransactionDate   time.Time           `gorm:"<-:create;index;not null" json:"transaction_date"`
	Description       string              `gorm:"<-:create;type:varchar(512)" json:"description"`
	ReceiptNumber     string              `gorm:"<-:create;type:varchar(64)" json:"receipt_number"`
	ApprovedBy        *string             `gorm:"type:varchar(64)" json:"approved_by"`
	ApprovedAt        *time.Time          `json:"approved_at"`
	ApprovalNotes     *string             `gorm:"type:text" json:"approval_notes"`
	CreatedBy         string              `gorm:"<-:create;type:varchar(64);not null" json:"created_by"`
	CreatedAt         time.Time           `gorm:"autoCreateTime;index" json:"created_at"`
}

func (BudgetTransaction) TableName() string {
	return "budget_transactions"
}

func (t *BudgetTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

func (t *BudgetTransaction) BeforeUpdate(tx *gorm.DB) error {
	if writesAny(tx, "tenant_id", "allocation_id", "transaction_number", "amount", "category",
		"activity_kind", "activity_record_id", "transaction_date", "description", "receipt_number",
		"created_by", "created_at") {
		return ErrTransactionImmutable
	}
	return nil
}

func (t *BudgetTransaction) BeforeDelete(tx *gorm.DB) error {
	return ErrTransactionNotDeletable
}

func (t *BudgetTransaction) Approved() bool {
	return t.ApprovedAt != nil
}
