package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// CheckLedgerSum compares SpentAmount with the sum of the allocation's transactions.
	CheckLedgerSum = "LEDGER_SUM"
	// CheckConservation compares AllocatedAmount with SpentAmount + RemainingAmount.
	CheckConservation = "CONSERVATION"
)

// ReconciliationReport is the outcome of recomputing an allocation's totals from its
// transaction log. It is never used to rewrite the allocation.
type ReconciliationReport struct {
	AllocationID      uuid.UUID       `json:"allocation_id"`
	TenantID          string          `json:"tenant_id"`
	AllocatedAmount   decimal.Decimal `json:"allocated_amount"`
	StoredSpent       decimal.Decimal `json:"stored_spent"`
	StoredRemaining   decimal.Decimal `json:"stored_remaining"`
	LedgerSpent       decimal.Decimal `json:"ledger_spent"`
	LedgerDrift       decimal.Decimal `json:"ledger_drift"`
	ConservationDrift decimal.Decimal `json:"conservation_drift"`
	TransactionCount  int             `json:"transaction_count"`
	CheckedAt         time.Time       `json:"checked_at"`
}

func (r *ReconciliationReport) Healthy() bool {
	return r.LedgerDrift.IsZero() && r.ConservationDrift.IsZero()
}

// ReconciliationAnomaly records one failed check for operators to investigate.
type ReconciliationAnomaly struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID      string          `gorm:"type:varchar(64);index;not null" json:"tenant_id"`
	AllocationID  uuid.UUID       `gorm:"type:char(36);index;not null" json:"allocation_id"`
	CheckType     string          `gorm:"type:varchar(32);index;not null" json:"check_type"`
	StoredValue   decimal.Decimal `gorm:"type:DECIMAL(20,2);not null" json:"stored_value"`
	ComputedValue decimal.Decimal `gorm:"type:DECIMAL(20,2);not null" json:"computed_value"`
	Drift         decimal.Decimal `gorm:"type:DECIMAL(20,2);not null" json:"drift"`
	Details       string          `gorm:"type:text" json:"details"`
	DetectedAt    time.Time       `gorm:"index;not null" json:"detected_at"`
}

func (ReconciliationAnomaly) TableName() string {
	return "reconciliation_anomalies"
}
