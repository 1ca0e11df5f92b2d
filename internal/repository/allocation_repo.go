package repository

import (
	"context"
	"errors"
	"time"

	"budgetledger/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AllocationRepository struct {
	db *gorm.DB
}

func NewAllocationRepository(db *gorm.DB) *AllocationRepository {
	return &AllocationRepository{db: db}
}

func (r *AllocationRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *AllocationRepository) Create(ctx context.Context, tx *gorm.DB, allocation *model.BudgetAllocation) error {
	err := r.conn(tx).WithContext(ctx).Create(allocation).Error
	if isDuplicateKey(err) {
		return ErrAllocationExists
	}
	return err
}

// Get returns the allocation only when it belongs to tenantID. A missing row and a
// row owned by another tenant produce the same ErrAllocationNotFound.
func (r *AllocationRepository) Get(ctx context.Context, id uuid.UUID, tenantID string) (*model.BudgetAllocation, error) {
	var allocation model.BudgetAllocation
	err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&allocation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAllocationNotFound
		}
		return nil, err
	}
	return &allocation, nil
}

// Find loads an allocation regardless of tenant. Only out-of-band tooling such as the
// reconciliation sweep uses it.
func (r *AllocationRepository) Find(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.BudgetAllocation, error) {
	var allocation model.BudgetAllocation
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&allocation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAllocationNotFound
		}
		return nil, err
	}
	return &allocation, nil
}

// GetForUpdate loads the allocation inside tx and holds its row lock until tx ends.
func (r *AllocationRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID, tenantID string) (*model.BudgetAllocation, error) {
	return r.selectForUpdate(ctx, tx, "id = ? AND tenant_id = ?", id, tenantID)
}

// FindForUpdate is GetForUpdate without the tenant scope, for reconciliation.
func (r *AllocationRepository) FindForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.BudgetAllocation, error) {
	return r.selectForUpdate(ctx, tx, "id = ?", id)
}

func (r *AllocationRepository) selectForUpdate(ctx context.Context, tx *gorm.DB, cond string, args ...interface{}) (*model.BudgetAllocation, error) {
	query := tx.WithContext(ctx)
	if lockingSupported(tx) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var allocation model.BudgetAllocation
	err := query.Where(cond, args...).First(&allocation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAllocationNotFound
		}
		return nil, err
	}
	return &allocation, nil
}

// ApplyDebit moves amount from remaining to spent on an allocation previously loaded
// with GetForUpdate in the same tx.
//
// Status, balance and the conservation invariant are checked against the locked row,
// and the UPDATE itself is guarded by status and version, so a write based on a
// stale read affects no rows and is diagnosed instead of applied.
func (r *AllocationRepository) ApplyDebit(ctx context.Context, tx *gorm.DB, locked *model.BudgetAllocation, amount decimal.Decimal, at time.Time) (*model.BudgetAllocation, error) {
	if locked.Status != model.AllocationStatusActive {
		return nil, ErrAllocationNotActive
	}
	if !locked.Balanced() {
		return nil, ErrAllocationImbalanced
	}
	if locked.RemainingAmount.LessThan(amount) {
		return nil, &InsufficientFundsError{Requested: amount, Available: locked.RemainingAmount}
	}

	spent := locked.SpentAmount.Add(amount)
	remaining := locked.RemainingAmount.Sub(amount)

	result := tx.WithContext(ctx).
		Model(&model.BudgetAllocation{}).
		Where("id = ? AND status = ? AND version = ?", locked.ID, model.AllocationStatusActive, locked.Version).
		Updates(map[string]interface{}{
			"spent_amount":     spent,
			"remaining_amount": remaining,
			"last_spent_at":    at,
			"version":          gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return nil, result.Error
	}

	if result.RowsAffected == 0 {
		current, err := r.Find(ctx, tx, locked.ID)
		if err != nil {
			return nil, err
		}
		if current.Status != model.AllocationStatusActive {
			return nil, ErrAllocationNotActive
		}
		if current.RemainingAmount.LessThan(amount) {
			return nil, &InsufficientFundsError{Requested: amount, Available: current.RemainingAmount}
		}
		return nil, ErrConcurrentUpdate
	}

	updated := *locked
	updated.SpentAmount = spent
	updated.RemainingAmount = remaining
	updated.LastSpentAt = &at
	updated.Version = locked.Version + 1
	return &updated, nil
}

// UpdateStatus moves current to status to, guarded by the transition table and by the
// status the caller observed.
func (r *AllocationRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, current *model.BudgetAllocation, to model.AllocationStatus, reason string) (*model.BudgetAllocation, error) {
	if !model.CanTransitionTo(current.Status, to) {
		return nil, ErrInvalidStatusTransition
	}

	result := r.conn(tx).WithContext(ctx).
		Model(&model.BudgetAllocation{}).
		Where("id = ? AND status = ? AND version = ?", current.ID, current.Status, current.Version).
		Updates(map[string]interface{}{
			"status":        to,
			"status_reason": reason,
			"version":       gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrConcurrentUpdate
	}

	updated := *current
	updated.Status = to
	updated.StatusReason = reason
	updated.Version = current.Version + 1
	return &updated, nil
}

func (r *AllocationRepository) ListByTenant(ctx context.Context, tenantID string, fiscalYear int) ([]*model.BudgetAllocation, error) {
	var allocations []*model.BudgetAllocation

	query := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if fiscalYear > 0 {
		query = query.Where("fiscal_year = ?", fiscalYear)
	}

	err := query.
		Order("fiscal_year DESC").
		Order("program_id ASC").
		Order("source ASC").
		Find(&allocations).Error
	return allocations, err
}

// ListIDs returns every allocation id, optionally excluding one status. Used by the
// reconciliation sweep.
func (r *AllocationRepository) ListIDs(ctx context.Context, excludeStatus model.AllocationStatus) ([]uuid.UUID, error) {
	var ids []uuid.UUID

	query := r.db.WithContext(ctx).Model(&model.BudgetAllocation{})
	if excludeStatus != "" {
		query = query.Where("status <> ?", excludeStatus)
	}

	err := query.Order("created_at ASC").Pluck("id", &ids).Error
	return ids, err
}
