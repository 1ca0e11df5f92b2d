package repository

import (
	"context"
	"errors"
	"time"

	"budgetledger/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TransactionFilter narrows ListByAllocation. Zero values disable a filter; From and
// To are inclusive bounds on TransactionDate.
type TransactionFilter struct {
	From     *time.Time
	To       *time.Time
	Category model.TransactionCategory
	Page     int
	PageSize int
}

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

// Normalized fills in paging defaults and caps the page size.
func (f TransactionFilter) Normalized() TransactionFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}
	return f
}

// TransactionRepository stores the append-only debit ledger. Apart from Insert, the
// only write it offers is AnnotateApproval, which cannot reach monetary columns.
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *TransactionRepository) Insert(ctx context.Context, tx *gorm.DB, trans *model.BudgetTransaction) error {
	err := r.conn(tx).WithContext(ctx).Create(trans).Error
	if isDuplicateKey(err) {
		return ErrDuplicateNumber
	}
	return err
}

func (r *TransactionRepository) Get(ctx context.Context, tx *gorm.DB, id uuid.UUID, tenantID string) (*model.BudgetTransaction, error) {
	var trans model.BudgetTransaction
	err := r.conn(tx).WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &trans, nil
}

func (r *TransactionRepository) GetByNumber(ctx context.Context, tenantID, number string) (*model.BudgetTransaction, error) {
	var trans model.BudgetTransaction
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND transaction_number = ?", tenantID, number).
		First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &trans, nil
}

// ListByAllocation returns one page of the allocation's transactions, newest first,
// and the total number of rows matching the filter.
func (r *TransactionRepository) ListByAllocation(ctx context.Context, tenantID string, allocationID uuid.UUID, filter TransactionFilter) ([]*model.BudgetTransaction, int64, error) {
	var transactions []*model.BudgetTransaction
	var total int64

	filter = filter.Normalized()

	query := r.db.WithContext(ctx).
		Model(&model.BudgetTransaction{}).
		Where("tenant_id = ? AND allocation_id = ?", tenantID, allocationID)
	if filter.From != nil {
		query = query.Where("transaction_date >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("transaction_date <= ?", *filter.To)
	}
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("transaction_date DESC").
		Order("created_at DESC").
		Offset((filter.Page - 1) * filter.PageSize).
		Limit(filter.PageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// AnnotateApproval records who approved a transaction. Only the approval columns are
// selected for update. With onlyIfUnapproved set, a transaction that already carries
// an approval is left untouched and ErrAlreadyApproved is returned.
func (r *TransactionRepository) AnnotateApproval(ctx context.Context, tx *gorm.DB, id uuid.UUID, tenantID, approverID string, notes *string, at time.Time, onlyIfUnapproved bool) (*model.BudgetTransaction, error) {
	db := r.conn(tx)

	query := db.WithContext(ctx).
		Model(&model.BudgetTransaction{}).
		Where("id = ? AND tenant_id = ?", id, tenantID)
	if onlyIfUnapproved {
		query = query.Where("approved_at IS NULL")
	}

	result := query.
		Select("approved_by", "approved_at", "approval_notes").
		Updates(map[string]interface{}{
			"approved_by":    approverID,
			"approved_at":    at,
			"approval_notes": notes,
		})
	if result.Error != nil {
		return nil, result.Error
	}

	trans, err := r.Get(ctx, db, id, tenantID)
	if err != nil {
		return nil, err
	}
	// MySQL reports zero affected rows when the written values equal the stored
	// ones, so a missing row is told apart from an unchanged one by reading back.
	if result.RowsAffected == 0 && onlyIfUnapproved {
		return nil, ErrAlreadyApproved
	}
	return trans, nil
}

// AmountsByAllocation returns every committed amount for the allocation so callers
// can sum them with exact decimal arithmetic.
func (r *TransactionRepository) AmountsByAllocation(ctx context.Context, tx *gorm.DB, allocationID uuid.UUID) ([]decimal.Decimal, error) {
	var amounts []decimal.Decimal
	err := r.conn(tx).WithContext(ctx).
		Model(&model.BudgetTransaction{}).
		Where("allocation_id = ?", allocationID).
		Pluck("amount", &amounts).Error
	return amounts, err
}
