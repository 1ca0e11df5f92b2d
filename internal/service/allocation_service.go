package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"budgetledger/internal/config"
	"budgetledger/internal/model"
	"budgetledger/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AllocationService is the governance surface: creating allocations and moving them
// through DRAFT, ACTIVE, FROZEN and CLOSED. It never writes spent or remaining.
type AllocationService struct {
	db              *gorm.DB
	cfg             *config.LedgerConfig
	validate        *validator.Validate
	allocationRepo  *repository.AllocationRepository
	transactionRepo *repository.TransactionRepository
	events          *eventWriter
	now             func() time.Time
}

func NewAllocationService(db *gorm.DB, cfg *config.Config) *AllocationService {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("funding_source", func(fl validator.FieldLevel) bool {
		return model.FundingSource(fl.Field().String()).Valid()
	})

	return &AllocationService{
		db:              db,
		cfg:             &cfg.Ledger,
		validate:        v,
		allocationRepo:  repository.NewAllocationRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		events: &eventWriter{
			outboxRepo: repository.NewOutboxRepository(db),
			topic:      cfg.Kafka.Topic.LedgerEvents,
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

type CreateAllocationRequest struct {
	TenantID        string          `validate:"required,max=64"`
	ProgramID       string          `validate:"required,max=64"`
	FiscalYear      int             `validate:"required,gte=2000,lte=2100"`
	Source          string          `validate:"required,funding_source"`
	AllocatedAmount decimal.Decimal `validate:"-"`
	CreatedBy       string          `validate:"max=64"`
}

// Summary is the read model of an allocation's balance.
type Summary struct {
	AllocationID    uuid.UUID              `json:"allocation_id"`
	ProgramID       string                 `json:"program_id"`
	FiscalYear      int                    `json:"fiscal_year"`
	Source          model.FundingSource    `json:"source"`
	AllocatedAmount decimal.Decimal        `json:"allocated_amount"`
	SpentAmount     decimal.Decimal        `json:"spent_amount"`
	RemainingAmount decimal.Decimal        `json:"remaining_amount"`
	Status          model.AllocationStatus `json:"status"`
	StatusReason    string                 `json:"status_reason,omitempty"`
	LastSpentAt     *time.Time             `json:"last_spent_at"`
}

func summaryOf(a *model.BudgetAllocation) *Summary {
	return &Summary{
		AllocationID:    a.ID,
		ProgramID:       a.ProgramID,
		FiscalYear:      a.FiscalYear,
		Source:          a.Source,
		AllocatedAmount: a.AllocatedAmount,
		SpentAmount:     a.SpentAmount,
		RemainingAmount: a.RemainingAmount,
		Status:          a.Status,
		StatusReason:    a.StatusReason,
		LastSpentAt:     a.LastSpentAt,
	}
}

// Create registers a new allocation in DRAFT with nothing spent.
func (s *AllocationService) Create(ctx context.Context, req *CreateAllocationRequest) (*model.BudgetAllocation, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	if err := validateAmount(req.AllocatedAmount); err != nil {
		return nil, err
	}

	allocation := &model.BudgetAllocation{
		TenantID:        req.TenantID,
		ProgramID:       req.ProgramID,
		FiscalYear:      req.FiscalYear,
		Source:          model.FundingSource(req.Source),
		AllocatedAmount: req.AllocatedAmount,
		SpentAmount:     decimal.Zero,
		RemainingAmount: req.AllocatedAmount,
		Status:          model.AllocationStatusDraft,
		CreatedBy:       req.CreatedBy,
	}
	if err := s.allocationRepo.Create(ctx, nil, allocation); err != nil {
		return nil, err
	}

	log.Info().
		Str("tenant_id", allocation.TenantID).
		Str("allocation_id", allocation.ID.String()).
		Str("program_id", allocation.ProgramID).
		Int("fiscal_year", allocation.FiscalYear).
		Str("allocated_amount", allocation.AllocatedAmount.StringFixed(2)).
		Msg("allocation created")
	return allocation, nil
}

func (s *AllocationService) Activate(ctx context.Context, tenantID string, id uuid.UUID, actor string) (*model.BudgetAllocation, error) {
	return s.transition(ctx, tenantID, id, model.AllocationStatusDraft, model.AllocationStatusActive, "", actor)
}

// Freeze stops new debits until Unfreeze. A reason is mandatory.
func (s *AllocationService) Freeze(ctx context.Context, tenantID string, id uuid.UUID, reason, actor string) (*model.BudgetAllocation, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}
	return s.transition(ctx, tenantID, id, model.AllocationStatusActive, model.AllocationStatusFrozen, reason, actor)
}

func (s *AllocationService) Unfreeze(ctx context.Context, tenantID string, id uuid.UUID, actor string) (*model.BudgetAllocation, error) {
	return s.transition(ctx, tenantID, id, model.AllocationStatusFrozen, model.AllocationStatusActive, "", actor)
}

// Close is terminal. Remaining funds stay recorded but can no longer be debited.
func (s *AllocationService) Close(ctx context.Context, tenantID string, id uuid.UUID, reason, actor string) (*model.BudgetAllocation, error) {
	return s.transition(ctx, tenantID, id, "", model.AllocationStatusClosed, strings.TrimSpace(reason), actor)
}

// transition moves the allocation to status to. A non-empty from additionally
// requires the allocation to be in that status, which keeps Activate and Unfreeze
// distinct even though both lead to ACTIVE.
func (s *AllocationService) transition(ctx context.Context, tenantID string, id uuid.UUID, from, to model.AllocationStatus, reason, actor string) (*model.BudgetAllocation, error) {
	var updated *model.BudgetAllocation

	err := repository.RunInTx(ctx, s.db, s.cfg.TxTimeout, func(ctx context.Context, tx *gorm.DB) error {
		current, err := s.allocationRepo.GetForUpdate(ctx, tx, id, tenantID)
		if err != nil {
			return err
		}
		if from != "" && current.Status != from {
			return ErrInvalidStatusTransition
		}

		updated, err = s.allocationRepo.UpdateStatus(ctx, tx, current, to, reason)
		if err != nil {
			return err
		}

		event := &AllocationStatusChangedEvent{
			AllocationID: current.ID,
			TenantID:     tenantID,
			From:         current.Status,
			To:           to,
			Reason:       reason,
			ChangedBy:    actor,
			ChangedAt:    s.now(),
		}
		return s.events.write(ctx, tx, tenantID, model.EventAllocationStatusChanged, current.ID.String(), event)
	})
	if err != nil {
		if isTimeout(err) {
			return nil, ErrLedgerBusy
		}
		return nil, fmt.Errorf("move allocation to %s: %w", to, err)
	}

	log.Info().
		Str("tenant_id", tenantID).
		Str("allocation_id", id.String()).
		Str("status", string(to)).
		Str("actor", actor).
		Msg("allocation status changed")
	return updated, nil
}

func (s *AllocationService) Summary(ctx context.Context, tenantID string, id uuid.UUID) (*Summary, error) {
	allocation, err := s.allocationRepo.Get(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}
	return summaryOf(allocation), nil
}

func (s *AllocationService) List(ctx context.Context, tenantID string, fiscalYear int) ([]*Summary, error) {
	allocations, err := s.allocationRepo.ListByTenant(ctx, tenantID, fiscalYear)
	if err != nil {
		return nil, err
	}

	summaries := make([]*Summary, 0, len(allocations))
	for _, a := range allocations {
		summaries = append(summaries, summaryOf(a))
	}
	return summaries, nil
}

// TransactionPage is one page of an allocation's ledger.
type TransactionPage struct {
	Items    []*model.BudgetTransaction `json:"items"`
	Total    int64                      `json:"total"`
	Page     int                        `json:"page"`
	PageSize int                        `json:"page_size"`
}

// ListTransactions returns the allocation's transactions, newest first. An allocation
// of another tenant is reported as not found.
func (s *AllocationService) ListTransactions(ctx context.Context, tenantID string, id uuid.UUID, filter repository.TransactionFilter) (*TransactionPage, error) {
	if filter.Category != "" && !filter.Category.Valid() {
		return nil, ErrInvalidCategory
	}
	if _, err := s.allocationRepo.Get(ctx, id, tenantID); err != nil {
		return nil, err
	}

	items, total, err := s.transactionRepo.ListByAllocation(ctx, tenantID, id, filter)
	if err != nil {
		return nil, err
	}

	filter = filter.Normalized()
	return &TransactionPage{Items: items, Total: total, Page: filter.Page, PageSize: filter.PageSize}, nil
}

func (s *AllocationService) GetTransaction(ctx context.Context, tenantID string, id uuid.UUID) (*model.BudgetTransaction, error) {
	return s.transactionRepo.Get(ctx, nil, id, tenantID)
}
