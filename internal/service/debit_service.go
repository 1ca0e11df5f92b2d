package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"budgetledger/internal/config"
	"budgetledger/internal/infrastructure/lock"
	"budgetledger/internal/metrics"
	"budgetledger/internal/model"
	"budgetledger/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// NumberGenerator issues human-readable transaction numbers. Uniqueness per tenant is
// enforced by the database; a collision makes the debit retry with a fresh number.
type NumberGenerator interface {
	Next(tenantID string, at time.Time) string
}

type DebitService struct {
	db              *gorm.DB
	cfg             *config.LedgerConfig
	locker          lock.Locker
	numbers         NumberGenerator
	allocationRepo  *repository.AllocationRepository
	transactionRepo *repository.TransactionRepository
	events          *eventWriter
	now             func() time.Time
}

func NewDebitService(db *gorm.DB, locker lock.Locker, numbers NumberGenerator, cfg *config.Config) *DebitService {
	return &DebitService{
		db:              db,
		cfg:             &cfg.Ledger,
		locker:          locker,
		numbers:         numbers,
		allocationRepo:  repository.NewAllocationRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		events: &eventWriter{
			outboxRepo: repository.NewOutboxRepository(db),
			topic:      cfg.Kafka.Topic.LedgerEvents,
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

type ProposeRequest struct {
	TenantID        string
	AllocationID    uuid.UUID
	Amount          decimal.Decimal
	Category        model.TransactionCategory
	Activity        model.ActivityRef
	Description     string
	ReceiptNumber   string
	TransactionDate *time.Time
	CreatedBy       string
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() || !amount.Equal(amount.Round(2)) {
		return ErrInvalidAmount
	}
	return nil
}

func (req *ProposeRequest) validate() error {
	if strings.TrimSpace(req.TenantID) == "" {
		return ErrInvalidTenant
	}
	if err := validateAmount(req.Amount); err != nil {
		return err
	}
	if !req.Category.Valid() {
		return ErrInvalidCategory
	}
	if !req.Activity.Valid() {
		return ErrInvalidActivityRef
	}
	return nil
}

// Propose records a debit against an allocation. It either commits the transaction
// row and the allocation's new totals together, or changes nothing.
//
// Debits on the same allocation are serialized by the allocation lock, the row lock
// taken inside the atomic unit and the version guard on the final UPDATE. A
// transaction number collision or a lost version race reruns the whole unit, up to
// ledger.max_number_attempts times.
func (s *DebitService) Propose(ctx context.Context, req *ProposeRequest) (trans *model.BudgetTransaction, err error) {
	start := time.Now()
	defer func() {
		metrics.DebitDuration.Observe(time.Since(start).Seconds())
		metrics.DebitsTotal.WithLabelValues(debitResult(err)).Inc()
	}()

	if err := req.validate(); err != nil {
		return nil, err
	}

	lockCtx, cancel := context.WithTimeout(ctx, s.cfg.LockTimeout)
	release, err := s.locker.Lock(lockCtx, lock.AllocationKey(req.AllocationID.String()))
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLedgerBusy, err)
	}
	defer release()

	attempts := s.cfg.MaxNumberAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		trans, err = s.commitDebit(ctx, req)
		if err == nil {
			break
		}
		if attempt >= attempts || !(errors.Is(err, ErrDuplicateNumber) || errors.Is(err, ErrConcurrentUpdate)) {
			break
		}
		metrics.NumberRetries.Inc()
		log.Warn().
			Err(err).
			Str("allocation_id", req.AllocationID.String()).
			Int("attempt", attempt).
			Msg("debit conflicted, retrying")
	}

	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %w", ErrLedgerBusy, err)
		}
		return nil, err
	}

	log.Info().
		Str("tenant_id", trans.TenantID).
		Str("allocation_id", trans.AllocationID.String()).
		Str("transaction_number", trans.TransactionNumber).
		Str("amount", trans.Amount.StringFixed(2)).
		Msg("debit committed")
	return trans, nil
}

func (s *DebitService) commitDebit(ctx context.Context, req *ProposeRequest) (*model.BudgetTransaction, error) {
	var committed *model.BudgetTransaction

	err := repository.RunInTx(ctx, s.db, s.cfg.TxTimeout, func(ctx context.Context, tx *gorm.DB) error {
		allocation, err := s.allocationRepo.GetForUpdate(ctx, tx, req.AllocationID, req.TenantID)
		if err != nil {
			return err
		}
		if allocation.Status != model.AllocationStatusActive {
			return ErrAllocationNotActive
		}
		if allocation.RemainingAmount.LessThan(req.Amount) {
			return &InsufficientFundsError{Requested: req.Amount, Available: allocation.RemainingAmount}
		}

		now := s.now()
		date := now
		if req.TransactionDate != nil {
			date = req.TransactionDate.UTC()
		}

		trans := &model.BudgetTransaction{
			TenantID:          req.TenantID,
			AllocationID:      allocation.ID,
			TransactionNumber: s.numbers.Next(req.TenantID, now),
			Amount:            req.Amount,
			Category:          req.Category,
			Activity:          req.Activity,
			TransactionDate:   date,
			Description:       req.Description,
			ReceiptNumber:     req.ReceiptNumber,
			CreatedBy:         req.CreatedBy,
		}
		if err := s.transactionRepo.Insert(ctx, tx, trans); err != nil {
			return err
		}

		updated, err := s.allocationRepo.ApplyDebit(ctx, tx, allocation, req.Amount, now)
		if err != nil {
			return err
		}

		event := &TransactionCommittedEvent{
			TransactionID:     trans.ID,
			TransactionNumber: trans.TransactionNumber,
			TenantID:          trans.TenantID,
			AllocationID:      trans.AllocationID,
			Amount:            trans.Amount,
			Category:          trans.Category,
			Activity:          trans.Activity,
			SpentAmount:       updated.SpentAmount,
			RemainingAmount:   updated.RemainingAmount,
			CommittedAt:       now,
		}
		if err := s.events.write(ctx, tx, trans.TenantID, model.EventTransactionCommitted, trans.TransactionNumber, event); err != nil {
			return err
		}

		committed = trans
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

func debitResult(err error) string {
	switch {
	case err == nil:
		return metrics.ResultCommitted
	case errors.Is(err, ErrInsufficientFunds):
		return metrics.ResultInsufficientFunds
	case errors.Is(err, ErrAllocationNotActive):
		return metrics.ResultNotActive
	case errors.Is(err, ErrLedgerBusy):
		return metrics.ResultBusy
	case errors.Is(err, ErrDuplicateNumber), errors.Is(err, ErrConcurrentUpdate):
		return metrics.ResultConflict
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidCategory),
		errors.Is(err, ErrInvalidActivityRef), errors.Is(err, ErrInvalidTenant),
		errors.Is(err, ErrAllocationNotFound):
		return metrics.ResultInvalid
	}
	return metrics.ResultError
}
