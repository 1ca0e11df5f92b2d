package service

import (
	"context"
	"strings"
	"time"

	"budgetledger/internal/config"
	"budgetledger/internal/metrics"
	"budgetledger/internal/model"
	"budgetledger/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// ApprovalService annotates committed transactions with who approved them. Approval
// is bookkeeping only: the amount was already debited when the transaction committed
// and approving it changes no totals.
type ApprovalService struct {
	db              *gorm.DB
	cfg             *config.LedgerConfig
	transactionRepo *repository.TransactionRepository
	events          *eventWriter
	now             func() time.Time
}

func NewApprovalService(db *gorm.DB, cfg *config.Config) *ApprovalService {
	return &ApprovalService{
		db:              db,
		cfg:             &cfg.Ledger,
		transactionRepo: repository.NewTransactionRepository(db),
		events: &eventWriter{
			outboxRepo: repository.NewOutboxRepository(db),
			topic:      cfg.Kafka.Topic.LedgerEvents,
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Approve sets the approver, time and notes of a transaction. A second approval
// overwrites the first unless ledger.strict_approval is set, in which case it fails
// with ErrAlreadyApproved.
func (s *ApprovalService) Approve(ctx context.Context, tenantID string, transactionID uuid.UUID, approverID string, notes *string) (*model.BudgetTransaction, error) {
	approverID = strings.TrimSpace(approverID)
	if approverID == "" {
		return nil, ErrInvalidApprover
	}

	var approved *model.BudgetTransaction
	err := repository.RunInTx(ctx, s.db, s.cfg.TxTimeout, func(ctx context.Context, tx *gorm.DB) error {
		at := s.now()
		trans, err := s.transactionRepo.AnnotateApproval(ctx, tx, transactionID, tenantID, approverID, notes, at, s.cfg.StrictApproval)
		if err != nil {
			return err
		}

		event := &TransactionApprovedEvent{
			TransactionID:     trans.ID,
			TransactionNumber: trans.TransactionNumber,
			TenantID:          trans.TenantID,
			AllocationID:      trans.AllocationID,
			ApprovedBy:        approverID,
			ApprovedAt:        at,
		}
		if err := s.events.write(ctx, tx, tenantID, model.EventTransactionApproved, trans.TransactionNumber, event); err != nil {
			return err
		}

		approved = trans
		return nil
	})
	if err != nil {
		if isTimeout(err) {
			return nil, ErrLedgerBusy
		}
		return nil, err
	}

	metrics.ApprovalsTotal.Inc()
	log.Info().
		Str("tenant_id", tenantID).
		Str("transaction_number", approved.TransactionNumber).
		Str("approved_by", approverID).
		Msg("transaction approved")
	return approved, nil
}
