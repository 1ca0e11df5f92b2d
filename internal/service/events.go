package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"budgetledger/internal/model"
	"budgetledger/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TransactionCommittedEvent is published once per committed debit.
type TransactionCommittedEvent struct {
	TransactionID     uuid.UUID                 `json:"transaction_id"`
	TransactionNumber string                    `json:"transaction_number"`
	TenantID          string                    `json:"tenant_id"`
	AllocationID      uuid.UUID                 `json:"allocation_id"`
	Amount            decimal.Decimal           `json:"amount"`
	Category          model.TransactionCategory `json:"category"`
	Activity          model.ActivityRef         `json:"activity"`
	SpentAmount       decimal.Decimal           `json:"spent_amount"`
	RemainingAmount   decimal.Decimal           `json:"remaining_amount"`
	CommittedAt       time.Time                 `json:"committed_at"`
}

type TransactionApprovedEvent struct {
	TransactionID     uuid.UUID `json:"transaction_id"`
	TransactionNumber string    `json:"transaction_number"`
	TenantID          string    `json:"tenant_id"`
	AllocationID      uuid.UUID `json:"allocation_id"`
	ApprovedBy        string    `json:"approved_by"`
	ApprovedAt        time.Time `json:"approved_at"`
}

type AllocationStatusChangedEvent struct {
	AllocationID uuid.UUID              `json:"allocation_id"`
	TenantID     string                 `json:"tenant_id"`
	From         model.AllocationStatus `json:"from"`
	To           model.AllocationStatus `json:"to"`
	Reason       string                 `json:"reason,omitempty"`
	ChangedBy    string                 `json:"changed_by,omitempty"`
	ChangedAt    time.Time              `json:"changed_at"`
}

// eventWriter appends events to the outbox inside the caller's transaction, so an
// event exists exactly when the change it describes was committed.
type eventWriter struct {
	outboxRepo *repository.OutboxRepository
	topic      string
}

func (w *eventWriter) write(ctx context.Context, tx *gorm.DB, tenantID, eventType, key string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}

	msg := &model.OutboxMessage{
		TenantID:   tenantID,
		EventType:  eventType,
		MessageKey: key,
		Topic:      w.topic,
		Payload:    string(body),
		Status:     model.OutboxStatusPending,
	}
	if err := w.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("write %s event: %w", eventType, err)
	}
	return nil
}
