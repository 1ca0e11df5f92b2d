package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// Ledger event types carried in OutboxMessage.EventType.
const (
	EventTransactionCommitted    = "budget.transaction.committed"
	EventTransactionApproved     = "budget.transaction.approved"
	EventAllocationStatusChanged = "budget.allocation.status_changed"
)

// OutboxMessage is written in the same database transaction as the ledger change it
// announces and relayed to Kafka afterwards by the outbox sender.
type OutboxMessage struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID    string     `gorm:"type:varchar(64);not null" json:"tenant_id"`
	EventType   string     `gorm:"type:varchar(64);not null" json:"event_type"`
	MessageKey  string     `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic       string     `gorm:"type:varchar(128);not null" json:"topic"`
	Payload     string     `gorm:"type:text;not null" json:"payload"`
	Status      string     `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount  int        `gorm:"not null;default:0" json:"retry_count"`
	LastError   string     `gorm:"type:varchar(512)" json:"last_error,omitempty"`
	PublishedAt *time.Time `json:"published_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_messages"
}
