package job

import (
	"context"
	"sync"
	"time"

	"budgetledger/internal/config"
	"budgetledger/internal/infrastructure/mq"
	"budgetledger/internal/metrics"
	"budgetledger/internal/model"
	"budgetledger/internal/repository"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// OutboxSender relays ledger events from the outbox table to the message broker.
// Delivery is at least once: a message is marked SENT only after Publish returns.
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  mq.Publisher
	stopCh     chan struct{}
	stopOnce   sync.Once
	interval   time.Duration
	batchSize  int
	maxRetry   int
	logger     zerolog.Logger
}

func NewOutboxSender(db *gorm.DB, publisher mq.Publisher, cfg *config.Config) *OutboxSender {
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		stopCh:     make(chan struct{}),
		interval:   cfg.Jobs.OutboxInterval,
		batchSize:  cfg.Jobs.OutboxBatchSize,
		maxRetry:   cfg.Jobs.MaxRetryCount,
		logger:     log.With().Str("job", "outbox_sender").Logger(),
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("outbox sender started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("context done, outbox sender exiting")
			return
		case <-s.stopCh:
			s.logger.Info().Msg("outbox sender stopped")
			return
		case <-ticker.C:
			s.ProcessPending(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// ProcessPending publishes one batch of pending messages in commit order and returns
// how many were sent. The batch stops at the first failure so a later event never
// overtakes an earlier one.
func (s *OutboxSender) ProcessPending(ctx context.Context) int {
	messages, err := s.outboxRepo.ListPending(ctx, s.batchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("list pending messages failed")
		return 0
	}

	sent := 0
	for _, msg := range messages {
		published, next := s.send(ctx, msg)
		if published {
			sent++
		}
		if !next {
			break
		}
	}
	return sent
}

// send publishes msg. next reports whether the batch may continue past it.
func (s *OutboxSender) send(ctx context.Context, msg *model.OutboxMessage) (published, next bool) {
	headers := map[string]string{
		"event_type": msg.EventType,
		"tenant_id":  msg.TenantID,
	}

	err := s.publisher.Publish(msg.Topic, msg.MessageKey, []byte(msg.Payload), headers)
	if err == nil {
		metrics.OutboxPublished.WithLabelValues("sent").Inc()
		if err := s.outboxRepo.MarkSent(ctx, msg.ID, time.Now().UTC()); err != nil {
			s.logger.Error().Err(err).Int64("id", msg.ID).Msg("mark message sent failed")
			return true, false
		}
		s.logger.Debug().Int64("id", msg.ID).Str("topic", msg.Topic).Str("key", msg.MessageKey).Msg("message published")
		return true, true
	}

	metrics.OutboxPublished.WithLabelValues("failed").Inc()
	s.logger.Warn().Err(err).Int64("id", msg.ID).Int("retry_count", msg.RetryCount).Msg("publish failed")

	parked, recErr := s.outboxRepo.RecordFailure(ctx, msg, err, s.maxRetry)
	if recErr != nil {
		s.logger.Error().Err(recErr).Int64("id", msg.ID).Msg("record publish failure failed")
		return false, false
	}
	if parked {
		metrics.OutboxPublished.WithLabelValues("parked").Inc()
		s.logger.Error().Int64("id", msg.ID).Str("event_type", msg.EventType).Msg("message exceeded max retries, marked FAILED")
		// a parked message no longer blocks the ones behind it
		return false, true
	}
	return false, false
}
