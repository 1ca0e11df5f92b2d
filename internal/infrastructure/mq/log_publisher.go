package mq

import (
	"github.com/rs/zerolog"
)

// LogPublisher stands in for Kafka when kafka.enabled is false. It writes each event
// to the log so the outbox still drains.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "log_publisher").Logger()}
}

func (p *LogPublisher) Publish(topic, key string, value []byte, headers map[string]string) error {
	p.logger.Info().
		Str("topic", topic).
		Str("key", key).
		Str("event_type", headers["event_type"]).
		RawJSON("payload", value).
		Msg("ledger event")
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}
