package database

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const slowQueryThreshold = 200 * time.Millisecond

// zerologAdapter routes gorm's logging into zerolog. Statements are logged at debug
// level, or at info when verbose is set; slow ones at warn.
type zerologAdapter struct {
	logger  zerolog.Logger
	verbose bool
}

func newLogger(logger zerolog.Logger, verbose bool) gormlogger.Interface {
	return &zerologAdapter{logger: logger.With().Str("component", "gorm").Logger(), verbose: verbose}
}

func (l *zerologAdapter) LogMode(gormlogger.LogLevel) gormlogger.Interface {
	return l
}

func (l *zerologAdapter) Info(_ context.Context, s string, args ...interface{}) {
	l.logger.Info().Msgf(s, args...)
}

func (l *zerologAdapter) Warn(_ context.Context, s string, args ...interface{}) {
	l.logger.Warn().Msgf(s, args...)
}

func (l *zerologAdapter) Error(_ context.Context, s string, args ...interface{}) {
	l.logger.Error().Msgf(s, args...)
}

func (l *zerologAdapter) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		l.logger.Error().Err(err).Str("sql", sql).Int64("rows", rows).Dur("duration", elapsed).Msg("query error")
	case elapsed > slowQueryThreshold:
		l.logger.Warn().Str("sql", sql).Int64("rows", rows).Dur("duration", elapsed).Msg("slow query")
	case l.verbose:
		l.logger.Info().Str("sql", sql).Int64("rows", rows).Dur("duration", elapsed).Msg("query")
	default:
		l.logger.Debug().Str("sql", sql).Int64("rows", rows).Dur("duration", elapsed).Msg("query")
	}
}
