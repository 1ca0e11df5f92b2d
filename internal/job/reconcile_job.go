package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"budgetledger/internal/service"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Sweeper is the part of the reconcile service the job needs.
type Sweeper interface {
	ReconcileAll(ctx context.Context) (*service.SweepResult, error)
}

// ReconcileJob runs a reconciliation sweep on a cron schedule. Runs never overlap: a
// tick that arrives while a sweep is still going is skipped.
type ReconcileJob struct {
	sweeper Sweeper
	cron    *cron.Cron
	timeout time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	running bool
	ctx     context.Context
}

// NewReconcileJob parses schedule ("@every 1h", "0 3 * * *", ...) and prepares the job.
// A sweep is bounded by timeout when it is positive.
func NewReconcileJob(sweeper Sweeper, schedule string, timeout time.Duration) (*ReconcileJob, error) {
	j := &ReconcileJob{
		sweeper: sweeper,
		timeout: timeout,
		logger:  log.With().Str("job", "reconcile").Logger(),
		ctx:     context.Background(),
	}

	j.cron = cron.New(cron.WithChain(cron.Recover(cronLogger{j.logger})))
	if _, err := j.cron.AddFunc(schedule, j.tick); err != nil {
		return nil, fmt.Errorf("parse reconcile schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Start schedules sweeps until ctx is done or Stop is called.
func (j *ReconcileJob) Start(ctx context.Context) {
	j.mu.Lock()
	j.ctx = ctx
	j.mu.Unlock()

	j.cron.Start()
	j.logger.Info().Msg("reconcile job started")

	go func() {
		<-ctx.Done()
		j.Stop()
	}()
}

// Stop halts scheduling and waits for a running sweep to finish.
func (j *ReconcileJob) Stop() {
	<-j.cron.Stop().Done()
}

func (j *ReconcileJob) tick() {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		j.logger.Warn().Msg("previous sweep still running, skipping")
		return
	}
	j.running = true
	ctx := j.ctx
	j.mu.Unlock()

	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()

	j.RunOnce(ctx)
}

// RunOnce performs one sweep and logs its outcome.
func (j *ReconcileJob) RunOnce(ctx context.Context) *service.SweepResult {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := j.sweeper.ReconcileAll(ctx)
	if err != nil {
		j.logger.Error().Err(err).Msg("reconcile sweep aborted")
	}
	if result == nil {
		return nil
	}

	event := j.logger.Info()
	if len(result.Unhealthy) > 0 {
		event = j.logger.Error().Str("severity", "critical")
	}
	event.
		Int("checked", result.Checked).
		Int("unhealthy", len(result.Unhealthy)).
		Int("failed", result.Failed).
		Dur("took", time.Since(start)).
		Msg("reconcile sweep finished")
	return result
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
