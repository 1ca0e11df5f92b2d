package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"budgetledger/internal/infrastructure/lock"
	"budgetledger/internal/metrics"
	"budgetledger/internal/model"
	"budgetledger/internal/service"
	"budgetledger/pkg/idgen"
	"budgetledger/test"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (s *ServiceSuite) activeAllocation(tenantID, amount string) *model.BudgetAllocation {
	return test.CreateAllocation(s.T(), s.db, tenantID, amount, model.AllocationStatusActive)
}

func (s *ServiceSuite) propose(debits *service.DebitService, a *model.BudgetAllocation, amount string) (*model.BudgetTransaction, error) {
	return debits.Propose(context.Background(), &service.ProposeRequest{
		TenantID:     a.TenantID,
		AllocationID: a.ID,
		Amount:       dec(amount),
		Category:     model.CategoryProcurement,
		CreatedBy:    "officer-1",
	})
}

func (s *ServiceSuite) reload(a *model.BudgetAllocation) *model.BudgetAllocation {
	var stored model.BudgetAllocation
	s.Require().NoError(s.db.First(&stored, "id = ?", a.ID).Error)
	return &stored
}

func (s *ServiceSuite) countTransactions(a *model.BudgetAllocation) int64 {
	var count int64
	s.Require().NoError(s.db.Model(&model.BudgetTransaction{}).Where("allocation_id = ?", a.ID).Count(&count).Error)
	return count
}

func (s *ServiceSuite) TestProposeSequenceAgainstOneMillion() {
	a := s.activeAllocation("tenant-a", "1000000")
	rejectedBefore := testutil.ToFloat64(metrics.DebitsTotal.WithLabelValues(metrics.ResultInsufficientFunds))

	trans, err := s.propose(s.debits, a, "300000")
	s.Require().NoError(err)
	s.True(trans.Amount.Equal(dec("300000")))
	s.Regexp(`^BT-[A-Z0-9]{1,4}[0-9A-F]{4}-\d{8}-[0-9A-Z]{1,13}$`, trans.TransactionNumber)

	stored := s.reload(a)
	s.True(stored.SpentAmount.Equal(dec("300000")))
	s.True(stored.RemainingAmount.Equal(dec("700000")))
	s.Require().NotNil(stored.LastSpentAt)

	_, err = s.propose(s.debits, a, "800000")
	var insufficient *service.InsufficientFundsError
	s.Require().True(errors.As(err, &insufficient), "got %v", err)
	s.ErrorIs(err, service.ErrInsufficientFunds)
	s.True(insufficient.Requested.Equal(dec("800000")))
	s.True(insufficient.Available.Equal(dec("700000")))
	s.False(service.IsRetryable(err))

	stored = s.reload(a)
	s.True(stored.SpentAmount.Equal(dec("300000")), "rejected debit must not change totals")

	_, err = s.propose(s.debits, a, "700000")
	s.Require().NoError(err)

	stored = s.reload(a)
	s.True(stored.SpentAmount.Equal(dec("1000000")))
	s.True(stored.RemainingAmount.IsZero())

	_, err = s.propose(s.debits, a, "1")
	s.ErrorIs(err, service.ErrInsufficientFunds)

	s.EqualValues(2, s.countTransactions(a))
	s.Equal(rejectedBefore+2, testutil.ToFloat64(metrics.DebitsTotal.WithLabelValues(metrics.ResultInsufficientFunds)))
}

func (s *ServiceSuite) TestProposeRejectsInvalidInput() {
	a := s.activeAllocation("tenant-a", "100")
	ctx := context.Background()

	tests := []struct {
		name string
		req  service.ProposeRequest
		err  error
	}{
		{"zero amount", service.ProposeRequest{Amount: dec("0"), Category: model.CategoryProcurement}, service.ErrInvalidAmount},
		{"negative amount", service.ProposeRequest{Amount: dec("-5"), Category: model.CategoryProcurement}, service.ErrInvalidAmount},
		{"sub-cent amount", service.ProposeRequest{Amount: dec("1.005"), Category: model.CategoryProcurement}, service.ErrInvalidAmount},
		{"unknown category", service.ProposeRequest{Amount: dec("5"), Category: "TRAVEL"}, service.ErrInvalidCategory},
		{"activity without id", service.ProposeRequest{Amount: dec("5"), Category: model.CategoryProduction, Activity: model.ActivityRef{Kind: model.ActivityProduction}}, service.ErrInvalidActivityRef},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			req := tt.req
			req.TenantID = a.TenantID
			req.AllocationID = a.ID
			_, err := s.debits.Propose(ctx, &req)
			s.ErrorIs(err, tt.err)
		})
	}

	_, err := s.debits.Propose(ctx, &service.ProposeRequest{AllocationID: a.ID, Amount: dec("5"), Category: model.CategoryProcurement})
	s.ErrorIs(err, service.ErrInvalidTenant)

	s.Zero(s.countTransactions(a))
	s.True(s.reload(a).SpentAmount.IsZero())
}

func (s *ServiceSuite) TestProposeRequiresActiveAllocation() {
	for _, status := range []model.AllocationStatus{model.AllocationStatusDraft, model.AllocationStatusFrozen, model.AllocationStatusClosed} {
		a := test.CreateAllocation(s.T(), s.db, "tenant-a", "100", status)
		_, err := s.propose(s.debits, a, "1")
		s.ErrorIs(err, service.ErrAllocationNotActive, "status %s", status)
		s.Zero(s.countTransactions(a))
	}

	a := s.activeAllocation("tenant-a", "100")
	_, err := s.debits.Propose(context.Background(), &service.ProposeRequest{
		TenantID:     "tenant-b",
		AllocationID: a.ID,
		Amount:       dec("1"),
		Category:     model.CategoryProcurement,
	})
	s.ErrorIs(err, service.ErrAllocationNotFound)

	_, err = s.debits.Propose(context.Background(), &service.ProposeRequest{
		TenantID:     "tenant-a",
		AllocationID: uuid.New(),
		Amount:       dec("1"),
		Category:     model.CategoryProcurement,
	})
	s.ErrorIs(err, service.ErrAllocationNotFound)
}

func (s *ServiceSuite) TestProposeStoresActivityAndDate() {
	a := s.activeAllocation("tenant-a", "100")
	date := time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC)
	activity, err := service.NewActivityRef("", "", "DIST-9")
	s.Require().NoError(err)

	trans, err := s.debits.Propose(context.Background(), &service.ProposeRequest{
		TenantID:        a.TenantID,
		AllocationID:    a.ID,
		Amount:          dec("12.34"),
		Category:        model.CategoryDistribution,
		Activity:        activity,
		Description:     "trucks",
		ReceiptNumber:   "R-1",
		TransactionDate: &date,
		CreatedBy:       "officer-1",
	})
	s.Require().NoError(err)

	var stored model.BudgetTransaction
	s.Require().NoError(s.db.First(&stored, "id = ?", trans.ID).Error)
	s.Equal(model.ActivityRef{Kind: model.ActivityDistribution, RecordID: "DIST-9"}, stored.Activity)
	s.True(stored.TransactionDate.Equal(date))
	s.Equal("R-1", stored.ReceiptNumber)
	s.Equal("officer-1", stored.CreatedBy)
	s.False(stored.Approved())
}

func (s *ServiceSuite) TestProposeWritesCommittedEvent() {
	a := s.activeAllocation("tenant-a", "100")
	trans, err := s.propose(s.debits, a, "40")
	s.Require().NoError(err)

	var msgs []model.OutboxMessage
	s.Require().NoError(s.db.Where("event_type = ?", model.EventTransactionCommitted).Find(&msgs).Error)
	s.Require().Len(msgs, 1)
	s.Equal(trans.TransactionNumber, msgs[0].MessageKey)
	s.Equal(s.cfg.Kafka.Topic.LedgerEvents, msgs[0].Topic)
	s.Equal(model.OutboxStatusPending, msgs[0].Status)

	var event service.TransactionCommittedEvent
	s.Require().NoError(json.Unmarshal([]byte(msgs[0].Payload), &event))
	s.Equal(trans.ID, event.TransactionID)
	s.True(event.RemainingAmount.Equal(dec("60")))
	s.True(event.SpentAmount.Equal(dec("40")))
}

// raceEighties submits an 80 debit through each service at once against 100.
func (s *ServiceSuite) raceEighties(debits ...*service.DebitService) {
	a := s.activeAllocation("tenant-a", "100")

	var wg sync.WaitGroup
	errs := make([]error, len(debits))
	for i := range debits {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.propose(debits[i], a, "80")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var insufficient *service.InsufficientFundsError
		s.Require().True(errors.As(err, &insufficient), "unexpected error %v", err)
		s.True(insufficient.Available.Equal(dec("20")))
	}
	s.Equal(1, succeeded)

	stored := s.reload(a)
	s.True(stored.SpentAmount.Equal(dec("80")))
	s.True(stored.RemainingAmount.Equal(dec("20")))
	s.True(stored.Balanced())
	s.EqualValues(1, s.countTransactions(a))
}

func (s *ServiceSuite) TestConcurrentDebitsAdmitOnlyWhatFits() {
	s.raceEighties(s.debits, s.debits)
}

// Each instance has its own in-process lock, so only the atomic unit stands between
// the two debits.
func (s *ServiceSuite) TestConcurrentDebitsAcrossInstances() {
	instance := func(workerID int64) *service.DebitService {
		sf, err := idgen.NewSnowflake(workerID)
		s.Require().NoError(err)
		return service.NewDebitService(s.db, lock.NewLocalLocker(), idgen.NewTransactionNumbers(sf), s.cfg)
	}

	s.raceEighties(instance(1), instance(2))
}

func (s *ServiceSuite) TestConcurrentDebitsConserveTotals() {
	a := s.activeAllocation("tenant-a", "100")
	b := s.activeAllocation("tenant-a", "50")

	var wg sync.WaitGroup
	var mu sync.Mutex
	committed := map[uuid.UUID]decimal.Decimal{a.ID: decimal.Zero, b.ID: decimal.Zero}

	for i := 0; i < 20; i++ {
		for _, target := range []*model.BudgetAllocation{a, b} {
			wg.Add(1)
			go func(target *model.BudgetAllocation) {
				defer wg.Done()
				trans, err := s.propose(s.debits, target, "7.50")
				if err != nil {
					s.ErrorIs(err, service.ErrInsufficientFunds)
					return
				}
				mu.Lock()
				committed[target.ID] = committed[target.ID].Add(trans.Amount)
				mu.Unlock()
			}(target)
		}
	}
	wg.Wait()

	expected := map[uuid.UUID]string{a.ID: "97.50", b.ID: "45.00"}
	for _, target := range []*model.BudgetAllocation{a, b} {
		stored := s.reload(target)
		s.True(stored.Balanced(), "allocated must equal spent + remaining")
		s.True(stored.SpentAmount.Equal(committed[target.ID]))
		s.True(stored.SpentAmount.Equal(dec(expected[target.ID])), "got %s", stored.SpentAmount)

		report, err := s.reconciler.Reconcile(context.Background(), target.ID)
		s.Require().NoError(err)
		s.True(report.Healthy())
	}
}

func (s *ServiceSuite) TestNumberCollisionRegeneratesNumber() {
	a := s.activeAllocation("tenant-a", "100")
	first, err := s.propose(s.debits, a, "10")
	s.Require().NoError(err)

	numbers := &collidingNumbers{taken: []string{first.TransactionNumber, first.TransactionNumber}}
	debits := service.NewDebitService(s.db, lock.NewLocalLocker(), numbers, s.cfg)

	retriesBefore := testutil.ToFloat64(metrics.NumberRetries)
	trans, err := s.propose(debits, a, "10")
	s.Require().NoError(err)
	s.Equal("BT-FRESH-3", trans.TransactionNumber)
	s.Equal(3, numbers.calls)
	s.Equal(retriesBefore+2, testutil.ToFloat64(metrics.NumberRetries))

	stored := s.reload(a)
	s.True(stored.SpentAmount.Equal(dec("20")), "collided attempts must not leave partial debits")
	s.EqualValues(2, s.countTransactions(a))
}

func (s *ServiceSuite) TestNumberCollisionGivesUpAfterMaxAttempts() {
	a := s.activeAllocation("tenant-a", "100")
	first, err := s.propose(s.debits, a, "10")
	s.Require().NoError(err)

	s.cfg.Ledger.MaxNumberAttempts = 3
	numbers := &fixedNumbers{number: first.TransactionNumber}
	debits := service.NewDebitService(s.db, lock.NewLocalLocker(), numbers, s.cfg)

	_, err = s.propose(debits, a, "10")
	s.ErrorIs(err, service.ErrDuplicateNumber)
	s.True(service.IsRetryable(err))
	s.Equal(3, numbers.calls)

	stored := s.reload(a)
	s.True(stored.SpentAmount.Equal(dec("10")))
	s.EqualValues(1, s.countTransactions(a))
}

func (s *ServiceSuite) TestLockTimeoutReportsBusy() {
	a := s.activeAllocation("tenant-a", "100")
	locker := lock.NewLocalLocker()
	release, err := locker.Lock(context.Background(), lock.AllocationKey(a.ID.String()))
	s.Require().NoError(err)
	defer release()

	s.cfg.Ledger.LockTimeout = 30 * time.Millisecond
	debits := service.NewDebitService(s.db, locker, &fixedNumbers{number: "BT-X"}, s.cfg)

	_, err = s.propose(debits, a, "10")
	s.ErrorIs(err, service.ErrLedgerBusy)
	s.ErrorIs(err, context.DeadlineExceeded)
	s.True(service.IsRetryable(err))
	s.Zero(s.countTransactions(a))
}

func (s *ServiceSuite) TestDifferentAllocationsDoNotShareALock() {
	a := s.activeAllocation("tenant-a", "100")
	b := s.activeAllocation("tenant-a", "100")
	locker := lock.NewLocalLocker()
	release, err := locker.Lock(context.Background(), lock.AllocationKey(a.ID.String()))
	s.Require().NoError(err)
	defer release()

	s.cfg.Ledger.LockTimeout = 30 * time.Millisecond
	debits := service.NewDebitService(s.db, locker, &collidingNumbers{}, s.cfg)

	_, err = s.propose(debits, b, "10")
	s.NoError(err)
}
