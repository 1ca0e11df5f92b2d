package service_test

import (
	"context"

	"budgetledger/internal/metrics"
	"budgetledger/internal/model"
	"budgetledger/internal/service"
	"budgetledger/test"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func (s *ServiceSuite) TestReconcileHealthyAllocation() {
	a := s.activeAllocation("tenant-a", "100")
	for _, amount := range []string{"0.10", "0.20", "33.33"} {
		_, err := s.propose(s.debits, a, amount)
		s.Require().NoError(err)
	}

	report, err := s.reconciler.ReconcileForTenant(context.Background(), "tenant-a", a.ID)
	s.Require().NoError(err)
	s.True(report.Healthy())
	s.Equal(3, report.TransactionCount)
	s.True(report.LedgerSpent.Equal(dec("33.63")))
	s.True(report.StoredSpent.Equal(dec("33.63")))
	s.True(report.LedgerDrift.IsZero())

	anomalies, err := s.reconciler.ListAnomalies(context.Background(), "tenant-a", a.ID, 10)
	s.Require().NoError(err)
	s.Empty(anomalies)
}

func (s *ServiceSuite) TestReconcileReportsDriftWithoutRepairing() {
	a := s.activeAllocation("tenant-a", "100")
	_, err := s.propose(s.debits, a, "20")
	s.Require().NoError(err)

	// simulate a write that bypassed the ledger
	s.Require().NoError(s.db.Exec("UPDATE budget_allocations SET spent_amount = ? WHERE id = ?", "35.00", a.ID.String()).Error)

	ledgerBefore := testutil.ToFloat64(metrics.ReconciliationAnomalies.WithLabelValues(model.CheckLedgerSum))

	report, err := s.reconciler.Reconcile(context.Background(), a.ID)
	s.Require().NoError(err)
	s.False(report.Healthy())
	s.True(report.LedgerSpent.Equal(dec("20")))
	s.True(report.LedgerDrift.Equal(dec("15")))
	s.True(report.ConservationDrift.Equal(dec("-15")))
	s.Equal(ledgerBefore+1, testutil.ToFloat64(metrics.ReconciliationAnomalies.WithLabelValues(model.CheckLedgerSum)))

	stored := s.reload(a)
	s.True(stored.SpentAmount.Equal(dec("35")), "reconciliation must not rewrite the allocation")

	anomalies, err := s.reconciler.ListAnomalies(context.Background(), "tenant-a", a.ID, 10)
	s.Require().NoError(err)
	s.Require().Len(anomalies, 2)
	checks := []string{anomalies[0].CheckType, anomalies[1].CheckType}
	s.ElementsMatch([]string{model.CheckLedgerSum, model.CheckConservation}, checks)

	_, err = s.propose(s.debits, a, "1")
	s.ErrorIs(err, service.ErrAllocationImbalanced, "debits are refused until an operator fixes the allocation")
}

func (s *ServiceSuite) TestReconcileForTenantIsScoped() {
	a := s.activeAllocation("tenant-a", "100")

	_, err := s.reconciler.ReconcileForTenant(context.Background(), "tenant-b", a.ID)
	s.ErrorIs(err, service.ErrAllocationNotFound)

	_, err = s.reconciler.Reconcile(context.Background(), uuid.New())
	s.ErrorIs(err, service.ErrAllocationNotFound)
}

func (s *ServiceSuite) TestReconcileAll() {
	healthy := s.activeAllocation("tenant-a", "100")
	broken := s.activeAllocation("tenant-b", "100")
	test.CreateAllocation(s.T(), s.db, "tenant-a", "100", model.AllocationStatusDraft)
	test.CreateAllocation(s.T(), s.db, "tenant-a", "100", model.AllocationStatusClosed)

	_, err := s.propose(s.debits, healthy, "10")
	s.Require().NoError(err)
	s.Require().NoError(s.db.Exec("UPDATE budget_allocations SET remaining_amount = ? WHERE id = ?", "99.00", broken.ID.String()).Error)

	result, err := s.reconciler.ReconcileAll(context.Background())
	s.Require().NoError(err)
	s.Equal(3, result.Checked, "drafts are skipped")
	s.Zero(result.Failed)
	s.Require().Len(result.Unhealthy, 1)
	s.Equal(broken.ID, result.Unhealthy[0].AllocationID)
	s.True(result.Unhealthy[0].LedgerDrift.IsZero())
	s.True(result.Unhealthy[0].ConservationDrift.Equal(dec("1")))
}

func (s *ServiceSuite) TestReconcileAllStopsOnCancel() {
	s.activeAllocation("tenant-a", "100")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.reconciler.ReconcileAll(ctx)
	s.ErrorIs(err, context.Canceled)
}
