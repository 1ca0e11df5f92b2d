package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"budgetledger/internal/config"
	"budgetledger/internal/metrics"
	"budgetledger/internal/model"
	"budgetledger/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ReconcileService recomputes an allocation's spent amount from its transactions and
// compares it with the stored totals. Drift is reported, persisted and counted; the
// allocation is never rewritten from here.
type ReconcileService struct {
	db              *gorm.DB
	cfg             *config.LedgerConfig
	allocationRepo  *repository.AllocationRepository
	transactionRepo *repository.TransactionRepository
	anomalyRepo     *repository.AnomalyRepository
	now             func() time.Time
}

func NewReconcileService(db *gorm.DB, cfg *config.Config) *ReconcileService {
	return &ReconcileService{
		db:              db,
		cfg:             &cfg.Ledger,
		allocationRepo:  repository.NewAllocationRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		anomalyRepo:     repository.NewAnomalyRepository(db),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// SweepResult summarizes one pass over all allocations.
type SweepResult struct {
	Checked   int                           `json:"checked"`
	Unhealthy []*model.ReconciliationReport `json:"unhealthy"`
	Failed    int                           `json:"failed"`
}

// Reconcile checks a single allocation.
func (s *ReconcileService) Reconcile(ctx context.Context, allocationID uuid.UUID) (*model.ReconciliationReport, error) {
	return s.reconcile(ctx, "", allocationID)
}

// ReconcileForTenant is Reconcile restricted to tenantID's allocations.
func (s *ReconcileService) ReconcileForTenant(ctx context.Context, tenantID string, allocationID uuid.UUID) (*model.ReconciliationReport, error) {
	return s.reconcile(ctx, tenantID, allocationID)
}

func (s *ReconcileService) reconcile(ctx context.Context, tenantID string, allocationID uuid.UUID) (*model.ReconciliationReport, error) {
	var report *model.ReconciliationReport

	// The allocation row lock makes the stored totals and the transaction sum a
	// consistent pair: no debit on this allocation can commit in between.
	err := repository.RunInTx(ctx, s.db, s.cfg.TxTimeout, func(ctx context.Context, tx *gorm.DB) error {
		var (
			allocation *model.BudgetAllocation
			err        error
		)
		if tenantID == "" {
			allocation, err = s.allocationRepo.FindForUpdate(ctx, tx, allocationID)
		} else {
			allocation, err = s.allocationRepo.GetForUpdate(ctx, tx, allocationID, tenantID)
		}
		if err != nil {
			return err
		}

		amounts, err := s.transactionRepo.AmountsByAllocation(ctx, tx, allocation.ID)
		if err != nil {
			return fmt.Errorf("load transaction amounts: %w", err)
		}

		ledgerSpent := decimal.Zero
		for _, amount := range amounts {
			ledgerSpent = ledgerSpent.Add(amount)
		}

		report = &model.ReconciliationReport{
			AllocationID:      allocation.ID,
			TenantID:          allocation.TenantID,
			AllocatedAmount:   allocation.AllocatedAmount,
			StoredSpent:       allocation.SpentAmount,
			StoredRemaining:   allocation.RemainingAmount,
			LedgerSpent:       ledgerSpent,
			LedgerDrift:       allocation.SpentAmount.Sub(ledgerSpent),
			ConservationDrift: allocation.AllocatedAmount.Sub(allocation.SpentAmount.Add(allocation.RemainingAmount)),
			TransactionCount:  len(amounts),
			CheckedAt:         s.now(),
		}
		return nil
	})
	if err != nil {
		if isTimeout(err) {
			return nil, ErrLedgerBusy
		}
		return nil, err
	}

	metrics.ReconciliationsTotal.Inc()
	if !report.Healthy() {
		s.recordAnomalies(ctx, report)
	}
	return report, nil
}

func (s *ReconcileService) recordAnomalies(ctx context.Context, report *model.ReconciliationReport) {
	var anomalies []*model.ReconciliationAnomaly

	if !report.LedgerDrift.IsZero() {
		anomalies = append(anomalies, &model.ReconciliationAnomaly{
			TenantID:      report.TenantID,
			AllocationID:  report.AllocationID,
			CheckType:     model.CheckLedgerSum,
			StoredValue:   report.StoredSpent,
			ComputedValue: report.LedgerSpent,
			Drift:         report.LedgerDrift,
			Details:       fmt.Sprintf("spent_amount %s, sum of %d transactions %s", report.StoredSpent.StringFixed(2), report.TransactionCount, report.LedgerSpent.StringFixed(2)),
			DetectedAt:    report.CheckedAt,
		})
	}
	if !report.ConservationDrift.IsZero() {
		anomalies = append(anomalies, &model.ReconciliationAnomaly{
			TenantID:      report.TenantID,
			AllocationID:  report.AllocationID,
			CheckType:     model.CheckConservation,
			StoredValue:   report.AllocatedAmount,
			ComputedValue: report.StoredSpent.Add(report.StoredRemaining),
			Drift:         report.ConservationDrift,
			Details:       fmt.Sprintf("allocated_amount %s, spent + remaining %s", report.AllocatedAmount.StringFixed(2), report.StoredSpent.Add(report.StoredRemaining).StringFixed(2)),
			DetectedAt:    report.CheckedAt,
		})
	}

	for _, anomaly := range anomalies {
		metrics.ReconciliationAnomalies.WithLabelValues(anomaly.CheckType).Inc()
		log.Error().
			Str("severity", "critical").
			Str("tenant_id", anomaly.TenantID).
			Str("allocation_id", anomaly.AllocationID.String()).
			Str("check", anomaly.CheckType).
			Str("stored", anomaly.StoredValue.StringFixed(2)).
			Str("computed", anomaly.ComputedValue.StringFixed(2)).
			Str("drift", anomaly.Drift.StringFixed(2)).
			Msg("allocation does not reconcile")

		if err := s.anomalyRepo.Create(ctx, anomaly); err != nil {
			log.Error().Err(err).Str("allocation_id", anomaly.AllocationID.String()).Msg("failed to persist reconciliation anomaly")
		}
	}
}

// ReconcileAll checks every allocation that can still change or has changed, i.e.
// everything except DRAFT. A failure on one allocation is logged and counted and
// does not stop the sweep; only a cancelled ctx does.
func (s *ReconcileService) ReconcileAll(ctx context.Context) (*SweepResult, error) {
	ids, err := s.allocationRepo.ListIDs(ctx, model.AllocationStatusDraft)
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}

	result := &SweepResult{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		report, err := s.Reconcile(ctx, id)
		if err != nil {
			if errors.Is(err, ErrAllocationNotFound) {
				continue
			}
			result.Failed++
			log.Error().Err(err).Str("allocation_id", id.String()).Msg("reconcile allocation failed")
			continue
		}

		result.Checked++
		if !report.Healthy() {
			result.Unhealthy = append(result.Unhealthy, report)
		}
	}
	return result, nil
}

func (s *ReconcileService) ListAnomalies(ctx context.Context, tenantID string, allocationID uuid.UUID, limit int) ([]*model.ReconciliationAnomaly, error) {
	return s.anomalyRepo.List(ctx, tenantID, allocationID, limit)
}
