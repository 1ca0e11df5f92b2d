package service_test

import (
	"context"
	"errors"

	"budgetledger/internal/model"
	"budgetledger/internal/repository"
	"budgetledger/internal/service"
	"budgetledger/test"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

func (s *ServiceSuite) createRequest() *service.CreateAllocationRequest {
	return &service.CreateAllocationRequest{
		TenantID:        "tenant-a",
		ProgramID:       "PRG-SEEDS",
		FiscalYear:      2025,
		Source:          string(model.FundingSourceGrant),
		AllocatedAmount: dec("250000.00"),
		CreatedBy:       "planner-1",
	}
}

func (s *ServiceSuite) TestCreateAllocation() {
	a, err := s.allocations.Create(context.Background(), s.createRequest())
	s.Require().NoError(err)
	s.Equal(model.AllocationStatusDraft, a.Status)
	s.True(a.SpentAmount.IsZero())
	s.True(a.RemainingAmount.Equal(dec("250000")))
	s.True(a.Balanced())

	_, err = s.allocations.Create(context.Background(), s.createRequest())
	s.ErrorIs(err, service.ErrAllocationExists)

	other := s.createRequest()
	other.TenantID = "tenant-b"
	_, err = s.allocations.Create(context.Background(), other)
	s.NoError(err, "the same program may be funded in another tenant")
}

func (s *ServiceSuite) TestCreateAllocationValidation() {
	tests := []struct {
		name   string
		mutate func(*service.CreateAllocationRequest)
		amount bool
	}{
		{"missing tenant", func(r *service.CreateAllocationRequest) { r.TenantID = "" }, false},
		{"missing program", func(r *service.CreateAllocationRequest) { r.ProgramID = "" }, false},
		{"fiscal year too early", func(r *service.CreateAllocationRequest) { r.FiscalYear = 1999 }, false},
		{"unknown source", func(r *service.CreateAllocationRequest) { r.Source = "LOTTERY" }, false},
		{"zero amount", func(r *service.CreateAllocationRequest) { r.AllocatedAmount = dec("0") }, true},
		{"sub-cent amount", func(r *service.CreateAllocationRequest) { r.AllocatedAmount = dec("10.001") }, true},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			req := s.createRequest()
			tt.mutate(req)
			_, err := s.allocations.Create(context.Background(), req)
			if tt.amount {
				s.ErrorIs(err, service.ErrInvalidAmount)
				return
			}
			var invalid validator.ValidationErrors
			s.True(errors.As(err, &invalid), "got %v", err)
		})
	}

	var count int64
	s.Require().NoError(s.db.Model(&model.BudgetAllocation{}).Count(&count).Error)
	s.Zero(count)
}

func (s *ServiceSuite) TestAllocationLifecycle() {
	ctx := context.Background()
	a, err := s.allocations.Create(ctx, s.createRequest())
	s.Require().NoError(err)

	_, err = s.propose(s.debits, a, "10")
	s.ErrorIs(err, service.ErrAllocationNotActive, "drafts cannot be debited")

	_, err = s.allocations.Unfreeze(ctx, "tenant-a", a.ID, "admin")
	s.ErrorIs(err, service.ErrInvalidStatusTransition, "unfreeze only applies to frozen allocations")

	active, err := s.allocations.Activate(ctx, "tenant-a", a.ID, "admin")
	s.Require().NoError(err)
	s.Equal(model.AllocationStatusActive, active.Status)

	_, err = s.allocations.Activate(ctx, "tenant-a", a.ID, "admin")
	s.ErrorIs(err, service.ErrInvalidStatusTransition)

	_, err = s.propose(s.debits, a, "10")
	s.Require().NoError(err)

	_, err = s.allocations.Freeze(ctx, "tenant-a", a.ID, " ", "admin")
	s.ErrorIs(err, service.ErrReasonRequired)

	frozen, err := s.allocations.Freeze(ctx, "tenant-a", a.ID, "audit pending", "admin")
	s.Require().NoError(err)
	s.Equal(model.AllocationStatusFrozen, frozen.Status)
	s.Equal("audit pending", frozen.StatusReason)

	_, err = s.propose(s.debits, a, "10")
	s.ErrorIs(err, service.ErrAllocationNotActive)

	_, err = s.allocations.Unfreeze(ctx, "tenant-a", a.ID, "admin")
	s.Require().NoError(err)

	_, err = s.propose(s.debits, a, "10")
	s.Require().NoError(err)

	closed, err := s.allocations.Close(ctx, "tenant-a", a.ID, "fiscal year ended", "admin")
	s.Require().NoError(err)
	s.Equal(model.AllocationStatusClosed, closed.Status)

	_, err = s.allocations.Close(ctx, "tenant-a", a.ID, "", "admin")
	s.ErrorIs(err, service.ErrInvalidStatusTransition)
	_, err = s.allocations.Unfreeze(ctx, "tenant-a", a.ID, "admin")
	s.ErrorIs(err, service.ErrInvalidStatusTransition)

	_, err = s.propose(s.debits, a, "10")
	s.ErrorIs(err, service.ErrAllocationNotActive)

	stored := s.reload(a)
	s.True(stored.SpentAmount.Equal(dec("20")), "status changes never touch totals")
	s.True(stored.Balanced())

	var events int64
	s.Require().NoError(s.db.Model(&model.OutboxMessage{}).Where("event_type = ?", model.EventAllocationStatusChanged).Count(&events).Error)
	s.EqualValues(4, events)
}

func (s *ServiceSuite) TestTransitionIsTenantScoped() {
	a := test.CreateAllocation(s.T(), s.db, "tenant-a", "100", model.AllocationStatusDraft)

	_, err := s.allocations.Activate(context.Background(), "tenant-b", a.ID, "admin")
	s.ErrorIs(err, service.ErrAllocationNotFound)
	s.Equal(model.AllocationStatusDraft, s.reload(a).Status)
}

func (s *ServiceSuite) TestSummaryAndList() {
	ctx := context.Background()
	a := s.activeAllocation("tenant-a", "100")
	s.activeAllocation("tenant-a", "200")
	s.activeAllocation("tenant-b", "300")

	_, err := s.propose(s.debits, a, "25.50")
	s.Require().NoError(err)

	summary, err := s.allocations.Summary(ctx, "tenant-a", a.ID)
	s.Require().NoError(err)
	s.True(summary.SpentAmount.Equal(dec("25.50")))
	s.True(summary.RemainingAmount.Equal(dec("74.50")))
	s.NotNil(summary.LastSpentAt)

	_, err = s.allocations.Summary(ctx, "tenant-b", a.ID)
	s.ErrorIs(err, service.ErrAllocationNotFound)

	list, err := s.allocations.List(ctx, "tenant-a", 0)
	s.Require().NoError(err)
	s.Len(list, 2)

	list, err = s.allocations.List(ctx, "tenant-a", 2024)
	s.Require().NoError(err)
	s.Empty(list)
}

func (s *ServiceSuite) TestListAndGetTransactions() {
	ctx := context.Background()
	a := s.activeAllocation("tenant-a", "100")
	for _, amount := range []string{"1", "2", "3"} {
		_, err := s.propose(s.debits, a, amount)
		s.Require().NoError(err)
	}

	page, err := s.allocations.ListTransactions(ctx, "tenant-a", a.ID, repository.TransactionFilter{Page: 1, PageSize: 2})
	s.Require().NoError(err)
	s.EqualValues(3, page.Total)
	s.Len(page.Items, 2)
	s.Equal(2, page.PageSize)

	page, err = s.allocations.ListTransactions(ctx, "tenant-a", a.ID, repository.TransactionFilter{Category: model.CategoryProduction})
	s.Require().NoError(err)
	s.Zero(page.Total)
	s.Equal(1, page.Page)

	_, err = s.allocations.ListTransactions(ctx, "tenant-a", a.ID, repository.TransactionFilter{Category: "TRAVEL"})
	s.ErrorIs(err, service.ErrInvalidCategory)

	_, err = s.allocations.ListTransactions(ctx, "tenant-b", a.ID, repository.TransactionFilter{})
	s.ErrorIs(err, service.ErrAllocationNotFound)

	all, err := s.allocations.ListTransactions(ctx, "tenant-a", a.ID, repository.TransactionFilter{})
	s.Require().NoError(err)
	s.Require().Len(all.Items, 3)

	trans, err := s.allocations.GetTransaction(ctx, "tenant-a", all.Items[0].ID)
	s.Require().NoError(err)
	s.Equal(all.Items[0].TransactionNumber, trans.TransactionNumber)

	_, err = s.allocations.GetTransaction(ctx, "tenant-b", all.Items[0].ID)
	s.ErrorIs(err, service.ErrTransactionNotFound)
	_, err = s.allocations.GetTransaction(ctx, "tenant-a", uuid.New())
	s.ErrorIs(err, service.ErrTransactionNotFound)
}
