package service_test

import (
	"context"

	"budgetledger/internal/model"
	"budgetledger/internal/service"

	"github.com/google/uuid"
)

func (s *ServiceSuite) TestApproveLeavesTotalsUnchanged() {
	a := s.activeAllocation("tenant-a", "500")
	trans, err := s.propose(s.debits, a, "120")
	s.Require().NoError(err)
	before := s.reload(a)

	notes := "checked against invoice"
	approved, err := s.approvals.Approve(context.Background(), "tenant-a", trans.ID, "auditor-1", &notes)
	s.Require().NoError(err)
	s.Require().NotNil(approved.ApprovedBy)
	s.Equal("auditor-1", *approved.ApprovedBy)
	s.Require().NotNil(approved.ApprovalNotes)
	s.Equal(notes, *approved.ApprovalNotes)
	s.True(approved.Approved())
	s.True(approved.Amount.Equal(trans.Amount))

	after := s.reload(a)
	s.True(after.SpentAmount.Equal(before.SpentAmount))
	s.True(after.RemainingAmount.Equal(before.RemainingAmount))
	s.Equal(before.Version, after.Version)

	var events int64
	s.Require().NoError(s.db.Model(&model.OutboxMessage{}).Where("event_type = ?", model.EventTransactionApproved).Count(&events).Error)
	s.EqualValues(1, events)
}

func (s *ServiceSuite) TestApproveTwice() {
	a := s.activeAllocation("tenant-a", "500")
	trans, err := s.propose(s.debits, a, "10")
	s.Require().NoError(err)

	_, err = s.approvals.Approve(context.Background(), "tenant-a", trans.ID, "auditor-1", nil)
	s.Require().NoError(err)

	s.Run("overwrites by default", func() {
		again, err := s.approvals.Approve(context.Background(), "tenant-a", trans.ID, "auditor-2", nil)
		s.Require().NoError(err)
		s.Equal("auditor-2", *again.ApprovedBy)
	})

	s.Run("rejected in strict mode", func() {
		s.cfg.Ledger.StrictApproval = true
		s.build()
		_, err := s.approvals.Approve(context.Background(), "tenant-a", trans.ID, "auditor-3", nil)
		s.ErrorIs(err, service.ErrAlreadyApproved)

		var stored model.BudgetTransaction
		s.Require().NoError(s.db.First(&stored, "id = ?", trans.ID).Error)
		s.Equal("auditor-2", *stored.ApprovedBy)
	})
}

func (s *ServiceSuite) TestApproveErrors() {
	a := s.activeAllocation("tenant-a", "500")
	trans, err := s.propose(s.debits, a, "10")
	s.Require().NoError(err)

	_, err = s.approvals.Approve(context.Background(), "tenant-a", trans.ID, "  ", nil)
	s.ErrorIs(err, service.ErrInvalidApprover)

	_, err = s.approvals.Approve(context.Background(), "tenant-b", trans.ID, "auditor-1", nil)
	s.ErrorIs(err, service.ErrTransactionNotFound)

	_, err = s.approvals.Approve(context.Background(), "tenant-a", uuid.New(), "auditor-1", nil)
	s.ErrorIs(err, service.ErrTransactionNotFound)

	var stored model.BudgetTransaction
	s.Require().NoError(s.db.First(&stored, "id = ?", trans.ID).Error)
	s.False(stored.Approved())
}
