package handler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"budgetledger/internal/config"
	"budgetledger/internal/infrastructure/lock"
	"budgetledger/internal/model"
	"budgetledger/internal/repository"
	"budgetledger/internal/service"
	"budgetledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Handler exposes the ledger services over HTTP. Every route under /api/v1 is scoped
// to the tenant named in the X-Tenant-ID header.
type Handler struct {
	allocationService *service.AllocationService
	debitService      *service.DebitService
	approvalService   *service.ApprovalService
	reconcileService  *service.ReconcileService
}

func NewHandler(db *gorm.DB, locker lock.Locker, numbers service.NumberGenerator, cfg *config.Config) *Handler {
	return &Handler{
		allocationService: service.NewAllocationService(db, cfg),
		debitService:      service.NewDebitService(db, locker, numbers, cfg),
		approvalService:   service.NewApprovalService(db, cfg),
		reconcileService:  service.NewReconcileService(db, cfg),
	}
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ParamError(c, "invalid id: "+c.Param("id"))
		return uuid.Nil, false
	}
	return id, true
}

// ============================================================
// Allocations
// ============================================================

type CreateAllocationRequest struct {
	ProgramID       string          `json:"program_id" binding:"required"`
	FiscalYear      int             `json:"fiscal_year" binding:"required"`
	Source          string          `json:"source" binding:"required"`
	AllocatedAmount decimal.Decimal `json:"allocated_amount"`
}

// CreateAllocation registers a new allocation in DRAFT.
// POST /api/v1/allocations
func (h *Handler) CreateAllocation(c *gin.Context) {
	var req CreateAllocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	allocation, err := h.allocationService.Create(c.Request.Context(), &service.CreateAllocationRequest{
		TenantID:        tenantID(c),
		ProgramID:       req.ProgramID,
		FiscalYear:      req.FiscalYear,
		Source:          req.Source,
		AllocatedAmount: req.AllocatedAmount,
		CreatedBy:       actorID(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, allocation)
}

// ListAllocations returns the tenant's allocations.
// GET /api/v1/allocations?fiscal_year=2025
func (h *Handler) ListAllocations(c *gin.Context) {
	fiscalYear := 0
	if raw := c.Query("fiscal_year"); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			response.ParamError(c, "invalid fiscal_year")
			return
		}
		fiscalYear = year
	}

	summaries, err := h.allocationService.List(c.Request.Context(), tenantID(c), fiscalYear)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, summaries)
}

// GetAllocation returns the allocation's balance summary.
// GET /api/v1/allocations/:id
func (h *Handler) GetAllocation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	summary, err := h.allocationService.Summary(c.Request.Context(), tenantID(c), id)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, summary)
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

// ActivateAllocation moves a DRAFT allocation to ACTIVE.
// POST /api/v1/allocations/:id/activate
func (h *Handler) ActivateAllocation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	allocation, err := h.allocationService.Activate(c.Request.Context(), tenantID(c), id, actorID(c))
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, allocation)
}

// FreezeAllocation stops debits on an ACTIVE allocation.
// POST /api/v1/allocations/:id/freeze
func (h *Handler) FreezeAllocation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	allocation, err := h.allocationService.Freeze(c.Request.Context(), tenantID(c), id, req.Reason, actorID(c))
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, allocation)
}

// UnfreezeAllocation returns a FROZEN allocation to ACTIVE.
// POST /api/v1/allocations/:id/unfreeze
func (h *Handler) UnfreezeAllocation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	allocation, err := h.allocationService.Unfreeze(c.Request.Context(), tenantID(c), id, actorID(c))
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, allocation)
}

// CloseAllocation closes an allocation for good. The body is optional.
// POST /api/v1/allocations/:id/close
func (h *Handler) CloseAllocation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req ReasonRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ParamError(c, "invalid request: "+err.Error())
			return
		}
	}

	allocation, err := h.allocationService.Close(c.Request.Context(), tenantID(c), id, req.Reason, actorID(c))
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, allocation)
}

// ============================================================
// Debits and transactions
// ============================================================

// ProposeDebitRequest is what an activity module sends when it spends money. At most
// one of the three activity ids may be set.
type ProposeDebitRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	Category        string          `json:"category" binding:"required"`
	ProcurementID   string          `json:"procurement_id"`
	ProductionID    string          `json:"production_id"`
	DistributionID  string          `json:"distribution_id"`
	Description     string          `json:"description" binding:"max=512"`
	ReceiptNumber   string          `json:"receipt_number" binding:"max=64"`
	TransactionDate *time.Time      `json:"transaction_date"`
}

// ProposeDebit commits a debit against the allocation or rejects it as a whole.
// POST /api/v1/allocations/:id/debits
func (h *Handler) ProposeDebit(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req ProposeDebitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	activity, err := service.NewActivityRef(req.ProcurementID, req.ProductionID, req.DistributionID)
	if err != nil {
		writeError(c, err)
		return
	}

	trans, err := h.debitService.Propose(c.Request.Context(), &service.ProposeRequest{
		TenantID:        tenantID(c),
		AllocationID:    id,
		Amount:          req.Amount,
		Category:        model.TransactionCategory(strings.ToUpper(req.Category)),
		Activity:        activity,
		Description:     req.Description,
		ReceiptNumber:   req.ReceiptNumber,
		TransactionDate: req.TransactionDate,
		CreatedBy:       actorID(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, trans)
}

// parseDateParam accepts RFC 3339 timestamps and plain dates. A plain date used as an
// upper bound covers the whole day.
func parseDateParam(raw string, endOfDay bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, fmt.Errorf("expected RFC 3339 timestamp or YYYY-MM-DD, got %q", raw)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

// ListTransactions returns the allocation's transactions, newest first.
// GET /api/v1/allocations/:id/transactions?from=&to=&category=&page=&page_size=
func (h *Handler) ListTransactions(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	from, err := parseDateParam(c.Query("from"), false)
	if err != nil {
		response.ParamError(c, "invalid from: "+err.Error())
		return
	}
	to, err := parseDateParam(c.Query("to"), true)
	if err != nil {
		response.ParamError(c, "invalid to: "+err.Error())
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	result, err := h.allocationService.ListTransactions(c.Request.Context(), tenantID(c), id, repository.TransactionFilter{
		From:     from,
		To:       to,
		Category: model.TransactionCategory(strings.ToUpper(c.Query("category"))),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, result)
}

// GetTransaction returns one committed transaction.
// GET /api/v1/transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	trans, err := h.allocationService.GetTransaction(c.Request.Context(), tenantID(c), id)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, trans)
}

type ApproveRequest struct {
	Notes *string `json:"notes" binding:"omitempty,max=1024"`
}

// ApproveTransaction records the caller as approver. Totals are not affected.
// POST /api/v1/transactions/:id/approve
func (h *Handler) ApproveTransaction(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req ApproveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ParamError(c, "invalid request: "+err.Error())
			return
		}
	}

	trans, err := h.approvalService.Approve(c.Request.Context(), tenantID(c), id, actorID(c), req.Notes)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, trans)
}

// ============================================================
// Reconciliation
// ============================================================

// ReconcileAllocation recomputes spent from the transaction log and reports drift.
// GET /api/v1/allocations/:id/reconciliation
func (h *Handler) ReconcileAllocation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	report, err := h.reconcileService.ReconcileForTenant(c.Request.Context(), tenantID(c), id)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"healthy": report.Healthy(),
		"report":  report,
	})
}

// ListAnomalies returns recorded reconciliation failures for the allocation.
// GET /api/v1/allocations/:id/anomalies?limit=50
func (h *Handler) ListAnomalies(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	anomalies, err := h.reconcileService.ListAnomalies(c.Request.Context(), tenantID(c), id, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, anomalies)
}
