package handler

import (
	"errors"

	"budgetledger/internal/service"
	"budgetledger/pkg/response"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// writeError translates a service error into the response envelope. Anything not
// recognised is logged with the request id and reported as a server error.
func writeError(c *gin.Context, err error) {
	var insufficient *service.InsufficientFundsError
	var invalid validator.ValidationErrors

	switch {
	case errors.As(err, &insufficient):
		response.ErrorWithData(c, response.CodeInsufficientFunds, service.ErrInsufficientFunds.Error(), gin.H{
			"requested": insufficient.Requested,
			"available": insufficient.Available,
		})

	case errors.As(err, &invalid),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidActivityRef),
		errors.Is(err, service.ErrInvalidCategory),
		errors.Is(err, service.ErrInvalidApprover),
		errors.Is(err, service.ErrInvalidTenant),
		errors.Is(err, service.ErrReasonRequired):
		response.ParamError(c, err.Error())

	case errors.Is(err, service.ErrAllocationNotFound):
		response.BusinessError(c, response.CodeAllocationNotFound, service.ErrAllocationNotFound.Error())
	case errors.Is(err, service.ErrTransactionNotFound):
		response.BusinessError(c, response.CodeTransactionNotFound, service.ErrTransactionNotFound.Error())
	case errors.Is(err, service.ErrAllocationExists):
		response.BusinessError(c, response.CodeAllocationExists, service.ErrAllocationExists.Error())
	case errors.Is(err, service.ErrAllocationNotActive):
		response.BusinessError(c, response.CodeAllocationNotActive, service.ErrAllocationNotActive.Error())
	case errors.Is(err, service.ErrInvalidStatusTransition):
		response.BusinessError(c, response.CodeInvalidStatusTransition, service.ErrInvalidStatusTransition.Error())
	case errors.Is(err, service.ErrAlreadyApproved):
		response.BusinessError(c, response.CodeAlreadyApproved, service.ErrAlreadyApproved.Error())

	case errors.Is(err, service.ErrAllocationImbalanced):
		log.Error().Str("request-id", requestid.Get(c)).Str("severity", "critical").Err(err).Msg("debit refused on imbalanced allocation")
		response.BusinessError(c, response.CodeAllocationImbalanced, service.ErrAllocationImbalanced.Error())

	case errors.Is(err, service.ErrLedgerBusy):
		response.Retryable(c, response.CodeLedgerBusy, service.ErrLedgerBusy.Error())
	case errors.Is(err, service.ErrDuplicateNumber):
		response.Retryable(c, response.CodeDuplicateNumber, service.ErrDuplicateNumber.Error())
	case errors.Is(err, service.ErrConcurrentUpdate):
		response.Retryable(c, response.CodeConcurrentUpdate, service.ErrConcurrentUpdate.Error())

	default:
		log.Error().Str("request-id", requestid.Get(c)).Msgf("%T: %v", err, err.Error())
		response.ServerError(c, "internal error, request id "+requestid.Get(c))
	}
}
