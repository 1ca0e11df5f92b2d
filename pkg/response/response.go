package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeServerError   = 500
	CodeBusinessError = 1000
)

// Ledger business codes. Codes from 2100 up mark transient conflicts that the caller
// may retry unchanged.
const (
	CodeAllocationNotFound      = 2001
	CodeAllocationExists        = 2002
	CodeAllocationNotActive     = 2003
	CodeInvalidStatusTransition = 2004
	CodeInsufficientFunds       = 2005
	CodeTransactionNotFound     = 2006
	CodeAlreadyApproved         = 2007
	CodeAllocationImbalanced    = 2008

	CodeLedgerBusy       = 2100
	CodeDuplicateNumber  = 2101
	CodeConcurrentUpdate = 2102
)

type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Retryable bool        `json:"retryable,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

// ErrorWithData is Error with a payload describing the failure.
func ErrorWithData(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// Retryable reports a transient conflict.
func Retryable(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:      code,
		Message:   message,
		Retryable: true,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}
