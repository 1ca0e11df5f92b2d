package handler

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"budgetledger/internal/metrics"
	"budgetledger/pkg/response"

	"github.com/gin-contrib/logger"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderActorID  = "X-Actor-ID"

	ctxTenantID = "tenant_id"
	ctxActorID  = "actor_id"
)

// LoggerMiddleware writes one access log line per request through the global
// zerolog logger, tagged with the request id.
func LoggerMiddleware() gin.HandlerFunc {
	return logger.SetLogger(
		logger.WithDefaultLevel(zerolog.InfoLevel),
		logger.WithClientErrorLevel(zerolog.InfoLevel),
		logger.WithServerErrorLevel(zerolog.ErrorLevel),
		logger.WithSkipPath([]string{"/health", "/metrics"}),
		logger.WithLogger(func(c *gin.Context, _ io.Writer, latency time.Duration) zerolog.Logger {
			return log.Logger.With().
				Str("request-id", requestid.Get(c)).
				Dur("latency", latency).
				Str("method", c.Request.Method).
				Str("path", c.Request.URL.Path).
				Int("status", c.Writer.Status()).
				Str("tenant_id", c.GetHeader(HeaderTenantID)).
				Logger()
		}))
}

// RecoveryMiddleware turns a panic into a server error response.
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().Str("request-id", requestid.Get(c)).Interface("panic", err).Msg("handler panicked")
				c.AbortWithStatusJSON(http.StatusInternalServerError, response.Response{
					Code:    response.CodeServerError,
					Message: "internal error",
				})
			}
		}()
		c.Next()
	}
}

// MetricsMiddleware counts requests by matched route so ids do not explode label
// cardinality.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(strconv.Itoa(c.Writer.Status()), c.Request.Method, route).Inc()
	}
}

// TenantMiddleware requires the X-Tenant-ID header and stores the tenant and the
// optional actor for handlers.
func TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := strings.TrimSpace(c.GetHeader(HeaderTenantID))
		if tenant == "" {
			response.Error(c, response.CodeUnauthorized, "missing "+HeaderTenantID+" header")
			c.Abort()
			return
		}

		c.Set(ctxTenantID, tenant)
		c.Set(ctxActorID, strings.TrimSpace(c.GetHeader(HeaderActorID)))
		c.Next()
	}
}

func tenantID(c *gin.Context) string {
	return c.GetString(ctxTenantID)
}

func actorID(c *gin.Context) string {
	return c.GetString(ctxActorID)
}
