package handler

import (
	"net/http"

	"budgetledger/internal/config"
	"budgetledger/internal/infrastructure/lock"
	"budgetledger/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// SetupRouter wires middleware and routes. gatherer backs /metrics; nil disables it.
func SetupRouter(db *gorm.DB, locker lock.Locker, numbers service.NumberGenerator, cfg *config.Config, gatherer prometheus.Gatherer) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.HandleMethodNotAllowed = true
	_ = r.SetTrustedProxies(nil)

	r.Use(requestid.New())
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(MetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "X-Request-ID", HeaderTenantID, HeaderActorID},
		ExposeHeaders:   []string{"X-Request-ID"},
	}))

	h := NewHandler(db, locker, numbers, cfg)

	api := r.Group("/api/v1", TenantMiddleware())
	{
		allocations := api.Group("/allocations")
		{
			allocations.POST("", h.CreateAllocation)
			allocations.GET("", h.ListAllocations)
			allocations.GET("/:id", h.GetAllocation)
			allocations.POST("/:id/activate", h.ActivateAllocation)
			allocations.POST("/:id/freeze", h.FreezeAllocation)
			allocations.POST("/:id/unfreeze", h.UnfreezeAllocation)
			allocations.POST("/:id/close", h.CloseAllocation)
			allocations.POST("/:id/debits", h.ProposeDebit)
			allocations.GET("/:id/transactions", h.ListTransactions)
			allocations.GET("/:id/reconciliation", h.ReconcileAllocation)
			allocations.GET("/:id/anomalies", h.ListAnomalies)
		}

		transactions := api.Group("/transactions")
		{
			transactions.GET("/:id", h.GetTransaction)
			transactions.POST("/:id/approve", h.ApproveTransaction)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return r
}
