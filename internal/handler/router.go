package handler

import (
	"net/http"

	"treasury/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 配置路由；gatherer 为 nil 时不暴露 /metrics
func SetupRouter(svc *service.Services, gatherer prometheus.Gatherer) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())

	h := NewHandler(svc)

	api := r.Group("/api/v1", ActorMiddleware())
	{
		api.POST("/accounts", h.CreateAccount)
		accounts := api.Group("/accounts/:id")
		{
			accounts.PUT("/kyc", h.SetKYCStatus)
			accounts.GET("/balance", h.GetBalance)
			accounts.GET("/consolidated-balance", h.ConsolidatedBalance)
			accounts.GET("/transactions", h.ListTransactions)
			accounts.GET("/stakes", h.ListStakes)
			accounts.GET("/earnings", h.EarningsSummary)
			accounts.GET("/payments", h.ListPayments)
			accounts.GET("/locks", h.ListLocks)
			accounts.GET("/withdrawals", h.ListWithdrawals)
		}

		stakes := api.Group("/stakes")
		{
			stakes.POST("", h.OpenStake)
			stakes.GET("/:id", h.GetStake)
			stakes.POST("/:id/release", h.ReleaseStake)
		}

		payments := api.Group("/payments")
		{
			payments.POST("", h.SendPayment)
			payments.GET("/:id", h.GetPayment)
			payments.POST("/:id/release", h.ReleasePayment)
		}

		withdrawals := api.Group("/withdrawals")
		{
			withdrawals.POST("", h.RequestWithdrawal)
			withdrawals.GET("/:id", h.GetWithdrawal)
		}

		workflows := api.Group("/workflows")
		{
			workflows.GET("/:id", h.GetWorkflow)
			workflows.POST("/:id/approvals", h.RecordApproval)
		}

		companies := api.Group("/companies/:id")
		{
			companies.GET("/workflows", h.ListPendingWorkflows)
			companies.GET("/settings", h.GetSettings)
			companies.PUT("/settings", h.UpdateSettings)
		}

		api.GET("/audit-logs", h.ListAuditLogs)
	}

	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
