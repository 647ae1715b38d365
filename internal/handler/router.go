package handler

import (
	"net/http"

	"proxypay/pkg/metrics"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RouterOptions struct {
	Mode        string
	Metrics     *metrics.Collector // nil 时不暴露指标
	MetricsPath string
}

// SetupRouter 配置路由
func SetupRouter(h *Handler, opts RouterOptions, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Mode != "" {
		gin.SetMode(opts.Mode)
	}

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		// 支付
		pay := api.Group("/pay")
		{
			pay.POST("/create-order", h.CreateOrder)
			pay.GET("/order-status/:order_no", h.GetOrderStatus)
		}

		order := api.Group("/order")
		{
			order.POST("/cancel", h.CancelOrder)
		}

		// 后台管理
		admin := api.Group("/admin")
		{
			admin.GET("/orders", h.ListOrders)

			admin.GET("/proxy-accounts", h.ListProxyAccounts)
			admin.POST("/proxy-accounts", h.CreateProxyAccount)
			admin.PUT("/proxy-accounts/:id", h.UpdateProxyAccount)
			admin.POST("/proxy-accounts/:id/recharge", h.Recharge)
			admin.POST("/proxy-accounts/:id/test-login", h.TestLogin)
			admin.GET("/proxy-accounts/:id/transactions", h.ListTransactions)

			admin.GET("/config", h.GetConfig)
			admin.PUT("/config", h.UpdateConfig)
		}
	}

	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(opts.Metrics.Handler()))
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
