package handler

import (
	"digishop/internal/identity"

	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由
// 路由层与身份提供方、服务层之间只传接口/结构，不藏业务逻辑
func SetupRouter(h *Handler, provider identity.Provider) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	api.Use(AuthMiddleware(provider))
	{
		// 买家侧
		api.GET("/products", h.ListProducts)
		api.POST("/orders", h.CreateInvoice)
		api.GET("/orders/my", h.ListMyInvoices)
		api.POST("/orders/:invoice_no/proofs", h.UploadProof)
		api.GET("/my/premium-accounts", h.MyPremiumAccounts)

		// 运营侧
		admin := api.Group("/admin")
		admin.Use(AdminMiddleware())
		{
			admin.POST("/products", h.CreateProduct)
			admin.PATCH("/products/:id/stock", h.UpdateDisplayStock)

			admin.GET("/invoices/pending", h.ListPendingReview)
			admin.POST("/invoices/:invoice_no/approve", h.ApproveInvoice)
			admin.POST("/invoices/:invoice_no/reject", h.RejectInvoice)
			admin.POST("/invoices/:invoice_no/reallocate", h.ReallocateInvoice)

			admin.POST("/stock/:product_id", h.AddStock)
			admin.GET("/stock/:product_id", h.ListStock)
			admin.DELETE("/stock/units/:unit_id", h.RemoveStockUnit)

			admin.GET("/audit", h.ListAudit)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
