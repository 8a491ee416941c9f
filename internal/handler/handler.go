package handler

import (
	"encoding/base64"
	"errors"
	"strconv"

	"digishop/internal/model"
	"digishop/internal/repository"
	"digishop/internal/service"
	"digishop/internal/vault"
	"digishop/pkg/response"

	"github.com/gin-gonic/gin"
)

// Handler 统一处理器，包含所有服务依赖
// 只做入参编解码和错误码映射，业务逻辑全部在 service 层
type Handler struct {
	productService  *service.ProductService
	orderService    *service.OrderService
	proofService    *service.ProofService
	stockService    *service.StockService
	approvalService *service.ApprovalService
	auditRepo       *repository.AuditRepository
}

func NewHandler(
	productService *service.ProductService,
	orderService *service.OrderService,
	proofService *service.ProofService,
	stockService *service.StockService,
	approvalService *service.ApprovalService,
	auditRepo *repository.AuditRepository,
) *Handler {
	return &Handler{
		productService:  productService,
		orderService:    orderService,
		proofService:    proofService,
		stockService:    stockService,
		approvalService: approvalService,
		auditRepo:       auditRepo,
	}
}

// renderError 把业务错误映射成响应码
func renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrProductNotFound),
		errors.Is(err, repository.ErrInvoiceNotFound),
		errors.Is(err, repository.ErrUnitNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, service.ErrNotInvoiceOwner):
		response.Forbidden(c, err.Error())
	case errors.Is(err, repository.ErrInvoiceStateInvalid):
		response.BusinessError(c, response.CodeInvoiceStateInvalid, err.Error())
	case errors.Is(err, repository.ErrUnitNotAvailable):
		response.BusinessError(c, response.CodeUnitNotAvailable, err.Error())
	case errors.Is(err, service.ErrStockLineInvalid):
		response.BusinessError(c, response.CodeStockLineInvalid, err.Error())
	case errors.Is(err, service.ErrReasonRequired):
		response.BusinessError(c, response.CodeReasonRequired, err.Error())
	case errors.Is(err, service.ErrProofTypeInvalid),
		errors.Is(err, service.ErrProofTooLarge):
		response.BusinessError(c, response.CodeProofInvalid, err.Error())
	case errors.Is(err, vault.ErrCipherInvalid):
		response.BusinessError(c, response.CodeVaultFailure, "凭据数据异常，请联系运营")
	default:
		response.ServerError(c, err.Error())
	}
}

// ============================================================
// 商品相关接口
// ============================================================

// ListProducts 商品列表
// GET /api/v1/products
func (h *Handler) ListProducts(c *gin.Context) {
	products, err := h.productService.List(c.Request.Context())
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, gin.H{"products": products})
}

// CreateProductRequest 创建商品请求
type CreateProductRequest struct {
	Name        string `json:"name" binding:"required"`
	Category    string `json:"category"`
	Badge       string `json:"badge"`
	Description string `json:"description"`
	Price       int64  `json:"price" binding:"required,gt=0"`
	Stock       int    `json:"stock"`
}

// CreateProduct 创建商品（运营）
// POST /api/v1/admin/products
func (h *Handler) CreateProduct(c *gin.Context) {
	var req CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	product := &model.Product{
		Name:        req.Name,
		Category:    req.Category,
		Badge:       req.Badge,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
	}
	if err := h.productService.Create(c.Request.Context(), product); err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, product)
}

// UpdateDisplayStock 更新展示库存（运营）
// PATCH /api/v1/admin/products/:id/stock
func (h *Handler) UpdateDisplayStock(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "id 参数错误")
		return
	}

	var req struct {
		Stock int `json:"stock" binding:"min=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.productService.UpdateDisplayStock(c.Request.Context(), id, req.Stock); err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "展示库存已更新"})
}

// ============================================================
// 账单相关接口
// ============================================================

// CreateInvoiceRequest 创建账单请求
type CreateInvoiceRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
}

// CreateInvoice 创建手动转账账单
// POST /api/v1/orders
func (h *Handler) CreateInvoice(c *gin.Context) {
	var req CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	id := GetIdentity(c)
	invoice, err := h.orderService.CreateInvoice(c.Request.Context(), id.UserID, req.ProductID)
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, gin.H{
		"invoice_no": invoice.InvoiceNo,
		"status":     invoice.Status,
		"amount":     invoice.Amount,
	})
}

// ListMyInvoices 查询自己的账单列表
// GET /api/v1/orders/my?page=1&page_size=10
func (h *Handler) ListMyInvoices(c *gin.Context) {
	id := GetIdentity(c)
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	invoices, total, err := h.orderService.ListUserInvoices(c.Request.Context(), id.UserID, page, pageSize)
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      invoices,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// UploadProofRequest 上传付款凭证请求
type UploadProofRequest struct {
	FileName      string `json:"file_name" binding:"required"`
	MimeType      string `json:"mime_type" binding:"required"`
	ContentBase64 string `json:"content_base64" binding:"required"`
}

// UploadProof 上传付款凭证
// POST /api/v1/orders/:invoice_no/proofs
func (h *Handler) UploadProof(c *gin.Context) {
	var req UploadProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.ContentBase64)
	if err != nil {
		response.ParamError(c, "content_base64 解码失败")
		return
	}

	id := GetIdentity(c)
	proof, err := h.proofService.RecordProof(c.Request.Context(),
		c.Param("invoice_no"), id.UserID, req.FileName, req.MimeType, data, "web")
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, gin.H{
		"proof_id":    proof.ID,
		"storage_ref": proof.StorageRef,
		"status":      proof.Status,
	})
}

// MyPremiumAccounts 查询自己已购的账号（含解密后的密码）
// GET /api/v1/my/premium-accounts
func (h *Handler) MyPremiumAccounts(c *gin.Context) {
	id := GetIdentity(c)
	accounts, err := h.stockService.MyAccounts(c.Request.Context(), id.UserID)
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, gin.H{"accounts": accounts})
}

// ============================================================
// 审核相关接口（运营）
// ============================================================

// ListPendingReview 审核队列
// GET /api/v1/admin/invoices/pending
func (h *Handler) ListPendingReview(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	items, err := h.orderService.ListPendingReview(c.Request.Context(), limit)
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, gin.H{"list": items})
}

// ApproveInvoice 审核通过
// POST /api/v1/admin/invoices/:invoice_no/approve
func (h *Handler) ApproveInvoice(c *gin.Context) {
	id := GetIdentity(c)
	result, err := h.approvalService.Approve(c.Request.Context(),
		c.Param("invoice_no"), id.UserID, model.ActorAdminPanel)
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, result)
}

// RejectInvoiceRequest 审核拒绝请求
type RejectInvoiceRequest struct {
	Reason string `json:"reason"`
}

// RejectInvoice 审核拒绝（原因必填）
// POST /api/v1/admin/invoices/:invoice_no/reject
func (h *Handler) RejectInvoice(c *gin.Context) {
	var req RejectInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	id := GetIdentity(c)
	err := h.approvalService.Reject(c.Request.Context(),
		c.Param("invoice_no"), req.Reason, id.UserID, model.ActorAdminPanel)
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "已拒绝"})
}

// ReallocateInvoice 补货后重新分配
// POST /api/v1/admin/invoices/:invoice_no/reallocate
func (h *Handler) ReallocateInvoice(c *gin.Context) {
	id := GetIdentity(c)
	result, err := h.approvalService.RetryAllocation(c.Request.Context(),
		c.Param("invoice_no"), id.UserID, model.ActorAdminPanel)
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, result)
}

// ============================================================
// 库存相关接口（运营）
// ============================================================

// AddStockRequest 批量入库请求
type AddStockRequest struct {
	Lines string `json:"lines" binding:"required"` // 多行 "邮箱|密码"
}

// AddStock 批量入库
// POST /api/v1/admin/stock/:product_id
func (h *Handler) AddStock(c *gin.Context) {
	productID, err := strconv.ParseInt(c.Param("product_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "product_id 参数错误")
		return
	}

	var req AddStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	id := GetIdentity(c)
	count, err := h.stockService.AddUnits(c.Request.Context(), productID, req.Lines, id.UserID, model.ActorAdminPanel)
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, gin.H{"created": count})
}

// ListStock 某商品的库存清单（仅元数据）
// GET /api/v1/admin/stock/:product_id
func (h *Handler) ListStock(c *gin.Context) {
	productID, err := strconv.ParseInt(c.Param("product_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "product_id 参数错误")
		return
	}

	overview, err := h.stockService.ListByProduct(c.Request.Context(), productID)
	if err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, overview)
}

// RemoveStockUnit 删除未分配的库存单元
// DELETE /api/v1/admin/stock/units/:unit_id
func (h *Handler) RemoveStockUnit(c *gin.Context) {
	unitID, err := strconv.ParseInt(c.Param("unit_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "unit_id 参数错误")
		return
	}

	id := GetIdentity(c)
	if err := h.stockService.Remove(c.Request.Context(), unitID, id.UserID, model.ActorAdminPanel); err != nil {
		renderError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "库存单元已删除"})
}

// ============================================================
// 审计相关接口（运营）
// ============================================================

// ListAudit 审计日志
// GET /api/v1/admin/audit?page=1&page_size=20
func (h *Handler) ListAudit(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	entries, total, err := h.auditRepo.List(c.Request.Context(), page, pageSize)
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      entries,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}
