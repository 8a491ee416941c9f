package service

import (
	"context"
	"errors"
	"fmt"

	"digishop/internal/model"
	"digishop/internal/repository"
	"digishop/pkg/idgen"

	"gorm.io/gorm"
)

var ErrNotInvoiceOwner = errors.New("无权操作他人的账单")

type OrderService struct {
	db          *gorm.DB
	invoiceRepo *repository.InvoiceRepository
	productRepo *repository.ProductRepository
	proofRepo   *repository.ProofRepository
	auditRepo   *repository.AuditRepository
}

func NewOrderService(db *gorm.DB) *OrderService {
	return &OrderService{
		db:          db,
		invoiceRepo: repository.NewInvoiceRepository(db),
		productRepo: repository.NewProductRepository(db),
		proofRepo:   repository.NewProofRepository(db),
		auditRepo:   repository.NewAuditRepository(db),
	}
}

// CreateInvoice 创建手动转账账单
//
// 【关键点】Amount 在这里按当前商品价格快照，之后永不重算。
// 故意不检查展示库存：真正的稀缺性由审核时的库存认领裁决，
// 库存暂时为空也照常接单，发货问题推迟到审核阶段处理
func (s *OrderService) CreateInvoice(ctx context.Context, userID, productID int64) (*model.Invoice, error) {
	product, err := s.productRepo.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	invoice := &model.Invoice{
		InvoiceNo:     idgen.GenerateInvoiceNo(),
		UserID:        userID,
		ProductID:     product.ID,
		Amount:        product.Price,
		PaymentMethod: model.PaymentMethodManual,
		Status:        model.InvoiceStatusUnpaid,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.invoiceRepo.Create(ctx, tx, invoice); err != nil {
			return fmt.Errorf("创建账单失败: %w", err)
		}

		entry := &model.AuditEntry{
			Actor:     model.ActorSystem,
			Action:    model.AuditActionInvoiceCreated,
			InvoiceID: invoice.ID,
			UserID:    userID,
			Metadata:  fmt.Sprintf(`{"invoice_no":%q,"product_id":%d,"amount":%d}`, invoice.InvoiceNo, product.ID, product.Price),
		}
		if err := s.auditRepo.Append(ctx, tx, entry); err != nil {
			return fmt.Errorf("写入审计失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return invoice, nil
}

// InvoiceView 买家视角的账单（带商品名）
type InvoiceView struct {
	*model.Invoice
	ProductName string `json:"product_name"`
}

func (s *OrderService) ListUserInvoices(ctx context.Context, userID int64, page, pageSize int) ([]*InvoiceView, int64, error) {
	invoices, total, err := s.invoiceRepo.ListByUserID(ctx, userID, page, pageSize)
	if err != nil {
		return nil, 0, err
	}

	views, err := s.withProductNames(ctx, invoices)
	if err != nil {
		return nil, 0, err
	}
	return views, total, nil
}

func (s *OrderService) GetInvoiceForUser(ctx context.Context, invoiceNo string, userID int64) (*model.Invoice, error) {
	invoice, err := s.invoiceRepo.GetByInvoiceNo(ctx, nil, invoiceNo)
	if err != nil {
		return nil, err
	}
	if invoice.UserID != userID {
		return nil, ErrNotInvoiceOwner
	}
	return invoice, nil
}

// PendingReviewItem 审核队列条目（账单 + 最新凭证）
type PendingReviewItem struct {
	*InvoiceView
	LatestProof *model.PaymentProof `json:"latest_proof,omitempty"`
}

// ListPendingReview 运营审核队列：所有 WAITING_PROOF 账单按提交先后排列
func (s *OrderService) ListPendingReview(ctx context.Context, limit int) ([]*PendingReviewItem, error) {
	invoices, err := s.invoiceRepo.ListByStatus(ctx, model.InvoiceStatusWaitingProof, limit)
	if err != nil {
		return nil, err
	}

	views, err := s.withProductNames(ctx, invoices)
	if err != nil {
		return nil, err
	}

	items := make([]*PendingReviewItem, 0, len(views))
	for _, v := range views {
		proof, err := s.proofRepo.GetLatestByInvoiceID(ctx, v.ID)
		if err != nil {
			return nil, err
		}
		items = append(items, &PendingReviewItem{InvoiceView: v, LatestProof: proof})
	}
	return items, nil
}

func (s *OrderService) withProductNames(ctx context.Context, invoices []*model.Invoice) ([]*InvoiceView, error) {
	products, err := s.productRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(products))
	for _, p := range products {
		names[p.ID] = p.Name
	}

	views := make([]*InvoiceView, 0, len(invoices))
	for _, inv := range invoices {
		views = append(views, &InvoiceView{Invoice: inv, ProductName: names[inv.ProductID]})
	}
	return views, nil
}
