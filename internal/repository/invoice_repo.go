package repository

import (
	"context"
	"errors"

	"digishop/internal/model"

	"gorm.io/gorm"
)

var (
	ErrInvoiceNotFound     = errors.New("账单不存在")
	ErrInvoiceStateInvalid = errors.New("账单已处理，状态不允许该操作")
)

type InvoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

func (r *InvoiceRepository) Create(ctx context.Context, tx *gorm.DB, invoice *model.Invoice) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(invoice).Error
}

func (r *InvoiceRepository) GetByInvoiceNo(ctx context.Context, tx *gorm.DB, invoiceNo string) (*model.Invoice, error) {
	if tx == nil {
		tx = r.db
	}
	var invoice model.Invoice
	err := tx.WithContext(ctx).Where("invoice_no = ?", invoiceNo).First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *InvoiceRepository) GetByID(ctx context.Context, id int64) (*model.Invoice, error) {
	var invoice model.Invoice
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return &invoice, nil
}

// UpdateStatus 条件状态更新
//
// 【关键点】守卫检查和状态写入必须是同一条语句：
// WHERE status=fromStatus 保证并发下同一条边只会被走一次，
// RowsAffected=0 说明别人已经抢先改过状态，按冲突处理
func (r *InvoiceRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, invoiceNo string, fromStatus, toStatus string, extra map[string]interface{}) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrInvoiceStateInvalid
	}

	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	for k, v := range extra {
		updates[k] = v
	}

	result := tx.WithContext(ctx).
		Model(&model.Invoice{}).
		Where("invoice_no = ? AND status = ?", invoiceNo, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrInvoiceStateInvalid
	}

	return nil
}

func (r *InvoiceRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Invoice, int64, error) {
	var invoices []*model.Invoice
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Invoice{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&invoices).Error

	return invoices, total, err
}

// ListByStatus 运营侧按状态拉取账单（审核队列）
func (r *InvoiceRepository) ListByStatus(ctx context.Context, status string, limit int) ([]*model.Invoice, error) {
	var invoices []*model.Invoice
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&invoices).Error
	return invoices, err
}
