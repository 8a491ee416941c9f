package repository

import (
	"context"

	"digishop/internal/model"

	"gorm.io/gorm"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append 追加一条审计记录
// 调用方必须把它放进与状态变更相同的事务里：
// 审计写失败则整个变更回滚，绝不存在"改了状态却没有审计"的情况
func (r *AuditRepository) Append(ctx context.Context, tx *gorm.DB, entry *model.AuditEntry) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(entry).Error
}

func (r *AuditRepository) ListByInvoiceID(ctx context.Context, invoiceID int64) ([]*model.AuditEntry, error) {
	var entries []*model.AuditEntry
	err := r.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

func (r *AuditRepository) List(ctx context.Context, page, pageSize int) ([]*model.AuditEntry, int64, error) {
	var entries []*model.AuditEntry
	var total int64

	query := r.db.WithContext(ctx).Model(&model.AuditEntry{})

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error

	return entries, total, err
}

// CountByInvoiceAndAction 统计某账单某动作的审计条数（测试与对账用）
func (r *AuditRepository) CountByInvoiceAndAction(ctx context.Context, invoiceID int64, action string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.AuditEntry{}).
		Where("invoice_id = ? AND action = ?", invoiceID, action).
		Count(&count).Error
	return count, err
}
