package repository

import (
	"context"
	"errors"

	"digishop/internal/model"

	"gorm.io/gorm"
)

type ProofRepository struct {
	db *gorm.DB
}

func NewProofRepository(db *gorm.DB) *ProofRepository {
	return &ProofRepository{db: db}
}

func (r *ProofRepository) Create(ctx context.Context, tx *gorm.DB, proof *model.PaymentProof) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(proof).Error
}

// GetLatestByInvoiceID 取账单最新一条凭证（审核只看最新的）
func (r *ProofRepository) GetLatestByInvoiceID(ctx context.Context, invoiceID int64) (*model.PaymentProof, error) {
	var proof model.PaymentProof
	err := r.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("created_at DESC").
		First(&proof).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &proof, nil
}

func (r *ProofRepository) ListByInvoiceID(ctx context.Context, invoiceID int64) ([]*model.PaymentProof, error) {
	var proofs []*model.PaymentProof
	err := r.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("created_at ASC").
		Find(&proofs).Error
	return proofs, err
}

// UpdatePendingStatus 把账单下所有待审凭证改成终态（审核通过/拒绝时调用）
// 历史凭证行本身永不删除
func (r *ProofRepository) UpdatePendingStatus(ctx context.Context, tx *gorm.DB, invoiceID int64, toStatus string) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.PaymentProof{}).
		Where("invoice_id = ? AND status = ?", invoiceID, model.ProofStatusPending).
		Update("status", toStatus).Error
}
