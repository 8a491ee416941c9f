package repository

import (
	"context"
	"errors"
	"time"

	"digishop/internal/model"

	"gorm.io/gorm"
)

var (
	ErrUnitNotFound     = errors.New("库存单元不存在")
	ErrUnitNotAvailable = errors.New("库存单元已分配，不允许删除")
	ErrOutOfStock       = errors.New("库存不足")
)

type StockRepository struct {
	db *gorm.DB
}

func NewStockRepository(db *gorm.DB) *StockRepository {
	return &StockRepository{db: db}
}

func (r *StockRepository) CreateBatch(ctx context.Context, tx *gorm.DB, units []*model.StockUnit) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(&units).Error
}

func (r *StockRepository) GetByID(ctx context.Context, id int64) (*model.StockUnit, error) {
	var unit model.StockUnit
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&unit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnitNotFound
		}
		return nil, err
	}
	return &unit, nil
}

// Claim 认领一个库存单元
//
// 【关键点】这是整个系统并发最敏感的操作。取最老的 AVAILABLE 行之后，
// 用条件更新（WHERE id=? AND status='AVAILABLE'）一步完成认领：
// RowsAffected=0 说明这一行刚被别的账单抢走，换下一行重试。
// 同一单元绝不可能被两个账单认领成功 —— 即使上层的串行化锁失效
func (r *StockRepository) Claim(ctx context.Context, tx *gorm.DB, productID, invoiceID, userID int64) (*model.StockUnit, error) {
	if tx == nil {
		tx = r.db
	}

	for {
		var unit model.StockUnit
		err := tx.WithContext(ctx).
			Where("product_id = ? AND status = ?", productID, model.StockUnitStatusAvailable).
			Order("created_at ASC, id ASC").
			First(&unit).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrOutOfStock
			}
			return nil, err
		}

		now := time.Now()
		result := tx.WithContext(ctx).
			Model(&model.StockUnit{}).
			Where("id = ? AND status = ?", unit.ID, model.StockUnitStatusAvailable).
			Updates(map[string]interface{}{
				"status":              model.StockUnitStatusAssigned,
				"assigned_invoice_id": invoiceID,
				"assigned_user_id":    userID,
				"assigned_at":         now,
			})
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected == 0 {
			// 被并发认领抢走了，取下一行
			continue
		}

		unit.Status = model.StockUnitStatusAssigned
		unit.AssignedInvoiceID = &invoiceID
		unit.AssignedUserID = &userID
		unit.AssignedAt = &now
		return &unit, nil
	}
}

// Remove 删除一个未分配的库存单元
// 条件删除：已分配的单元必须保留，买家记录不能断链
func (r *StockRepository) Remove(ctx context.Context, tx *gorm.DB, unitID int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Where("id = ? AND status = ?", unitID, model.StockUnitStatusAvailable).
		Delete(&model.StockUnit{})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, unitID); err != nil {
			return err
		}
		return ErrUnitNotAvailable
	}
	return nil
}

func (r *StockRepository) ListByProduct(ctx context.Context, productID int64) ([]*model.StockUnit, error) {
	var units []*model.StockUnit
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("created_at ASC, id ASC").
		Find(&units).Error
	return units, err
}

func (r *StockRepository) CountAvailable(ctx context.Context, productID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.StockUnit{}).
		Where("product_id = ? AND status = ?", productID, model.StockUnitStatusAvailable).
		Count(&count).Error
	return count, err
}

// ============================================================
// 用户已购账号（分配时的不可变快照）
// ============================================================

func (r *StockRepository) CreatePremiumAccount(ctx context.Context, tx *gorm.DB, account *model.UserPremiumAccount) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(account).Error
}

func (r *StockRepository) ListPremiumByUserID(ctx context.Context, userID int64) ([]*model.UserPremiumAccount, error) {
	var accounts []*model.UserPremiumAccount
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&accounts).Error
	return accounts, err
}

func (r *StockRepository) GetPremiumByInvoiceID(ctx context.Context, invoiceID int64) (*model.UserPremiumAccount, error) {
	var account model.UserPremiumAccount
	err := r.db.WithContext(ctx).Where("invoice_id = ?", invoiceID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}
