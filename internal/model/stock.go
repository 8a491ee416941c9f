package model

import (
	"time"
)

const (
	StockUnitStatusAvailable = "AVAILABLE"
	StockUnitStatusAssigned  = "ASSIGNED"
)

// StockUnit 库存单元表
// 一行 = 一个可交付的会员账号（邮箱 + 加密后的密码）
//
// 【重要】库存分配原则：
// 1. 一个单元最多分配给一个账单，靠条件更新（WHERE status='AVAILABLE'）保证，
//    绝不依赖"先查再改"的两步操作
// 2. status=ASSIGNED 时 AssignedInvoiceID / AssignedUserID 必须同时非空
// 3. 已分配的单元不允许删除 —— 买家收到的账号记录必须可追溯
// 4. PasswordCipher 只存密文，明文密码只在交付给账单所有者时解出
type StockUnit struct {
	ID                int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID         int64      `gorm:"index;not null" json:"product_id"`
	BatchNo           string     `gorm:"type:varchar(64);index;not null" json:"batch_no"` // 同一次入库的批次号
	AccountEmail      string     `gorm:"type:varchar(256);not null" json:"account_email"`
	PasswordCipher    []byte     `gorm:"type:blob;not null" json:"-"`
	Status            string     `gorm:"type:varchar(20);index;not null;default:AVAILABLE" json:"status"`
	AssignedInvoiceID *int64     `gorm:"index" json:"assigned_invoice_id,omitempty"`
	AssignedUserID    *int64     `json:"assigned_user_id,omitempty"`
	CreatedBy         int64      `gorm:"not null" json:"created_by"` // 入库操作员
	CreatedAt         time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	AssignedAt        *time.Time `json:"assigned_at,omitempty"`
}

func (StockUnit) TableName() string {
	return "stock_unit"
}

// UserPremiumAccount 用户已购账号表
// 分配成功时从 StockUnit 拷贝的不可变快照 —— 之后对库存的任何改动
// 都不会影响买家已经拿到的账号
type UserPremiumAccount struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         int64     `gorm:"index;not null" json:"user_id"`
	InvoiceID      int64     `gorm:"uniqueIndex;not null" json:"invoice_id"` // 一个账单最多一条分配记录
	StockUnitID    int64     `gorm:"not null" json:"stock_unit_id"`
	ProductID      int64     `gorm:"not null" json:"product_id"`
	AccountEmail   string    `gorm:"type:varchar(256);not null" json:"account_email"`
	PasswordCipher []byte    `gorm:"type:blob;not null" json:"-"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (UserPremiumAccount) TableName() string {
	return "user_premium_account"
}
