package model

import (
	"time"
)

const (
	InvoiceStatusUnpaid         = "UNPAID"
	InvoiceStatusWaitingProof   = "WAITING_PROOF"
	InvoiceStatusPaid           = "PAID"
	InvoiceStatusPaidOutOfStock = "PAID_BUT_OUT_OF_STOCK"
)

// ValidStatusTransitions 账单状态机
//
//	UNPAID --上传凭证--> WAITING_PROOF --审核通过--> PAID
//	WAITING_PROOF --审核拒绝(带原因)--> UNPAID（可重新上传凭证）
//	PAID --库存不足--> PAID_BUT_OUT_OF_STOCK --补货后重新分配--> PAID
//
// 【注意】UNPAID -> PAID 也是合法边：容忍审核时凭证记录与状态短暂不一致，
// 但已到终态的账单绝不允许被再次审核
var ValidStatusTransitions = map[string][]string{
	InvoiceStatusUnpaid:         {InvoiceStatusWaitingProof, InvoiceStatusPaid},
	InvoiceStatusWaitingProof:   {InvoiceStatusPaid, InvoiceStatusUnpaid},
	InvoiceStatusPaid:           {InvoiceStatusPaidOutOfStock},
	InvoiceStatusPaidOutOfStock: {InvoiceStatusPaid},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

const (
	PaymentMethodManual = "MANUAL_PAYMENT"
)

// Invoice 账单表（整个系统的核心实体）
//
// 【重要】账单设计原则：
// 1. Amount 在创建时按当时商品价格快照，之后永不重算 —— 改价不影响已有账单
// 2. 状态只能沿状态机单向流转，跳转由条件更新保证原子性
// 3. 只追加，不删除 —— 财务记录必须可追溯
type Invoice struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	InvoiceNo     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"invoice_no"`
	UserID        int64     `gorm:"index;not null" json:"user_id"`
	ProductID     int64     `gorm:"index;not null" json:"product_id"`
	Amount        int64     `gorm:"not null" json:"amount"` // 创建时的价格快照，不可变
	PaymentMethod string    `gorm:"type:varchar(32);not null" json:"payment_method"`
	Status        string    `gorm:"type:varchar(32);index;not null" json:"status"`
	RejectReason  string    `gorm:"type:varchar(256)" json:"reject_reason,omitempty"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Invoice) TableName() string {
	return "invoice"
}
