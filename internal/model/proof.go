package model

import (
	"time"
)

const (
	ProofStatusPending  = "PENDING"
	ProofStatusApproved = "APPROVED"
	ProofStatusRejected = "REJECTED"
)

// PaymentProof 付款凭证表
// 买家上传的转账截图/回单，等待运营人工审核
//
// 同一账单允许多条凭证（被拒后重新上传），历史凭证全部保留供审计，
// 审核时只看最新一条
type PaymentProof struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	InvoiceID   int64     `gorm:"index;not null" json:"invoice_id"`
	UserID      int64     `gorm:"index;not null" json:"user_id"`
	MimeType    string    `gorm:"type:varchar(64);not null" json:"mime_type"`
	FileName    string    `gorm:"type:varchar(256)" json:"file_name"`
	StorageRef  string    `gorm:"type:varchar(512);not null" json:"storage_ref"` // 外部存储引用，字节不落库
	Source      string    `gorm:"type:varchar(32)" json:"source"` // web / bot
	MessageRef  string    `gorm:"type:varchar(128)" json:"message_ref,omitempty"`
	Status      string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (PaymentProof) TableName() string {
	return "payment_proof"
}
