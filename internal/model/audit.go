package model

import (
	"time"
)

// ============================================================================
// 审计动作常量
// ============================================================================

const (
	AuditActionInvoiceCreated  = "INVOICE_CREATED"
	AuditActionProofUploaded   = "PROOF_UPLOADED"
	AuditActionInvoiceApproved = "INVOICE_APPROVED"
	AuditActionInvoiceRejected = "INVOICE_REJECTED"
	AuditActionStockAdded      = "STOCK_ADDED"
	AuditActionStockRemoved    = "STOCK_REMOVED"
	AuditActionStockAssigned   = "STOCK_ASSIGNED"
	AuditActionOutOfStock      = "OUT_OF_STOCK"
)

// 审计条目的 Actor 来源标签
const (
	ActorAdminPanel = "admin_panel"
	ActorBot        = "bot"
	ActorSystem     = "system"
)

// ============================================================================
// 审计日志实体
// ============================================================================

// AuditEntry 审计日志表
// 记录每一次改变状态的动作，是对账和取证的核心依据
//
// 【重要】审计表设计原则：
// 1. 只追加，不修改，不删除
// 2. 审计写入与它描述的状态变更在同一事务内提交 —— 要么都成功要么都回滚
// 3. Actor 记录动作来源（操作员ID + admin_panel/bot/system 标签）
type AuditEntry struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Actor      string    `gorm:"type:varchar(64);not null" json:"actor"` // 来源标签
	OperatorID int64     `gorm:"index" json:"operator_id"`               // 操作员ID，系统动作为 0
	Action     string    `gorm:"type:varchar(32);index;not null" json:"action"`
	InvoiceID  int64     `gorm:"index" json:"invoice_id"`
	UserID     int64     `gorm:"index" json:"user_id"`
	Metadata   string    `gorm:"type:text" json:"metadata"` // JSON 结构化上下文
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (AuditEntry) TableName() string {
	return "audit_log"
}
