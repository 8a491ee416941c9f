package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"digishop/internal/config"
	"digishop/internal/infrastructure/lock"
	"digishop/internal/model"
	"digishop/internal/notify"
	"digishop/internal/repository"

	"gorm.io/gorm"
)

var ErrReasonRequired = errors.New("拒绝原因不能为空")

// ApprovalService 审核引擎
// 管理后台和 Telegram 机器人共用同一个入口，语义完全一致，
// 只有审计里的 actor 标签不同 —— 审核逻辑绝不按来源分叉
type ApprovalService struct {
	db          *gorm.DB
	cfg         *config.Config
	locker      lock.Locker
	notifier    notify.Notifier
	invoiceRepo *repository.InvoiceRepository
	productRepo *repository.ProductRepository
	proofRepo   *repository.ProofRepository
	stockRepo   *repository.StockRepository
	auditRepo   *repository.AuditRepository
	outboxRepo  *repository.OutboxRepository
}

func NewApprovalService(db *gorm.DB, cfg *config.Config, locker lock.Locker, notifier notify.Notifier) *ApprovalService {
	return &ApprovalService{
		db:          db,
		cfg:         cfg,
		locker:      locker,
		notifier:    notifier,
		invoiceRepo: repository.NewInvoiceRepository(db),
		productRepo: repository.NewProductRepository(db),
		proofRepo:   repository.NewProofRepository(db),
		stockRepo:   repository.NewStockRepository(db),
		auditRepo:   repository.NewAuditRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
	}
}

// ApproveResult 审核结果
// OutOfStock=true 不是失败：收款已确认，账单停在 PAID_BUT_OUT_OF_STOCK
// 等运营补货后重新分配
type ApproveResult struct {
	InvoiceNo  string `json:"invoice_no"`
	Status     string `json:"status"`
	Assigned   bool   `json:"assigned"`
	OutOfStock bool   `json:"out_of_stock"`
}

// Approve 审核通过
//
// 【关键点】整个系统最核心的操作，必须保证：
// 1. 同一账单只会被审核通过一次 —— 账单锁 + 条件状态更新双保险，
//    重复点击/重复回调一律报"账单已处理"
// 2. 收款确认和库存分配解耦 —— 转 PAID 之后认领失败不回滚收款状态，
//    钱确实到账了，缺货是发货问题不是收款问题
// 3. 每一步状态变更连同审计记录同事务提交
// 4. 对外通知（Telegram 等慢速 I/O）绝不在持锁期间发出
func (s *ApprovalService) Approve(ctx context.Context, invoiceNo string, operatorID int64, actor string) (*ApproveResult, error) {
	result, invoice, err := s.approveLocked(ctx, invoiceNo, operatorID, actor)
	if err != nil {
		return nil, err
	}

	// 通知在所有锁都释放、事务都提交之后发，失败不影响结果
	s.notifyResult(ctx, invoice, result.Assigned)

	log.Printf("[Approval] 审核通过: invoiceNo=%s, operator=%d, actor=%s, assigned=%v",
		invoiceNo, operatorID, actor, result.Assigned)

	return result, nil
}

// approveLocked 持账单锁完成状态跳转和库存分配；返回时锁已释放
func (s *ApprovalService) approveLocked(ctx context.Context, invoiceNo string, operatorID int64, actor string) (*ApproveResult, *model.Invoice, error) {
	approveLock := s.locker.New(lock.ApproveKey(invoiceNo))
	if err := approveLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer approveLock.Unlock(ctx)

	invoice, err := s.invoiceRepo.GetByInvoiceNo(ctx, nil, invoiceNo)
	if err != nil {
		return nil, nil, err
	}

	// 合法的起始状态只有 UNPAID / WAITING_PROOF，已到 PAID 的一律视为重复操作
	fromStatus := invoice.Status
	if fromStatus != model.InvoiceStatusUnpaid && fromStatus != model.InvoiceStatusWaitingProof {
		return nil, nil, repository.ErrInvoiceStateInvalid
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.invoiceRepo.UpdateStatus(ctx, tx, invoiceNo, fromStatus, model.InvoiceStatusPaid, nil); err != nil {
			return err
		}

		if err := s.proofRepo.UpdatePendingStatus(ctx, tx, invoice.ID, model.ProofStatusApproved); err != nil {
			return fmt.Errorf("更新凭证状态失败: %w", err)
		}

		entry := &model.AuditEntry{
			Actor:      actor,
			OperatorID: operatorID,
			Action:     model.AuditActionInvoiceApproved,
			InvoiceID:  invoice.ID,
			UserID:     invoice.UserID,
			Metadata:   fmt.Sprintf(`{"invoice_no":%q,"from_status":%q}`, invoiceNo, fromStatus),
		}
		if err := s.auditRepo.Append(ctx, tx, entry); err != nil {
			return fmt.Errorf("写入审计失败: %w", err)
		}

		return s.appendEvent(ctx, tx, invoiceNo, "invoice.approved", map[string]interface{}{
			"invoice_no": invoiceNo,
			"user_id":    invoice.UserID,
			"product_id": invoice.ProductID,
			"amount":     invoice.Amount,
			"actor":      actor,
		})
	})
	if err != nil {
		return nil, nil, err
	}

	// 收款已确认，进入库存分配
	assigned, err := s.allocate(ctx, invoice, operatorID, actor)
	if err != nil {
		return nil, nil, err
	}

	result := &ApproveResult{
		InvoiceNo:  invoiceNo,
		Status:     model.InvoiceStatusPaid,
		Assigned:   assigned,
		OutOfStock: !assigned,
	}
	if !assigned {
		result.Status = model.InvoiceStatusPaidOutOfStock
	}
	return result, invoice, nil
}

// Reject 审核拒绝
// 原因必填；账单退回 UNPAID（带原因），买家可以重新上传凭证，
// 历史凭证保留原样供审计
func (s *ApprovalService) Reject(ctx context.Context, invoiceNo, reason string, operatorID int64, actor string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ErrReasonRequired
	}

	approveLock := s.locker.New(lock.ApproveKey(invoiceNo))
	if err := approveLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer approveLock.Unlock(ctx)

	invoice, err := s.invoiceRepo.GetByInvoiceNo(ctx, nil, invoiceNo)
	if err != nil {
		return err
	}
	if invoice.Status != model.InvoiceStatusWaitingProof {
		return repository.ErrInvoiceStateInvalid
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.invoiceRepo.UpdateStatus(ctx, tx, invoiceNo,
			model.InvoiceStatusWaitingProof, model.InvoiceStatusUnpaid,
			map[string]interface{}{"reject_reason": reason}); err != nil {
			return err
		}

		if err := s.proofRepo.UpdatePendingStatus(ctx, tx, invoice.ID, model.ProofStatusRejected); err != nil {
			return fmt.Errorf("更新凭证状态失败: %w", err)
		}

		entry := &model.AuditEntry{
			Actor:      actor,
			OperatorID: operatorID,
			Action:     model.AuditActionInvoiceRejected,
			InvoiceID:  invoice.ID,
			UserID:     invoice.UserID,
			Metadata:   fmt.Sprintf(`{"invoice_no":%q,"reason":%q}`, invoiceNo, reason),
		}
		if err := s.auditRepo.Append(ctx, tx, entry); err != nil {
			return fmt.Errorf("写入审计失败: %w", err)
		}

		return s.appendEvent(ctx, tx, invoiceNo, "invoice.rejected", map[string]interface{}{
			"invoice_no": invoiceNo,
			"user_id":    invoice.UserID,
			"reason":     reason,
			"actor":      actor,
		})
	})
	if err != nil {
		return err
	}

	log.Printf("[Approval] 审核拒绝: invoiceNo=%s, operator=%d, actor=%s, reason=%s",
		invoiceNo, operatorID, actor, reason)
	return nil
}

// RetryAllocation 补货后重新为 PAID_BUT_OUT_OF_STOCK 的账单分配库存
// 通知同样只在锁释放之后发出
func (s *ApprovalService) RetryAllocation(ctx context.Context, invoiceNo string, operatorID int64, actor string) (*ApproveResult, error) {
	result, invoice, err := s.retryAllocationLocked(ctx, invoiceNo, operatorID, actor)
	if err != nil {
		return nil, err
	}

	if result.Assigned {
		s.notifyResult(ctx, invoice, true)
	}
	return result, nil
}

func (s *ApprovalService) retryAllocationLocked(ctx context.Context, invoiceNo string, operatorID int64, actor string) (*ApproveResult, *model.Invoice, error) {
	approveLock := s.locker.New(lock.ApproveKey(invoiceNo))
	if err := approveLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer approveLock.Unlock(ctx)

	invoice, err := s.invoiceRepo.GetByInvoiceNo(ctx, nil, invoiceNo)
	if err != nil {
		return nil, nil, err
	}
	if invoice.Status != model.InvoiceStatusPaidOutOfStock {
		return nil, nil, repository.ErrInvoiceStateInvalid
	}

	assigned, err := s.reallocate(ctx, invoice, operatorID, actor)
	if err != nil {
		return nil, nil, err
	}

	result := &ApproveResult{
		InvoiceNo:  invoiceNo,
		Status:     model.InvoiceStatusPaid,
		Assigned:   assigned,
		OutOfStock: !assigned,
	}
	if !assigned {
		result.Status = model.InvoiceStatusPaidOutOfStock
	}
	return result, invoice, nil
}

// allocate 首次分配：认领成功留在 PAID，缺货转 PAID_BUT_OUT_OF_STOCK
func (s *ApprovalService) allocate(ctx context.Context, invoice *model.Invoice, operatorID int64, actor string) (bool, error) {
	claimErr := s.claimAndAssign(ctx, invoice, "", operatorID, actor)
	if claimErr == nil {
		return true, nil
	}
	if !errors.Is(claimErr, repository.ErrOutOfStock) {
		return false, claimErr
	}

	// 缺货：收款状态不回滚，转入等待补货的终态
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.invoiceRepo.UpdateStatus(ctx, tx, invoice.InvoiceNo,
			model.InvoiceStatusPaid, model.InvoiceStatusPaidOutOfStock, nil); err != nil {
			return err
		}

		entry := &model.AuditEntry{
			Actor:      actor,
			OperatorID: operatorID,
			Action:     model.AuditActionOutOfStock,
			InvoiceID:  invoice.ID,
			UserID:     invoice.UserID,
			Metadata:   fmt.Sprintf(`{"invoice_no":%q,"product_id":%d}`, invoice.InvoiceNo, invoice.ProductID),
		}
		if err := s.auditRepo.Append(ctx, tx, entry); err != nil {
			return fmt.Errorf("写入审计失败: %w", err)
		}

		return s.appendEvent(ctx, tx, invoice.InvoiceNo, "invoice.out_of_stock", map[string]interface{}{
			"invoice_no": invoice.InvoiceNo,
			"user_id":    invoice.UserID,
			"product_id": invoice.ProductID,
		})
	})
	if err != nil {
		return false, err
	}
	return false, nil
}

// reallocate 补货后的再分配：认领成功把账单从 PAID_BUT_OUT_OF_STOCK 拉回 PAID
func (s *ApprovalService) reallocate(ctx context.Context, invoice *model.Invoice, operatorID int64, actor string) (bool, error) {
	claimErr := s.claimAndAssign(ctx, invoice, model.InvoiceStatusPaidOutOfStock, operatorID, actor)
	if claimErr == nil {
		return true, nil
	}
	if errors.Is(claimErr, repository.ErrOutOfStock) {
		return false, nil
	}
	return false, claimErr
}

// claimAndAssign 认领一个库存单元并生成买家快照，一个事务内完成
// fromStatus 非空时在同一事务里顺带完成状态回迁
func (s *ApprovalService) claimAndAssign(ctx context.Context, invoice *model.Invoice, fromStatus string, operatorID int64, actor string) error {
	claimLock := s.locker.New(lock.ClaimKey(invoice.ProductID))
	if err := claimLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer claimLock.Unlock(ctx)

	return s.db.Transaction(func(tx *gorm.DB) error {
		unit, err := s.stockRepo.Claim(ctx, tx, invoice.ProductID, invoice.ID, invoice.UserID)
		if err != nil {
			return err
		}

		if fromStatus != "" {
			if err := s.invoiceRepo.UpdateStatus(ctx, tx, invoice.InvoiceNo,
				fromStatus, model.InvoiceStatusPaid, nil); err != nil {
				return err
			}
		}

		// 不可变快照：之后改库存不影响买家已拿到的账号
		account := &model.UserPremiumAccount{
			UserID:         invoice.UserID,
			InvoiceID:      invoice.ID,
			StockUnitID:    unit.ID,
			ProductID:      invoice.ProductID,
			AccountEmail:   unit.AccountEmail,
			PasswordCipher: unit.PasswordCipher,
		}
		if err := s.stockRepo.CreatePremiumAccount(ctx, tx, account); err != nil {
			return fmt.Errorf("生成买家账号记录失败: %w", err)
		}

		entry := &model.AuditEntry{
			Actor:      actor,
			OperatorID: operatorID,
			Action:     model.AuditActionStockAssigned,
			InvoiceID:  invoice.ID,
			UserID:     invoice.UserID,
			Metadata:   fmt.Sprintf(`{"invoice_no":%q,"unit_id":%d,"account_email":%q}`, invoice.InvoiceNo, unit.ID, unit.AccountEmail),
		}
		if err := s.auditRepo.Append(ctx, tx, entry); err != nil {
			return fmt.Errorf("写入审计失败: %w", err)
		}

		return s.appendEvent(ctx, tx, invoice.InvoiceNo, "invoice.assigned", map[string]interface{}{
			"invoice_no": invoice.InvoiceNo,
			"user_id":    invoice.UserID,
			"unit_id":    unit.ID,
		})
	})
}

// appendEvent 把生命周期事件写进发件箱（与业务同事务）
func (s *ApprovalService) appendEvent(ctx context.Context, tx *gorm.DB, key, event string, payload map[string]interface{}) error {
	payload["event"] = event
	payload["occurred_at"] = time.Now().Format(time.RFC3339)
	payloadBytes, _ := json.Marshal(payload)

	msg := &model.OutboxMessage{
		MessageKey: key,
		Topic:      s.cfg.Kafka.Topic.InvoiceEvent,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入事件失败: %w", err)
	}
	return nil
}

func (s *ApprovalService) notifyResult(ctx context.Context, invoice *model.Invoice, assigned bool) {
	product, err := s.productRepo.GetByID(ctx, invoice.ProductID)
	if err != nil {
		log.Printf("[Approval] 查询商品失败，跳过通知: %v", err)
		return
	}
	if assigned {
		s.notifier.Approved(invoice.InvoiceNo, product.Name)
	} else {
		s.notifier.OutOfStock(invoice.InvoiceNo, product.Name)
	}
}
