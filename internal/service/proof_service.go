package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"digishop/internal/model"
	"digishop/internal/notify"
	"digishop/internal/repository"
	"digishop/internal/storage"

	"gorm.io/gorm"
)

var (
	ErrProofTypeInvalid = errors.New("不支持的凭证文件类型")
	ErrProofTooLarge    = errors.New("凭证文件超过大小上限")
)

// 凭证文件类型白名单
var allowedProofMimeTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"application/pdf": true,
}

const DefaultProofMaxSizeKB = 5 * 1024

// ProofService 付款凭证受理
// 只做校验和登记，文件字节交给外部存储，库里只留引用
type ProofService struct {
	db          *gorm.DB
	invoiceRepo *repository.InvoiceRepository
	productRepo *repository.ProductRepository
	proofRepo   *repository.ProofRepository
	auditRepo   *repository.AuditRepository
	blobs       storage.BlobStore
	notifier    notify.Notifier
	maxSizeKB   int
}

func NewProofService(db *gorm.DB, blobs storage.BlobStore, notifier notify.Notifier, maxSizeKB int) *ProofService {
	if maxSizeKB <= 0 {
		maxSizeKB = DefaultProofMaxSizeKB
	}
	return &ProofService{
		db:          db,
		invoiceRepo: repository.NewInvoiceRepository(db),
		productRepo: repository.NewProductRepository(db),
		proofRepo:   repository.NewProofRepository(db),
		auditRepo:   repository.NewAuditRepository(db),
		blobs:       blobs,
		notifier:    notifier,
		maxSizeKB:   maxSizeKB,
	}
}

// RecordProof 受理一份付款凭证
//
// 校验顺序：文件类型/大小 -> 账单存在 -> 归属权 -> 状态机。
// 成功后账单进入 WAITING_PROOF；被拒后重新上传走同一条路。
// WAITING_PROOF 状态下允许补传，状态不动，只追加凭证记录
func (s *ProofService) RecordProof(ctx context.Context, invoiceNo string, userID int64, fileName, mimeType string, data []byte, source string) (*model.PaymentProof, error) {
	if !allowedProofMimeTypes[mimeType] {
		return nil, ErrProofTypeInvalid
	}
	if len(data) > s.maxSizeKB*1024 {
		return nil, ErrProofTooLarge
	}

	invoice, err := s.invoiceRepo.GetByInvoiceNo(ctx, nil, invoiceNo)
	if err != nil {
		return nil, err
	}
	if invoice.UserID != userID {
		return nil, ErrNotInvoiceOwner
	}
	if invoice.Status != model.InvoiceStatusUnpaid && invoice.Status != model.InvoiceStatusWaitingProof {
		return nil, repository.ErrInvoiceStateInvalid
	}

	// 字节先进外部存储；此时不持有任何锁
	ref, err := s.blobs.Put(ctx, data, fileName)
	if err != nil {
		return nil, fmt.Errorf("保存凭证文件失败: %w", err)
	}

	proof := &model.PaymentProof{
		InvoiceID:  invoice.ID,
		UserID:     userID,
		MimeType:   mimeType,
		FileName:   fileName,
		StorageRef: ref,
		Source:     source,
		Status:     model.ProofStatusPending,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		// 【关键点】事务内重读状态：预检到落库之间账单可能已被审核或拒绝，
		// 状态跳转必须依据事务内看到的状态，否则会漏掉 UNPAID -> WAITING_PROOF 这条边
		current, err := s.invoiceRepo.GetByInvoiceNo(ctx, tx, invoiceNo)
		if err != nil {
			return err
		}
		if current.Status != model.InvoiceStatusUnpaid && current.Status != model.InvoiceStatusWaitingProof {
			return repository.ErrInvoiceStateInvalid
		}

		if err := s.proofRepo.Create(ctx, tx, proof); err != nil {
			return fmt.Errorf("登记凭证失败: %w", err)
		}

		if current.Status == model.InvoiceStatusUnpaid {
			if err := s.invoiceRepo.UpdateStatus(ctx, tx, invoiceNo,
				model.InvoiceStatusUnpaid, model.InvoiceStatusWaitingProof, nil); err != nil {
				return err
			}
		}

		entry := &model.AuditEntry{
			Actor:     model.ActorSystem,
			Action:    model.AuditActionProofUploaded,
			InvoiceID: invoice.ID,
			UserID:    userID,
			Metadata:  fmt.Sprintf(`{"invoice_no":%q,"mime_type":%q,"storage_ref":%q,"source":%q}`, invoiceNo, mimeType, ref, source),
		}
		if err := s.auditRepo.Append(ctx, tx, entry); err != nil {
			return fmt.Errorf("写入审计失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// 事务已提交，通知失败不影响受理结果
	if product, perr := s.productRepo.GetByID(ctx, invoice.ProductID); perr == nil {
		s.notifier.ProofSubmitted(invoiceNo, product.Name, invoice.Amount)
	} else {
		log.Printf("[Proof] 查询商品失败，跳过通知: %v", perr)
	}

	return proof, nil
}
