package service

import (
	"bytes"
	"context"
	"testing"

	"digishop/internal/model"
	"digishop/internal/notify"
	"digishop/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordProofValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	product := env.seedProduct(t, "Netflix 高级会员", 3500)

	invoice, err := env.orderSvc.CreateInvoice(ctx, testBuyerID, product.ID)
	require.NoError(t, err)

	// 类型白名单
	_, err = env.proofSvc.RecordProof(ctx, invoice.InvoiceNo, testBuyerID,
		"proof.txt", "text/plain", []byte("x"), "web")
	assert.ErrorIs(t, err, ErrProofTypeInvalid)

	// 大小上限（测试环境上限 64KB）
	oversize := bytes.Repeat([]byte("x"), 64*1024+1)
	_, err = env.proofSvc.RecordProof(ctx, invoice.InvoiceNo, testBuyerID,
		"proof.jpg", "image/jpeg", oversize, "web")
	assert.ErrorIs(t, err, ErrProofTooLarge)

	// 账单不存在
	_, err = env.proofSvc.RecordProof(ctx, "INV-missing", testBuyerID,
		"proof.jpg", "image/jpeg", []byte("x"), "web")
	assert.ErrorIs(t, err, repository.ErrInvoiceNotFound)

	// 只有账单所有者能传凭证
	_, err = env.proofSvc.RecordProof(ctx, invoice.InvoiceNo, testBuyerID+1,
		"proof.jpg", "image/jpeg", []byte("x"), "web")
	assert.ErrorIs(t, err, ErrNotInvoiceOwner)

	// 校验全程没有动过状态、没有登记凭证
	assert.Equal(t, model.InvoiceStatusUnpaid, env.reloadInvoice(t, invoice.InvoiceNo).Status)
	var count int64
	require.NoError(t, env.db.Model(&model.PaymentProof{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRecordProofTransitionsInvoice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	product := env.seedProduct(t, "Spotify 家庭组", 1200)

	invoice, err := env.orderSvc.CreateInvoice(ctx, testBuyerID, product.ID)
	require.NoError(t, err)

	proof, err := env.proofSvc.RecordProof(ctx, invoice.InvoiceNo, testBuyerID,
		"transfer.jpg", "image/jpeg", []byte("image-bytes"), "bot")
	require.NoError(t, err)
	assert.Equal(t, model.ProofStatusPending, proof.Status)
	assert.Equal(t, "bot", proof.Source)
	assert.NotEmpty(t, proof.StorageRef)

	assert.Equal(t, model.InvoiceStatusWaitingProof, env.reloadInvoice(t, invoice.InvoiceNo).Status)

	auditRepo := repository.NewAuditRepository(env.db)
	uploaded, err := auditRepo.CountByInvoiceAndAction(ctx, invoice.ID, model.AuditActionProofUploaded)
	require.NoError(t, err)
	assert.EqualValues(t, 1, uploaded)
}

// WAITING_PROOF 状态下补传：状态不动，凭证追加
func TestRecordProofAppendsWhileWaiting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	product := env.seedProduct(t, "Disney+", 800)

	invoice := env.createWaitingInvoice(t, testBuyerID, product.ID)

	_, err := env.proofSvc.RecordProof(ctx, invoice.InvoiceNo, testBuyerID,
		"extra.pdf", "application/pdf", []byte("pdf-bytes"), "web")
	require.NoError(t, err)

	assert.Equal(t, model.InvoiceStatusWaitingProof, env.reloadInvoice(t, invoice.InvoiceNo).Status)

	var count int64
	require.NoError(t, env.db.Model(&model.PaymentProof{}).
		Where("invoice_id = ?", invoice.ID).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

// hookBlobStore 在文件落外部存储的时机插入动作，模拟受理过程中的并发写
type hookBlobStore struct {
	onPut func()
}

func (s *hookBlobStore) Put(ctx context.Context, data []byte, fileName string) (string, error) {
	if s.onPut != nil {
		s.onPut()
	}
	return "blob-hook", nil
}

// 预检和落库之间账单被拒绝退回 UNPAID：
// 事务内重读状态，凭证落库的同时补上 UNPAID -> WAITING_PROOF 这条边
func TestRecordProofReconcilesStatusAfterConcurrentReject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	product := env.seedProduct(t, "Netflix 高级会员", 3500)
	invoice := env.createWaitingInvoice(t, testBuyerID, product.ID)

	store := &hookBlobStore{onPut: func() {
		require.NoError(t, env.approvalSvc.Reject(ctx, invoice.InvoiceNo,
			"转账截图看不清", testOperatorID, model.ActorAdminPanel))
	}}
	proofSvc := NewProofService(env.db, store, notify.NopNotifier{}, 64)

	_, err := proofSvc.RecordProof(ctx, invoice.InvoiceNo, testBuyerID,
		"again.jpg", "image/jpeg", []byte("second-proof"), "web")
	require.NoError(t, err)

	// 新凭证落库且账单回到 WAITING_PROOF，而不是带着 PENDING 凭证停在 UNPAID
	assert.Equal(t, model.InvoiceStatusWaitingProof, env.reloadInvoice(t, invoice.InvoiceNo).Status)

	var proofs []model.PaymentProof
	require.NoError(t, env.db.Where("invoice_id = ?", invoice.ID).Order("id ASC").Find(&proofs).Error)
	require.Len(t, proofs, 2)
	assert.Equal(t, model.ProofStatusRejected, proofs[0].Status)
	assert.Equal(t, model.ProofStatusPending, proofs[1].Status)
}

// 已到 PAID 的账单不再受理凭证
func TestRecordProofAfterPaidIsConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	product := env.seedProduct(t, "HBO Max", 1500)

	_, err := env.stockSvc.AddUnits(ctx, product.ID, "a@x.com|pw-a", testOperatorID, model.ActorAdminPanel)
	require.NoError(t, err)

	invoice := env.createWaitingInvoice(t, testBuyerID, product.ID)
	_, err = env.approvalSvc.Approve(ctx, invoice.InvoiceNo, testOperatorID, model.ActorAdminPanel)
	require.NoError(t, err)

	_, err = env.proofSvc.RecordProof(ctx, invoice.InvoiceNo, testBuyerID,
		"late.jpg", "image/jpeg", []byte("x"), "web")
	assert.ErrorIs(t, err, repository.ErrInvoiceStateInvalid)
}
