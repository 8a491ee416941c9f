package service

import (
	"context"
	"testing"
	"time"

	"digishop/internal/config"
	"digishop/internal/infrastructure/lock"
	"digishop/internal/model"
	"digishop/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testOperatorID = int64(9001)
	testBuyerID    = int64(42)
)

func TestApproveAssignsStockAndWritesAudit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	product := env.seedProduct(t, "Netflix 高级会员", 3500)
	added, err := env.stockSvc.AddUnits(ctx, product.ID, "a@x.com|pw-a\nb@x.com|pw-b", testOperatorID, model.ActorAdminPanel)
	require.NoError(t, err)
	require.Equal(t, 2, added)

	invoice := env.createWaitingInvoice(t, testBuyerID, product.ID)
	require.Equal(t, model.InvoiceStatusWaitingProof, invoice.Status)

	result, err := env.approvalSvc.Approve(ctx, invoice.InvoiceNo, testOperatorID, model.ActorAdminPanel)
	require.NoError(t, err)
	assert.True(t, result.Assigned)
	assert.False(t, result.OutOfStock)
	assert.Equal(t, model.InvoiceStatusPaid, result.Status)

	// 账单转 PAID，凭证转 APPROVED
	reloaded := env.reloadInvoice(t, invoice.InvoiceNo)
	assert.Equal(t, model.InvoiceStatusPaid, reloaded.Status)

	var proof model.PaymentProof
	require.NoError(t, env.db.Where("invoice_id = ?", invoice.ID).First(&proof).Error)
	assert.Equal(t, model.ProofStatusApproved, proof.Status)

	// 先入库的单元先被分配
	accounts, err := env.stockSvc.MyAccounts(ctx, testBuyerID)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "a@x.com", accounts[0].AccountEmail)
	assert.Equal(t, "pw-a", accounts[0].Password)

	auditRepo := repository.NewAuditRepository(env.db)
	approved, err := auditRepo.CountByInvoiceAndAction(ctx, invoice.ID, model.AuditActionInvoiceApproved)
	require.NoError(t, err)
	assert.EqualValues(t, 1, approved)
	assigned, err := auditRepo.CountByInvoiceAndAction(ctx, invoice.ID, model.AuditActionStockAssigned)
	require.NoError(t, err)
	assert.EqualValues(t, 1, assigned)

	// 生命周期事件进了发件箱
	var events int64
	require.NoError(t, env.db.Model(&model.OutboxMessage{}).
		Where("message_key = ?", invoice.InvoiceNo).Count(&events).Error)
	assert.EqualValues(t, 2, events) // invoice.approved + invoice.assigned
}

// 重复审核：第二次必须报状态冲突，且只消耗一个库存单元、只有一条通过审计
func TestApproveTwiceIsConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	product := env.seedProduct(t, "Spotify 家庭组", 1200)
	_, err := env.stockSvc.AddUnits(ctx, product.ID, "a@x.com|pw-a\nb@x.com|pw-b", testOperatorID, model.ActorAdminPanel)
	require.NoError(t, err)

	invoice := env.createWaitingInvoice(t, testBuyerID, product.ID)

	_, err = env.approvalSvc.Approve(ctx, invoice.InvoiceNo, testOperatorID, model.ActorAdminPanel)
	require.NoError(t, err)

	_, err = env.approvalSvc.Approve(ctx, invoice.InvoiceNo, testOperatorID, model.ActorBot)
	assert.ErrorIs(t, err, repository.ErrInvoiceStateInvalid)

	var consumed int64
	require.NoError(t, env.db.Model(&model.StockUnit{}).
		Where("status = ?", model.StockUnitStatusAssigned).Count(&consumed).Error)
	assert.EqualValues(t, 1, consumed)

	auditRepo := repository.NewAuditRepository(env.db)
	approved, err := auditRepo.CountByInvoiceAndAction(ctx, invoice.ID, model.AuditActionInvoiceApproved)
	require.NoError(t, err)
	assert.EqualValues(t, 1, approved)
}

// 未上传凭证也允许直接通过（线下确认到账的场景）
func TestApproveUnpaidInvoice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	product := env.seedProduct(t, "YouTube Premium", 900)
	_, err := env.stockSvc.AddUnits(ctx, product.ID, "a@x.com|pw-a", testOperatorID, model.ActorAdminPanel)
	require.NoError(t, err)

	invoice, err := env.orderSvc.CreateInvoice(ctx, testBuyerID, product.ID)
	require.NoError(t, err)
	require.Equal(t, model.InvoiceStatusUnpaid, invoice.Status)

	result, err := env.approvalSvc.Approve(ctx, invoice.InvoiceNo, testOperatorID, model.ActorAdminPanel)
	require.NoError(t, err)
	assert.True(t, result.Assigned)
	assert.Equal(t, model.InvoiceStatusPaid, env.reloadInvoice(t, invoice.InvoiceNo).Status)
}

func TestRejectRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	product := env.seedProduct(t, "Disney+", 800)
	invoice := env.createWaitingInvoice(t, testBuyerID, product.ID)

	for _, reason := range []string{"", "   ", "\t\n"} {
		err := env.approvalSvc.Reject(ctx, invoice.InvoiceNo, reason, testOperatorID, model.ActorAdminPanel)
		assert.ErrorIs(t, err, ErrReasonRequired)
	}

	// 状态原地不动
	assert.Equal(t, model.InvoiceStatusWaitingProof, env.reloadInvoice(t, invoice.InvoiceNo).Status)
}

// 拒绝 -> 买家重传 -> 再通过：历史凭证保留 REJECTED 原样
func TestRejectThenReupload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	product := env.seedProduct(t, "HBO Max", 1500)
	_, err := env.stockSvc.AddUnits(ctx, product.ID, "a@x.com|pw-a", testOperatorID, model.ActorAdminPanel)
	require.NoError(t, err)

	invoice := env.createWaitingInvoice(t, testBuyerID, product.ID)

	err = env.approvalSvc.Reject(ctx, invoice.InvoiceNo, "转账截图金额不符", testOperatorID, model.ActorAdminPanel)
	require.NoError(t, err)

	reloaded := env.reloadInvoice(t, invoice.InvoiceNo)
	assert.Equal(t, model.InvoiceStatusUnpaid, reloaded.Status)
	assert.Equal(t, "转账截图金额不符", reloaded.RejectReason)

	// 重传凭证，回到 WAITING_PROOF
	_, err = env.proofSvc.RecordProof(ctx, invoice.InvoiceNo, testBuyerID,
		"transfer2.png", "image/png", []byte("second-proof"), "web")
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceStatusWaitingProof, env.reloadInvoice(t, invoice.InvoiceNo).Status)

	_, err = env.approvalSvc.Approve(ctx, invoice.InvoiceNo, testOperatorID, model.ActorAdminPanel)
	require.NoError(t, err)

	// 两条凭证：第一条保持 REJECTED，第二条转 APPROVED
	var proofs []model.PaymentProof
	require.NoError(t, env.db.Where("invoice_id = ?", invoice.ID).Order("id ASC").Find(&proofs).Error)
	require.Len(t, proofs, 2)
	assert.Equal(t, model.ProofStatusRejected, proofs[0].Status)
	assert.Equal(t, model.ProofStatusApproved, proofs[1].Status)
}

func TestRejectPaidInvoiceIsConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	product := env.seedProduct(t, "Apple Music", 600)
	_, err := env.stockSvc.AddUnits(ctx, product.ID, "a@x.com|pw-a", testOperatorID, model.ActorAdminPanel)
	require.NoError(t, err)

	invoice := env.createWaitingInvoice(t, testBuyerID, product.ID)
	_, err = env.approvalSvc.Approve(ctx, invoice.InvoiceNo, testOperatorID, model.ActorAdminPanel)
	require.NoError(t, err)

	err = env.approvalSvc.Reject(ctx, invoice.InvoiceNo, "想撤销", testOperatorID, model.ActorAdminPanel)
	assert.ErrorIs(t, err, repository.ErrInvoiceStateInvalid)
}

// 缺货审核 -> 补货 -> 重新分配的完整链路
func TestApproveOutOfStockThenRestock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	product := env.seedProduct(t, "ChatGPT Plus", 14000)
	invoice := env.createWaitingInvoice(t, testBuyerID, product.ID)

	// 零库存审核：收款确认成功，但停在等补货的状态
	result, err := env.approvalSvc.Approve(ctx, invoice.InvoiceNo, testOperatorID, model.ActorAdminPanel)
	require.NoError(t, err)
	assert.False(t, result.Assigned)
	assert.True(t, result.OutOfStock)
	assert.Equal(t, model.InvoiceStatusPaidOutOfStock, result.Status)
	assert.Equal(t, model.InvoiceStatusPaidOutOfStock, env.reloadInvoice(t, invoice.InvoiceNo).Status)

	auditRepo := repository.NewAuditRepository(env.db)
	oos, err := auditRepo.CountByInvoiceAndAction(ctx, invoice.ID, model.AuditActionOutOfStock)
	require.NoError(t, err)
	assert.EqualValues(t, 1, oos)

	// 补货前重试仍然缺货，状态不动
	retry, err := env.approvalSvc.RetryAllocation(ctx, invoice.InvoiceNo, testOperatorID, model.ActorAdminPanel)
	require.NoError(t, err)
	assert.False(t, retry.Assigned)

	// 补货后重试：分配成功，账单拉回 PAID
	_, err = env.stockSvc.AddUnits(ctx, product.ID, "a@x.com|pw-a", testOperatorID, model.ActorAdminPanel)
	require.NoError(t, err)

	retry, err = env.approvalSvc.RetryAllocation(ctx, invoice.InvoiceNo, testOperatorID, model.ActorAdminPanel)
	require.NoError(t, err)
	assert.True(t, retry.Assigned)
	assert.Equal(t, model.InvoiceStatusPaid, env.reloadInvoice(t, invoice.InvoiceNo).Status)

	accounts, err := env.stockSvc.MyAccounts(ctx, testBuyerID)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "a@x.com", accounts[0].AccountEmail)
	assert.Equal(t, "pw-a", accounts[0].Password)

	// 已分配完毕的账单不允许再重试
	_, err = env.approvalSvc.RetryAllocation(ctx, invoice.InvoiceNo, testOperatorID, model.ActorAdminPanel)
	assert.ErrorIs(t, err, repository.ErrInvoiceStateInvalid)
}

// blockingNotifier 模拟外网抽风时的慢速通知通道
type blockingNotifier struct {
	entered chan struct{}
	release chan struct{}
}

func (n *blockingNotifier) ProofSubmitted(string, string, int64) {}
func (n *blockingNotifier) OutOfStock(string, string) {}
func (n *blockingNotifier) Approved(string, string) {
	close(n.entered)
	<-n.release
}

// 通知是慢速外部 I/O，必须在账单锁释放之后才发出：
// 通知在途期间，其他操作仍然能拿到同一账单的锁
func TestApproveNotifiesAfterLockReleased(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	product := env.seedProduct(t, "Netflix 高级会员", 3500)
	_, err := env.stockSvc.AddUnits(ctx, product.ID, "a@x.com|pw-a", testOperatorID, model.ActorAdminPanel)
	require.NoError(t, err)
	invoice := env.createWaitingInvoice(t, testBuyerID, product.ID)

	notifier := &blockingNotifier{entered: make(chan struct{}), release: make(chan struct{})}
	cfg := &config.Config{}
	cfg.Kafka.Topic.InvoiceEvent = "test.invoice.event"
	svc := NewApprovalService(env.db, cfg, env.locker, notifier)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Approve(ctx, invoice.InvoiceNo, testOperatorID, model.ActorAdminPanel)
		done <- err
	}()

	<-notifier.entered

	acquired := make(chan struct{})
	go func() {
		l := env.locker.New(lock.ApproveKey(invoice.InvoiceNo))
		_ = l.Lock(ctx, time.Millisecond, 3)
		_ = l.Unlock(ctx)
		close(acquired)
	}()
	select {
	case <-acquired:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("通知在途期间账单锁仍被持有")
	}

	close(notifier.release)
	require.NoError(t, <-done)
	assert.Equal(t, model.InvoiceStatusPaid, env.reloadInvoice(t, invoice.InvoiceNo).Status)
}

// 账单金额是下单时的快照，之后改价不影响已建账单
func TestInvoiceAmountImmutableAfterPriceChange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	product := env.seedProduct(t, "Steam 充值卡", 5000)
	invoice, err := env.orderSvc.CreateInvoice(ctx, testBuyerID, product.ID)
	require.NoError(t, err)
	require.EqualValues(t, 5000, invoice.Amount)

	require.NoError(t, env.db.Model(&model.Product{}).
		Where("id = ?", product.ID).Update("price", 9900).Error)

	assert.EqualValues(t, 5000, env.reloadInvoice(t, invoice.InvoiceNo).Amount)
}
