package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"digishop/internal/config"
	"digishop/internal/infrastructure/database"
	"digishop/internal/infrastructure/lock"
	"digishop/internal/model"
	"digishop/internal/notify"
	"digishop/internal/vault"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// 测试用内存库：每个测试独立一个库，单连接串行化写入
var testDBSeq atomic.Int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:svc_test_%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	return db
}

func newTestVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New("test-master-secret")
	require.NoError(t, err)
	return v
}

// memBlobStore 测试用的内存文件存储
type memBlobStore struct {
	seq atomic.Int64
}

func (s *memBlobStore) Put(ctx context.Context, data []byte, fileName string) (string, error) {
	return fmt.Sprintf("blob-%d", s.seq.Add(1)), nil
}

// testEnv 一套完整的服务依赖
type testEnv struct {
	db          *gorm.DB
	vault       *vault.Vault
	locker      lock.Locker
	orderSvc    *OrderService
	proofSvc    *ProofService
	stockSvc    *StockService
	approvalSvc *ApprovalService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newTestDB(t)
	v := newTestVault(t)
	locker := lock.NewLocalLocker()

	cfg := &config.Config{}
	cfg.Kafka.Topic.InvoiceEvent = "test.invoice.event"

	return &testEnv{
		db:          db,
		vault:       v,
		locker:      locker,
		orderSvc:    NewOrderService(db),
		proofSvc:    NewProofService(db, &memBlobStore{}, notify.NopNotifier{}, 64),
		stockSvc:    NewStockService(db, v),
		approvalSvc: NewApprovalService(db, cfg, locker, notify.NopNotifier{}),
	}
}

func (e *testEnv) seedProduct(t *testing.T, name string, price int64) *model.Product {
	t.Helper()
	product := &model.Product{Name: name, Category: "streaming", Price: price}
	require.NoError(t, e.db.Create(product).Error)
	return product
}

// createWaitingInvoice 建账单并上传凭证，走到 WAITING_PROOF
func (e *testEnv) createWaitingInvoice(t *testing.T, userID, productID int64) *model.Invoice {
	t.Helper()

	invoice, err := e.orderSvc.CreateInvoice(context.Background(), userID, productID)
	require.NoError(t, err)

	_, err = e.proofSvc.RecordProof(context.Background(), invoice.InvoiceNo, userID,
		"transfer.jpg", "image/jpeg", []byte("fake-image-bytes"), "web")
	require.NoError(t, err)

	return e.reloadInvoice(t, invoice.InvoiceNo)
}

func (e *testEnv) reloadInvoice(t *testing.T, invoiceNo string) *model.Invoice {
	t.Helper()
	var invoice model.Invoice
	require.NoError(t, e.db.Where("invoice_no = ?", invoiceNo).First(&invoice).Error)
	return &invoice
}
