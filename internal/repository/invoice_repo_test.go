package repository

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"digishop/internal/infrastructure/database"
	"digishop/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var repoTestDBSeq atomic.Int64

func newRepoTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:repo_test_%d?mode=memory&cache=shared", repoTestDBSeq.Add(1))
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

func seedInvoice(t *testing.T, db *gorm.DB, status string) *model.Invoice {
	t.Helper()
	invoice := &model.Invoice{
		InvoiceNo:     fmt.Sprintf("INV-test-%d", repoTestDBSeq.Add(1)),
		UserID:        42,
		ProductID:     1,
		Amount:        3500,
		PaymentMethod: model.PaymentMethodManual,
		Status:        status,
	}
	require.NoError(t, db.Create(invoice).Error)
	return invoice
}

func TestUpdateStatusConditional(t *testing.T) {
	db := newRepoTestDB(t)
	repo := NewInvoiceRepository(db)
	ctx := context.Background()

	invoice := seedInvoice(t, db, model.InvoiceStatusWaitingProof)

	err := repo.UpdateStatus(ctx, nil, invoice.InvoiceNo,
		model.InvoiceStatusWaitingProof, model.InvoiceStatusPaid, nil)
	require.NoError(t, err)

	// 同一条边第二次走：WHERE status 不再命中，按冲突处理
	err = repo.UpdateStatus(ctx, nil, invoice.InvoiceNo,
		model.InvoiceStatusWaitingProof, model.InvoiceStatusPaid, nil)
	assert.ErrorIs(t, err, ErrInvoiceStateInvalid)

	got, err := repo.GetByInvoiceNo(ctx, nil, invoice.InvoiceNo)
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceStatusPaid, got.Status)
}

// 状态机之外的边在发 SQL 之前就被拒绝
func TestUpdateStatusRejectsInvalidEdge(t *testing.T) {
	db := newRepoTestDB(t)
	repo := NewInvoiceRepository(db)
	ctx := context.Background()

	invoice := seedInvoice(t, db, model.InvoiceStatusPaid)

	err := repo.UpdateStatus(ctx, nil, invoice.InvoiceNo,
		model.InvoiceStatusPaid, model.InvoiceStatusUnpaid, nil)
	assert.ErrorIs(t, err, ErrInvoiceStateInvalid)

	got, err := repo.GetByInvoiceNo(ctx, nil, invoice.InvoiceNo)
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceStatusPaid, got.Status)
}

func TestUpdateStatusWritesExtraColumns(t *testing.T) {
	db := newRepoTestDB(t)
	repo := NewInvoiceRepository(db)
	ctx := context.Background()

	invoice := seedInvoice(t, db, model.InvoiceStatusWaitingProof)

	err := repo.UpdateStatus(ctx, nil, invoice.InvoiceNo,
		model.InvoiceStatusWaitingProof, model.InvoiceStatusUnpaid,
		map[string]interface{}{"reject_reason": "金额不符"})
	require.NoError(t, err)

	got, err := repo.GetByInvoiceNo(ctx, nil, invoice.InvoiceNo)
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceStatusUnpaid, got.Status)
	assert.Equal(t, "金额不符", got.RejectReason)
}

func TestGetByInvoiceNoNotFound(t *testing.T) {
	db := newRepoTestDB(t)
	repo := NewInvoiceRepository(db)

	_, err := repo.GetByInvoiceNo(context.Background(), nil, "INV-missing")
	assert.ErrorIs(t, err, ErrInvoiceNotFound)
}
