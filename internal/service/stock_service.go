package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"digishop/internal/model"
	"digishop/internal/repository"
	"digishop/internal/vault"
	"digishop/pkg/idgen"

	"gorm.io/gorm"
)

var ErrStockLineInvalid = errors.New("库存清单格式错误")

// StockService 库存池
// 管理会员账号库存的入库、删除、查询；密码经保险库加密后落库
type StockService struct {
	db          *gorm.DB
	stockRepo   *repository.StockRepository
	productRepo *repository.ProductRepository
	auditRepo   *repository.AuditRepository
	vault       *vault.Vault
}

func NewStockService(db *gorm.DB, v *vault.Vault) *StockService {
	return &StockService{
		db:          db,
		stockRepo:   repository.NewStockRepository(db),
		productRepo: repository.NewProductRepository(db),
		auditRepo:   repository.NewAuditRepository(db),
		vault:       v,
	}
}

// AddUnits 批量入库
//
// 入参是运营粘贴的多行文本，每行 "邮箱|密码"。
// 【关键点】整批先校验后入库：任何一行格式不对，整批拒绝，一行都不插 ——
// 运营改完重新提交，不会产生半批重复数据。空行忽略
func (s *StockService) AddUnits(ctx context.Context, productID int64, rawLines string, operatorID int64, actor string) (int, error) {
	product, err := s.productRepo.GetByID(ctx, productID)
	if err != nil {
		return 0, err
	}

	type credential struct {
		email    string
		password string
	}

	var creds []credential
	for i, line := range strings.Split(rawLines, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Split(line, "|")
		if len(parts) != 2 {
			return 0, fmt.Errorf("%w: 第 %d 行应为 \"邮箱|密码\"", ErrStockLineInvalid, i+1)
		}
		email := strings.TrimSpace(parts[0])
		password := strings.TrimSpace(parts[1])
		if email == "" || password == "" {
			return 0, fmt.Errorf("%w: 第 %d 行邮箱或密码为空", ErrStockLineInvalid, i+1)
		}
		creds = append(creds, credential{email: email, password: password})
	}

	if len(creds) == 0 {
		return 0, fmt.Errorf("%w: 清单为空", ErrStockLineInvalid)
	}

	batchNo := idgen.GenerateBatchNo()
	units := make([]*model.StockUnit, 0, len(creds))
	for _, c := range creds {
		cipher, err := s.vault.Encrypt([]byte(c.password))
		if err != nil {
			return 0, fmt.Errorf("加密密码失败: %w", err)
		}
		units = append(units, &model.StockUnit{
			ProductID:      productID,
			BatchNo:        batchNo,
			AccountEmail:   c.email,
			PasswordCipher: cipher,
			Status:         model.StockUnitStatusAvailable,
			CreatedBy:      operatorID,
		})
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.stockRepo.CreateBatch(ctx, tx, units); err != nil {
			return fmt.Errorf("库存入库失败: %w", err)
		}

		entry := &model.AuditEntry{
			Actor:      actor,
			OperatorID: operatorID,
			Action:     model.AuditActionStockAdded,
			Metadata:   fmt.Sprintf(`{"product_id":%d,"product_name":%q,"batch_no":%q,"count":%d}`, productID, product.Name, batchNo, len(units)),
		}
		if err := s.auditRepo.Append(ctx, tx, entry); err != nil {
			return fmt.Errorf("写入审计失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return len(units), nil
}

// Remove 删除一个未分配的库存单元（带审计，同一事务）
func (s *StockService) Remove(ctx context.Context, unitID int64, operatorID int64, actor string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.stockRepo.Remove(ctx, tx, unitID); err != nil {
			return err
		}

		entry := &model.AuditEntry{
			Actor:      actor,
			OperatorID: operatorID,
			Action:     model.AuditActionStockRemoved,
			Metadata:   fmt.Sprintf(`{"unit_id":%d}`, unitID),
		}
		return s.auditRepo.Append(ctx, tx, entry)
	})
}

// StockOverview 某商品的库存清单（只含元数据，绝不带解密后的密码）
type StockOverview struct {
	Units     []*model.StockUnit `json:"units"`
	Available int64              `json:"available"`
}

func (s *StockService) ListByProduct(ctx context.Context, productID int64) (*StockOverview, error) {
	if _, err := s.productRepo.GetByID(ctx, productID); err != nil {
		return nil, err
	}

	units, err := s.stockRepo.ListByProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	available, err := s.stockRepo.CountAvailable(ctx, productID)
	if err != nil {
		return nil, err
	}
	return &StockOverview{Units: units, Available: available}, nil
}

// PremiumAccountView 买家视角的已购账号（含解出的明文密码）
type PremiumAccountView struct {
	ID           int64  `json:"id"`
	InvoiceID    int64  `json:"invoice_id"`
	ProductID    int64  `json:"product_id"`
	ProductName  string `json:"product_name"`
	AccountEmail string `json:"account_email"`
	Password     string `json:"account_password"`
	CreatedAt    string `json:"created_at"`
}

// MyAccounts 买家查看自己已购的账号
// 这是唯一解密密码的地方，且只解本人名下的记录。
// 解密失败说明密钥不匹配或数据被篡改，直接中止并报错，绝不返回乱码
func (s *StockService) MyAccounts(ctx context.Context, userID int64) ([]*PremiumAccountView, error) {
	accounts, err := s.stockRepo.ListPremiumByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	products, err := s.productRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(products))
	for _, p := range products {
		names[p.ID] = p.Name
	}

	views := make([]*PremiumAccountView, 0, len(accounts))
	for _, a := range accounts {
		plaintext, err := s.vault.Decrypt(a.PasswordCipher)
		if err != nil {
			return nil, fmt.Errorf("解密账号 %d 失败: %w", a.ID, err)
		}
		views = append(views, &PremiumAccountView{
			ID:           a.ID,
			InvoiceID:    a.InvoiceID,
			ProductID:    a.ProductID,
			ProductName:  names[a.ProductID],
			AccountEmail: a.AccountEmail,
			Password:     string(plaintext),
			CreatedAt:    a.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	return views, nil
}
