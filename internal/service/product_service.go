package service

import (
	"context"

	"digishop/internal/model"
	"digishop/internal/repository"

	"gorm.io/gorm"
)

type ProductService struct {
	productRepo *repository.ProductRepository
}

func NewProductService(db *gorm.DB) *ProductService {
	return &ProductService{
		productRepo: repository.NewProductRepository(db),
	}
}

func (s *ProductService) List(ctx context.Context) ([]*model.Product, error) {
	return s.productRepo.List(ctx)
}

func (s *ProductService) Get(ctx context.Context, id int64) (*model.Product, error) {
	return s.productRepo.GetByID(ctx, id)
}

func (s *ProductService) Create(ctx context.Context, product *model.Product) error {
	return s.productRepo.Create(ctx, product)
}

// UpdateDisplayStock 运营更新展示库存
// 只是前台显示的数字，真正的库存以 stock_unit 的 AVAILABLE 行数为准
func (s *ProductService) UpdateDisplayStock(ctx context.Context, id int64, stock int) error {
	return s.productRepo.UpdateDisplayStock(ctx, id, stock)
}
