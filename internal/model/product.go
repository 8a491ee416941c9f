package model

import (
	"time"
)

// Product 商品表
// 数字商品（会员账号等），价格以最小货币单位存储
//
// 【注意】Stock 字段只是前台展示用的数字，由运营手动维护，
// 不参与实际的库存分配 —— 真正的库存以 stock_unit 表中 AVAILABLE 的行数为准
type Product struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string    `gorm:"type:varchar(128);not null" json:"name"`
	Category    string    `gorm:"type:varchar(64)" json:"category"`
	Badge       string    `gorm:"type:varchar(32)" json:"badge"`
	Description string    `gorm:"type:varchar(512)" json:"description"`
	Price       int64     `gorm:"not null" json:"price"` // 单价（最小货币单位）
	Stock       int       `gorm:"not null;default:0" json:"stock"` // 展示库存，仅供前台显示
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Product) TableName() string {
	return "product"
}
