package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalog entry a cart line refers to. The cart only reads it.
type Product struct {
	ID            string          `json:"id" db:"id"`
	Name          Text            `json:"name" db:"name"`
	Price         decimal.Decimal `json:"price" db:"price"`
	StockQuantity int             `json:"stock_quantity" db:"stock_quantity"`
	IsActive      bool            `json:"is_active" db:"is_active"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// ProductForm is the admin payload for creating or updating a product.
type ProductForm struct {
	Name          Text             `json:"name"`
	Price         *decimal.Decimal `json:"price"`
	StockQuantity *int             `json:"stock_quantity"`
	IsActive      *bool            `json:"is_active"`
}
