package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Cart is an anonymous, session-scoped container of cart items.
type Cart struct {
	ID        string     `json:"id" db:"id"`
	SessionID string     `json:"session_id" db:"session_id"`
	UserID    *string    `json:"user_id" db:"user_id"`
	Items     []CartItem `json:"items,omitempty"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// CartItem is one product line of a cart. Price is the unit price captured
// when the product was first added and is never re-read from the catalog.
type CartItem struct {
	ID        string          `json:"id" db:"id"`
	CartID    string          `json:"cart_id" db:"cart_id"`
	ProductID string          `json:"product_id" db:"product_id"`
	Quantity  int             `json:"quantity" db:"quantity"`
	Price     decimal.Decimal `json:"price" db:"price"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// LineTotal returns price * quantity.
func (i CartItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// CartSummary holds the aggregate figures of a cart.
type CartSummary struct {
	ItemCount     int             `json:"item_count"`
	TotalQuantity int             `json:"total_quantity"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
}

// Summarize computes the summary of the given lines. The amount is rounded
// half away from zero to two decimal places.
func Summarize(items []CartItem) CartSummary {
	summary := CartSummary{TotalAmount: decimal.Zero}
	for _, item := range items {
		summary.ItemCount++
		summary.TotalQuantity += item.Quantity
		summary.TotalAmount = summary.TotalAmount.Add(item.LineTotal())
	}
	summary.TotalAmount = summary.TotalAmount.Round(2)
	return summary
}
