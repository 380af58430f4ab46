package database

import (
	"context"
	"errors"
	"time"

	"storefront/internal/models"
)

var (
	ErrCartNotFound      = errors.New("cart not found")
	ErrCartItemNotFound  = errors.New("cart item not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrUnavailable marks transient backend failures; callers may retry.
	ErrUnavailable = errors.New("store unavailable")
	// ErrOutcomeUnknown marks a write the store may or may not have applied.
	ErrOutcomeUnknown = errors.New("store did not confirm the write")
)

// DBInterface is the store handle injected into the services.
//
// AddCartItem and UpdateCartItemQuantity are atomic: the stock check and the
// write happen under the same lock or transaction. Deletes are idempotent.
type DBInterface interface {
	// Catalog
	GetProductByID(ctx context.Context, id string) (*models.Product, error)
	GetActiveProduct(ctx context.Context, id string) (*models.Product, error)
	GetActiveProducts(ctx context.Context) ([]models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]models.Product, error)
	CreateProduct(ctx context.Context, product *models.Product) error
	UpdateProduct(ctx context.Context, product *models.Product) error

	// Carts
	CreateCart(ctx context.Context, cart *models.Cart) error
	GetCartByID(ctx context.Context, cartID string) (*models.Cart, error)
	GetCartBySessionID(ctx context.Context, sessionID string) (*models.Cart, error)
	DeleteCart(ctx context.Context, cartID string) error
	DeleteCartsUpdatedBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Cart items
	AddCartItem(ctx context.Context, cartID, productID string, quantity int) (*models.CartItem, error)
	UpdateCartItemQuantity(ctx context.Context, itemID string, quantity int) (*models.CartItem, error)
	DeleteCartItem(ctx context.Context, itemID string) error
	DeleteCartItemsByCartID(ctx context.Context, cartID string) error
	GetCartItemsByCartID(ctx context.Context, cartID string) ([]models.CartItem, error)

	Close() error
}
