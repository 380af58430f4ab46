package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"storefront/internal/database"
	"storefront/internal/metrics"
	"storefront/internal/models"

	"go.uber.org/zap"
)

const (
	DefaultStoreTimeout = 3 * time.Second
	DefaultRetryBackoff = 100 * time.Millisecond
)

// retryPolicy says which failures a store call may be repeated after.
type retryPolicy int

const (
	// retryTransient repeats reads and writes whose repetition cannot change
	// the result, after any transient failure or per-call timeout.
	retryTransient retryPolicy = iota
	// retryUnapplied repeats a write only when the store reports that it did
	// not apply it.
	retryUnapplied
)

// Options tunes the store call policy of CartService.
type Options struct {
	// StoreTimeout bounds every store call.
	StoreTimeout time.Duration
	// RetryBackoff is the pause before the single retry of a transient failure.
	RetryBackoff time.Duration
}

// CartService manages carts and their lines on top of an injected store.
type CartService struct {
	db           database.DBInterface
	logger       *zap.Logger
	storeTimeout time.Duration
	retryBackoff time.Duration
	now          func() time.Time
}

// NewCartService returns a CartService using db for all state.
func NewCartService(db database.DBInterface, logger *zap.Logger, opts Options) *CartService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if opts.RetryBackoff < 0 {
		opts.RetryBackoff = 0
	} else if opts.RetryBackoff == 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	return &CartService{
		db:           db,
		logger:       logger.Named("cart"),
		storeTimeout: opts.StoreTimeout,
		retryBackoff: opts.RetryBackoff,
		now:          time.Now,
	}
}

// CreateCart inserts a new cart for the session. It does not look for an
// existing cart of the same session.
func (cs *CartService) CreateCart(ctx context.Context, sessionID string, userID *string) (*models.Cart, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, cs.fail("CreateCart", invalidArgument("session id is required"))
	}
	if userID != nil && *userID == "" {
		userID = nil
	}

	cart := &models.Cart{SessionID: sessionID, UserID: userID}
	err := cs.call(ctx, "CreateCart", retryUnapplied, func(ctx context.Context) error {
		return cs.db.CreateCart(ctx, cart)
	})
	if err != nil {
		return nil, err
	}
	cs.logger.Info("CartService.CreateCart", zap.String("cart_id", cart.ID), zap.String("session_id", sessionID))
	return cart, nil
}

// GetCart returns the cart with its lines.
func (cs *CartService) GetCart(ctx context.Context, cartID string) (*models.Cart, error) {
	var cart *models.Cart
	err := cs.call(ctx, "GetCart", retryTransient, func(ctx context.Context) (err error) {
		cart, err = cs.db.GetCartByID(ctx, cartID)
		return err
	})
	return cart, err
}

// GetCartBySession returns the most recently updated cart of the session.
func (cs *CartService) GetCartBySession(ctx context.Context, sessionID string) (*models.Cart, error) {
	if sessionID == "" {
		return nil, cs.fail("GetCartBySession", invalidArgument("session id is required"))
	}
	var cart *models.Cart
	err := cs.call(ctx, "GetCartBySession", retryTransient, func(ctx context.Context) (err error) {
		cart, err = cs.db.GetCartBySessionID(ctx, sessionID)
		return err
	})
	return cart, err
}

// AddItem adds quantity units of an active product, capturing its current
// price. Adding a product already in the cart increments that line; the
// merged quantity must still fit in stock.
func (cs *CartService) AddItem(ctx context.Context, cartID, productID string, quantity int) (*models.CartItem, error) {
	switch {
	case quantity < 1:
		return nil, cs.fail("AddItem", invalidArgument("quantity must be at least 1, got %d", quantity))
	case cartID == "":
		return nil, cs.fail("AddItem", invalidArgument("cart id is required"))
	case productID == "":
		return nil, cs.fail("AddItem", invalidArgument("product id is required"))
	}

	var item *models.CartItem
	err := cs.call(ctx, "AddItem", retryUnapplied, func(ctx context.Context) (err error) {
		item, err = cs.db.AddCartItem(ctx, cartID, productID, quantity)
		return err
	})
	if err != nil {
		cs.logger.Info("CartService.AddItem rejected",
			zap.String("cart_id", cartID), zap.String("product_id", productID),
			zap.Int("quantity", quantity), zap.Error(err))
		return nil, err
	}
	cs.logger.Info("CartService.AddItem",
		zap.String("cart_id", cartID), zap.String("product_id", productID),
		zap.Int("quantity", quantity), zap.Int("line_quantity", item.Quantity),
		zap.String("price", item.Price.StringFixed(2)))
	return item, nil
}

// UpdateQuantity overwrites the quantity of a line. The new quantity is
// checked against the product's current stock.
func (cs *CartService) UpdateQuantity(ctx context.Context, cartItemID string, quantity int) (*models.CartItem, error) {
	if quantity < 1 {
		return nil, cs.fail("UpdateQuantity", invalidArgument("quantity must be at least 1, got %d", quantity))
	}

	var item *models.CartItem
	err := cs.call(ctx, "UpdateQuantity", retryTransient, func(ctx context.Context) (err error) {
		item, err = cs.db.UpdateCartItemQuantity(ctx, cartItemID, quantity)
		return err
	})
	if err != nil {
		return nil, err
	}
	cs.logger.Info("CartService.UpdateQuantity",
		zap.String("cart_item_id", cartItemID), zap.Int("quantity", quantity))
	return item, nil
}

// RemoveItem deletes a line. Removing a missing line succeeds.
func (cs *CartService) RemoveItem(ctx context.Context, cartItemID string) error {
	err := cs.call(ctx, "RemoveItem", retryTransient, func(ctx context.Context) error {
		return cs.db.DeleteCartItem(ctx, cartItemID)
	})
	if err == nil {
		cs.logger.Info("CartService.RemoveItem", zap.String("cart_item_id", cartItemID))
	}
	return err
}

// ClearCart deletes every line of the cart.
func (cs *CartService) ClearCart(ctx context.Context, cartID string) error {
	err := cs.call(ctx, "ClearCart", retryTransient, func(ctx context.Context) error {
		return cs.db.DeleteCartItemsByCartID(ctx, cartID)
	})
	if err == nil {
		cs.logger.Info("CartService.ClearCart", zap.String("cart_id", cartID))
	}
	return err
}

// Summarize counts the lines of the cart and totals them at their captured prices.
func (cs *CartService) Summarize(ctx context.Context, cartID string) (models.CartSummary, error) {
	cart, err := cs.GetCart(ctx, cartID)
	if err != nil {
		return models.CartSummary{}, err
	}
	return models.Summarize(cart.Items), nil
}

// ListItems returns the lines stored for cartID; a deleted cart has none.
func (cs *CartService) ListItems(ctx context.Context, cartID string) ([]models.CartItem, error) {
	var items []models.CartItem
	err := cs.call(ctx, "ListItems", retryTransient, func(ctx context.Context) (err error) {
		items, err = cs.db.GetCartItemsByCartID(ctx, cartID)
		return err
	})
	return items, err
}

// DeleteCart deletes the cart together with its lines. Deleting a missing
// cart succeeds.
func (cs *CartService) DeleteCart(ctx context.Context, cartID string) error {
	err := cs.call(ctx, "DeleteCart", retryTransient, func(ctx context.Context) error {
		return cs.db.DeleteCart(ctx, cartID)
	})
	if err == nil {
		cs.logger.Info("CartService.DeleteCart", zap.String("cart_id", cartID))
	}
	return err
}

// CleanupAbandoned deletes carts not updated within olderThan.
func (cs *CartService) CleanupAbandoned(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, cs.fail("CleanupAbandoned", invalidArgument("age must be positive, got %s", olderThan))
	}
	cutoff := cs.now().Add(-olderThan)

	var deleted int
	err := cs.call(ctx, "CleanupAbandoned", retryUnapplied, func(ctx context.Context) (err error) {
		deleted, err = cs.db.DeleteCartsUpdatedBefore(ctx, cutoff)
		return err
	})
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		cs.logger.Info("CartService.CleanupAbandoned", zap.Int("deleted", deleted), zap.Time("cutoff", cutoff))
	}
	return deleted, nil
}

// call runs fn with the store timeout and retries it once after a failure
// that policy allows. The returned error is already translated.
func (cs *CartService) call(ctx context.Context, op string, policy retryPolicy, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		if attempt > 1 {
			cs.logger.Warn("CartService."+op+" retrying", zap.Error(err))
			select {
			case <-ctx.Done():
				return cs.fail(op, err)
			case <-time.After(cs.retryBackoff):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, cs.storeTimeout)
		err = fn(callCtx)
		cancel()

		if !isTransient(ctx, err, policy) {
			break
		}
	}
	return cs.fail(op, err)
}

// fail translates err and records the outcome of op.
func (cs *CartService) fail(op string, err error) error {
	err = translate(err)
	if err == nil {
		metrics.RecordCartOperation(op, "ok")
		return nil
	}
	kind := KindOf(err)
	metrics.RecordCartOperation(op, strings.ToLower(kind.String()))
	if kind == KindStoreUnavailable || kind == KindUnknown {
		cs.logger.Error("CartService."+op+" failed", zap.Error(err))
	}
	return err
}

func isTransient(parent context.Context, err error, policy retryPolicy) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, database.ErrOutcomeUnknown):
		return policy == retryTransient
	case errors.Is(err, database.ErrUnavailable):
		return true
	}
	// A deadline hit by the per-call timeout, not by the caller. The write may
	// already have run, so only repeatable calls go again.
	return policy == retryTransient && errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil
}

func translate(err error) error {
	var typed *Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &typed):
		return err
	case errors.Is(err, database.ErrCartNotFound):
		return &Error{Kind: KindNotFound, Resource: ResourceCart, Message: "cart not found", Err: err}
	case errors.Is(err, database.ErrCartItemNotFound):
		return &Error{Kind: KindNotFound, Resource: ResourceCartItem, Message: "cart item not found", Err: err}
	case errors.Is(err, database.ErrProductNotFound):
		return &Error{Kind: KindNotFound, Resource: ResourceProduct, Message: "product not found", Err: err}
	case errors.Is(err, database.ErrInsufficientStock):
		return &Error{Kind: KindInsufficientStock, Message: "insufficient stock", Err: err}
	case errors.Is(err, database.ErrOutcomeUnknown):
		return &Error{Kind: KindStoreUnavailable, Message: "store did not confirm the write", Err: err}
	case errors.Is(err, database.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindStoreUnavailable, Message: "store unavailable", Err: err}
	default:
		return err
	}
}
