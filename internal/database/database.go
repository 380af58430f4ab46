package database

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"storefront/internal/models"

	"github.com/google/uuid"
)

// dbData holds everything persisted in the JSON file.
type dbData struct {
	Products  []models.Product  `json:"products"`
	Carts     []models.Cart     `json:"carts"`
	CartItems []models.CartItem `json:"cart_items"`
}

// JSONDatabase is a single-process store kept in memory and, when a file
// path is set, mirrored to a JSON file after every write.
type JSONDatabase struct {
	mu       sync.RWMutex
	data     dbData
	filePath string
	now      func() time.Time
}

// NewDatabase loads filePath into memory. An empty path keeps the data in
// memory only.
func NewDatabase(filePath string) (*JSONDatabase, error) {
	db := &JSONDatabase{
		filePath: filePath,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if err := db.loadData(); err != nil {
		return nil, fmt.Errorf("load %s: %w", filePath, err)
	}
	return db, nil
}

// SetClock replaces the time source used for timestamps.
func (db *JSONDatabase) SetClock(now func() time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.now = now
}

func (db *JSONDatabase) loadData() error {
	db.data = dbData{
		Products:  []models.Product{},
		Carts:     []models.Cart{},
		CartItems: []models.CartItem{},
	}
	if db.filePath == "" {
		return nil
	}
	if _, err := os.Stat(db.filePath); os.IsNotExist(err) {
		return db.saveData()
	}

	fileData, err := os.ReadFile(db.filePath)
	if err != nil {
		return err
	}
	// Empty file is treated as a fresh database.
	if len(fileData) == 0 {
		return nil
	}
	return json.Unmarshal(fileData, &db.data)
}

func (db *JSONDatabase) saveData() error {
	if db.filePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(db.data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(db.filePath, data, 0644); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// snapshot copies the data so a write can be undone when saving it fails.
func (db *JSONDatabase) snapshot() dbData {
	if db.filePath == "" {
		return dbData{}
	}
	return dbData{
		Products:  append([]models.Product{}, db.data.Products...),
		Carts:     append([]models.Cart{}, db.data.Carts...),
		CartItems: append([]models.CartItem{}, db.data.CartItems...),
	}
}

// commit saves the data and restores prev when the save fails, so a failed
// write leaves memory as it was.
func (db *JSONDatabase) commit(prev dbData) error {
	if err := db.saveData(); err != nil {
		db.data = prev
		return err
	}
	return nil
}

// Close flushes the data to disk.
func (db *JSONDatabase) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.saveData()
}

// --- Product Functions ---

// GetProductByID returns the product regardless of its activity flag.
func (db *JSONDatabase) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	if i := db.productIndex(id); i >= 0 {
		p := db.data.Products[i]
		return &p, nil
	}
	return nil, ErrProductNotFound
}

// GetActiveProduct returns the product only when it is active.
func (db *JSONDatabase) GetActiveProduct(ctx context.Context, id string) (*models.Product, error) {
	p, err := db.GetProductByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, ErrProductNotFound
	}
	return p, nil
}

func (db *JSONDatabase) GetActiveProducts(ctx context.Context) ([]models.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	products := []models.Product{}
	for _, p := range db.data.Products {
		if p.IsActive {
			products = append(products, p)
		}
	}
	sort.Slice(products, func(i, j int) bool {
		return products[i].CreatedAt.Before(products[j].CreatedAt)
	})
	return products, nil
}

func (db *JSONDatabase) GetProductsByIDs(ctx context.Context, ids []string) (map[string]models.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	products := make(map[string]models.Product, len(ids))
	for _, id := range ids {
		if i := db.productIndex(id); i >= 0 {
			products[id] = db.data.Products[i]
		}
	}
	return products, nil
}

// CreateProduct assigns an id when the product has none.
func (db *JSONDatabase) CreateProduct(ctx context.Context, product *models.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	prev := db.snapshot()
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	now := db.now()
	product.CreatedAt = now
	product.UpdatedAt = now
	db.data.Products = append(db.data.Products, *product)
	return db.commit(prev)
}

func (db *JSONDatabase) UpdateProduct(ctx context.Context, product *models.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	prev := db.snapshot()
	i := db.productIndex(product.ID)
	if i < 0 {
		return ErrProductNotFound
	}
	product.CreatedAt = db.data.Products[i].CreatedAt
	product.UpdatedAt = db.now()
	db.data.Products[i] = *product
	return db.commit(prev)
}

func (db *JSONDatabase) productIndex(id string) int {
	for i, p := range db.data.Products {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// --- Cart Functions ---

// CreateCart inserts a cart; it never reuses an existing cart of the session.
func (db *JSONDatabase) CreateCart(ctx context.Context, cart *models.Cart) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	prev := db.snapshot()

	cart.ID = uuid.NewString()
	now := db.now()
	cart.CreatedAt = now
	cart.UpdatedAt = now
	cart.Items = nil

	db.data.Carts = append(db.data.Carts, *cart)
	return db.commit(prev)
}

// GetCartByID returns the cart with its items.
func (db *JSONDatabase) GetCartByID(ctx context.Context, cartID string) (*models.Cart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	i := db.cartIndex(cartID)
	if i < 0 {
		return nil, ErrCartNotFound
	}
	cart := db.data.Carts[i]
	cart.Items = db.itemsOf(cart.ID)
	return &cart, nil
}

// GetCartBySessionID returns the most recently updated cart of the session.
func (db *JSONDatabase) GetCartBySessionID(ctx context.Context, sessionID string) (*models.Cart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()

	var found *models.Cart
	for i := range db.data.Carts {
		c := db.data.Carts[i]
		if c.SessionID != sessionID {
			continue
		}
		if found == nil || c.UpdatedAt.After(found.UpdatedAt) {
			found = &c
		}
	}
	if found == nil {
		return nil, ErrCartNotFound
	}
	found.Items = db.itemsOf(found.ID)
	return found, nil
}

// DeleteCart removes the cart and its items. Missing carts are ignored.
func (db *JSONDatabase) DeleteCart(ctx context.Context, cartID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	prev := db.snapshot()

	db.removeItemsOf(cartID)
	if i := db.cartIndex(cartID); i >= 0 {
		db.data.Carts = append(db.data.Carts[:i], db.data.Carts[i+1:]...)
	}
	return db.commit(prev)
}

// DeleteCartsUpdatedBefore removes carts untouched since cutoff.
func (db *JSONDatabase) DeleteCartsUpdatedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	prev := db.snapshot()

	kept := db.data.Carts[:0]
	deleted := 0
	for _, c := range db.data.Carts {
		if c.UpdatedAt.Before(cutoff) {
			db.removeItemsOf(c.ID)
			deleted++
			continue
		}
		kept = append(kept, c)
	}
	db.data.Carts = kept
	if deleted == 0 {
		return 0, nil
	}
	if err := db.commit(prev); err != nil {
		return 0, err
	}
	return deleted, nil
}

func (db *JSONDatabase) cartIndex(id string) int {
	for i, c := range db.data.Carts {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (db *JSONDatabase) touchCart(cartID string, now time.Time) {
	if i := db.cartIndex(cartID); i >= 0 {
		db.data.Carts[i].UpdatedAt = now
	}
}

// --- Cart Item Functions ---

// AddCartItem adds quantity of the product to the cart. A product already in
// the cart has its line incremented and keeps the price captured first.
func (db *JSONDatabase) AddCartItem(ctx context.Context, cartID, productID string, quantity int) (*models.CartItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	prev := db.snapshot()

	if db.cartIndex(cartID) < 0 {
		return nil, ErrCartNotFound
	}
	pi := db.productIndex(productID)
	if pi < 0 || !db.data.Products[pi].IsActive {
		return nil, ErrProductNotFound
	}
	product := db.data.Products[pi]
	now := db.now()

	for i, item := range db.data.CartItems {
		if item.CartID != cartID || item.ProductID != productID {
			continue
		}
		if item.Quantity+quantity > product.StockQuantity {
			return nil, ErrInsufficientStock
		}
		db.data.CartItems[i].Quantity += quantity
		db.data.CartItems[i].UpdatedAt = now
		db.touchCart(cartID, now)
		updated := db.data.CartItems[i]
		if err := db.commit(prev); err != nil {
			return nil, err
		}
		return &updated, nil
	}

	if quantity > product.StockQuantity {
		return nil, ErrInsufficientStock
	}
	item := models.CartItem{
		ID:        uuid.NewString(),
		CartID:    cartID,
		ProductID: productID,
		Quantity:  quantity,
		Price:     product.Price,
		CreatedAt: now,
		UpdatedAt: now,
	}
	db.data.CartItems = append(db.data.CartItems, item)
	db.touchCart(cartID, now)
	if err := db.commit(prev); err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateCartItemQuantity overwrites the quantity after checking current stock.
func (db *JSONDatabase) UpdateCartItemQuantity(ctx context.Context, itemID string, quantity int) (*models.CartItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	prev := db.snapshot()

	for i, item := range db.data.CartItems {
		if item.ID != itemID {
			continue
		}
		pi := db.productIndex(item.ProductID)
		if pi < 0 {
			return nil, ErrProductNotFound
		}
		if quantity > db.data.Products[pi].StockQuantity {
			return nil, ErrInsufficientStock
		}
		now := db.now()
		db.data.CartItems[i].Quantity = quantity
		db.data.CartItems[i].UpdatedAt = now
		db.touchCart(item.CartID, now)
		updated := db.data.CartItems[i]
		if err := db.commit(prev); err != nil {
			return nil, err
		}
		return &updated, nil
	}
	return nil, ErrCartItemNotFound
}

// DeleteCartItem removes one line. Missing lines are ignored.
func (db *JSONDatabase) DeleteCartItem(ctx context.Context, itemID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	prev := db.snapshot()

	for i, item := range db.data.CartItems {
		if item.ID == itemID {
			db.data.CartItems = append(db.data.CartItems[:i], db.data.CartItems[i+1:]...)
			db.touchCart(item.CartID, db.now())
			return db.commit(prev)
		}
	}
	return nil
}

// DeleteCartItemsByCartID empties the cart.
func (db *JSONDatabase) DeleteCartItemsByCartID(ctx context.Context, cartID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	prev := db.snapshot()

	if db.removeItemsOf(cartID) == 0 {
		return nil
	}
	db.touchCart(cartID, db.now())
	return db.commit(prev)
}

// GetCartItemsByCartID returns the lines of a cart, oldest first.
func (db *JSONDatabase) GetCartItemsByCartID(ctx context.Context, cartID string) ([]models.CartItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.itemsOf(cartID), nil
}

func (db *JSONDatabase) itemsOf(cartID string) []models.CartItem {
	items := []models.CartItem{}
	for _, item := range db.data.CartItems {
		if item.CartID == cartID {
			items = append(items, item)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items
}

func (db *JSONDatabase) removeItemsOf(cartID string) int {
	kept := db.data.CartItems[:0]
	removed := 0
	for _, item := range db.data.CartItems {
		if item.CartID == cartID {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	db.data.CartItems = kept
	return removed
}
