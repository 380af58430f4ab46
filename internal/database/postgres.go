package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"storefront/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresDatabase implements DBInterface on PostgreSQL.
type PostgresDatabase struct {
	db *sql.DB
}

// Connect opens and pings the database at databaseURL.
func Connect(ctx context.Context, databaseURL string, maxOpenConns int) (*PostgresDatabase, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", classify(err))
	}
	return &PostgresDatabase{db: db}, nil
}

// NewPostgresDatabase wraps an already opened handle.
func NewPostgresDatabase(db *sql.DB) *PostgresDatabase {
	return &PostgresDatabase{db: db}
}

func (p *PostgresDatabase) Close() error {
	return p.db.Close()
}

// tables are created in foreign key order.
var tables = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name JSONB NOT NULL,
		price NUMERIC(12,2) NOT NULL CHECK (price >= 0),
		stock_quantity INT NOT NULL DEFAULT 0 CHECK (stock_quantity >= 0),
		is_active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
	);`,
	`CREATE TABLE IF NOT EXISTS carts (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		user_id TEXT,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS carts_session_id_idx ON carts (session_id, updated_at DESC);`,
	`CREATE TABLE IF NOT EXISTS cart_items (
		id TEXT PRIMARY KEY,
		cart_id TEXT NOT NULL REFERENCES carts(id) ON DELETE CASCADE,
		product_id TEXT NOT NULL,
		quantity INT NOT NULL CHECK (quantity >= 1),
		price NUMERIC(12,2) NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
		UNIQUE (cart_id, product_id)
	);`,
}

// InitializeTables creates the schema if it does not exist.
func (p *PostgresDatabase) InitializeTables(ctx context.Context) error {
	for _, stmt := range tables {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize tables: %w", classify(err))
		}
	}
	return nil
}

// classify marks connection level and serialization failures as ErrUnavailable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "08", // connection_exception
			pqErr.Code == "40001", // serialization_failure
			pqErr.Code == "40P01", // deadlock_detected
			pqErr.Code == "57P01", // admin_shutdown
			pqErr.Code == "57P03", // cannot_connect_now
			pqErr.Code == "53300": // too_many_connections
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// inTx runs fn in a transaction and commits when fn returns nil. Errors
// raised before the commit leave nothing written and go through rolledBack.
// A commit the server did not answer may or may not have been applied and is
// reported as ErrOutcomeUnknown.
func (p *PostgresDatabase) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return rolledBack(err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return rolledBack(err)
	}
	if err := tx.Commit(); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			// The server rejected the commit, so the transaction was rolled back.
			return classify(err)
		}
		return fmt.Errorf("%w: %v", ErrOutcomeUnknown, err)
	}
	return nil
}

// rolledBack classifies an error from an uncommitted transaction. Nothing
// was written, so a deadline is as safe to retry as a lost connection.
func rolledBack(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return classify(err)
}

// --- Product Functions ---

const productColumns = `id, name, price, stock_quantity, is_active, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(row scanner) (*models.Product, error) {
	var pr models.Product
	err := row.Scan(&pr.ID, &pr.Name, &pr.Price, &pr.StockQuantity, &pr.IsActive, &pr.CreatedAt, &pr.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &pr, nil
}

func (p *PostgresDatabase) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	pr, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	return pr, classify(err)
}

func (p *PostgresDatabase) GetActiveProduct(ctx context.Context, id string) (*models.Product, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 AND is_active`, id)
	pr, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	return pr, classify(err)
}

func (p *PostgresDatabase) GetActiveProducts(ctx context.Context) ([]models.Product, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products WHERE is_active ORDER BY created_at`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		pr, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *pr)
	}
	return products, classify(rows.Err())
}

func (p *PostgresDatabase) GetProductsByIDs(ctx context.Context, ids []string) (map[string]models.Product, error) {
	products := make(map[string]models.Product, len(ids))
	if len(ids) == 0 {
		return products, nil
	}
	rows, err := p.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	for rows.Next() {
		pr, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products[pr.ID] = *pr
	}
	return products, classify(rows.Err())
}

func (p *PostgresDatabase) CreateProduct(ctx context.Context, product *models.Product) error {
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO products (id, name, price, stock_quantity, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		product.ID, product.Name, product.Price, product.StockQuantity, product.IsActive)
	return classify(row.Scan(&product.CreatedAt, &product.UpdatedAt))
}

func (p *PostgresDatabase) UpdateProduct(ctx context.Context, product *models.Product) error {
	row := p.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, price = $3, stock_quantity = $4, is_active = $5, updated_at = now()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		product.ID, product.Name, product.Price, product.StockQuantity, product.IsActive)
	err := row.Scan(&product.CreatedAt, &product.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrProductNotFound
	}
	return classify(err)
}

// --- Cart Functions ---

const cartColumns = `id, session_id, user_id, created_at, updated_at`

func scanCart(row scanner) (*models.Cart, error) {
	var c models.Cart
	var userID sql.NullString
	if err := row.Scan(&c.ID, &c.SessionID, &userID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if userID.Valid {
		c.UserID = &userID.String
	}
	return &c, nil
}

func (p *PostgresDatabase) CreateCart(ctx context.Context, cart *models.Cart) error {
	cart.ID = uuid.NewString()
	cart.Items = nil
	return p.inTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
			INSERT INTO carts (id, session_id, user_id)
			VALUES ($1, $2, $3)
			RETURNING created_at, updated_at`,
			cart.ID, cart.SessionID, cart.UserID).Scan(&cart.CreatedAt, &cart.UpdatedAt)
	})
}

func (p *PostgresDatabase) GetCartByID(ctx context.Context, cartID string) (*models.Cart, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+cartColumns+` FROM carts WHERE id = $1`, cartID)
	return p.loadCart(ctx, row)
}

func (p *PostgresDatabase) GetCartBySessionID(ctx context.Context, sessionID string) (*models.Cart, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+cartColumns+` FROM carts
		WHERE session_id = $1
		ORDER BY updated_at DESC
		LIMIT 1`, sessionID)
	return p.loadCart(ctx, row)
}

func (p *PostgresDatabase) loadCart(ctx context.Context, row *sql.Row) (*models.Cart, error) {
	cart, err := scanCart(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	cart.Items, err = p.GetCartItemsByCartID(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// DeleteCart relies on ON DELETE CASCADE for the items but deletes them first
// so stores without the constraint stay consistent.
func (p *PostgresDatabase) DeleteCart(ctx context.Context, cartID string) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM carts WHERE id = $1`, cartID)
		return err
	})
}

func (p *PostgresDatabase) DeleteCartsUpdatedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var deleted int64
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM cart_items
			WHERE cart_id IN (SELECT id FROM carts WHERE updated_at < $1)`, cutoff); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM carts WHERE updated_at < $1`, cutoff)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return int(deleted), err
}

// --- Cart Item Functions ---

const itemColumns = `id, cart_id, product_id, quantity, price, created_at, updated_at`

func scanItem(row scanner) (*models.CartItem, error) {
	var it models.CartItem
	err := row.Scan(&it.ID, &it.CartID, &it.ProductID, &it.Quantity, &it.Price, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// AddCartItem locks the cart row, then the product row, so two adds to the
// same cart serialize and the stock check cannot go stale before the write.
func (p *PostgresDatabase) AddCartItem(ctx context.Context, cartID, productID string, quantity int) (*models.CartItem, error) {
	var item *models.CartItem
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		var locked string
		err := tx.QueryRowContext(ctx, `SELECT id FROM carts WHERE id = $1 FOR UPDATE`, cartID).Scan(&locked)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrCartNotFound
		}
		if err != nil {
			return err
		}

		product, err := scanProduct(tx.QueryRowContext(ctx,
			`SELECT `+productColumns+` FROM products WHERE id = $1 AND is_active FOR UPDATE`, productID))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrProductNotFound
		}
		if err != nil {
			return err
		}

		existing, err := scanItem(tx.QueryRowContext(ctx,
			`SELECT `+itemColumns+` FROM cart_items WHERE cart_id = $1 AND product_id = $2`, cartID, productID))
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if quantity > product.StockQuantity {
				return ErrInsufficientStock
			}
			item, err = scanItem(tx.QueryRowContext(ctx, `
				INSERT INTO cart_items (id, cart_id, product_id, quantity, price)
				VALUES ($1, $2, $3, $4, $5)
				RETURNING `+itemColumns,
				uuid.NewString(), cartID, productID, quantity, product.Price))
		case err != nil:
			return err
		default:
			if existing.Quantity+quantity > product.StockQuantity {
				return ErrInsufficientStock
			}
			item, err = scanItem(tx.QueryRowContext(ctx, `
				UPDATE cart_items SET quantity = quantity + $2, updated_at = now()
				WHERE id = $1
				RETURNING `+itemColumns,
				existing.ID, quantity))
		}
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE carts SET updated_at = now() WHERE id = $1`, cartID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// UpdateCartItemQuantity re-validates the quantity against current stock.
func (p *PostgresDatabase) UpdateCartItemQuantity(ctx context.Context, itemID string, quantity int) (*models.CartItem, error) {
	var item *models.CartItem
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		current, err := scanItem(tx.QueryRowContext(ctx,
			`SELECT `+itemColumns+` FROM cart_items WHERE id = $1 FOR UPDATE`, itemID))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrCartItemNotFound
		}
		if err != nil {
			return err
		}

		var stock int
		err = tx.QueryRowContext(ctx,
			`SELECT stock_quantity FROM products WHERE id = $1 FOR SHARE`, current.ProductID).Scan(&stock)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrProductNotFound
		}
		if err != nil {
			return err
		}
		if quantity > stock {
			return ErrInsufficientStock
		}

		item, err = scanItem(tx.QueryRowContext(ctx, `
			UPDATE cart_items SET quantity = $2, updated_at = now()
			WHERE id = $1
			RETURNING `+itemColumns,
			itemID, quantity))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE carts SET updated_at = now() WHERE id = $1`, current.CartID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (p *PostgresDatabase) DeleteCartItem(ctx context.Context, itemID string) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		var cartID string
		err := tx.QueryRowContext(ctx, `DELETE FROM cart_items WHERE id = $1 RETURNING cart_id`, itemID).Scan(&cartID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE carts SET updated_at = now() WHERE id = $1`, cartID)
		return err
	})
}

func (p *PostgresDatabase) DeleteCartItemsByCartID(ctx context.Context, cartID string) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, `UPDATE carts SET updated_at = now() WHERE id = $1`, cartID)
		return err
	})
}

func (p *PostgresDatabase) GetCartItemsByCartID(ctx context.Context, cartID string) ([]models.CartItem, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM cart_items WHERE cart_id = $1 ORDER BY created_at, id`, cartID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	items := []models.CartItem{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, classify(rows.Err())
}
