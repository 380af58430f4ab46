package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"nil", nil, false},
		{"bad connection", driver.ErrBadConn, true},
		{"connection exception", &pq.Error{Code: "08006"}, true},
		{"serialization failure", &pq.Error{Code: "40001"}, true},
		{"deadlock", &pq.Error{Code: "40P01"}, true},
		{"too many connections", &pq.Error{Code: "53300"}, true},
		{"unique violation", &pq.Error{Code: "23505"}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			assert.Equal(t, tt.transient, errors.Is(got, ErrUnavailable))
			if tt.err != nil {
				assert.Error(t, got)
			}
		})
	}
}

func TestRolledBackDeadlineIsRetryable(t *testing.T) {
	assert.ErrorIs(t, rolledBack(context.DeadlineExceeded), ErrUnavailable)
	assert.ErrorIs(t, rolledBack(fmt.Errorf("insert: %w", context.DeadlineExceeded)), ErrUnavailable)
	assert.ErrorIs(t, rolledBack(ErrCartNotFound), ErrCartNotFound)
	assert.False(t, errors.Is(rolledBack(ErrInsufficientStock), ErrUnavailable))
	assert.False(t, errors.Is(rolledBack(context.Canceled), ErrUnavailable))
}

// newPostgresDB connects to TEST_DATABASE_URL and starts from empty tables.
func newPostgresDB(t *testing.T) *PostgresDatabase {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := Connect(ctx, url, 20)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.InitializeTables(ctx))
	_, err = db.db.ExecContext(ctx, `TRUNCATE cart_items, carts, products`)
	require.NoError(t, err)
	return db
}

func TestPostgresCartLifecycle(t *testing.T) {
	db := newPostgresDB(t)
	ctx := context.Background()
	p := seedProduct(t, db, "9.99", 5, true)
	cart := seedCart(t, db, "s1")

	first, err := db.AddCartItem(ctx, cart.ID, p.ID, 2)
	require.NoError(t, err)
	merged, err := db.AddCartItem(ctx, cart.ID, p.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, first.ID, merged.ID)
	assert.Equal(t, 5, merged.Quantity)

	_, err = db.AddCartItem(ctx, cart.ID, p.ID, 1)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	_, err = db.AddCartItem(ctx, "missing", p.ID, 1)
	assert.ErrorIs(t, err, ErrCartNotFound)
	_, err = db.AddCartItem(ctx, cart.ID, "missing", 1)
	assert.ErrorIs(t, err, ErrProductNotFound)

	updated, err := db.UpdateCartItemQuantity(ctx, first.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Quantity)

	got, err := db.GetCartBySessionID(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "9.99", got.Items[0].Price.StringFixed(2))

	products, err := db.GetProductsByIDs(ctx, []string{p.ID})
	require.NoError(t, err)
	assert.Equal(t, "Tea", products[p.ID].Name.String())

	require.NoError(t, db.DeleteCartItem(ctx, first.ID))
	require.NoError(t, db.DeleteCartItem(ctx, first.ID))
	require.NoError(t, db.DeleteCart(ctx, cart.ID))
	require.NoError(t, db.DeleteCart(ctx, cart.ID))

	_, err = db.GetCartByID(ctx, cart.ID)
	assert.ErrorIs(t, err, ErrCartNotFound)
}

func TestPostgresConcurrentAddsNeverOversell(t *testing.T) {
	db := newPostgresDB(t)
	ctx := context.Background()
	p := seedProduct(t, db, "1.00", 10, true)
	cart := seedCart(t, db, "s1")

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = db.AddCartItem(ctx, cart.ID, p.ID, 1)
		}()
	}
	wg.Wait()

	items, err := db.GetCartItemsByCartID(ctx, cart.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 10, items[0].Quantity)
}
