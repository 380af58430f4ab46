package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storefront/internal/config"
	"storefront/internal/database"
	"storefront/internal/models"
	"storefront/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

const adminPassword = "s3cret"

type envelope struct {
	Success  bool              `json:"success"`
	Error    string            `json:"error"`
	Code     string            `json:"code"`
	Item     cartItemResponse  `json:"item"`
	Summary  summaryResponse   `json:"summary"`
	Cart     cartResponse      `json:"cart"`
	Count    int               `json:"count"`
	Product  productResponse   `json:"product"`
	Products []productResponse `json:"products"`
}

type testServer struct {
	t      *testing.T
	router *gin.Engine
	db     *database.JSONDatabase
}

func newTestServer(t *testing.T, configure func(cfg *config.Config)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.NewDatabase("")
	require.NoError(t, err)

	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.MinCost)
	require.NoError(t, err)
	cfg := config.Default()
	cfg.Admin.PasswordHash = string(hash)
	cfg.RateLimit.RequestsPerSecond = 0
	if configure != nil {
		configure(cfg)
	}

	logger := zaptest.NewLogger(t)
	cartService := services.NewCartService(db, logger, services.Options{RetryBackoff: time.Millisecond})
	h := NewHandler(db, cartService, logger, cfg)

	r := gin.New()
	r.Use(RequestLogger(logger))
	h.RegisterRoutes(r, AuthMiddleware(cfg.Admin, logger), NewRateLimiter(cfg.RateLimit).Middleware())
	return &testServer{t: t, router: r, db: db}
}

func (s *testServer) product(price string, stock int, active bool) *models.Product {
	s.t.Helper()
	p := &models.Product{
		Name:          models.Localized(map[string]string{"zh": "绿茶", "en": "Green tea"}),
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
		IsActive:      active,
	}
	require.NoError(s.t, s.db.CreateProduct(context.Background(), p))
	return p
}

type request struct {
	method  string
	path    string
	body    interface{}
	cookie  *http.Cookie
	headers map[string]string
	auth    []string
}

func (s *testServer) do(req request) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	var body bytes.Buffer
	if req.body != nil {
		require.NoError(s.t, json.NewEncoder(&body).Encode(req.body))
	}
	httpReq := httptest.NewRequest(req.method, req.path, &body)
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}
	if req.cookie != nil {
		httpReq.AddCookie(req.cookie)
	}
	if len(req.auth) == 2 {
		httpReq.SetBasicAuth(req.auth[0], req.auth[1])
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httpReq)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func sessionCookieFrom(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionCookie {
			return c
		}
	}
	t.Fatalf("response did not set %s", sessionCookie)
	return nil
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, nil)
	w, _ := s.do(request{method: http.MethodGet, path: "/healthz"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessionCartFlow(t *testing.T) {
	s := newTestServer(t, nil)
	p := s.product("9.99", 5, true)

	w, env := s.do(request{method: http.MethodPost, path: "/cart/add",
		body: gin.H{"product_id": p.ID, "quantity": 2}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cookie := sessionCookieFrom(t, w)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, 2, env.Item.Quantity)
	assert.Equal(t, "9.99", env.Item.Price)
	assert.Equal(t, summaryResponse{ItemCount: 1, TotalQuantity: 2, TotalAmount: "19.98"}, env.Summary)
	itemID := env.Item.ID

	w, env = s.do(request{method: http.MethodPost, path: "/cart/update", cookie: cookie,
		body: gin.H{"item_id": itemID, "quantity": 3}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "29.97", env.Summary.TotalAmount)

	_, env = s.do(request{method: http.MethodGet, path: "/cart/count", cookie: cookie})
	assert.Equal(t, 3, env.Count)

	w, env = s.do(request{method: http.MethodGet, path: "/cart", cookie: cookie,
		headers: map[string]string{"Accept-Language": "en-US,en;q=0.9"}})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, env.Cart.Items, 1)
	assert.Equal(t, "Green tea", env.Cart.Items[0].ProductName)
	assert.Equal(t, "29.97", env.Cart.Items[0].LineTotal)

	_, env = s.do(request{method: http.MethodGet, path: "/cart?lang=zh", cookie: cookie})
	assert.Equal(t, "绿茶", env.Cart.Items[0].ProductName)

	for i := 0; i < 2; i++ {
		w, _ = s.do(request{method: http.MethodPost, path: "/cart/remove", cookie: cookie,
			body: gin.H{"item_id": itemID}})
		assert.Equal(t, http.StatusOK, w.Code)
	}
	_, env = s.do(request{method: http.MethodGet, path: "/cart/count", cookie: cookie})
	assert.Equal(t, 0, env.Count)
}

func TestEmptySessionCart(t *testing.T) {
	s := newTestServer(t, nil)

	w, env := s.do(request{method: http.MethodGet, path: "/cart"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, env.Cart.Items)
	assert.Equal(t, "0.00", env.Cart.Summary.TotalAmount)

	w, _ = s.do(request{method: http.MethodPost, path: "/cart/clear"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestClearSessionCart(t *testing.T) {
	s := newTestServer(t, nil)
	p := s.product("9.99", 5, true)
	q := s.product("5.00", 5, true)

	w, _ := s.do(request{method: http.MethodPost, path: "/cart/add", body: gin.H{"product_id": p.ID, "quantity": 2}})
	cookie := sessionCookieFrom(t, w)
	_, env := s.do(request{method: http.MethodPost, path: "/cart/add", cookie: cookie,
		body: gin.H{"product_id": q.ID, "quantity": 1}})
	assert.Equal(t, summaryResponse{ItemCount: 2, TotalQuantity: 3, TotalAmount: "24.98"}, env.Summary)

	w, _ = s.do(request{method: http.MethodPost, path: "/cart/clear", cookie: cookie})
	require.Equal(t, http.StatusOK, w.Code)

	_, env = s.do(request{method: http.MethodGet, path: "/cart", cookie: cookie})
	assert.Equal(t, summaryResponse{TotalAmount: "0.00"}, env.Cart.Summary)
}

func TestAddToCartErrors(t *testing.T) {
	s := newTestServer(t, nil)
	p := s.product("9.99", 5, true)
	inactive := s.product("1.00", 5, false)

	tests := []struct {
		name   string
		body   gin.H
		status int
		code   string
	}{
		{"over stock", gin.H{"product_id": p.ID, "quantity": 6}, http.StatusConflict, "INSUFFICIENT_STOCK"},
		{"unknown product", gin.H{"product_id": "nope", "quantity": 1}, http.StatusNotFound, "NOT_FOUND"},
		{"inactive product", gin.H{"product_id": inactive.ID, "quantity": 1}, http.StatusNotFound, "NOT_FOUND"},
		{"zero quantity", gin.H{"product_id": p.ID, "quantity": 0}, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"missing product", gin.H{"quantity": 1}, http.StatusBadRequest, "INVALID_ARGUMENT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := s.do(request{method: http.MethodPost, path: "/cart/add", body: tt.body})
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.False(t, env.Success)
			assert.Equal(t, tt.code, env.Code)
		})
	}
}

func TestSessionCannotTouchForeignLines(t *testing.T) {
	s := newTestServer(t, nil)
	p := s.product("2.00", 5, true)

	w, env := s.do(request{method: http.MethodPost, path: "/cart/add", body: gin.H{"product_id": p.ID, "quantity": 2}})
	owner := sessionCookieFrom(t, w)
	itemID := env.Item.ID

	w, _ = s.do(request{method: http.MethodPost, path: "/cart/add", body: gin.H{"product_id": p.ID, "quantity": 1}})
	other := sessionCookieFrom(t, w)

	w, env = s.do(request{method: http.MethodPost, path: "/cart/update", cookie: other,
		body: gin.H{"item_id": itemID, "quantity": 1}})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", env.Code)
	assert.Equal(t, "cart item not found", env.Error)

	w, _ = s.do(request{method: http.MethodPost, path: "/cart/remove", cookie: other,
		body: gin.H{"item_id": itemID}})
	assert.Equal(t, http.StatusOK, w.Code)

	_, env = s.do(request{method: http.MethodGet, path: "/cart/count", cookie: owner})
	assert.Equal(t, 2, env.Count)
}

func TestCartResourceAPI(t *testing.T) {
	s := newTestServer(t, nil)
	p := s.product("9.99", 5, true)
	q := s.product("5.00", 5, true)

	w, env := s.do(request{method: http.MethodPost, path: "/api/carts", body: gin.H{"session_id": "s1"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "s1", env.Cart.SessionID)
	cartID := env.Cart.ID

	w, env = s.do(request{method: http.MethodPost, path: "/api/carts/" + cartID + "/items",
		body: gin.H{"product_id": p.ID, "quantity": 2}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	itemID := env.Item.ID

	_, env = s.do(request{method: http.MethodGet, path: "/api/carts/" + cartID + "/summary"})
	assert.Equal(t, summaryResponse{ItemCount: 1, TotalQuantity: 2, TotalAmount: "19.98"}, env.Summary)

	w, env = s.do(request{method: http.MethodPatch, path: "/api/cart-items/" + itemID, body: gin.H{"quantity": 3}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 3, env.Item.Quantity)

	w, _ = s.do(request{method: http.MethodPost, path: "/api/carts/" + cartID + "/items",
		body: gin.H{"product_id": q.ID, "quantity": 1}})
	require.Equal(t, http.StatusCreated, w.Code)

	_, env = s.do(request{method: http.MethodGet, path: "/api/carts/" + cartID + "/summary"})
	assert.Equal(t, summaryResponse{ItemCount: 2, TotalQuantity: 4, TotalAmount: "34.97"}, env.Summary)

	w, _ = s.do(request{method: http.MethodDelete, path: "/api/carts/" + cartID + "/items"})
	require.Equal(t, http.StatusOK, w.Code)
	_, env = s.do(request{method: http.MethodGet, path: "/api/carts/" + cartID + "/summary"})
	assert.Equal(t, summaryResponse{TotalAmount: "0.00"}, env.Summary)

	w, _ = s.do(request{method: http.MethodDelete, path: "/api/cart-items/" + itemID})
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(request{method: http.MethodDelete, path: "/api/carts/" + cartID})
	require.Equal(t, http.StatusOK, w.Code)
	w, env = s.do(request{method: http.MethodGet, path: "/api/carts/" + cartID})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", env.Code)

	w, env = s.do(request{method: http.MethodPost, path: "/api/carts", body: gin.H{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_ARGUMENT", env.Code)
}

func TestProducts(t *testing.T) {
	s := newTestServer(t, nil)
	active := s.product("9.99", 5, true)
	inactive := s.product("1.00", 5, false)

	w, env := s.do(request{method: http.MethodGet, path: "/products?lang=en"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, env.Products, 1)
	assert.Equal(t, "Green tea", env.Products[0].Name)
	assert.Equal(t, "9.99", env.Products[0].Price)

	_, env = s.do(request{method: http.MethodGet, path: "/products/" + active.ID})
	assert.Equal(t, "绿茶", env.Product.Name)
	assert.Equal(t, map[string]string{"zh": "绿茶", "en": "Green tea"}, env.Product.Translations)

	w, _ = s.do(request{method: http.MethodGet, path: "/products/" + inactive.ID})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminProducts(t *testing.T) {
	s := newTestServer(t, nil)
	body := gin.H{"name": gin.H{"zh": "红茶", "en": "Black tea"}, "price": "4.50", "stock_quantity": 7}

	w, _ := s.do(request{method: http.MethodPost, path: "/admin/products", body: body})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))

	w, _ = s.do(request{method: http.MethodPost, path: "/admin/products", body: body, auth: []string{"admin", "wrong"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, env := s.do(request{method: http.MethodPost, path: "/admin/products", body: body,
		auth: []string{"admin", adminPassword}, headers: map[string]string{"Accept-Language": "en"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "Black tea", env.Product.Name)
	assert.True(t, env.Product.IsActive)
	productID := env.Product.ID

	w, _ = s.do(request{method: http.MethodPost, path: "/cart/add", body: gin.H{"product_id": productID, "quantity": 2}})
	require.Equal(t, http.StatusOK, w.Code)
	cookie := sessionCookieFrom(t, w)

	w, env = s.do(request{method: http.MethodPut, path: "/admin/products/" + productID,
		body: gin.H{"price": "6.00"}, auth: []string{"admin", adminPassword}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "6.00", env.Product.Price)
	assert.Equal(t, 7, env.Product.StockQuantity)

	_, env = s.do(request{method: http.MethodGet, path: "/cart", cookie: cookie})
	assert.Equal(t, "9.00", env.Cart.Summary.TotalAmount)

	w, _ = s.do(request{method: http.MethodPost, path: "/admin/products",
		body: gin.H{"name": "Oolong", "stock_quantity": 1}, auth: []string{"admin", adminPassword}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(request{method: http.MethodPut, path: "/admin/products/nope",
		body: gin.H{"price": "1.00"}, auth: []string{"admin", adminPassword}})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminDisabledWithoutHash(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.Admin.PasswordHash = "" })
	w, _ := s.do(request{method: http.MethodPost, path: "/admin/products",
		body: gin.H{"name": "Tea"}, auth: []string{"admin", adminPassword}})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit.RequestsPerSecond = 0.001
		cfg.RateLimit.Burst = 2
	})
	cookie := &http.Cookie{Name: sessionCookie, Value: "limited"}

	for i := 0; i < 2; i++ {
		w, _ := s.do(request{method: http.MethodGet, path: "/cart/count", cookie: cookie})
		assert.Equal(t, http.StatusOK, w.Code)
	}
	w, _ := s.do(request{method: http.MethodGet, path: "/cart/count", cookie: cookie})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	// Other sessions have their own bucket.
	w, _ = s.do(request{method: http.MethodGet, path: "/cart/count",
		cookie: &http.Cookie{Name: sessionCookie, Value: "other"}})
	assert.Equal(t, http.StatusOK, w.Code)
}

// unavailableDB fails every cart lookup as a transient store error.
type unavailableDB struct {
	database.DBInterface
}

func (unavailableDB) GetCartByID(ctx context.Context, cartID string) (*models.Cart, error) {
	return nil, database.ErrUnavailable
}

func TestStoreUnavailable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db, err := database.NewDatabase("")
	require.NoError(t, err)
	logger := zaptest.NewLogger(t)
	down := unavailableDB{DBInterface: db}
	cartService := services.NewCartService(down, logger, services.Options{RetryBackoff: time.Millisecond})
	h := NewHandler(down, cartService, logger, config.Default())

	r := gin.New()
	h.RegisterRoutes(r, func(c *gin.Context) { c.Next() }, func(c *gin.Context) { c.Next() })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/carts/any/summary", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "STORE_UNAVAILABLE")
}
