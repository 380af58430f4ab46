package handlers

import (
	"errors"
	"net/http"
	"time"

	"storefront/internal/config"
	"storefront/internal/database"
	"storefront/internal/models"
	"storefront/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

const (
	sessionCookie    = "user_session"
	sessionCookieAge = 3600 * 24 * 30
)

// Handler serves the cart and catalog JSON API.
type Handler struct {
	db            database.DBInterface
	cartService   *services.CartService
	logger        *zap.Logger
	i18n          config.I18nConfig
	secureCookies bool
}

// NewHandler wires a Handler. db is used for catalog reads and admin writes;
// all cart state goes through cartService.
func NewHandler(db database.DBInterface, cartService *services.CartService, logger *zap.Logger, cfg *config.Config) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		db:            db,
		cartService:   cartService,
		logger:        logger.Named("http"),
		i18n:          cfg.I18n,
		secureCookies: cfg.Server.SecureCookies,
	}
}

// sessionID returns the session cookie value. With create set, a missing
// session is started and the cookie is written.
func (h *Handler) sessionID(c *gin.Context, create bool) string {
	sessionID, _ := c.Cookie(sessionCookie)
	if sessionID != "" || !create {
		return sessionID
	}
	sessionID = generateSessionID()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, sessionID, sessionCookieAge, "/", "", h.secureCookies, true)
	h.logger.Debug("created session", zap.String("session_id", sessionID))
	return sessionID
}

func generateSessionID() string {
	return uuid.New().String()
}

// lang picks the display language: ?lang=, then Accept-Language, then the
// configured default.
func (h *Handler) lang(c *gin.Context) string {
	if l := c.Query("lang"); l != "" {
		return l
	}
	if header := c.GetHeader("Accept-Language"); header != "" {
		tags, _, err := language.ParseAcceptLanguage(header)
		if err == nil && len(tags) > 0 {
			return tags[0].String()
		}
	}
	return h.i18n.DefaultLang
}

// writeError maps service error kinds to HTTP statuses.
func (h *Handler) writeError(c *gin.Context, err error) {
	kind := services.KindOf(err)
	status := http.StatusInternalServerError
	message := err.Error()

	switch kind {
	case services.KindNotFound:
		status = http.StatusNotFound
	case services.KindInsufficientStock:
		status = http.StatusConflict
	case services.KindInvalidArgument:
		status = http.StatusBadRequest
	case services.KindStoreUnavailable:
		status = http.StatusServiceUnavailable
		message = "service temporarily unavailable"
		c.Header("Retry-After", "1")
	default:
		message = "internal error"
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": message, "code": kind.String()})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   "invalid request: " + err.Error(),
		"code":    services.KindInvalidArgument.String(),
	})
}

// --- Responses ---

type cartItemResponse struct {
	ID          string    `json:"id"`
	CartID      string    `json:"cart_id"`
	ProductID   string    `json:"product_id"`
	ProductName string    `json:"product_name,omitempty"`
	Quantity    int       `json:"quantity"`
	Price       string    `json:"price"`
	LineTotal   string    `json:"line_total"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type summaryResponse struct {
	ItemCount     int    `json:"item_count"`
	TotalQuantity int    `json:"total_quantity"`
	TotalAmount   string `json:"total_amount"`
}

type cartResponse struct {
	ID        string             `json:"id,omitempty"`
	SessionID string             `json:"session_id,omitempty"`
	UserID    *string            `json:"user_id,omitempty"`
	Items     []cartItemResponse `json:"items"`
	Summary   summaryResponse    `json:"summary"`
	CreatedAt *time.Time         `json:"created_at,omitempty"`
	UpdatedAt *time.Time         `json:"updated_at,omitempty"`
}

type productResponse struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Translations  map[string]string `json:"translations,omitempty"`
	Price         string            `json:"price"`
	StockQuantity int               `json:"stock_quantity"`
	IsActive      bool              `json:"is_active"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

func toItemResponse(item models.CartItem, name string) cartItemResponse {
	return cartItemResponse{
		ID:          item.ID,
		CartID:      item.CartID,
		ProductID:   item.ProductID,
		ProductName: name,
		Quantity:    item.Quantity,
		Price:       item.Price.StringFixed(2),
		LineTotal:   item.LineTotal().StringFixed(2),
		CreatedAt:   item.CreatedAt.UTC(),
		UpdatedAt:   item.UpdatedAt.UTC(),
	}
}

func toSummaryResponse(s models.CartSummary) summaryResponse {
	return summaryResponse{
		ItemCount:     s.ItemCount,
		TotalQuantity: s.TotalQuantity,
		TotalAmount:   s.TotalAmount.StringFixed(2),
	}
}

func (h *Handler) toProductResponse(p models.Product, lang string) productResponse {
	return productResponse{
		ID:            p.ID,
		Name:          p.Name.Resolve(lang, h.i18n.FallbackLang),
		Translations:  p.Name.Translations(),
		Price:         p.Price.StringFixed(2),
		StockQuantity: p.StockQuantity,
		IsActive:      p.IsActive,
		UpdatedAt:     p.UpdatedAt.UTC(),
	}
}

func emptyCartResponse() cartResponse {
	return cartResponse{
		Items:   []cartItemResponse{},
		Summary: toSummaryResponse(models.Summarize(nil)),
	}
}

// cartView renders a cart with product names in the request language. Names
// are looked up best effort; prices always come from the lines.
func (h *Handler) cartView(c *gin.Context, cart *models.Cart) cartResponse {
	ids := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := h.db.GetProductsByIDs(c.Request.Context(), ids)
	if err != nil {
		h.logger.Warn("product names unavailable", zap.String("cart_id", cart.ID), zap.Error(err))
		products = nil
	}

	lang := h.lang(c)
	items := make([]cartItemResponse, 0, len(cart.Items))
	for _, item := range cart.Items {
		name := ""
		if p, ok := products[item.ProductID]; ok {
			name = p.Name.Resolve(lang, h.i18n.FallbackLang)
		}
		items = append(items, toItemResponse(item, name))
	}

	createdAt, updatedAt := cart.CreatedAt.UTC(), cart.UpdatedAt.UTC()
	return cartResponse{
		ID:        cart.ID,
		SessionID: cart.SessionID,
		UserID:    cart.UserID,
		Items:     items,
		Summary:   toSummaryResponse(models.Summarize(cart.Items)),
		CreatedAt: &createdAt,
		UpdatedAt: &updatedAt,
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, services.ErrNotFound)
}
