package handlers

import (
	"net/http"

	"storefront/internal/models"
	"storefront/internal/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// --- Session cart ---

// sessionCart returns the cart of the current session, or nil when the
// session has none yet.
func (h *Handler) sessionCart(c *gin.Context) (*models.Cart, error) {
	sessionID := h.sessionID(c, false)
	if sessionID == "" {
		return nil, nil
	}
	cart, err := h.cartService.GetCartBySession(c.Request.Context(), sessionID)
	if isNotFound(err) {
		return nil, nil
	}
	return cart, err
}

// ownsItem reports whether itemID is a line of cart.
func ownsItem(cart *models.Cart, itemID string) bool {
	if cart == nil {
		return false
	}
	for _, item := range cart.Items {
		if item.ID == itemID {
			return true
		}
	}
	return false
}

func (h *Handler) CartPage(c *gin.Context) {
	cart, err := h.sessionCart(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if cart == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "cart": emptyCartResponse()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "cart": h.cartView(c, cart)})
}

func (h *Handler) AddToCart(c *gin.Context) {
	var req struct {
		ProductID string `json:"product_id" binding:"required"`
		Quantity  int    `json:"quantity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	sessionID := h.sessionID(c, true)
	cart, err := h.sessionCart(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if cart == nil {
		// The cookie may have been set on this very request.
		cart, err = h.cartService.CreateCart(ctx, sessionID, nil)
		if err != nil {
			h.writeError(c, err)
			return
		}
	}

	item, err := h.cartService.AddItem(ctx, cart.ID, req.ProductID, req.Quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	summary, err := h.cartService.Summarize(ctx, cart.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.logger.Info("AddToCart",
		zap.String("session_id", sessionID), zap.String("cart_id", cart.ID),
		zap.String("product_id", req.ProductID), zap.Int("quantity", req.Quantity))
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"item":    toItemResponse(*item, ""),
		"summary": toSummaryResponse(summary),
	})
}

func (h *Handler) UpdateCartItem(c *gin.Context) {
	var req struct {
		ItemID   string `json:"item_id" binding:"required"`
		Quantity int    `json:"quantity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	cart, err := h.sessionCart(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !ownsItem(cart, req.ItemID) {
		h.writeError(c, services.ErrCartItemNotFound)
		return
	}

	ctx := c.Request.Context()
	item, err := h.cartService.UpdateQuantity(ctx, req.ItemID, req.Quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	summary, err := h.cartService.Summarize(ctx, cart.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"item":    toItemResponse(*item, ""),
		"summary": toSummaryResponse(summary),
	})
}

// RemoveFromCart succeeds when the line is already gone; lines of other
// sessions are left untouched.
func (h *Handler) RemoveFromCart(c *gin.Context) {
	var req struct {
		ItemID string `json:"item_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	cart, err := h.sessionCart(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if ownsItem(cart, req.ItemID) {
		if err := h.cartService.RemoveItem(c.Request.Context(), req.ItemID); err != nil {
			h.writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) ClearSessionCart(c *gin.Context) {
	cart, err := h.sessionCart(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if cart != nil {
		if err := h.cartService.ClearCart(c.Request.Context(), cart.ID); err != nil {
			h.writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) GetCartCount(c *gin.Context) {
	cart, err := h.sessionCart(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	count := 0
	if cart != nil {
		count = models.Summarize(cart.Items).TotalQuantity
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// --- Cart resources by id ---

func (h *Handler) CreateCart(c *gin.Context) {
	var req struct {
		SessionID string  `json:"session_id"`
		UserID    *string `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cart, err := h.cartService.CreateCart(c.Request.Context(), req.SessionID, req.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "cart": h.cartView(c, cart)})
}

func (h *Handler) GetCart(c *gin.Context) {
	cart, err := h.cartService.GetCart(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "cart": h.cartView(c, cart)})
}

func (h *Handler) GetCartSummary(c *gin.Context) {
	summary, err := h.cartService.Summarize(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "summary": toSummaryResponse(summary)})
}

func (h *Handler) AddCartItem(c *gin.Context) {
	var req struct {
		ProductID string `json:"product_id" binding:"required"`
		Quantity  int    `json:"quantity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	item, err := h.cartService.AddItem(c.Request.Context(), c.Param("id"), req.ProductID, req.Quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "item": toItemResponse(*item, "")})
}

func (h *Handler) ClearCart(c *gin.Context) {
	if err := h.cartService.ClearCart(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) DeleteCart(c *gin.Context) {
	if err := h.cartService.DeleteCart(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) PatchCartItem(c *gin.Context) {
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	item, err := h.cartService.UpdateQuantity(c.Request.Context(), c.Param("id"), req.Quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "item": toItemResponse(*item, "")})
}

func (h *Handler) DeleteCartItem(c *gin.Context) {
	if err := h.cartService.RemoveItem(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
