package handlers

import (
	"errors"
	"net/http"

	"storefront/internal/database"
	"storefront/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *Handler) ProductsPage(c *gin.Context) {
	products, err := h.db.GetActiveProducts(c.Request.Context())
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	lang := h.lang(c)
	resp := make([]productResponse, 0, len(products))
	for _, p := range products {
		resp = append(resp, h.toProductResponse(p, lang))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "products": resp})
}

func (h *Handler) ProductPage(c *gin.Context) {
	product, err := h.db.GetActiveProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "product": h.toProductResponse(*product, h.lang(c))})
}

// --- Admin ---

func validateProductForm(form models.ProductForm, create bool) error {
	if create {
		switch {
		case form.Name.IsZero():
			return errors.New("name is required")
		case form.Price == nil:
			return errors.New("price is required")
		case form.StockQuantity == nil:
			return errors.New("stock_quantity is required")
		}
	}
	if form.Price != nil && form.Price.IsNegative() {
		return errors.New("price must not be negative")
	}
	if form.StockQuantity != nil && *form.StockQuantity < 0 {
		return errors.New("stock_quantity must not be negative")
	}
	return nil
}

func (h *Handler) AddProduct(c *gin.Context) {
	var form models.ProductForm
	if err := c.ShouldBindJSON(&form); err != nil {
		badRequest(c, err)
		return
	}
	if err := validateProductForm(form, true); err != nil {
		badRequest(c, err)
		return
	}

	product := models.Product{
		Name:          form.Name,
		Price:         form.Price.Round(2),
		StockQuantity: *form.StockQuantity,
		IsActive:      true,
	}
	if form.IsActive != nil {
		product.IsActive = *form.IsActive
	}
	if err := h.db.CreateProduct(c.Request.Context(), &product); err != nil {
		h.writeStoreError(c, err)
		return
	}

	h.logger.Info("AddProduct", zap.String("product_id", product.ID))
	c.JSON(http.StatusCreated, gin.H{"success": true, "product": h.toProductResponse(product, h.lang(c))})
}

// UpdateProduct changes only the fields present in the payload. Existing cart
// lines keep the price they captured.
func (h *Handler) UpdateProduct(c *gin.Context) {
	var form models.ProductForm
	if err := c.ShouldBindJSON(&form); err != nil {
		badRequest(c, err)
		return
	}
	if err := validateProductForm(form, false); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	product, err := h.db.GetProductByID(ctx, c.Param("id"))
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	if !form.Name.IsZero() {
		product.Name = form.Name
	}
	if form.Price != nil {
		product.Price = form.Price.Round(2)
	}
	if form.StockQuantity != nil {
		product.StockQuantity = *form.StockQuantity
	}
	if form.IsActive != nil {
		product.IsActive = *form.IsActive
	}
	if err := h.db.UpdateProduct(ctx, product); err != nil {
		h.writeStoreError(c, err)
		return
	}

	h.logger.Info("UpdateProduct", zap.String("product_id", product.ID))
	c.JSON(http.StatusOK, gin.H{"success": true, "product": h.toProductResponse(*product, h.lang(c))})
}

// writeStoreError handles errors of direct catalog store calls.
func (h *Handler) writeStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, database.ErrProductNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"success": false, "error": "product not found", "code": "NOT_FOUND"})
	case errors.Is(err, database.ErrUnavailable):
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "service temporarily unavailable", "code": "STORE_UNAVAILABLE"})
	default:
		h.logger.Error("catalog request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal error", "code": "UNKNOWN"})
	}
}
