package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the public, cart and admin routes on r.
func (h *Handler) RegisterRoutes(r gin.IRouter, adminAuth, rateLimit gin.HandlerFunc) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/products", h.ProductsPage)
	r.GET("/products/:id", h.ProductPage)

	// Session cart
	cart := r.Group("/cart", rateLimit)
	{
		cart.GET("", h.CartPage)
		cart.POST("/add", h.AddToCart)
		cart.POST("/update", h.UpdateCartItem)
		cart.POST("/remove", h.RemoveFromCart)
		cart.POST("/clear", h.ClearSessionCart)
		cart.GET("/count", h.GetCartCount)
	}

	api := r.Group("/api", rateLimit)
	{
		api.POST("/carts", h.CreateCart)
		api.GET("/carts/:id", h.GetCart)
		api.GET("/carts/:id/summary", h.GetCartSummary)
		api.POST("/carts/:id/items", h.AddCartItem)
		api.DELETE("/carts/:id/items", h.ClearCart)
		api.DELETE("/carts/:id", h.DeleteCart)
		api.PATCH("/cart-items/:id", h.PatchCartItem)
		api.DELETE("/cart-items/:id", h.DeleteCartItem)
	}

	admin := r.Group("/admin", adminAuth)
	{
		admin.POST("/products", h.AddProduct)
		admin.PUT("/products/:id", h.UpdateProduct)
	}
}
