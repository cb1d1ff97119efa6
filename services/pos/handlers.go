package main

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// POSHandler holds the HTTP handlers of the pos service.
type POSHandler struct {
	checkout *CheckoutUseCase
	catalog  CatalogRepository
	sales    SaleRepository
	payments PaymentProvider
	tracer   trace.Tracer
}

// NewPOSHandler creates a POSHandler.
func NewPOSHandler(checkout *CheckoutUseCase, catalog CatalogRepository, sales SaleRepository, payments PaymentProvider, tracer trace.Tracer) *POSHandler {
	return &POSHandler{
		checkout: checkout,
		catalog:  catalog,
		sales:    sales,
		payments: payments,
		tracer:   tracer,
	}
}

// CheckoutRequest is the body of POST /api/checkout.
type CheckoutRequest struct {
	Items         []CartItem `json:"items"`
	PaymentMethod string     `json:"payment_method"`
}

// Checkout converts the cart into a committed sale.
func (h *POSHandler) Checkout(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "checkout")
	defer span.End()

	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = PaymentMethodCash
	}

	tenant := currentTenant(c)
	span.SetAttributes(
		attribute.String("tenant_id", tenant.ID.String()),
		attribute.Int("cart_size", len(req.Items)),
	)

	sale, err := h.checkout.Checkout(ctx, tenant.ID, req.Items, req.PaymentMethod)
	if err != nil {
		span.RecordError(err)
		respondCheckoutError(c, err)
		return
	}

	span.SetAttributes(attribute.String("sale_id", sale.ID.String()))
	c.JSON(http.StatusCreated, sale)
}

// ScanProduct resolves a product by SKU within the caller's tenant. Read-only
// and outside checkout's lock scope; the frontend calls it while assembling
// the cart.
func (h *POSHandler) ScanProduct(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "scan_product")
	defer span.End()

	code := c.Param("code")
	tenant := currentTenant(c)
	span.SetAttributes(attribute.String("sku", code))

	product, err := h.catalog.GetProductBySKU(ctx, tenant.ID, code)
	if err != nil {
		span.RecordError(err)
		respondCheckoutError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":         product.ID,
		"name":       product.Name,
		"sku":        product.SKU,
		"unit_price": product.UnitPrice,
		"stock":      product.Stock,
		"kind":       product.Kind,
		"in_stock":   product.HasStock(),
	})
}

// ListSales is the tenant-scoped sale list, newest first.
func (h *POSHandler) ListSales(c *gin.Context) {
	tenant := currentTenant(c)

	filter := SaleFilter{Limit: 100}
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'from' date, use YYYY-MM-DD"})
			return
		}
		filter.From = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'to' date, use YYYY-MM-DD"})
			return
		}
		filter.To = t.Add(24*time.Hour - time.Nanosecond)
	}

	sales, err := h.sales.ListSales(c.Request.Context(), tenant.ID, filter)
	if err != nil {
		respondCheckoutError(c, err)
		return
	}
	if sales == nil {
		sales = []SaleSummary{}
	}
	c.JSON(http.StatusOK, sales)
}

// GetSale returns one sale of the tenant with its immutable line items.
func (h *POSHandler) GetSale(c *gin.Context) {
	tenant := currentTenant(c)
	saleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sale id"})
		return
	}

	sale, err := h.sales.GetSale(c.Request.Context(), tenant.ID, saleID)
	if err != nil {
		respondCheckoutError(c, err)
		return
	}
	c.JSON(http.StatusOK, sale)
}

// ProductRequest is the body for product create/update.
type ProductRequest struct {
	SKU         string          `json:"sku" binding:"required"`
	Name        string          `json:"name" binding:"required"`
	Description string          `json:"description"`
	Kind        string          `json:"kind" binding:"required"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	CostPrice   decimal.Decimal `json:"cost_price"`
	Stock       decimal.Decimal `json:"stock"`
	Attributes  map[string]any  `json:"attributes"`
}

// CreateProduct adds a catalog entry for the tenant.
func (h *POSHandler) CreateProduct(c *gin.Context) {
	var req ProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tenant := currentTenant(c)
	product, err := NewProduct(tenant.ID, req.SKU, req.Name, req.Kind, req.UnitPrice, req.CostPrice, req.Stock, req.Attributes)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	product.Description = req.Description
	if product.Kind == ProductKindVariant {
		product.Stock = product.AggregateVariantStock()
	}

	if err := h.catalog.CreateProduct(c.Request.Context(), product); err != nil {
		respondCheckoutError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

// ListProducts is the non-locking catalog browse path.
func (h *POSHandler) ListProducts(c *gin.Context) {
	tenant := currentTenant(c)
	includeInactive := c.Query("include_inactive") == "true"

	products, err := h.catalog.ListProducts(c.Request.Context(), tenant.ID, includeInactive, 200, 0)
	if err != nil {
		respondCheckoutError(c, err)
		return
	}
	if products == nil {
		products = []*Product{}
	}
	c.JSON(http.StatusOK, products)
}

// GetProduct returns one product of the tenant.
func (h *POSHandler) GetProduct(c *gin.Context) {
	tenant := currentTenant(c)
	productID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
		return
	}

	product, err := h.catalog.GetProduct(c.Request.Context(), tenant.ID, productID)
	if err != nil {
		respondCheckoutError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// UpdateProduct edits a catalog entry. Live price edits never touch
// committed sales; line items keep their snapshot.
func (h *POSHandler) UpdateProduct(c *gin.Context) {
	tenant := currentTenant(c)
	productID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
		return
	}

	var req ProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	product, err := h.catalog.GetProduct(c.Request.Context(), tenant.ID, productID)
	if err != nil {
		respondCheckoutError(c, err)
		return
	}

	product.SKU = req.SKU
	product.Name = req.Name
	product.Description = req.Description
	product.Kind = req.Kind
	product.UnitPrice = req.UnitPrice
	product.CostPrice = req.CostPrice
	product.Stock = req.Stock
	if req.Attributes != nil {
		product.Attributes = req.Attributes
	}
	if err := product.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if product.Kind == ProductKindVariant {
		product.Stock = product.AggregateVariantStock()
	}

	if err := h.catalog.UpdateProduct(c.Request.Context(), product); err != nil {
		respondCheckoutError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// DeactivateProduct soft-deletes a product.
func (h *POSHandler) DeactivateProduct(c *gin.Context) {
	tenant := currentTenant(c)
	productID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
		return
	}

	if err := h.catalog.DeactivateProduct(c.Request.Context(), tenant.ID, productID); err != nil {
		respondCheckoutError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "product deactivated"})
}

// GeneratePayment creates a payment link/QR for a pending sale of the tenant.
func (h *POSHandler) GeneratePayment(c *gin.Context) {
	if h.payments == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payment provider is not configured"})
		return
	}

	tenant := currentTenant(c)
	saleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sale id"})
		return
	}

	sale, err := h.sales.GetSale(c.Request.Context(), tenant.ID, saleID)
	if err != nil {
		respondCheckoutError(c, err)
		return
	}
	if sale.PaymentStatus != PaymentStatusPending {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sale payment status is " + sale.PaymentStatus})
		return
	}

	link, err := h.payments.CreatePaymentLink(c.Request.Context(), sale)
	if err != nil {
		log.Printf("❌ Failed to create payment link for sale %s: %v", saleID, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment provider unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sale_id":       sale.ID,
		"total":         sale.Total,
		"preference_id": link.PreferenceID,
		"init_point":    link.InitPoint,
		"qr_code_url":   link.QRCodeURL,
	})
}

// webhookNotification is the provider's webhook body.
type webhookNotification struct {
	Type string `json:"type"`
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// PaymentWebhook receives the provider's payment outcome and moves the sale
// out of pending. This is the only post-commit mutation a sale ever sees;
// stock is not restored on rejection. Signature validation belongs to the
// webhook plumbing in front of this service.
func (h *POSHandler) PaymentWebhook(c *gin.Context) {
	if h.payments == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payment provider is not configured"})
		return
	}

	var notification webhookNotification
	if err := c.ShouldBindJSON(&notification); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if notification.Type != "payment" || notification.Data.ID == "" {
		// Provider pings with other event types; acknowledge and move on.
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	payment, err := h.payments.GetPayment(c.Request.Context(), notification.Data.ID)
	if err != nil {
		log.Printf("❌ Webhook: failed to fetch payment %s: %v", notification.Data.ID, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment lookup failed"})
		return
	}

	saleID, err := uuid.Parse(payment.ExternalReference)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unrecognized external reference"})
		return
	}

	var status string
	switch payment.Status {
	case providerStatusApproved:
		status = PaymentStatusPaid
	case providerStatusRejected:
		status = PaymentStatusRejected
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "payment_status": payment.Status})
		return
	}

	if err := h.sales.ApplyPaymentResult(c.Request.Context(), saleID, status, payment.ID); err != nil {
		if errors.Is(err, ErrPaymentFinal) {
			// Webhook retries are expected; the transition already happened.
			c.JSON(http.StatusOK, gin.H{"status": "already processed"})
			return
		}
		respondCheckoutError(c, err)
		return
	}

	log.Printf("💳 Sale %s payment %s → %s", saleID, payment.ID, status)
	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}

// HealthCheck reports service liveness.
func (h *POSHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "pos-service",
	})
}

// respondCheckoutError maps the error taxonomy onto HTTP. Every business
// failure keeps its specific kind so callers can tell retryable Busy from
// permanent rejections.
func respondCheckoutError(c *gin.Context, err error) {
	var stockErr *InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":      stockErr.Error(),
			"kind":       "insufficient_stock",
			"product_id": stockErr.ProductID,
			"sku":        stockErr.SKU,
			"available":  stockErr.Available,
			"requested":  stockErr.Requested,
			"shortfall":  stockErr.Shortfall(),
		})
	case errors.Is(err, ErrInvalidCart):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "invalid_cart"})
	case errors.Is(err, ErrProductInactive):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "product_inactive"})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found", "kind": "not_found"})
	case errors.Is(err, ErrBusy):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "kind": "busy", "retryable": true})
	case errors.Is(err, ErrPaymentFinal):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "kind": "payment_final"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "kind": "storage_failure"})
	}
}
