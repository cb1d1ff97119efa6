package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Tenant is the isolation boundary of the system. Every other record carries
// a tenant_id and every query filters by it. Tenants are deactivated, never
// hard-deleted.
type Tenant struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Business  string    `json:"business" db:"business"`
	Active    bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ProductKind discriminates how a product handles stock and quantities.
const (
	ProductKindGeneral = "general"
	ProductKindVariant = "variant"
	ProductKindWeighed = "weighed"
)

// Product is a catalog entry owned by exactly one tenant. SKU is unique per
// tenant, not globally. Stock is a decimal because weighed products sell in
// fractional units.
type Product struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	TenantID    uuid.UUID       `json:"tenant_id" db:"tenant_id"`
	SKU         string          `json:"sku" db:"sku"`
	Name        string          `json:"name" db:"name"`
	Description string          `json:"description" db:"description"`
	Kind        string          `json:"kind" db:"kind"`
	UnitPrice   decimal.Decimal `json:"unit_price" db:"unit_price"`
	CostPrice   decimal.Decimal `json:"cost_price" db:"cost_price"`
	Stock       decimal.Decimal `json:"stock" db:"stock"`
	Attributes  map[string]any  `json:"attributes" db:"attributes"`
	Active      bool            `json:"is_active" db:"is_active"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// NewProduct creates a catalog entry and validates its kind-specific
// attributes.
func NewProduct(tenantID uuid.UUID, sku, name, kind string, unitPrice, costPrice, stock decimal.Decimal, attributes map[string]any) (*Product, error) {
	if attributes == nil {
		attributes = map[string]any{}
	}
	p := &Product{
		ID:         uuid.New(),
		TenantID:   tenantID,
		SKU:        sku,
		Name:       name,
		Kind:       kind,
		UnitPrice:  unitPrice,
		CostPrice:  costPrice,
		Stock:      stock,
		Attributes: attributes,
		Active:     true,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the catalog invariants that do not need the database.
func (p *Product) Validate() error {
	if p.SKU == "" {
		return errors.New("product requires a sku")
	}
	if p.Name == "" {
		return errors.New("product requires a name")
	}
	if !p.UnitPrice.IsPositive() {
		return errors.New("unit price must be greater than zero")
	}
	if p.CostPrice.IsNegative() {
		return errors.New("cost price cannot be negative")
	}
	if p.Stock.IsNegative() {
		return errors.New("stock cannot be negative")
	}
	return p.ValidateAttributes()
}

// ValidateAttributes enforces the attribute shape each product kind expects.
func (p *Product) ValidateAttributes() error {
	switch p.Kind {
	case ProductKindGeneral:
		return nil
	case ProductKindVariant:
		raw, ok := p.Attributes["variants"]
		if !ok {
			return errors.New(`variant products require "variants" in attributes`)
		}
		variants, ok := raw.([]any)
		if !ok || len(variants) == 0 {
			return errors.New(`"variants" must be a non-empty list`)
		}
		for i, v := range variants {
			variant, ok := v.(map[string]any)
			if !ok {
				return fmt.Errorf("variant %d must be an object", i)
			}
			for _, field := range []string{"size", "color", "stock"} {
				if _, ok := variant[field]; !ok {
					return fmt.Errorf("variant %d is missing %q", i, field)
				}
			}
			stock, ok := toFloat(variant["stock"])
			if !ok || stock < 0 {
				return fmt.Errorf("variant %d stock must be a number >= 0", i)
			}
		}
		return nil
	case ProductKindWeighed:
		unit, _ := p.Attributes["unit"].(string)
		switch unit {
		case "kg", "g", "l", "ml":
			return nil
		default:
			return fmt.Errorf(`weighed products require attribute "unit" of kg, g, l or ml, got %q`, unit)
		}
	default:
		return fmt.Errorf("unknown product kind %q", p.Kind)
	}
}

// AggregateVariantStock sums the per-variant stock figures. For variant
// products the top-level Stock column is kept equal to this aggregate.
func (p *Product) AggregateVariantStock() decimal.Decimal {
	total := decimal.Zero
	variants, _ := p.Attributes["variants"].([]any)
	for _, v := range variants {
		variant, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if stock, ok := toFloat(variant["stock"]); ok {
			total = total.Add(decimal.NewFromFloat(stock))
		}
	}
	return total
}

// AllowsFractionalQuantity reports whether the product can sell in
// non-integral quantities. Only weighed products can.
func (p *Product) AllowsFractionalQuantity() bool {
	return p.Kind == ProductKindWeighed
}

// HasStock is the quick availability indicator used by the scan endpoint.
func (p *Product) HasStock() bool {
	return p.Stock.IsPositive()
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Payment status of a sale. Only the payment collaborator's webhook moves a
// sale out of pending; the checkout path always commits pending sales.
const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusRejected = "rejected"
)

// Accepted payment methods.
const (
	PaymentMethodCash       = "cash"
	PaymentMethodDebitCard  = "debit_card"
	PaymentMethodCreditCard = "credit_card"
	PaymentMethodTransfer   = "transfer"
)

// ValidPaymentMethod reports whether method is one of the accepted values.
func ValidPaymentMethod(method string) bool {
	switch method {
	case PaymentMethodCash, PaymentMethodDebitCard, PaymentMethodCreditCard, PaymentMethodTransfer:
		return true
	}
	return false
}

// Sale is an immutable transaction record once committed. The only permitted
// mutation afterwards is the payment status transition out of pending.
type Sale struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	TenantID      uuid.UUID       `json:"tenant_id" db:"tenant_id"`
	Date          time.Time       `json:"date" db:"date"`
	Total         decimal.Decimal `json:"total" db:"total"`
	PaymentMethod string          `json:"payment_method" db:"payment_method"`
	PaymentStatus string          `json:"payment_status" db:"payment_status"`
	PaymentRef    string          `json:"payment_ref,omitempty" db:"payment_ref"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	Items         []SaleItem      `json:"items"`
}

// SaleItem is one line of a sale. UnitPrice is the product's price captured
// at sale time and never changes again, no matter what happens to the
// catalog afterwards. Name and SKU are denormalized for the same reason.
type SaleItem struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	SaleID      uuid.UUID       `json:"sale_id" db:"sale_id"`
	ProductID   uuid.UUID       `json:"product_id" db:"product_id"`
	ProductName string          `json:"product_name" db:"product_name"`
	ProductSKU  string          `json:"product_sku" db:"product_sku"`
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price" db:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal" db:"subtotal"`
}

// NewSaleItem snapshots the product's current price into a sale line.
func NewSaleItem(product *Product, quantity decimal.Decimal) SaleItem {
	return SaleItem{
		ID:          uuid.New(),
		ProductID:   product.ID,
		ProductName: product.Name,
		ProductSKU:  product.SKU,
		Quantity:    quantity,
		UnitPrice:   product.UnitPrice,
		Subtotal:    product.UnitPrice.Mul(quantity),
	}
}

// NewSale builds the sale header from its items. The total is always computed
// server-side as the sum of line subtotals.
func NewSale(tenantID uuid.UUID, paymentMethod string, items []SaleItem) *Sale {
	sale := &Sale{
		ID:            uuid.New(),
		TenantID:      tenantID,
		Date:          time.Now(),
		PaymentMethod: paymentMethod,
		PaymentStatus: PaymentStatusPending,
		CreatedAt:     time.Now(),
		Items:         make([]SaleItem, len(items)),
	}
	total := decimal.Zero
	for i, item := range items {
		item.SaleID = sale.ID
		sale.Items[i] = item
		total = total.Add(item.Subtotal)
	}
	sale.Total = total
	return sale
}

// ItemCount returns the number of lines on the sale.
func (s *Sale) ItemCount() int {
	return len(s.Items)
}

// MarkPaid transitions a pending sale to paid.
func (s *Sale) MarkPaid(paymentRef string) error {
	if s.PaymentStatus != PaymentStatusPending {
		return fmt.Errorf("%w: sale is %s", ErrPaymentFinal, s.PaymentStatus)
	}
	s.PaymentStatus = PaymentStatusPaid
	s.PaymentRef = paymentRef
	return nil
}

// MarkRejected transitions a pending sale to rejected. Stock is not restored
// automatically; returning rejected stock is a manual catalog adjustment.
func (s *Sale) MarkRejected(paymentRef string) error {
	if s.PaymentStatus != PaymentStatusPending {
		return fmt.Errorf("%w: sale is %s", ErrPaymentFinal, s.PaymentStatus)
	}
	s.PaymentStatus = PaymentStatusRejected
	s.PaymentRef = paymentRef
	return nil
}

// CartItem is one entry of an incoming checkout cart.
type CartItem struct {
	ProductID uuid.UUID       `json:"product_id" binding:"required"`
	Quantity  decimal.Decimal `json:"quantity" binding:"required"`
}

// SaleSummary is the list-view projection of a sale, without its items.
type SaleSummary struct {
	ID            uuid.UUID       `json:"id"`
	Date          time.Time       `json:"date"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod string          `json:"payment_method"`
	PaymentStatus string          `json:"payment_status"`
	CreatedAt     time.Time       `json:"created_at"`
	ItemCount     int             `json:"item_count"`
}
