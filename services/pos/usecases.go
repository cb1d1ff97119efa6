package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CheckoutUseCase is the transactional checkout engine. It converts a cart
// into a committed sale while guaranteeing stock correctness under concurrent
// access: every referenced product row is exclusively locked in deterministic
// order before any validation or mutation, and all effects commit atomically.
type CheckoutUseCase struct {
	catalog  CatalogRepository
	sales    SaleRepository
	notifier InsightNotifier

	notifyTimeout time.Duration

	checkoutsCounter metric.Int64Counter
	rejectedCounter  metric.Int64Counter
}

// NewCheckoutUseCase wires the engine. notifyTimeout bounds the post-commit
// insight dispatch; it never delays the checkout response.
func NewCheckoutUseCase(catalog CatalogRepository, sales SaleRepository, notifier InsightNotifier, notifyTimeout time.Duration) *CheckoutUseCase {
	meter := otel.Meter("pos-service")
	checkouts, err := meter.Int64Counter("pos_checkouts_total",
		metric.WithDescription("Committed checkouts."))
	if err != nil {
		log.Printf("⚠️ Failed to create checkout counter: %v", err)
	}
	rejected, err := meter.Int64Counter("pos_checkouts_rejected_total",
		metric.WithDescription("Checkouts rejected before commit, by reason."))
	if err != nil {
		log.Printf("⚠️ Failed to create rejection counter: %v", err)
	}
	return &CheckoutUseCase{
		catalog:          catalog,
		sales:            sales,
		notifier:         notifier,
		notifyTimeout:    notifyTimeout,
		checkoutsCounter: checkouts,
		rejectedCounter:  rejected,
	}
}

// Checkout runs the whole sale inside one transaction:
//
//  1. Validate the cart shape (no locks taken yet).
//  2. Lock every referenced product FOR UPDATE, ascending by id.
//  3. Validate ownership, active flag and stock per line.
//  4. Decrement stock, snapshot prices into line items, insert the sale.
//  5. Commit. Either everything lands or nothing does.
//  6. After commit, fire the sale-committed event without waiting on it.
//
// A lock wait that exceeds the configured timeout rolls everything back and
// surfaces ErrBusy so the caller can retry.
func (uc *CheckoutUseCase) Checkout(ctx context.Context, tenantID uuid.UUID, cart []CartItem, paymentMethod string) (*Sale, error) {
	if err := validateCart(cart, paymentMethod); err != nil {
		uc.countRejection(ctx, "invalid_cart")
		return nil, err
	}

	productIDs := make([]uuid.UUID, len(cart))
	for i, item := range cart {
		productIDs[i] = item.ProductID
	}

	tx, err := uc.catalog.BeginCheckoutTx(ctx)
	if err != nil {
		uc.countRejection(ctx, "storage")
		return nil, err
	}
	defer tx.Rollback()

	// Locks are acquired in ascending id order inside the repository; the
	// cart order plays no part in it.
	locked, err := uc.catalog.LockProductsForUpdate(ctx, tx, tenantID, productIDs)
	if err != nil {
		uc.countRejection(ctx, rejectionReason(err))
		return nil, err
	}

	byID := make(map[uuid.UUID]*Product, len(locked))
	for _, p := range locked {
		byID[p.ID] = p
	}

	items := make([]SaleItem, 0, len(cart))
	for _, line := range cart {
		product, ok := byID[line.ProductID]
		if !ok {
			uc.countRejection(ctx, "not_found")
			return nil, fmt.Errorf("product %s: %w", line.ProductID, ErrNotFound)
		}
		if !product.Active {
			uc.countRejection(ctx, "inactive")
			return nil, fmt.Errorf("product %q (SKU %s): %w", product.Name, product.SKU, ErrProductInactive)
		}
		if !line.Quantity.IsInteger() && !product.AllowsFractionalQuantity() {
			uc.countRejection(ctx, "invalid_cart")
			return nil, fmt.Errorf("%w: product %q does not allow fractional quantities", ErrInvalidCart, product.Name)
		}
		if product.Stock.LessThan(line.Quantity) {
			uc.countRejection(ctx, "insufficient_stock")
			return nil, &InsufficientStockError{
				ProductID: product.ID,
				SKU:       product.SKU,
				Name:      product.Name,
				Requested: line.Quantity,
				Available: product.Stock,
			}
		}
		items = append(items, NewSaleItem(product, line.Quantity))
	}

	// Every line validated; mutate under the locks we hold.
	for _, line := range cart {
		if err := uc.catalog.DecrementStock(ctx, tx, line.ProductID, line.Quantity); err != nil {
			uc.countRejection(ctx, rejectionReason(err))
			return nil, err
		}
	}

	sale := NewSale(tenantID, paymentMethod, items)
	if err := uc.sales.CreateSale(ctx, tx, sale); err != nil {
		uc.countRejection(ctx, rejectionReason(err))
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		uc.countRejection(ctx, rejectionReason(err))
		return nil, classifyStorageError(err)
	}

	if uc.checkoutsCounter != nil {
		uc.checkoutsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant_id", tenantID.String())))
	}
	log.Printf("✅ [CHECKOUT] Sale %s committed | Tenant=%s | Items=%d | Total=%s",
		sale.ID, tenantID, len(sale.Items), sale.Total)

	uc.dispatchSaleCommitted(sale, productIDs)

	return sale, nil
}

// dispatchSaleCommitted notifies the insight collaborator after the commit.
// It runs on its own goroutine with a detached context: a slow or failing
// collaborator must never affect the already-committed sale.
func (uc *CheckoutUseCase) dispatchSaleCommitted(sale *Sale, productIDs []uuid.UUID) {
	event := NewSaleCommittedEvent(sale.TenantID, sale.ID, productIDs)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), uc.notifyTimeout)
		defer cancel()
		if err := uc.notifier.SaleCommitted(ctx, event); err != nil {
			log.Printf("⚠️ [INSIGHT] Dispatch failed for sale %s (sale is committed regardless): %v", sale.ID, err)
		}
	}()
}

func validateCart(cart []CartItem, paymentMethod string) error {
	if len(cart) == 0 {
		return fmt.Errorf("%w: cart is empty", ErrInvalidCart)
	}
	if !ValidPaymentMethod(paymentMethod) {
		return fmt.Errorf("%w: unknown payment method %q", ErrInvalidCart, paymentMethod)
	}
	seen := make(map[uuid.UUID]struct{}, len(cart))
	for _, line := range cart {
		if line.ProductID == uuid.Nil {
			return fmt.Errorf("%w: missing product reference", ErrInvalidCart)
		}
		if !line.Quantity.IsPositive() {
			return fmt.Errorf("%w: quantity for product %s must be greater than zero", ErrInvalidCart, line.ProductID)
		}
		if _, dup := seen[line.ProductID]; dup {
			return fmt.Errorf("%w: product %s appears more than once", ErrInvalidCart, line.ProductID)
		}
		seen[line.ProductID] = struct{}{}
	}
	return nil
}

func (uc *CheckoutUseCase) countRejection(ctx context.Context, reason string) {
	if uc.rejectedCounter != nil {
		uc.rejectedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrProductInactive):
		return "inactive"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrInvalidCart):
		return "invalid_cart"
	case errors.Is(err, ErrBusy):
		return "busy"
	default:
		return "storage"
	}
}
