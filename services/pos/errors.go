package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// Checkout error taxonomy. Handlers map these to HTTP statuses; callers use
// errors.Is to tell retryable conditions (ErrBusy) from permanent
// business-rule rejections.
var (
	// ErrNotFound covers both "does not exist" and "belongs to another
	// tenant" so the response never leaks cross-tenant existence.
	ErrNotFound = errors.New("not found")

	// ErrProductInactive means the referenced product is soft-deleted.
	ErrProductInactive = errors.New("product is inactive")

	// ErrInsufficientStock is the sentinel behind InsufficientStockError.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInvalidCart covers empty carts, non-positive quantities, duplicate
	// product references and fractional quantities on non-weighed products.
	ErrInvalidCart = errors.New("invalid cart")

	// ErrBusy means a row-lock wait exceeded the checkout lock timeout. The
	// whole unit of work was rolled back and the caller may retry.
	ErrBusy = errors.New("busy, retry checkout")

	// ErrStorageFailure means the underlying store failed. Not retried
	// automatically by the core.
	ErrStorageFailure = errors.New("storage failure")

	// ErrPaymentFinal means a paid or rejected sale cannot change status.
	ErrPaymentFinal = errors.New("payment status is final")
)

// InsufficientStockError names the offending product and the shortfall so
// the cashier knows exactly which line to fix.
type InsufficientStockError struct {
	ProductID uuid.UUID
	SKU       string
	Name      string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q (SKU %s): available %s, requested %s, short %s",
		e.Name, e.SKU, e.Available, e.Requested, e.Shortfall())
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// Shortfall is how many units the request exceeds the available stock by.
func (e *InsufficientStockError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

// Postgres SQLSTATE for a lock_timeout expiry.
const pgLockNotAvailable = "55P03"

// classifyStorageError folds driver-level failures into the taxonomy. It
// leaves already-classified errors untouched so use-case errors survive the
// trip through the repository layer.
func classifyStorageError(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{ErrNotFound, ErrProductInactive, ErrInsufficientStock, ErrInvalidCart, ErrBusy, ErrStorageFailure, ErrPaymentFinal} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
		return fmt.Errorf("%w: %v", ErrBusy, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrBusy, err)
	}
	return fmt.Errorf("%w: %v", ErrStorageFailure, err)
}
