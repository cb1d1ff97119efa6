package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Tx is the unit of work the checkout engine runs inside. Every row locked
// through it stays locked until Commit or Rollback.
type Tx interface {
	Commit() error
	Rollback() error
}

// CatalogRepository owns product records. LockProductsForUpdate and
// DecrementStock are the checkout path; the rest is the ordinary non-locking
// browse and catalog-management path, which never participates in checkout's
// lock scope.
type CatalogRepository interface {
	// BeginCheckoutTx opens the atomic unit of work with the checkout lock
	// timeout applied.
	BeginCheckoutTx(ctx context.Context) (Tx, error)

	// LockProductsForUpdate resolves and exclusively locks the given products
	// of the tenant, always in ascending id order regardless of the order
	// productIDs is supplied in. A product that does not exist or belongs to
	// another tenant yields ErrNotFound.
	LockProductsForUpdate(ctx context.Context, tx Tx, tenantID uuid.UUID, productIDs []uuid.UUID) ([]*Product, error)

	// DecrementStock subtracts quantity from a product previously locked in
	// the same transaction.
	DecrementStock(ctx context.Context, tx Tx, productID uuid.UUID, quantity decimal.Decimal) error

	GetTenant(ctx context.Context, tenantID uuid.UUID) (*Tenant, error)
	GetProduct(ctx context.Context, tenantID, productID uuid.UUID) (*Product, error)
	GetProductBySKU(ctx context.Context, tenantID uuid.UUID, sku string) (*Product, error)
	ListProducts(ctx context.Context, tenantID uuid.UUID, includeInactive bool, limit, offset int) ([]*Product, error)
	CreateProduct(ctx context.Context, product *Product) error
	UpdateProduct(ctx context.Context, product *Product) error
	DeactivateProduct(ctx context.Context, tenantID, productID uuid.UUID) error
}

// PostgresCatalogRepository implements CatalogRepository on pgx.
type PostgresCatalogRepository struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewCatalogRepository creates a PostgresCatalogRepository. lockTimeout bounds
// how long a checkout waits on a contended row before failing with ErrBusy.
func NewCatalogRepository(db *pgxpool.Pool, lockTimeout time.Duration) *PostgresCatalogRepository {
	return &PostgresCatalogRepository{db: db, lockTimeout: lockTimeout}
}

// PostgresTx wraps pgx.Tx behind the Tx interface.
type PostgresTx struct {
	tx pgx.Tx
}

func (t *PostgresTx) Commit() error {
	return t.tx.Commit(context.Background())
}

func (t *PostgresTx) Rollback() error {
	err := t.tx.Rollback(context.Background())
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

const productColumns = `id, tenant_id, sku, name, description, kind, unit_price, cost_price, stock, attributes, is_active, created_at, updated_at`

func scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	err := row.Scan(
		&p.ID, &p.TenantID, &p.SKU, &p.Name, &p.Description, &p.Kind,
		&p.UnitPrice, &p.CostPrice, &p.Stock, &p.Attributes,
		&p.Active, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// BeginCheckoutTx opens the transaction and applies lock_timeout so a lock
// wait on a contended product aborts with SQLSTATE 55P03 instead of queueing
// forever.
func (r *PostgresCatalogRepository) BeginCheckoutTx(ctx context.Context) (Tx, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, classifyStorageError(err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())); err != nil {
		_ = tx.Rollback(ctx)
		return nil, classifyStorageError(err)
	}
	return &PostgresTx{tx: tx}, nil
}

// sortProductIDs orders ids by their byte value, ascending. Every concurrent
// checkout acquires its locks in this same order, which is what makes
// overlapping carts deadlock-free.
func sortProductIDs(productIDs []uuid.UUID) []uuid.UUID {
	sorted := make([]uuid.UUID, len(productIDs))
	copy(sorted, productIDs)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})
	return sorted
}

// LockProductsForUpdate locks one row at a time in ascending id order. The
// tenant filter lives in the same WHERE clause as the id, so a foreign
// product is indistinguishable from a missing one.
func (r *PostgresCatalogRepository) LockProductsForUpdate(ctx context.Context, tx Tx, tenantID uuid.UUID, productIDs []uuid.UUID) ([]*Product, error) {
	pgTx := tx.(*PostgresTx).tx

	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE id = $1 AND tenant_id = $2
		FOR UPDATE
	`

	products := make([]*Product, 0, len(productIDs))
	for _, id := range sortProductIDs(productIDs) {
		product, err := scanProduct(pgTx.QueryRow(ctx, query, id, tenantID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("locking product %s: %w", id, ErrNotFound)
			}
			return nil, classifyStorageError(fmt.Errorf("locking product %s: %w", id, err))
		}
		products = append(products, product)
	}
	return products, nil
}

// DecrementStock runs inside the checkout transaction, after the row has been
// locked and validated. The stock CHECK constraint backs up the validation.
func (r *PostgresCatalogRepository) DecrementStock(ctx context.Context, tx Tx, productID uuid.UUID, quantity decimal.Decimal) error {
	pgTx := tx.(*PostgresTx).tx

	tag, err := pgTx.Exec(ctx, `
		UPDATE products
		SET stock = stock - $1, updated_at = NOW()
		WHERE id = $2
	`, quantity, productID)
	if err != nil {
		return classifyStorageError(fmt.Errorf("decrementing stock of %s: %w", productID, err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("decrementing stock of %s: %w", productID, ErrNotFound)
	}
	return nil
}

func (r *PostgresCatalogRepository) GetTenant(ctx context.Context, tenantID uuid.UUID) (*Tenant, error) {
	var t Tenant
	err := r.db.QueryRow(ctx, `
		SELECT id, name, business, is_active, created_at
		FROM tenants WHERE id = $1
	`, tenantID).Scan(&t.ID, &t.Name, &t.Business, &t.Active, &t.CreatedAt)
	if err != nil {
		return nil, classifyStorageError(err)
	}
	return &t, nil
}

func (r *PostgresCatalogRepository) GetProduct(ctx context.Context, tenantID, productID uuid.UUID) (*Product, error) {
	product, err := scanProduct(r.db.QueryRow(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1 AND tenant_id = $2
	`, productID, tenantID))
	if err != nil {
		return nil, classifyStorageError(err)
	}
	return product, nil
}

// GetProductBySKU backs the scan endpoint: barcode readers resolve products
// by SKU within the caller's tenant. Inactive products do not scan.
func (r *PostgresCatalogRepository) GetProductBySKU(ctx context.Context, tenantID uuid.UUID, sku string) (*Product, error) {
	product, err := scanProduct(r.db.QueryRow(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE sku = $1 AND tenant_id = $2 AND is_active = TRUE
	`, sku, tenantID))
	if err != nil {
		return nil, classifyStorageError(err)
	}
	return product, nil
}

func (r *PostgresCatalogRepository) ListProducts(ctx context.Context, tenantID uuid.UUID, includeInactive bool, limit, offset int) ([]*Product, error) {
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE tenant_id = $1 AND (is_active OR $2)
		ORDER BY name
		LIMIT $3 OFFSET $4
	`
	rows, err := r.db.Query(ctx, query, tenantID, includeInactive, limit, offset)
	if err != nil {
		return nil, classifyStorageError(err)
	}
	defer rows.Close()

	var products []*Product
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, classifyStorageError(err)
		}
		products = append(products, product)
	}
	return products, classifyStorageError(rows.Err())
}

func (r *PostgresCatalogRepository) CreateProduct(ctx context.Context, product *Product) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO products (id, tenant_id, sku, name, description, kind, unit_price, cost_price, stock, attributes, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, product.ID, product.TenantID, product.SKU, product.Name, product.Description, product.Kind,
		product.UnitPrice, product.CostPrice, product.Stock, product.Attributes,
		product.Active, product.CreatedAt, product.UpdatedAt)
	return classifyStorageError(err)
}

// UpdateProduct is the ordinary catalog edit path. It uses plain row
// versioning through updated_at, not checkout's lock scope, and it never
// touches stock reserved by an in-flight checkout thanks to row-level
// locking on the database side.
func (r *PostgresCatalogRepository) UpdateProduct(ctx context.Context, product *Product) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE products
		SET sku = $1, name = $2, description = $3, kind = $4, unit_price = $5,
		    cost_price = $6, stock = $7, attributes = $8, is_active = $9, updated_at = NOW()
		WHERE id = $10 AND tenant_id = $11
	`, product.SKU, product.Name, product.Description, product.Kind, product.UnitPrice,
		product.CostPrice, product.Stock, product.Attributes, product.Active,
		product.ID, product.TenantID)
	if err != nil {
		return classifyStorageError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateProduct soft-deletes. Products referenced by sales are never
// physically removed.
func (r *PostgresCatalogRepository) DeactivateProduct(ctx context.Context, tenantID, productID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE products
		SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2
	`, productID, tenantID)
	if err != nil {
		return classifyStorageError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
