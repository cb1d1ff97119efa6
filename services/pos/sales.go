package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SaleFilter narrows ListSales. Zero times mean unbounded.
type SaleFilter struct {
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// SaleRepository persists sales and their line items. It is write-once:
// CreateSale runs inside the checkout transaction, everything else is the
// tenant-scoped read model, and the only mutation ever allowed afterwards is
// the payment status transition.
type SaleRepository interface {
	CreateSale(ctx context.Context, tx Tx, sale *Sale) error
	GetSale(ctx context.Context, tenantID, saleID uuid.UUID) (*Sale, error)
	ListSales(ctx context.Context, tenantID uuid.UUID, filter SaleFilter) ([]SaleSummary, error)

	// UpdatePaymentStatus moves a pending sale of the tenant to paid or
	// rejected. ErrPaymentFinal when the sale already left pending.
	UpdatePaymentStatus(ctx context.Context, tenantID, saleID uuid.UUID, status, paymentRef string) error

	// ApplyPaymentResult is UpdatePaymentStatus for the provider webhook,
	// which authenticates as the provider rather than as a tenant. The sale
	// id comes from the provider's external reference.
	ApplyPaymentResult(ctx context.Context, saleID uuid.UUID, status, paymentRef string) error
}

// PostgresSaleRepository implements SaleRepository on pgx.
type PostgresSaleRepository struct {
	db *pgxpool.Pool
}

// NewSaleRepository creates a PostgresSaleRepository.
func NewSaleRepository(db *pgxpool.Pool) *PostgresSaleRepository {
	return &PostgresSaleRepository{db: db}
}

// CreateSale inserts the header and every line item inside the caller's
// transaction, so the sale becomes visible together with the stock
// decrements or not at all.
func (r *PostgresSaleRepository) CreateSale(ctx context.Context, tx Tx, sale *Sale) error {
	pgTx := tx.(*PostgresTx).tx

	_, err := pgTx.Exec(ctx, `
		INSERT INTO sales (id, tenant_id, date, total, payment_method, payment_status, payment_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, sale.ID, sale.TenantID, sale.Date, sale.Total, sale.PaymentMethod, sale.PaymentStatus, sale.PaymentRef, sale.CreatedAt)
	if err != nil {
		return classifyStorageError(fmt.Errorf("inserting sale %s: %w", sale.ID, err))
	}

	for _, item := range sale.Items {
		_, err := pgTx.Exec(ctx, `
			INSERT INTO sale_items (id, sale_id, product_id, product_name, product_sku, quantity, unit_price, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, item.ID, item.SaleID, item.ProductID, item.ProductName, item.ProductSKU, item.Quantity, item.UnitPrice, item.Subtotal)
		if err != nil {
			return classifyStorageError(fmt.Errorf("inserting sale item %s: %w", item.ID, err))
		}
	}
	return nil
}

func (r *PostgresSaleRepository) GetSale(ctx context.Context, tenantID, saleID uuid.UUID) (*Sale, error) {
	var sale Sale
	err := r.db.QueryRow(ctx, `
		SELECT id, tenant_id, date, total, payment_method, payment_status, payment_ref, created_at
		FROM sales
		WHERE id = $1 AND tenant_id = $2
	`, saleID, tenantID).Scan(
		&sale.ID, &sale.TenantID, &sale.Date, &sale.Total,
		&sale.PaymentMethod, &sale.PaymentStatus, &sale.PaymentRef, &sale.CreatedAt,
	)
	if err != nil {
		return nil, classifyStorageError(err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, sale_id, product_id, product_name, product_sku, quantity, unit_price, subtotal
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY id
	`, saleID)
	if err != nil {
		return nil, classifyStorageError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var item SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.ProductName, &item.ProductSKU,
			&item.Quantity, &item.UnitPrice, &item.Subtotal); err != nil {
			return nil, classifyStorageError(err)
		}
		sale.Items = append(sale.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyStorageError(err)
	}
	return &sale, nil
}

func (r *PostgresSaleRepository) ListSales(ctx context.Context, tenantID uuid.UUID, filter SaleFilter) ([]SaleSummary, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	query := `
		SELECT s.id, s.date, s.total, s.payment_method, s.payment_status, s.created_at,
		       COUNT(i.id) AS item_count
		FROM sales s
		LEFT JOIN sale_items i ON i.sale_id = s.id
		WHERE s.tenant_id = $1
		  AND ($2::timestamptz IS NULL OR s.date >= $2)
		  AND ($3::timestamptz IS NULL OR s.date <= $3)
		GROUP BY s.id
		ORDER BY s.date DESC
		LIMIT $4 OFFSET $5
	`
	var from, to any
	if !filter.From.IsZero() {
		from = filter.From
	}
	if !filter.To.IsZero() {
		to = filter.To
	}

	rows, err := r.db.Query(ctx, query, tenantID, from, to, filter.Limit, filter.Offset)
	if err != nil {
		return nil, classifyStorageError(err)
	}
	defer rows.Close()

	var sales []SaleSummary
	for rows.Next() {
		var s SaleSummary
		if err := rows.Scan(&s.ID, &s.Date, &s.Total, &s.PaymentMethod, &s.PaymentStatus, &s.CreatedAt, &s.ItemCount); err != nil {
			return nil, classifyStorageError(err)
		}
		sales = append(sales, s)
	}
	return sales, classifyStorageError(rows.Err())
}

func (r *PostgresSaleRepository) UpdatePaymentStatus(ctx context.Context, tenantID, saleID uuid.UUID, status, paymentRef string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE sales
		SET payment_status = $1, payment_ref = $2
		WHERE id = $3 AND tenant_id = $4 AND payment_status = $5
	`, status, paymentRef, saleID, tenantID, PaymentStatusPending)
	if err != nil {
		return classifyStorageError(err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainMissedUpdate(ctx, saleID)
	}
	return nil
}

func (r *PostgresSaleRepository) ApplyPaymentResult(ctx context.Context, saleID uuid.UUID, status, paymentRef string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE sales
		SET payment_status = $1, payment_ref = $2
		WHERE id = $3 AND payment_status = $4
	`, status, paymentRef, saleID, PaymentStatusPending)
	if err != nil {
		return classifyStorageError(err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainMissedUpdate(ctx, saleID)
	}
	return nil
}

// explainMissedUpdate tells a missing sale apart from one whose status
// already left pending.
func (r *PostgresSaleRepository) explainMissedUpdate(ctx context.Context, saleID uuid.UUID) error {
	var current string
	err := r.db.QueryRow(ctx, `SELECT payment_status FROM sales WHERE id = $1`, saleID).Scan(&current)
	if err != nil {
		return classifyStorageError(err)
	}
	return fmt.Errorf("%w: sale %s is %s", ErrPaymentFinal, saleID, current)
}
