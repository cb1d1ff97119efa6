package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("not found")

// InsightRepository persists insights and answers the dedup question.
type InsightRepository interface {
	HasActiveInsight(ctx context.Context, tenantID uuid.UUID, productID *uuid.UUID, kind string) (bool, error)
	HasRecentInsight(ctx context.Context, tenantID uuid.UUID, kind string, since time.Time) (bool, error)
	CreateInsight(ctx context.Context, insight *Insight) error
	ListInsights(ctx context.Context, tenantID uuid.UUID, activeOnly bool) ([]*Insight, error)
	DismissInsight(ctx context.Context, tenantID, insightID uuid.UUID) error
}

// CatalogReader reads product stock from the pos schema. Read-only; all stock
// mutation stays inside the checkout transaction on the pos side.
type CatalogReader interface {
	GetProductStocks(ctx context.Context, tenantID uuid.UUID, productIDs []uuid.UUID) ([]ProductStock, error)
	GetDailyStats(ctx context.Context, tenantID uuid.UUID, from, to time.Time) (DailyStats, error)
	ListTenantIDs(ctx context.Context) ([]uuid.UUID, error)
}

// PostgresInsightRepository is the pgxpool-backed InsightRepository.
type PostgresInsightRepository struct {
	db *pgxpool.Pool
}

func NewInsightRepository(db *pgxpool.Pool) *PostgresInsightRepository {
	return &PostgresInsightRepository{db: db}
}

func (r *PostgresInsightRepository) HasActiveInsight(ctx context.Context, tenantID uuid.UUID, productID *uuid.UUID, kind string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM insights
			WHERE tenant_id = $1 AND product_id IS NOT DISTINCT FROM $2 AND kind = $3 AND active
		)`,
		tenantID, productID, kind,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking active insight: %w", err)
	}
	return exists, nil
}

func (r *PostgresInsightRepository) HasRecentInsight(ctx context.Context, tenantID uuid.UUID, kind string, since time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM insights
			WHERE tenant_id = $1 AND kind = $2 AND active AND created_at >= $3
		)`,
		tenantID, kind, since,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking recent insight: %w", err)
	}
	return exists, nil
}

func (r *PostgresInsightRepository) CreateInsight(ctx context.Context, insight *Insight) error {
	data, err := json.Marshal(insight.Data)
	if err != nil {
		return fmt.Errorf("encoding insight data: %w", err)
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO insights (id, tenant_id, kind, message, urgency, active, product_id, data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT DO NOTHING`,
		insight.ID, insight.TenantID, insight.Kind, insight.Message, insight.Urgency,
		insight.Active, insight.ProductID, data, insight.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting insight: %w", err)
	}
	return nil
}

func (r *PostgresInsightRepository) ListInsights(ctx context.Context, tenantID uuid.UUID, activeOnly bool) ([]*Insight, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, tenant_id, kind, message, urgency, active, product_id, data, created_at
		 FROM insights
		 WHERE tenant_id = $1 AND (active OR NOT $2)
		 ORDER BY
			CASE urgency
				WHEN 'critical' THEN 0
				WHEN 'high' THEN 1
				WHEN 'medium' THEN 2
				ELSE 3
			END,
			created_at DESC
		 LIMIT 200`,
		tenantID, activeOnly,
	)
	if err != nil {
		return nil, fmt.Errorf("listing insights: %w", err)
	}
	defer rows.Close()

	var insights []*Insight
	for rows.Next() {
		var insight Insight
		var data []byte
		err := rows.Scan(&insight.ID, &insight.TenantID, &insight.Kind, &insight.Message,
			&insight.Urgency, &insight.Active, &insight.ProductID, &data, &insight.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning insight: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &insight.Data); err != nil {
				return nil, fmt.Errorf("decoding insight data: %w", err)
			}
		}
		insights = append(insights, &insight)
	}
	return insights, rows.Err()
}

func (r *PostgresInsightRepository) DismissInsight(ctx context.Context, tenantID, insightID uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE insights SET active = false WHERE id = $1 AND tenant_id = $2`,
		insightID, tenantID,
	)
	if err != nil {
		return fmt.Errorf("dismissing insight: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PostgresCatalogReader reads the pos schema directly. Both services share
// one database; this keeps the collaborator free of a second HTTP hop.
type PostgresCatalogReader struct {
	db *pgxpool.Pool
}

func NewCatalogReader(db *pgxpool.Pool) *PostgresCatalogReader {
	return &PostgresCatalogReader{db: db}
}

func (r *PostgresCatalogReader) GetProductStocks(ctx context.Context, tenantID uuid.UUID, productIDs []uuid.UUID) ([]ProductStock, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, name, stock FROM products WHERE tenant_id = $1 AND id = ANY($2)`,
		tenantID, productIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("reading product stocks: %w", err)
	}
	defer rows.Close()

	var stocks []ProductStock
	for rows.Next() {
		var p ProductStock
		if err := rows.Scan(&p.ID, &p.Name, &p.Stock); err != nil {
			return nil, fmt.Errorf("scanning product stock: %w", err)
		}
		stocks = append(stocks, p)
	}
	return stocks, rows.Err()
}

func (r *PostgresCatalogReader) GetDailyStats(ctx context.Context, tenantID uuid.UUID, from, to time.Time) (DailyStats, error) {
	var stats DailyStats
	var revenue decimal.Decimal
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(total), 0)
		 FROM sales
		 WHERE tenant_id = $1 AND payment_status = 'paid' AND created_at >= $2 AND created_at <= $3`,
		tenantID, from, to,
	).Scan(&stats.SaleCount, &revenue)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return DailyStats{}, fmt.Errorf("aggregating daily stats: %w", err)
	}
	stats.Revenue = revenue
	if stats.SaleCount > 0 {
		stats.AverageSale = revenue.Div(decimal.NewFromInt(int64(stats.SaleCount))).Round(2)
	} else {
		stats.AverageSale = decimal.Zero
	}
	return stats, nil
}

func (r *PostgresCatalogReader) ListTenantIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM tenants WHERE is_active`)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning tenant id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
