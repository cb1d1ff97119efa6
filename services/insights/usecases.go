package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// InsightUseCase evaluates events and windows into insights. The pos core
// never waits on any of this; delivery is fire-and-forget on its side.
type InsightUseCase struct {
	insights InsightRepository
	catalog  CatalogReader

	lowThreshold      decimal.Decimal
	criticalThreshold decimal.Decimal

	alertsCounter metric.Int64Counter
}

func NewInsightUseCase(insights InsightRepository, catalog CatalogReader, lowThreshold, criticalThreshold int) *InsightUseCase {
	meter := otel.Meter("insights-service")
	alerts, err := meter.Int64Counter("insights_alerts_total",
		metric.WithDescription("Stock alerts raised."))
	if err != nil {
		log.Printf("⚠️ Failed to create alerts counter: %v", err)
	}
	return &InsightUseCase{
		insights:          insights,
		catalog:           catalog,
		lowThreshold:      decimal.NewFromInt(int64(lowThreshold)),
		criticalThreshold: decimal.NewFromInt(int64(criticalThreshold)),
		alertsCounter:     alerts,
	}
}

// EvaluateSaleCommitted checks every product touched by a committed sale
// against the stock thresholds and raises at most one active alert per
// (product, kind). A critical alert supersedes an earlier low one.
func (u *InsightUseCase) EvaluateSaleCommitted(ctx context.Context, event SaleCommittedEvent) error {
	if len(event.ProductIDs) == 0 {
		return nil
	}

	stocks, err := u.catalog.GetProductStocks(ctx, event.TenantID, event.ProductIDs)
	if err != nil {
		return fmt.Errorf("evaluating sale %s: %w", event.SaleID, err)
	}

	for _, p := range stocks {
		critical := p.Stock.LessThanOrEqual(u.criticalThreshold)
		if !critical && p.Stock.GreaterThan(u.lowThreshold) {
			continue
		}

		insight := NewStockInsight(event.TenantID, p.ID, p.Name, p.Stock, critical)
		exists, err := u.insights.HasActiveInsight(ctx, event.TenantID, insight.ProductID, insight.Kind)
		if err != nil {
			return fmt.Errorf("deduplicating alert for product %s: %w", p.ID, err)
		}
		if exists {
			continue
		}

		if err := u.insights.CreateInsight(ctx, insight); err != nil {
			return fmt.Errorf("raising alert for product %s: %w", p.ID, err)
		}
		if u.alertsCounter != nil {
			u.alertsCounter.Add(ctx, 1)
		}
		log.Printf("⚠️ Tenant %s: %s", event.TenantID, insight.Message)
	}
	return nil
}

// GenerateDailySummary builds the summary for the day ending at `day`.
// Skipped when an active summary already exists within the window, so a
// manual trigger after the scheduled one is a no-op.
func (u *InsightUseCase) GenerateDailySummary(ctx context.Context, tenantID uuid.UUID, day time.Time) error {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	to := from.Add(24*time.Hour - time.Nanosecond)

	recent, err := u.insights.HasRecentInsight(ctx, tenantID, InsightKindDailySummary, from)
	if err != nil {
		return fmt.Errorf("checking for existing summary: %w", err)
	}
	if recent {
		return nil
	}

	stats, err := u.catalog.GetDailyStats(ctx, tenantID, from, to)
	if err != nil {
		return fmt.Errorf("building summary for tenant %s: %w", tenantID, err)
	}
	if stats.SaleCount == 0 {
		return nil
	}

	insight := NewDailySummaryInsight(tenantID, from, stats)
	if err := u.insights.CreateInsight(ctx, insight); err != nil {
		return fmt.Errorf("storing summary for tenant %s: %w", tenantID, err)
	}
	log.Printf("📣 Tenant %s: %s", tenantID, insight.Message)
	return nil
}

// GenerateAll runs the daily summary for every active tenant. One tenant's
// failure does not stop the sweep.
func (u *InsightUseCase) GenerateAll(ctx context.Context, day time.Time) error {
	tenantIDs, err := u.catalog.ListTenantIDs(ctx)
	if err != nil {
		return fmt.Errorf("listing tenants for summary sweep: %w", err)
	}

	var failures int
	for _, tenantID := range tenantIDs {
		if err := u.GenerateDailySummary(ctx, tenantID, day); err != nil {
			log.Printf("❌ Summary for tenant %s failed: %v", tenantID, err)
			failures++
		}
	}
	if failures > 0 {
		return fmt.Errorf("summary sweep: %d of %d tenants failed", failures, len(tenantIDs))
	}
	return nil
}
