package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Insight kinds.
const (
	InsightKindStockLow      = "stock-low"
	InsightKindStockCritical = "stock-critical"
	InsightKindDailySummary  = "daily-summary"
)

// Insight urgencies, in ascending severity. The list endpoint orders by this.
const (
	UrgencyLow      = "low"
	UrgencyMedium   = "medium"
	UrgencyHigh     = "high"
	UrgencyCritical = "critical"
)

// Insight is one actionable alert or report for a tenant. Stock alerts carry
// the product they concern; summaries leave ProductID nil.
type Insight struct {
	ID        uuid.UUID      `json:"id"`
	TenantID  uuid.UUID      `json:"tenant_id"`
	Kind      string         `json:"kind"`
	Message   string         `json:"message"`
	Urgency   string         `json:"urgency"`
	Active    bool           `json:"active"`
	ProductID *uuid.UUID     `json:"product_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewStockInsight builds a stock alert for one product. Kind and urgency come
// from where the stock sits relative to the thresholds.
func NewStockInsight(tenantID, productID uuid.UUID, productName string, stock decimal.Decimal, critical bool) *Insight {
	kind := InsightKindStockLow
	urgency := UrgencyHigh
	message := fmt.Sprintf("Low stock: %s has %s units left", productName, stock)
	if critical {
		kind = InsightKindStockCritical
		urgency = UrgencyCritical
		message = fmt.Sprintf("Critical stock: %s has %s units left, restock now", productName, stock)
		if stock.IsZero() {
			message = fmt.Sprintf("Out of stock: %s", productName)
		}
	}
	pid := productID
	return &Insight{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Kind:      kind,
		Message:   message,
		Urgency:   urgency,
		Active:    true,
		ProductID: &pid,
		Data: map[string]any{
			"product_name": productName,
			"stock":        stock.String(),
		},
		CreatedAt: time.Now().UTC(),
	}
}

// DailyStats aggregates a tenant's paid sales over a window.
type DailyStats struct {
	SaleCount   int             `json:"sale_count"`
	Revenue     decimal.Decimal `json:"revenue"`
	AverageSale decimal.Decimal `json:"average_sale"`
}

// NewDailySummaryInsight builds the end-of-day report.
func NewDailySummaryInsight(tenantID uuid.UUID, day time.Time, stats DailyStats) *Insight {
	return &Insight{
		ID:       uuid.New(),
		TenantID: tenantID,
		Kind:     InsightKindDailySummary,
		Message: fmt.Sprintf("%s: %d sales, %s revenue",
			day.Format("2006-01-02"), stats.SaleCount, stats.Revenue),
		Urgency: UrgencyLow,
		Active:  true,
		Data: map[string]any{
			"day":          day.Format("2006-01-02"),
			"sale_count":   stats.SaleCount,
			"revenue":      stats.Revenue.String(),
			"average_sale": stats.AverageSale.String(),
		},
		CreatedAt: time.Now().UTC(),
	}
}

// SaleCommittedEvent is the wire shape the pos service emits after each
// committed checkout.
type SaleCommittedEvent struct {
	EventID    uuid.UUID   `json:"event_id"`
	EventKind  string      `json:"event_kind"`
	TenantID   uuid.UUID   `json:"tenant_id"`
	SaleID     uuid.UUID   `json:"sale_id"`
	ProductIDs []uuid.UUID `json:"product_ids"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// ProductStock is the slice of the catalog this service reads: enough to
// judge stock levels, nothing more.
type ProductStock struct {
	ID    uuid.UUID
	Name  string
	Stock decimal.Decimal
}
