package main

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const tenantHeader = "X-Tenant-ID"

// InsightHandler holds the HTTP handlers of the insights service.
type InsightHandler struct {
	useCase  *InsightUseCase
	insights InsightRepository
}

func NewInsightHandler(useCase *InsightUseCase, insights InsightRepository) *InsightHandler {
	return &InsightHandler{useCase: useCase, insights: insights}
}

// SaleCommitted is the collaborator endpoint the pos service posts to when no
// broker is configured. Always acknowledges; evaluation failures are this
// service's problem, never the caller's.
func (h *InsightHandler) SaleCommitted(c *gin.Context) {
	var event SaleCommittedEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if event.TenantID == uuid.Nil || event.SaleID == uuid.Nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id and sale_id are required"})
		return
	}

	if err := h.useCase.EvaluateSaleCommitted(c.Request.Context(), event); err != nil {
		log.Printf("❌ Failed to evaluate sale %s: %v", event.SaleID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "evaluation failed"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// ListInsights returns the caller's insights, most urgent first.
func (h *InsightHandler) ListInsights(c *gin.Context) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}
	activeOnly := c.Query("include_dismissed") != "true"

	insights, err := h.insights.ListInsights(c.Request.Context(), tenantID, activeOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if insights == nil {
		insights = []*Insight{}
	}
	c.JSON(http.StatusOK, insights)
}

// DismissInsight marks an insight handled. Dismissing clears the dedup slot,
// so the next threshold crossing raises a fresh alert.
func (h *InsightHandler) DismissInsight(c *gin.Context) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}
	insightID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid insight id"})
		return
	}

	if err := h.insights.DismissInsight(c.Request.Context(), tenantID, insightID); err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "dismissed"})
}

// GenerateInsights triggers the daily summary sweep on demand.
func (h *InsightHandler) GenerateInsights(c *gin.Context) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}

	if err := h.useCase.GenerateDailySummary(c.Request.Context(), tenantID, time.Now()); err != nil {
		log.Printf("❌ Failed to generate summary for tenant %s: %v", tenantID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "generated"})
}

// HealthCheck reports service liveness.
func (h *InsightHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "insights-service",
	})
}

func requireTenant(c *gin.Context) (uuid.UUID, bool) {
	raw := c.GetHeader(tenantHeader)
	if raw == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing " + tenantHeader + " header"})
		return uuid.Nil, false
	}
	tenantID, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid " + tenantHeader + " header"})
		return uuid.Nil, false
	}
	return tenantID, true
}
