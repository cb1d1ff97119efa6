package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// tenantContextKey is where the middleware stores the resolved tenant.
const tenantContextKey = "current_tenant"

// tenantHeader carries the tenant identity resolved by the upstream auth
// layer. Session issuance itself is outside this service; the contract here
// is only that the header names an existing, active tenant.
const tenantHeader = "X-Tenant-ID"

// TenantMiddleware attaches the caller's tenant scope to the request. Every
// downstream query filters by this tenant; no handler ever reads the header
// directly. Unknown and inactive tenants both get the same 401 so the
// response leaks nothing about which tenants exist.
func TenantMiddleware(catalog CatalogRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(tenantHeader)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing tenant context"})
			return
		}
		tenantID, err := uuid.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid tenant context"})
			return
		}

		tenant, err := catalog.GetTenant(c.Request.Context(), tenantID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid tenant context"})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "tenant lookup failed"})
			return
		}
		if !tenant.Active {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid tenant context"})
			return
		}

		c.Set(tenantContextKey, tenant)
		c.Next()
	}
}

// currentTenant returns the tenant attached by TenantMiddleware.
func currentTenant(c *gin.Context) *Tenant {
	tenant, _ := c.MustGet(tenantContextKey).(*Tenant)
	return tenant
}
