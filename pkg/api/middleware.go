package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/remedy/pkg/errs"
)

// HeaderTenantID carries the tenant on every scoped request.
const HeaderTenantID = "X-Tenant-ID"

const ctxTenantKey = "tenant_id"

// requestLogger logs one line per request with status and duration.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// securityHeaders sets standard security response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// tenantRequired rejects scoped requests without an X-Tenant-ID header.
func tenantRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := c.GetHeader(HeaderTenantID)
		if tenant == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{
				Code:    "validation_error",
				Message: "missing " + HeaderTenantID + " header",
			})
			return
		}
		c.Set(ctxTenantKey, tenant)
		c.Next()
	}
}

// tenantID returns the tenant set by tenantRequired.
func tenantID(c *gin.Context) string {
	return c.GetString(ctxTenantKey)
}

// actorFrom builds the human actor for approval and admin endpoints.
// X-Actor-ID is optional; anonymous operators are still USER actors.
func actorID(c *gin.Context) string {
	if id := c.GetHeader("X-Actor-ID"); id != "" {
		return id
	}
	return "anonymous"
}

// pathID parses a numeric :id path parameter.
func pathID(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id < 1 {
		return 0, errs.NewValidationError(name, "must be a positive integer")
	}
	return id, nil
}
