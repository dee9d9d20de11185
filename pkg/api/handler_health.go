package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const healthTimeout = 5 * time.Second

// Health reports liveness of the broker and the database. Memory-store
// deployments have no database section.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	healthy := true
	body := gin.H{}

	broker := s.broker.Health(ctx)
	body["broker"] = broker
	if !broker.Healthy {
		healthy = false
	}

	if s.db != nil {
		dbHealth, err := s.db.Health(ctx)
		body["database"] = dbHealth
		if err != nil {
			healthy = false
		}
	}

	if !healthy {
		body["status"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	body["status"] = "healthy"
	c.JSON(http.StatusOK, body)
}
