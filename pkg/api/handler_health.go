package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/curator-sh/curator/pkg/database"
	"github.com/curator-sh/curator/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health. Unauthenticated, minimal, and limited
// to curator's own components: database and worker pools.
func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:  healthStatusHealthy,
		Version: version.Full(),
		Checks:  make(map[string]HealthCheck),
	}

	if s.dbClient != nil {
		dbHealth, err := database.Health(reqCtx, s.dbClient.DB())
		resp.Database = dbHealth
		if err != nil {
			resp.Status = healthStatusUnhealthy
			resp.Checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		} else {
			resp.Checks["database"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	for _, pool := range s.pools {
		health := pool.Health()
		check := HealthCheck{Status: healthStatusHealthy}
		if !health.IsHealthy {
			check = HealthCheck{Status: healthStatusDegraded, Message: health.QueueDepthError}
			if resp.Status == healthStatusHealthy {
				resp.Status = healthStatusDegraded
			}
		}
		resp.Checks["worker_pool_"+health.Stage] = check
	}

	code := http.StatusOK
	if resp.Status == healthStatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}
