package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/curator-sh/curator/pkg/config"
	"github.com/curator-sh/curator/pkg/version"
)

// statusHandler handles GET /api/v1/status: queue depths, worker pool
// health, and rate limiter state, keyed for operators chasing a
// correlation id.
func (s *Server) statusHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	cfgStats := s.cfg.Stats()
	resp := StatusResponse{
		Version: version.Full(),
		Configuration: ConfigurationStats{
			Sources:      cfgStats.Sources,
			ImageSources: cfgStats.ImageSources,
		},
		Queues: make(map[string]int),
	}

	for _, name := range []string{
		config.QueueCollectionRequests,
		config.QueueProcessing,
		config.QueueMarkdown,
		config.QueuePublishing,
	} {
		depth, err := s.queue.Depth(reqCtx, name)
		if err != nil {
			if resp.QueueErrors == nil {
				resp.QueueErrors = make(map[string]string)
			}
			resp.QueueErrors[name] = err.Error()
			continue
		}
		resp.Queues[name] = depth
	}

	for _, pool := range s.pools {
		resp.WorkerPools = append(resp.WorkerPools, pool.Health())
	}
	for _, l := range s.limiters {
		resp.RateLimiters = append(resp.RateLimiters, l.Stats())
	}

	c.JSON(http.StatusOK, resp)
}
