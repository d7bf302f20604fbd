package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/curator-sh/curator/pkg/config"
	"github.com/curator-sh/curator/pkg/pipeline"
	"github.com/curator-sh/curator/pkg/queue"
)

// CollectRequest is the optional body for POST /api/v1/collect.
type CollectRequest struct {
	Sources []string `json:"sources,omitempty"`
}

// collectHandler handles POST /api/v1/collect: enqueue one collection run.
// The run happens on a collector replica, not in the request.
func (s *Server) collectHandler(c *gin.Context) {
	var req CollectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
			return
		}
	}

	runID := uuid.NewString()
	env, err := pipeline.NewEnvelope("api", pipeline.OpCollect, runID, &pipeline.CollectPayload{
		RunID:   runID,
		Sources: req.Sources,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if err := queue.SendEnvelope(c.Request.Context(), s.queue, config.QueueCollectionRequests, env); err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "failed to enqueue collection: " + err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, TriggerResponse{
		Status:  "accepted",
		RunID:   runID,
		Message: "collection run enqueued",
	})
}

// publishHandler handles POST /api/v1/publish: force one site build.
func (s *Server) publishHandler(c *gin.Context) {
	batchID := uuid.NewString()
	env, err := pipeline.NewEnvelope("api", pipeline.OpPublishSite, batchID, &pipeline.BuildPayload{
		BatchID: batchID,
		Trigger: "manual",
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if err := queue.SendEnvelope(c.Request.Context(), s.queue, config.QueuePublishing, env); err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "failed to enqueue build: " + err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, TriggerResponse{
		Status:  "accepted",
		RunID:   batchID,
		Message: "site build enqueued",
	})
}

// reconcileHandler handles POST /api/v1/reconcile: run one reconciliation
// pass inline and return its result.
func (s *Server) reconcileHandler(c *gin.Context) {
	if s.reconciler == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "reconciler not enabled on this replica"})
		return
	}
	result, err := s.reconciler.Run(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "reconciliation failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}
