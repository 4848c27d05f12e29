package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"apflow/internal/holds"
	"apflow/internal/pipeline"
	"apflow/internal/queue"
)

func (s *Server) handleHealth(c *gin.Context) {
	health, err := s.manager.GetHealth(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, health)
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.manager.GetStats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

type processDocumentRequest struct {
	AttachmentID string `json:"attachmentId"`
	PDFPath      string `json:"pdfPath" binding:"required"`
	SupplierHint string `json:"supplierHint"`
}

func (s *Server) handleProcessDocument(c *gin.Context) {
	var req processDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	correlationID, err := s.manager.ProcessDocument(c.Request.Context(), pipeline.SplitPayload{
		AttachmentID: req.AttachmentID,
		PDFPath:      req.PDFPath,
		SupplierHint: req.SupplierHint,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"correlationId": correlationID})
}

func (s *Server) handleListHolds(c *gin.Context) {
	filter := holds.Filter{
		Status: holds.Status(c.Query("status")),
		Reason: holds.Reason(c.Query("reason")),
	}
	if raw := c.Query("documentId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "documentId must be an integer"})
			return
		}
		filter.DocumentID = id
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		filter.Limit = limit
	}
	list, err := s.holds.List(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"holds": list, "count": len(list)})
}

type resolveHoldRequest struct {
	Action        string `json:"action" binding:"required"`
	Resolution    string `json:"resolution"`
	ResolvedBy    string `json:"resolvedBy"`
	JobID         int64  `json:"jobId"`
	VendorID      int64  `json:"vendorId"`
	AllowVariance bool   `json:"allowVariance"`
	MarkAsStock   bool   `json:"markAsStock"`
}

func (s *Server) handleResolveHold(c *gin.Context) {
	holdID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "hold id must be an integer"})
		return
	}
	var req resolveHoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	hold, err := s.manager.ResolveHold(c.Request.Context(), holdID, holds.Resolution{
		Action:        req.Action,
		Note:          req.Resolution,
		ResolvedBy:    req.ResolvedBy,
		JobID:         req.JobID,
		VendorID:      req.VendorID,
		AllowVariance: req.AllowVariance,
		MarkAsStock:   req.MarkAsStock,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, hold)
}

func (s *Server) stageParam(c *gin.Context) (queue.Stage, bool) {
	stage := queue.Stage(c.Param("stage"))
	if !stage.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown stage " + c.Param("stage")})
		return "", false
	}
	return stage, true
}

func (s *Server) handleRetryFailed(c *gin.Context) {
	stage, ok := s.stageParam(c)
	if !ok {
		return
	}
	retried, err := s.queue.RetryFailed(c.Request.Context(), stage)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"retried": retried})
}

func (s *Server) handlePause(c *gin.Context) {
	stage, ok := s.stageParam(c)
	if !ok {
		return
	}
	if err := s.queue.Pause(c.Request.Context(), stage); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stage": stage, "paused": true})
}

func (s *Server) handleResume(c *gin.Context) {
	stage, ok := s.stageParam(c)
	if !ok {
		return
	}
	if err := s.queue.Resume(c.Request.Context(), stage); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stage": stage, "paused": false})
}

func (s *Server) handleClearCompleted(c *gin.Context) {
	stage, ok := s.stageParam(c)
	if !ok {
		return
	}
	cleared, err := s.queue.ClearCompleted(c.Request.Context(), stage)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": cleared})
}

func (s *Server) handleRemoveJob(c *gin.Context) {
	stage, ok := s.stageParam(c)
	if !ok {
		return
	}
	removed, err := s.queue.Remove(c.Request.Context(), stage, c.Param("correlationId"))
	if err != nil {
		writeError(c, err)
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such job"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}
