package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/alttext/internal/logger"
	"github.com/timmy/alttext/internal/service"
)

// Processor runs the pipeline for one subject.
type Processor interface {
	ProcessSubject(ctx context.Context, subjectID, lang string) (*service.ProcessOutcome, error)
}

// ProcessHandler serves synchronous single-subject processing.
type ProcessHandler struct {
	processor Processor
	budget    time.Duration
}

// NewProcessHandler creates a handler. budget bounds the whole synchronous
// call; a non-positive budget means five minutes.
func NewProcessHandler(processor Processor, budget time.Duration) *ProcessHandler {
	if budget <= 0 {
		budget = 5 * time.Minute
	}
	return &ProcessHandler{processor: processor, budget: budget}
}

// ProcessRequest is the optional body of a process call.
type ProcessRequest struct {
	Language string `json:"language" binding:"omitempty,min=2,max=16"`
}

// ProcessSubject handles POST /api/v1/subjects/:id/process.
// A pipeline failure is still a 200 with success=false; only jobs that
// cannot start map to error statuses.
func (h *ProcessHandler) ProcessSubject(c *gin.Context) {
	var req ProcessRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request: "+err.Error())
			return
		}
	}
	if lang := c.Query("lang"); lang != "" && req.Language == "" {
		req.Language = lang
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.budget)
	defer cancel()
	ctx = logger.SetSubjectID(ctx, c.Param("id"))

	started := time.Now()
	outcome, err := h.processor.ProcessSubject(ctx, c.Param("id"), req.Language)
	if err != nil {
		abortWithError(c, err)
		return
	}
	logger.With(logger.Fields{
		"job_status": string(outcome.Status),
	}).WithDuration(time.Since(started).Milliseconds()).
		WithCost(outcome.Cost).
		Info(ctx, "Subject processed: success=%v", outcome.Success)
	c.JSON(http.StatusOK, outcome)
}
