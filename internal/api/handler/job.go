package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/alttext/internal/domain"
	"github.com/timmy/alttext/internal/logger"
)

// JobReader is the read side of the job repository.
type JobReader interface {
	GetByID(ctx context.Context, id string) (*domain.ProcessingJob, error)
	List(ctx context.Context, filter domain.JobFilter) ([]domain.ProcessingJob, error)
	Stats(ctx context.Context) (*domain.JobStats, error)
}

// Reviewer applies or discards drafts of needs_review jobs.
type Reviewer interface {
	ApproveDraft(ctx context.Context, jobID string) (*domain.ProcessingJob, error)
	RejectDraft(ctx context.Context, jobID string) (*domain.ProcessingJob, error)
}

// SubjectCounter reports how many subjects exist.
type SubjectCounter interface {
	Count(ctx context.Context) (int64, error)
}

// JobHandler serves job lookups, review actions and stats.
type JobHandler struct {
	jobs     JobReader
	reviewer Reviewer
	subjects SubjectCounter
}

// NewJobHandler creates a new job handler.
// Parameters:
//   - jobs: job repository.
//   - reviewer: review actions, usually the synchronizer.
//   - subjects: subject counter for stats.
// Returns:
//   - *JobHandler: initialized handler.
func NewJobHandler(jobs JobReader, reviewer Reviewer, subjects SubjectCounter) *JobHandler {
	return &JobHandler{jobs: jobs, reviewer: reviewer, subjects: subjects}
}

// GetJob handles GET /api/v1/jobs/:id.
func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.jobs.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListJobs handles GET /api/v1/jobs?status=&lang=&limit=&offset=.
func (h *JobHandler) ListJobs(c *gin.Context) {
	filter := domain.JobFilter{
		Status:       domain.JobStatus(c.Query("status")),
		LanguageCode: c.Query("lang"),
		Limit:        50,
	}
	switch filter.Status {
	case "", domain.JobStatusPending, domain.JobStatusProcessing, domain.JobStatusNeedsReview,
		domain.JobStatusApproved, domain.JobStatusFailed, domain.JobStatusSkipped:
	default:
		badRequest(c, "unknown status: "+string(filter.Status))
		return
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			badRequest(c, "limit must be between 1 and 500")
			return
		}
		filter.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	jobs, err := h.jobs.List(c.Request.Context(), filter)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":   jobs,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// Approve handles POST /api/v1/jobs/:id/approve.
func (h *JobHandler) Approve(c *gin.Context) {
	job, err := h.reviewer.ApproveDraft(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	logger.CtxInfo(c.Request.Context(), "Job %s approved by reviewer", job.ID)
	c.JSON(http.StatusOK, job)
}

// Reject handles POST /api/v1/jobs/:id/reject.
func (h *JobHandler) Reject(c *gin.Context) {
	job, err := h.reviewer.RejectDraft(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	logger.CtxInfo(c.Request.Context(), "Job %s rejected by reviewer", job.ID)
	c.JSON(http.StatusOK, job)
}

// Stats handles GET /api/v1/stats.
func (h *JobHandler) Stats(c *gin.Context) {
	ctx := c.Request.Context()
	stats, err := h.jobs.Stats(ctx)
	if err != nil {
		abortWithError(c, err)
		return
	}
	resp := gin.H{
		"jobs_by_status": stats.ByStatus,
		"total_cost":     stats.TotalCost,
	}
	if h.subjects != nil {
		count, err := h.subjects.Count(ctx)
		if err != nil {
			abortWithError(c, err)
			return
		}
		resp["subjects"] = count
	}
	c.JSON(http.StatusOK, resp)
}
