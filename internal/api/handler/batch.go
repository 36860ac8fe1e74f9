package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/timmy/alttext/internal/logger"
	"github.com/timmy/alttext/internal/service"
)

// maxBatchRecords bounds how many finished batches stay queryable.
const maxBatchRecords = 100

// BatchRunner runs and cancels batches. service.BatchProcessor implements it.
type BatchRunner interface {
	Run(ctx context.Context, subjectIDs []string, opts service.BatchOptions) *service.BatchResult
	Cancel(ctx context.Context, batchID string) (bool, int64, error)
}

// SubjectLister finds subjects that still need metadata.
type SubjectLister interface {
	ListIDsWithoutMetadata(ctx context.Context, limit int) ([]string, error)
}

// BatchHandler starts, tracks and cancels batch runs.
type BatchHandler struct {
	runner   BatchRunner
	subjects SubjectLister

	mu      sync.RWMutex
	records map[string]*batchRecord
	order   []string
}

type batchRecord struct {
	BatchID    string               `json:"batch_id"`
	Status     string               `json:"status"` // running, completed, cancelled
	Subjects   int                  `json:"subjects"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt *time.Time           `json:"finished_at,omitempty"`
	Result     *service.BatchResult `json:"result,omitempty"`
}

// NewBatchHandler creates a new batch handler.
// Parameters:
//   - runner: batch processor.
//   - subjects: lister used when a request names no subjects; may be nil.
// Returns:
//   - *BatchHandler: initialized handler.
func NewBatchHandler(runner BatchRunner, subjects SubjectLister) *BatchHandler {
	return &BatchHandler{
		runner:   runner,
		subjects: subjects,
		records:  make(map[string]*batchRecord),
	}
}

// BatchRequest starts a batch. Without SubjectIDs, up to Limit subjects
// lacking metadata are selected.
type BatchRequest struct {
	SubjectIDs []string `json:"subject_ids" binding:"max=10000"`
	Limit      int      `json:"limit" binding:"omitempty,min=1,max=10000"`
	Language   string   `json:"language" binding:"omitempty,min=2,max=16"`
	Workers    int      `json:"workers" binding:"omitempty,min=1,max=64"`
	Wait       bool     `json:"wait"`
}

// StartBatch handles POST /api/v1/batches.
// With wait=true the response carries the finished result; otherwise the
// batch runs in the background and 202 is returned with its ID.
func (h *BatchHandler) StartBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	ctx := c.Request.Context()

	ids := req.SubjectIDs
	if len(ids) == 0 {
		if h.subjects == nil || req.Limit == 0 {
			badRequest(c, "subject_ids or limit is required")
			return
		}
		var err error
		ids, err = h.subjects.ListIDsWithoutMetadata(ctx, req.Limit)
		if err != nil {
			abortWithError(c, err)
			return
		}
		if len(ids) == 0 {
			c.JSON(http.StatusOK, gin.H{"message": "no subjects need metadata"})
			return
		}
	}

	opts := service.BatchOptions{
		BatchID:  uuid.New().String(),
		Language: req.Language,
		Workers:  req.Workers,
	}
	record := h.start(opts.BatchID, len(ids))
	logger.With(logger.Fields{
		logger.FieldBatchID: opts.BatchID,
		"wait":              req.Wait,
	}).WithCount(len(ids)).Info(ctx, "Batch requested")

	// The batch outlives the request; keep its log fields but not its deadline.
	runCtx := context.WithoutCancel(ctx)
	if req.Wait {
		result := h.runner.Run(runCtx, ids, opts)
		c.JSON(http.StatusOK, h.finish(opts.BatchID, result))
		return
	}

	go func() {
		result := h.runner.Run(runCtx, ids, opts)
		h.finish(opts.BatchID, result)
	}()
	c.JSON(http.StatusAccepted, record)
}

// GetBatch handles GET /api/v1/batches/:id.
func (h *BatchHandler) GetBatch(c *gin.Context) {
	h.mu.RLock()
	record, ok := h.records[c.Param("id")]
	var snap batchRecord
	if ok {
		snap = record.snapshot()
	}
	h.mu.RUnlock()
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown batch: " + c.Param("id")})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// CancelBatch handles DELETE /api/v1/batches/:id. It also works for batches
// started by another process; their queued tasks are removed.
func (h *BatchHandler) CancelBatch(c *gin.Context) {
	batchID := c.Param("id")
	running, removed, err := h.runner.Cancel(c.Request.Context(), batchID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	logger.With(logger.Fields{
		logger.FieldBatchID: batchID,
		"running":           running,
		"removed_tasks":     removed,
	}).Info(c.Request.Context(), "Batch cancel requested")
	c.JSON(http.StatusOK, gin.H{
		"batch_id":      batchID,
		"running":       running,
		"removed_tasks": removed,
	})
}

func (h *BatchHandler) start(id string, subjects int) batchRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	record := &batchRecord{BatchID: id, Status: "running", Subjects: subjects, StartedAt: time.Now().UTC()}
	h.records[id] = record
	h.order = append(h.order, id)
	h.prune()
	return record.snapshot()
}

func (h *BatchHandler) finish(id string, result *service.BatchResult) batchRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	record, ok := h.records[id]
	if !ok {
		record = &batchRecord{BatchID: id}
	}
	now := time.Now().UTC()
	record.FinishedAt = &now
	record.Result = result
	record.Status = "completed"
	if result != nil && result.Cancelled > 0 {
		record.Status = "cancelled"
	}
	return record.snapshot()
}

// prune drops the oldest finished records beyond maxBatchRecords.
func (h *BatchHandler) prune() {
	for len(h.order) > maxBatchRecords {
		dropped := false
		for i, id := range h.order {
			if h.records[id].FinishedAt != nil {
				delete(h.records, id)
				h.order = append(h.order[:i], h.order[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped {
			return
		}
	}
}

func (r *batchRecord) snapshot() batchRecord {
	return *r
}
