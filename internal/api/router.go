package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/alttext/internal/api/handler"
	"github.com/timmy/alttext/internal/api/middleware"
	"github.com/timmy/alttext/internal/logger"
)

// Handlers groups the handlers the router mounts.
type Handlers struct {
	Health  *handler.HealthHandler
	Process *handler.ProcessHandler
	Batch   *handler.BatchHandler
	Job     *handler.JobHandler
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(h Handlers, cors middleware.CORSConfig, log *logger.Logger, mode string) *gin.Engine {
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(cors))

	r.GET("/health", h.Health.Health)

	v1 := r.Group("/api/v1")
	{
		// Single subject, synchronous
		v1.POST("/subjects/:id/process", h.Process.ProcessSubject)

		// Batches
		v1.POST("/batches", h.Batch.StartBatch)
		v1.GET("/batches/:id", h.Batch.GetBatch)
		v1.DELETE("/batches/:id", h.Batch.CancelBatch)

		// Jobs and review
		v1.GET("/jobs", h.Job.ListJobs)
		v1.GET("/jobs/:id", h.Job.GetJob)
		v1.POST("/jobs/:id/approve", h.Job.Approve)
		v1.POST("/jobs/:id/reject", h.Job.Reject)

		v1.GET("/stats", h.Job.Stats)
	}

	return r
}
