package api

import (
	"github.com/gin-gonic/gin"
	"github.com/halverson/custodian/internal/api/handler"
	"github.com/halverson/custodian/internal/api/middleware"
	"github.com/halverson/custodian/internal/config"
	"github.com/halverson/custodian/internal/jobs"
	"github.com/halverson/custodian/internal/locks"
	"github.com/halverson/custodian/internal/logger"
	"github.com/halverson/custodian/internal/maintenance"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	tracker *jobs.Tracker,
	lockManager *locks.WriteLockManager,
	coordinator *maintenance.Coordinator,
	indexChecker handler.IndexChecker,
	cfg *config.Config,
	log *logger.Logger,
) *gin.Engine {
	if log == nil {
		log = logger.GetDefault()
	}

	// Set Gin mode
	switch cfg.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(cfg.Server.CORS))

	// Create handlers
	healthHandler := handler.NewHealthHandler(coordinator, indexChecker)
	jobHandler := handler.NewJobHandler(tracker, coordinator)
	lockHandler := handler.NewLockHandler(lockManager)
	maintenanceHandler := handler.NewMaintenanceHandler(coordinator, cfg.Jobs)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Jobs
		v1.POST("/jobs", jobHandler.Register)
		v1.GET("/jobs", jobHandler.ListActive)
		v1.GET("/jobs/:id", jobHandler.Get)
		v1.PATCH("/jobs/:id", jobHandler.Update)
		v1.POST("/jobs/:id/cancel", jobHandler.Cancel)

		// Locks
		v1.GET("/locks/:alias", lockHandler.Status)

		// Maintenance control channel; every call needs a fresh bearer token
		m := v1.Group("/maintenance", middleware.RequireControlToken(cfg.Auth.Secret))
		{
			m.POST("/enter", maintenanceHandler.Enter)
			m.POST("/exit", maintenanceHandler.Exit)
			m.GET("/status", maintenanceHandler.Status)
			m.GET("/drain", maintenanceHandler.Drain)
			m.GET("/drain-timeout", maintenanceHandler.DrainTimeout)
		}
	}

	return r
}
