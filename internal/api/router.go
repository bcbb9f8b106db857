// Package api exposes the read-only listing API over HTTP.
package api

import (
	"github.com/gin-gonic/gin"

	"jobchommie/listing-service/internal/api/handler"
	"jobchommie/listing-service/internal/api/middleware"
	"jobchommie/listing-service/internal/logging"
	"jobchommie/listing-service/internal/store"
)

// Options configures the router.
type Options struct {
	Reader         store.Reader
	Trigger        handler.Trigger // nil leaves the admin route unmounted
	Logger         *logging.Logger
	AllowedOrigins []string
	Version        string
	Mode           string // gin mode: release, test or debug
}

// SetupRouter configures the gin engine with all routes.
func SetupRouter(opts Options) *gin.Engine {
	switch opts.Mode {
	case gin.ReleaseMode:
		gin.SetMode(gin.ReleaseMode)
	case gin.TestMode:
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(log))
	r.Use(middleware.CORS(opts.AllowedOrigins))

	healthHandler := handler.NewHealthHandler(opts.Reader, opts.Version)
	jobsHandler := handler.NewJobsHandler(opts.Reader)

	r.GET("/", healthHandler.Root)
	r.GET("/health", healthHandler.Health)

	api := r.Group("/api")
	{
		api.GET("/jobs", jobsHandler.ListJobs)
		api.GET("/runs", jobsHandler.ListRuns)

		if opts.Trigger != nil {
			adminHandler := handler.NewAdminHandler(opts.Trigger)
			api.POST("/admin/ingest", adminHandler.TriggerIngest)
		}
	}

	return r
}
