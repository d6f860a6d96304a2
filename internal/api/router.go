package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/enrollment/internal/api/handlers"
	"github.com/your-org/enrollment/internal/api/ws"
	"github.com/your-org/enrollment/internal/auth"
	"github.com/your-org/enrollment/internal/files"
	"github.com/your-org/enrollment/internal/vision"
	"github.com/your-org/enrollment/pkg/dto"
)

type RouterConfig struct {
	APIKey    string
	Uploader  *files.Uploader
	Integrity *vision.IntegrityChecker
	Records   handlers.RecordReader
	// Events may be nil when no audit store is configured.
	Events handlers.EventLister
	Hub    *ws.Hub
	Checks map[string]handlers.Pinger
	Status dto.StatusResponse
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks, cfg.Status)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	v1.GET("/validation/status", systemH.Status)

	uploadH := handlers.NewUploadHandler(cfg.Uploader, cfg.Integrity)
	v1.POST("/users/:user_id/photos/validate", uploadH.Validate)
	v1.POST("/users/:user_id/files", uploadH.Upload)

	userH := handlers.NewUserHandler(cfg.Records, cfg.Uploader, cfg.Events)
	v1.GET("/users/:user_id/faces", userH.Faces)
	v1.GET("/users/:user_id/events", userH.Events)
	v1.DELETE("/users/:user_id", userH.Delete)

	fileH := handlers.NewFileHandler(cfg.Uploader.Files())
	v1.GET("/files/*path", fileH.Get)
	v1.DELETE("/files/*path", fileH.Delete)
	v1.POST("/files/move", fileH.Move)

	return r
}
