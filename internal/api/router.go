package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/reid/internal/api/handlers"
	"github.com/your-org/reid/internal/api/ws"
	"github.com/your-org/reid/internal/auth"
	"github.com/your-org/reid/internal/queue"
	"github.com/your-org/reid/internal/storage"
)

type RouterConfig struct {
	APIKey   string
	DB       *storage.PostgresStore
	MinIO    *storage.MinIOStore
	Producer *queue.Producer
	Hub      *ws.Hub
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(
		handlers.Dependency{Name: "postgres", Ping: cfg.DB.Ping},
		handlers.Dependency{Name: "minio", Ping: cfg.MinIO.Ping},
		handlers.Dependency{Name: "nats", Ping: cfg.Producer.Ping},
	)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Jobs
	jobH := handlers.NewJobHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	v1.POST("/jobs", jobH.Create)
	v1.GET("/jobs", jobH.List)
	v1.GET("/jobs/:id", jobH.Get)
	v1.GET("/jobs/:id/output", jobH.Output)

	// Runs
	runH := handlers.NewRunHandler(cfg.DB)
	v1.GET("/runs/:id", runH.Get)
	v1.GET("/runs/:id/clusters", runH.Clusters)
	v1.GET("/runs/:id/tracks", runH.Tracks)
	v1.GET("/runs/:id/tracks/:trackId/similar", runH.Similar)

	return r
}
