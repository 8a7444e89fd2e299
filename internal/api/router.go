package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/wardrobe/internal/api/handler"
	"github.com/timmy/wardrobe/internal/api/middleware"
	"github.com/timmy/wardrobe/internal/config"
	"github.com/timmy/wardrobe/internal/logger"
	"github.com/timmy/wardrobe/internal/metrics"
	"github.com/timmy/wardrobe/internal/service"
)

// RouterDeps holds everything the HTTP layer talks to.
type RouterDeps struct {
	Wardrobe    *service.WardrobeService
	Pipeline    *service.PipelineService
	Recommender *service.RecommendService
	Pool        *service.WorkerPool
	Metrics     *metrics.Metrics
	Logger      *logger.Logger

	Server config.ServerConfig
	// StaticRoot is served under StaticURL when images are kept on local disk.
	StaticRoot string
	StaticURL  string
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps *RouterDeps) *gin.Engine {
	// Set Gin mode
	switch deps.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	log := deps.Logger
	if log == nil {
		log = logger.GetDefault()
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(deps.Server.CORS))

	// Create handlers
	healthHandler := handler.NewHealthHandler(deps.Pool)
	itemHandler := handler.NewItemHandler(deps.Wardrobe, deps.Pipeline)
	recommendHandler := handler.NewRecommendHandler(deps.Recommender)

	r.GET("/health", healthHandler.Health)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}
	if deps.StaticRoot != "" && deps.StaticURL != "" {
		r.Static(deps.StaticURL, deps.StaticRoot)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Wardrobes
		users := v1.Group("/users/:username")
		users.POST("/items", itemHandler.Upload)
		users.GET("/items", itemHandler.List)
		users.DELETE("/items", itemHandler.Clear)

		// Items
		v1.GET("/items/:id", itemHandler.Get)
		v1.GET("/items/:id/status", itemHandler.Status)
		v1.POST("/items/:id/process", itemHandler.Process)

		// Recommendations
		recs := v1.Group("/recommendations")
		recs.POST("/random", recommendHandler.Random)
		recs.POST("/apparel", recommendHandler.Apparel)
		recs.POST("/text", recommendHandler.Text)
	}

	return r
}
