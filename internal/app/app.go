// Package app wires configuration into the running services shared by the
// API server and the CLI.
package app

import (
	"fmt"
	"strings"

	"github.com/timmy/wardrobe/internal/config"
	"github.com/timmy/wardrobe/internal/index"
	"github.com/timmy/wardrobe/internal/logger"
	"github.com/timmy/wardrobe/internal/metrics"
	"github.com/timmy/wardrobe/internal/repository"
	"github.com/timmy/wardrobe/internal/service"
	"github.com/timmy/wardrobe/internal/storage"
	"gorm.io/gorm"
)

// App holds the wired services.
type App struct {
	Config      *config.Config
	Logger      *logger.Logger
	Metrics     *metrics.Metrics
	DB          *gorm.DB
	Items       *repository.ItemRepository
	Index       index.Index
	Storage     storage.ObjectStorage
	Pool        *service.WorkerPool
	Pipeline    *service.PipelineService
	Wardrobe    *service.WardrobeService
	Recommender *service.RecommendService

	closeIndex func() error
}

// New builds every service from cfg.
// Parameters:
//   - cfg: loaded configuration.
//   - log: base logger.
//
// Returns:
//   - *App: wired services; call Close when done.
//   - error: non-nil if a backend cannot be initialized.
func New(cfg *config.Config, log *logger.Logger) (*App, error) {
	m := metrics.New()

	db, err := repository.InitDB(&cfg.Database, index.UsesDatabase(&cfg.Vector))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	vectorIndex, closeIndex, err := index.New(&cfg.Vector, db)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}

	objectStorage, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		_ = closeIndex()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := cfg.Embedding.ValidateWithAPIKey(); err != nil {
		log.WithError(err).Warn("Embedding provider not fully configured, annotation jobs will fail")
	}

	throttle := service.NewThrottle(cfg.Ingest.RateLimit, cfg.Ingest.RateBurst)

	vlm := service.NewVLMService(&service.VLMConfig{
		Model:    cfg.VLM.Model,
		APIKey:   cfg.VLM.APIKey,
		BaseURL:  cfg.VLM.BaseURL,
		Timeout:  cfg.VLM.Timeout,
		Throttle: throttle,
	})
	embedder := service.NewEmbeddingService(&service.EmbeddingConfig{
		Model:      cfg.Embedding.Model,
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Dimensions: cfg.Embedding.Dimensions,
		Throttle:   throttle,
	})
	stylist := service.NewStylistService(&service.StylistConfig{
		APIKey:      cfg.Stylist.APIKey,
		BaseURL:     cfg.Stylist.BaseURL,
		Model:       cfg.Stylist.Model,
		Temperature: cfg.Stylist.Temperature,
		MaxTokens:   cfg.Stylist.MaxTokens,
		Throttle:    throttle,
	})

	pool := service.NewWorkerPool(&service.WorkerPoolConfig{
		Workers:   cfg.Ingest.Workers,
		QueueSize: cfg.Ingest.QueueSize,
		Metrics:   m,
	})

	items := repository.NewItemRepository(db)

	pipeline := service.NewPipelineService(&service.PipelineDeps{
		Store:     items,
		Index:     vectorIndex,
		Storage:   objectStorage,
		Annotator: vlm,
		Embedder:  embedder,
		Pool:      pool,
		Metrics:   m,
		Logger:    log,
	})
	recommender := service.NewRecommendService(&service.RecommendDeps{
		Store:     items,
		Index:     vectorIndex,
		Embedder:  embedder,
		Suggester: stylist,
		Storage:   objectStorage,
		Pool:      pool,
		Metrics:   m,
		Logger:    log,
	})

	log.WithFields(logger.Fields{
		"db_driver":      cfg.Database.Driver,
		"vector_backend": cfg.Vector.Backend,
		"storage_type":   cfg.Storage.Type,
		"workers":        cfg.Ingest.Workers,
	}).Info("Services initialized")

	return &App{
		Config:      cfg,
		Logger:      log,
		Metrics:     m,
		DB:          db,
		Items:       items,
		Index:       vectorIndex,
		Storage:     objectStorage,
		Pool:        pool,
		Pipeline:    pipeline,
		Wardrobe:    service.NewWardrobeService(items, vectorIndex, objectStorage, pipeline, log),
		Recommender: recommender,
		closeIndex:  closeIndex,
	}, nil
}

// LocalStatic returns the directory and URL prefix to serve uploaded images
// from, or empty strings when images are not on local disk.
func (a *App) LocalStatic() (root, urlPrefix string) {
	if !strings.EqualFold(a.Config.Storage.Type, "local") {
		return "", ""
	}
	return a.Config.Storage.LocalRoot, a.Config.Storage.PublicURL
}

// Close drains the worker pool and releases connections.
func (a *App) Close() {
	a.Pool.Close()
	if err := a.closeIndex(); err != nil {
		a.Logger.WithError(err).Warn("Failed to close vector index")
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
