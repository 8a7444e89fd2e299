package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/wardrobe/internal/api"
	"github.com/timmy/wardrobe/internal/app"
	"github.com/timmy/wardrobe/internal/config"
	"github.com/timmy/wardrobe/internal/logger"
)

func main() {
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	appLogger := logger.NewFromEnv(logger.LoadFromEnv().Override(cfg.Log.Level, cfg.Log.Format))
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	wardrobe, err := app.New(cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize services")
	}

	staticRoot, staticURL := wardrobe.LocalStatic()
	router := api.SetupRouter(&api.RouterDeps{
		Wardrobe:    wardrobe.Wardrobe,
		Pipeline:    wardrobe.Pipeline,
		Recommender: wardrobe.Recommender,
		Pool:        wardrobe.Pool,
		Metrics:     wardrobe.Metrics,
		Logger:      appLogger,
		Server:      cfg.Server,
		StaticRoot:  staticRoot,
		StaticURL:   staticURL,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	// Running pipeline jobs finish before the pool closes
	wardrobe.Close()
	appLogger.Info("Server exited")
}
