package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"landpool/api/internal/config"
	"landpool/api/internal/database"
	"landpool/api/internal/handlers"
	"landpool/api/internal/logger"
	"landpool/api/internal/middleware"
	"landpool/api/internal/repository"
	"landpool/api/internal/services"
)

const (
	shutdownTimeout = 30 * time.Second
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	log := logger.New(cfg.Server.Env)
	log.Info("Starting Landpool API", map[string]interface{}{
		"version":     "0.1.0",
		"environment": cfg.Server.Env,
		"port":        cfg.Server.Port,
	})

	// Create database connection pool
	ctx := context.Background()
	db, err := database.NewPostgresPool(ctx, cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", err, map[string]interface{}{
			"host": cfg.Database.Host,
			"port": cfg.Database.Port,
			"name": cfg.Database.Name,
		})
	}
	defer db.Close()

	log.Info("Database connection established", map[string]interface{}{
		"host":     cfg.Database.Host,
		"port":     cfg.Database.Port,
		"database": cfg.Database.Name,
		"pool_min": cfg.Database.PoolMin,
		"pool_max": cfg.Database.PoolMax,
	})

	// Setup Gin router
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware in order: RequestID -> Logger -> Recovery -> CORS
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS(cfg.CORS.Origins))

	// Register health check routes
	healthHandler := handlers.NewHealthHandler(db, cfg.Server.Env)
	router.GET("/health", healthHandler.Health)
	router.GET("/health/ready", healthHandler.Ready)
	router.GET("/api/v1/info", healthHandler.Info)

	// Initialize repository and service layers
	parcelRepo := repository.NewParcelRepository(db)
	negotiationRepo := repository.NewNegotiationRepository(db)
	parcelService := services.NewParcelService(parcelRepo, log)
	neighborService := services.NewNeighborService(parcelRepo, cfg.Neighbor.PageSize, log)
	negotiationService := services.NewNegotiationService(negotiationRepo, parcelRepo, log)

	// Initialize handlers
	parcelHandler := handlers.NewParcelHandler(parcelService, neighborService, cfg.Neighbor.RadiusMeters)
	negotiationHandler := handlers.NewNegotiationHandler(negotiationService)

	// Register API v1 routes; everything under /api/v1 except /info
	// requires a resolved owner identity.
	v1 := router.Group("/api/v1")
	v1.Use(middleware.Identity())
	{
		v1.POST("/geometry/compute", parcelHandler.ComputeGeometry)

		parcels := v1.Group("/parcels")
		{
			parcels.POST("", parcelHandler.CreateParcel)
			parcels.GET("", parcelHandler.ListParcels)
			parcels.GET("/neighbors", parcelHandler.Neighbors)
			parcels.GET("/:id", parcelHandler.GetParcel)
			parcels.PATCH("/:id/ready", parcelHandler.SetReady)
			parcels.GET("/:id/ready", parcelHandler.GetReady)
		}

		negotiations := v1.Group("/negotiations")
		{
			negotiations.POST("", negotiationHandler.RequestIntegration)
			negotiations.GET("", negotiationHandler.ListNegotiations)
			negotiations.GET("/:id", negotiationHandler.GetNegotiation)
			negotiations.POST("/:id/respond", negotiationHandler.Respond)
			negotiations.POST("/:id/sign", negotiationHandler.Sign)
			negotiations.GET("/:id/signatures", negotiationHandler.SignatureStatus)
			negotiations.GET("/:id/agreement", negotiationHandler.Agreement)
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server listening", map[string]interface{}{
			"port": cfg.Server.Port,
			"addr": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", err, nil)
		}
	}()

	// Wait for interrupt signal (SIGINT or SIGTERM)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Graceful shutdown
	log.Info("Shutting down server...", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", err, map[string]interface{}{
			"timeout": shutdownTimeout.String(),
		})
	}

	log.Info("Server exited", nil)
}
