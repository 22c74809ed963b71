package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blueprint-sync/internal/api"
	"blueprint-sync/internal/config"
	"blueprint-sync/internal/db"
	"blueprint-sync/internal/repository"
	"blueprint-sync/internal/signaling"
	"blueprint-sync/internal/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

/*
LEARNING: GRACEFUL SHUTDOWN PATTERN WITH OBSERVABILITY

This main function demonstrates:
1. Service initialization and dependency injection
2. Relay hub and HTTP server running side by side
3. Distributed tracing with Jaeger
4. Graceful shutdown handling (listening for SIGINT/SIGTERM)
5. Proper resource cleanup order
*/

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	log.Info().Msg("🚀 Starting blueprint relay...")

	// Initialize Jaeger tracing
	// Learning: Do this FIRST so all operations are traced
	jaegerShutdown, err := telemetry.InitJaeger("blueprint-sync", cfg.JaegerEndpoint, cfg.TraceSampleRatio)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️  Failed to initialize Jaeger (continuing without tracing)")
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("⚠️  Failed to shutdown Jaeger")
		}
	}()

	// Initialize GORM database
	database, err := db.NewGorm(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to connect to database")
	}
	defer database.Close()

	// Initialize repositories
	blueprintRepo := repository.NewBlueprintRepository(database.DB)
	updateRepo := repository.NewUpdateRepository(database.DB)
	catalogRepo := repository.NewCatalogRepository(database.DB)

	// Relay hub for real-time collaboration
	hubOpts := signaling.Options{CompactEvery: cfg.RelayCompactEvery}
	if cfg.RelayPersistUpdates {
		// Late joiners sync from the relay even when no peer is online
		hubOpts.Store = updateRepo
	}
	var redisFanout *signaling.RedisFanout
	if cfg.RedisURL != "" {
		redisFanout, err = signaling.NewRedisFanout(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("❌ Failed to connect to Redis")
		}
		hubOpts.Fanout = redisFanout
	}
	hub := signaling.NewHub(hubOpts)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub.Start(hubCtx)

	wsHandler := signaling.NewWebSocketHandler(hub)

	// Initialize handlers with dependency injection
	handler := api.NewHandler(blueprintRepo, updateRepo, catalogRepo, wsHandler, hub, api.Settings{
		ColumnDeadBand:    cfg.ColumnDeadBand,
		AverageHourlyWage: cfg.AverageHourlyWage,
	})
	handler.WithHealthCheck("database", database.Ping)
	if redisFanout != nil {
		handler.WithHealthCheck("redis", redisFanout.Ping)
	}

	// Setup routes
	router := api.SetupRoutes(handler)

	// Configure HTTP server
	// No WriteTimeout: it would cut long-lived websocket connections
	addr := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start HTTP server in a goroutine
	// Learning: This allows us to handle shutdown signals concurrently
	go func() {
		log.Info().Msgf("🌐 Server listening on http://%s", addr)
		log.Info().Msg("📚 API Endpoints:")
		log.Info().Msg("   GET    /api/blueprints/:id           - Load saved blueprint")
		log.Info().Msg("   PUT    /api/blueprints/:id           - Save blueprint snapshot")
		log.Info().Msg("   DELETE /api/blueprints/:id           - Delete blueprint (soft)")
		log.Info().Msg("   POST   /api/blueprints/:id/structure - Project/crew structure")
		log.Info().Msg("   POST   /api/blueprints/:id/costing   - Crew costing")
		log.Info().Msg("   GET    /api/blueprints/:id/peers     - Connected peers")
		log.Info().Msg("   WS     /ws/blueprints/:id            - Sync relay")
		log.Info().Msg("   GET    /metrics                      - Prometheus metrics")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("❌ Server error")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	// Learning: This is the graceful shutdown pattern
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("🛑 Shutting down server...")

	// Shutdown HTTP server with timeout
	// Learning: Give the server 30 seconds to finish existing requests
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("⚠️  Server forced to shutdown")
	}

	// Hijacked websocket connections are not closed by server.Shutdown
	hub.Shutdown()

	log.Info().Msg("✓ Server shutdown complete")
}
