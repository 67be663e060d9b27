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

	"widget-builder/internal/builder/events"
	"widget-builder/internal/builder/handlers"
	"widget-builder/internal/builder/instance"
	"widget-builder/internal/builder/repository"
	"widget-builder/internal/builder/service"
	"widget-builder/internal/builder/store"
	"widget-builder/internal/builder/stream"
	"widget-builder/internal/common/config"
	"widget-builder/internal/common/logging"
	"widget-builder/internal/common/middleware"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
)

// ============================================================
// Widget Builder Service
// ============================================================

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	root := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	log := logging.Component(root, logging.Service)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ============================================================
	// Storage
	// ============================================================

	backend, err := repository.Open(ctx, cfg.StorageBackend, cfg.DBPath, cfg.FileRoot)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.StorageBackend).Msg("open storage")
	}
	defer backend.Close()
	docs := repository.NewDocuments(backend, logging.Component(root, logging.Repo))

	// ============================================================
	// Stores
	// ============================================================

	catalog, err := instance.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.CatalogPath).Msg("catalog not loaded, starting empty")
		catalog = instance.NewCatalog()
	}
	if cfg.CatalogWatch {
		if err := instance.WatchCatalog(ctx, cfg.CatalogPath, catalog, logging.Component(root, logging.Instances)); err != nil {
			log.Warn().Err(err).Msg("catalog watch disabled")
		}
	}
	instances := instance.NewStore(catalog, docs, logging.Component(root, logging.Instances))

	bus := events.NewBus()
	placements := store.New(
		store.WithPersister(docs),
		store.WithResolver(instances),
		store.WithLogger(logging.Component(root, logging.Store)),
		store.WithResizeDelay(time.Duration(cfg.ResizeDelayMS)*time.Millisecond),
		store.WithRetry(cfg.HierarchyRetries, time.Duration(cfg.HierarchyRetryBackoff)*time.Millisecond),
		store.WithGeometryHook(service.GeometryPublisher(bus)),
	)
	defer placements.Close()

	builder := service.NewBuilder(placements, instances, bus, docs, log)
	health := handlers.NewHealthHandler(docs)
	if err := builder.Restore(ctx); err != nil {
		log.Fatal().Err(err).Msg("restore state")
	}
	health.MarkStarted()

	// ============================================================
	// Event Stream
	// ============================================================

	hub := stream.NewHub(bus, logging.Component(root, logging.Stream))
	defer hub.Close()
	eventServer := &http.Server{
		Addr:              cfg.EventsAddr,
		Handler:           hub.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.EventsAddr).Msg("event stream listening")
		if err := eventServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("event stream stopped")
		}
	}()

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		AppName:      "Widget Builder",
	})

	// ============================================================
	// Global Middleware
	// ============================================================

	app.Use(recover.New())
	app.Use(middleware.Logger(logging.Component(root, logging.HTTP)))
	app.Use(middleware.CORS(cfg.CORSOrigins))

	// ============================================================
	// Health Check Routes
	// ============================================================

	health.Register(app)

	// ============================================================
	// Builder Routes
	// ============================================================

	handlers.NewBuilderHandler(builder, logging.Component(root, logging.HTTP)).Register(app.Group("/api/v1"))

	app.Get("/docs", handlers.SwaggerUI)
	app.Get("/docs/openapi.yaml", handlers.SwaggerSpec)

	// ============================================================
	// Server Start
	// ============================================================

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		eventServer.Shutdown(shutdownCtx)
		app.ShutdownWithContext(shutdownCtx)
	}()

	addr := fmt.Sprintf(":%s", cfg.Port)
	log.Info().Str("addr", addr).Str("env", cfg.Environment).Str("storage", cfg.StorageBackend).
		Msg("starting widget builder")

	if err := app.Listen(addr); err != nil {
		log.Error().Err(err).Msg("server stopped")
	}
	if err := builder.Persist(context.Background()); err != nil {
		log.Error().Err(err).Msg("final persist")
	}
}
