package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/prefopt/backend/internal/api/handlers"
	"github.com/prefopt/backend/internal/cache/redis"
	"github.com/prefopt/backend/internal/llm"
	"github.com/prefopt/backend/internal/metrics"
	"github.com/prefopt/backend/internal/middleware/ratelimit"
	"github.com/prefopt/backend/internal/middleware/security"
	"github.com/prefopt/backend/internal/middleware/validation"
	"github.com/prefopt/backend/internal/optimization"
	"github.com/prefopt/backend/internal/storage/sqlite"
	"github.com/prefopt/backend/pkg/config"
	appLogger "github.com/prefopt/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting preference optimization API server")

	metrics.Init()

	store, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to open feedback store", zap.Error(err))
	}
	defer store.Close()

	var cache *redis.Client
	if cfg.Redis.Enabled {
		cache, err = redis.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			time.Duration(cfg.Redis.CacheTTL)*time.Second,
		)
		if err != nil {
			appLogger.Warn("Redis unavailable, continuing without response cache", zap.Error(err))
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	llmClient := llm.NewClient(cfg.LLM, cache)
	manager := optimization.NewManager(cfg, store, llmClient)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: 120,
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()
	app.Use(limiter.Middleware())

	queryHandler := handlers.NewQueryHandler(manager, llmClient, cfg.GroupDiscussion.Name)
	feedbackHandler := handlers.NewFeedbackHandler(manager)
	statsHandler := handlers.NewStatsHandler(manager, llmClient, store)
	discussionHandler := handlers.NewDiscussionHandler(manager)

	api := app.Group("/api/v1")
	api.Use(validation.Middleware(validation.Config{
		Logger: appLogger.GetLogger(),
	}))

	api.Post("/query", queryHandler.HandleQuery)
	api.Post("/analyze", queryHandler.HandleAnalyze)

	api.Post("/feedback", feedbackHandler.HandleFeedback)
	api.Post("/export", feedbackHandler.HandleExport)

	api.Get("/stats", statsHandler.HandleStats)
	api.Post("/optimization/toggle", statsHandler.HandleToggle)
	api.Post("/feedback/toggle", statsHandler.HandleFeedbackToggle)
	api.Post("/optimization/clear-caches", statsHandler.HandleClearCaches)
	api.Post("/backup", statsHandler.HandleBackup)

	api.Get("/discussion/:id", discussionHandler.HandleGetDiscussion)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/discussion", websocket.New(discussionHandler.HandleConnection))

	app.Get("/metrics", metrics.MetricsHandler())

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
