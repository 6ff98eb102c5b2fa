package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/makereels/sync/internal/auth"
	"github.com/makereels/sync/internal/cache"
	"github.com/makereels/sync/internal/client"
	"github.com/makereels/sync/internal/config"
	"github.com/makereels/sync/internal/handler"
	"github.com/makereels/sync/internal/hub"
	"github.com/makereels/sync/internal/logging"
	"github.com/makereels/sync/internal/middleware"
	"github.com/makereels/sync/internal/model"
	"github.com/makereels/sync/internal/session"
)

func main() {
	log := logging.NewWithService("syncd")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("Redis not available, job cache will not survive restarts")
	}

	// Initialize validator
	validate := validator.New()

	// Durable cache slots, one per user
	stores := func(userID string) cache.Store {
		return cache.NewRedisStore(redisClient, cfg.Cache.KeyPrefix, userID, cfg.Cache.TTL, log)
	}

	// Backend collaborators
	apiClient := client.NewAPIClient(cfg.Backend.BaseURL, cfg.Backend.Token)

	// Session engine
	engine := session.NewEngine(session.Config{
		BaseURL:           cfg.Backend.BaseURL,
		WSPath:            cfg.Backend.WSPath,
		ReconnectAttempts: cfg.Backend.ReconnectAttempts,
		ReconnectDelay:    cfg.Backend.ReconnectDelay,
		StalenessHorizon:  cfg.Cache.StalenessHorizon,
	}, stores, apiClient, log)

	// Local push hub for UI clients
	uiHub := hub.New(log)
	go uiHub.Run()

	engine.SetOnChange(func(userID string, jobs []model.ProcessingJob, toasts []model.Toast) {
		uiHub.Broadcast(userID, "jobs-changed", fiber.Map{
			"jobs":   jobs,
			"toasts": toasts,
		})
	})

	// Sign in with the configured backend credentials
	if cfg.Backend.Token != "" {
		userID := cfg.Backend.UserID
		if userID == "" {
			userID, err = auth.UserIDFromToken(cfg.Backend.Token)
			if err != nil {
				log.WithError(err).Fatal("Cannot determine user id from backend token")
			}
		}
		if err := engine.SetUser(ctx, userID, cfg.Backend.Token); err != nil {
			log.WithError(err).Fatal("Failed to start user session")
		}
	} else {
		log.Warn("No backend token configured, starting without a user session")
	}

	// Initialize handlers
	jobsHandler := handler.NewJobsHandler(engine, validate)
	toastsHandler := handler.NewToastsHandler(engine)

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.Server.JWTSecret)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "connected": engine.IsConnected()})
	})

	// API routes
	api := app.Group("/api", authMiddleware.Authenticate())

	api.Get("/status", jobsHandler.Status)
	api.Get("/jobs", jobsHandler.List)
	api.Post("/jobs", jobsHandler.Add)
	api.Delete("/jobs/oldest", jobsHandler.RemoveOldest)
	api.Post("/reconcile", jobsHandler.Reconcile)
	api.Get("/updates/:family", jobsHandler.Updates)
	api.Get("/toasts", toastsHandler.List)
	api.Post("/toasts/:id/minimize", toastsHandler.Minimize)
	api.Post("/toasts/:id/restore", toastsHandler.Restore)

	// Local WebSocket feed, behind the same token check as the API
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", authMiddleware.Authenticate(), websocket.New(func(c *websocket.Conn) {
		userID, _ := c.Locals("userId").(string)
		if userID == "" {
			userID = engine.UserID()
		}
		uiHub.HandleConnection(c, userID)
	}))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("Shutting down syncd...")
		engine.Close(context.Background())
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.WithError(err).Error("Server shutdown error")
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.WithField("addr", addr).Info("syncd starting")
	if err := app.Listen(addr); err != nil {
		log.WithError(err).Fatal("Server error")
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
