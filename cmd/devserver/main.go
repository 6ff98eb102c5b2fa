// devserver is a development stand-in for the production backend: it
// accepts simulated render submissions, serves the pending-workflows
// query and pushes the four-family wire events over per-user WebSocket
// channels.
package main

import (
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
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/makereels/sync/internal/config"
	"github.com/makereels/sync/internal/handler"
	"github.com/makereels/sync/internal/hub"
	"github.com/makereels/sync/internal/logging"
	"github.com/makereels/sync/internal/middleware"
	"github.com/makereels/sync/internal/service"
	"github.com/makereels/sync/internal/worker"
)

func main() {
	log := logging.NewWithService("devserver")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	validate := validator.New()

	eventHub := hub.New(log)
	go eventHub.Run()

	simulatorService := service.NewSimulatorService(redisClient, asynqClient, cfg.Simulator.Queue)
	simulatorHandler := handler.NewSimulatorHandler(simulatorService, validate)

	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	rateLimiter := middleware.NewRateLimiter(redisClient)

	app.Post("/api/users/:userId/videos",
		rateLimiter.SubmitLimit(cfg.Simulator.SubmitPerHour), simulatorHandler.StartVideo)
	app.Get("/api/users/:userId/workflows/pending", simulatorHandler.ListPending)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/users/:userId", websocket.New(func(c *websocket.Conn) {
		eventHub.HandleConnection(c, c.Params("userId"))
	}))

	// Asynq worker server driving the simulations
	go startWorkerServer(cfg, simulatorService, eventHub, log)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("Shutting down devserver...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.WithError(err).Error("Server shutdown error")
		}
	}()

	addr := ":" + cfg.Devserver.Port
	log.WithField("addr", addr).Info("devserver starting")
	if err := app.Listen(addr); err != nil {
		log.WithError(err).Fatal("Server error")
	}
}

func startWorkerServer(cfg *config.Config, svc *service.SimulatorService, eventHub *hub.Hub, log *logrus.Entry) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				cfg.Simulator.Queue: 10,
			},
		},
	)

	simulatorWorker := worker.NewSimulatorWorker(svc, eventHub, cfg.Simulator.StepDelay, log)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeSimulateVideo, simulatorWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.WithError(err).Error("Asynq worker error")
	}
}
