package main

import (
	"context"
	"log"
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

	"github.com/roadguardian/api/internal/client"
	"github.com/roadguardian/api/internal/config"
	"github.com/roadguardian/api/internal/handler"
	"github.com/roadguardian/api/internal/middleware"
	"github.com/roadguardian/api/internal/service"
	"github.com/roadguardian/api/internal/store"
	"github.com/roadguardian/api/internal/worker"
	ws "github.com/roadguardian/api/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Load the report collection; records stuck in processing from a
	// previous run are remapped to error here, before anything reads them.
	reports, err := store.NewReports(ctx, store.NewRedisKV(redisClient))
	if err != nil {
		log.Fatalf("Failed to load report store: %v", err)
	}

	// Analyzer client (unconfigured base URL triggers mock responses)
	analyzerClient := client.NewAnalyzerClient(&cfg.Analyzer)
	if !analyzerClient.IsConfigured() {
		log.Println("Warning: analyzer not configured, using mock analysis")
	}

	// Initialize services
	reportService := service.NewReportService(reports, analyzerClient, asynqClient, cfg.Server.SpoolDir)

	// Initialize handlers
	reportHandler := handler.NewReportHandler(reportService, validate)

	// Initialize middleware
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    200 * 1024 * 1024, // 200MB
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		redisUp := redisClient.Ping(c.Context()).Err() == nil
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":    redisUp,
				"analyzer": analyzerClient.IsConfigured(),
			},
		})
	})

	// Report routes
	api := app.Group("/api")
	reportsGroup := api.Group("/reports")
	reportsGroup.Get("/", reportHandler.List)
	reportsGroup.Post("/", rateLimiter.UploadLimit(cfg.RateLimit.UploadPerHour), reportHandler.Create)
	reportsGroup.Get("/:id", reportHandler.Get)
	reportsGroup.Patch("/:id", reportHandler.Edit)
	reportsGroup.Delete("/:id", reportHandler.Delete)
	reportsGroup.Post("/:id/analyze", rateLimiter.AnalyzeLimit(cfg.RateLimit.AnalyzePerHour), reportHandler.Resume)
	reportsGroup.Post("/:id/submit", reportHandler.Submit)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/reports/:reportId", websocket.New(func(c *websocket.Conn) {
		reportID := c.Params("reportId")
		hub.HandleConnection(c, reportID)
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, reports, analyzerClient, hub)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(cfg *config.Config, reports *store.Reports, analyzer client.Analyzer, hub *ws.Hub) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				service.QueueAnalyze: 10,
			},
		},
	)

	analyzeWorker := worker.NewAnalyzeWorker(reports, analyzer, hub)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeAnalyze, analyzeWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
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
