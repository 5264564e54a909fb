package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
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

	"github.com/wsiviewer/api/internal/client"
	"github.com/wsiviewer/api/internal/config"
	"github.com/wsiviewer/api/internal/handler"
	"github.com/wsiviewer/api/internal/middleware"
	"github.com/wsiviewer/api/internal/progress"
	"github.com/wsiviewer/api/internal/service"
	"github.com/wsiviewer/api/internal/tilecache"
	"github.com/wsiviewer/api/internal/worker"
	ws "github.com/wsiviewer/api/internal/websocket"
)

// @title          WSI Viewer API
// @version        1.0
// @description    Backend API for whole-slide image conversion and DeepZoom tile serving.
// @host           localhost:8000
// @BasePath       /
// @schemes        http https
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ensure working directories exist before anything touches them
	if err := os.MkdirAll(cfg.Storage.UploadDir, 0o755); err != nil {
		log.Fatalf("Failed to create upload dir: %v", err)
	}
	if err := os.MkdirAll(cfg.Storage.CacheDir, 0o755); err != nil {
		log.Fatalf("Failed to create cache dir: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
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

	// Initialize GCS client (optional - continues if not configured)
	var gcsClient client.StorageClient
	var gcsInitErr string
	credsFound := cfg.GCS.CredentialsFile != ""
	if cfg.GCS.Bucket != "" {
		c, err := client.NewGCSClient(ctx, &cfg.GCS)
		if err != nil {
			gcsInitErr = err.Error()
			log.Printf("Warning: GCS client not initialized: %v", err)
		} else {
			gcsClient = c
		}
	} else {
		log.Println("Info: GCS staging not configured")
	}

	// Initialize tile cache and job registry
	cache := tilecache.New(cfg.Storage.CacheDir)
	tracker := progress.NewTracker()

	// Initialize services
	slideService := service.NewSlideService(cfg.Storage.UploadDir, cache)
	convertService := service.NewConvertService(tracker, cache, asynqClient, cfg.Tiling)

	// Initialize handlers
	slideHandler := handler.NewSlideHandler(slideService, convertService)
	convertHandler := handler.NewConvertHandler(convertService, slideService, validate)
	tileHandler := handler.NewTileHandler(cache)
	gcsHandler := handler.NewGCSHandler(gcsClient, slideService, convertService, credsFound, gcsInitErr)

	// Initialize middleware
	var apiAuthMiddleware fiber.Handler
	if cfg.Gateway.Enabled {
		// Behind the gateway: identity arrives in X-User-* headers
		log.Println("Info: Gateway mode enabled — using header-based identity")
		apiAuthMiddleware = middleware.GatewayAuthMiddleware()
	} else {
		apiAuthMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    cfg.Storage.MaxUploadMB * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis": redisClient.Ping(c.Context()).Err() == nil,
				"gcs":   gcsClient != nil,
			},
		})
	})

	// API routes
	api := app.Group("/api", apiAuthMiddleware)

	// Slide management
	api.Get("/slides", slideHandler.List)
	api.Post("/upload", rateLimiter.UploadLimit(cfg.RateLimit.UploadPerHour), slideHandler.Upload)
	api.Get("/info/:slide", slideHandler.Info)
	api.Delete("/delete/:slide", slideHandler.Delete)

	// Conversion
	api.Post("/convert/:slide", rateLimiter.ConvertLimit(cfg.RateLimit.ConvertPerHour), convertHandler.Start)
	api.Get("/progress/:slide", convertHandler.Progress)

	// Viewer routes
	api.Get("/dzi/:slide", tileHandler.Descriptor)
	api.Get("/tiles/:slide/:level/:tile", tileHandler.Tile)

	// GCS staging routes
	gcs := api.Group("/gcs")
	gcs.Get("/files", gcsHandler.Files)
	gcs.Get("/status", gcsHandler.Status)
	gcs.Post("/download", rateLimiter.DownloadLimit(cfg.RateLimit.DownloadPerHour), gcsHandler.Download)
	gcs.Get("/signed-url", gcsHandler.SignedURL)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/slides/:slide", websocket.New(func(c *websocket.Conn) {
		slideID := c.Params("slide")
		hub.HandleConnection(c, slideID)
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, tracker, cache, hub)

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

func startWorkerServer(cfg *config.Config, tracker *progress.Tracker, cache *tilecache.Cache, hub *ws.Hub) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			// Concurrency bounds simultaneous slide conversions; tile fan-out
			// within one slide is bounded separately by Tiling.Workers.
			Concurrency: cfg.Tiling.Conversions,
			Queues: map[string]int{
				"convert": 1,
			},
			LogLevel: asynqLogLevel,
		},
	)

	convertWorker := worker.NewConvertWorker(tracker, cache, hub, cfg.Tiling.Workers)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeConvert, convertWorker.ProcessTask)

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
