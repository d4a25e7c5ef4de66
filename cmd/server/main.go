package main

import (
	"context"
	"log"
	"net/http"
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

	"github.com/assetgen/api/internal/auth"
	"github.com/assetgen/api/internal/client"
	"github.com/assetgen/api/internal/config"
	"github.com/assetgen/api/internal/handler"
	"github.com/assetgen/api/internal/middleware"
	"github.com/assetgen/api/internal/pipeline"
	"github.com/assetgen/api/internal/service"
	"github.com/assetgen/api/internal/spool"
	ws "github.com/assetgen/api/internal/websocket"
	"github.com/assetgen/api/internal/worker"
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

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	// Initialize Asynq client and inspector
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize object storage (optional - continues if not configured)
	var storage client.StorageClient
	if cfg.Storage.IsConfigured() {
		storage, err = client.NewStorageClient(&cfg.Storage)
		if err != nil {
			log.Printf("Warning: storage client not initialized: %v", err)
			storage = nil
		}
	} else {
		log.Println("Info: object storage not configured")
	}

	// The browser-facing gateway answers with the relay shape when a relay URL is set;
	// the worker always PUTs directly.
	var gatewaySigner, pipelineSigner client.URLSigner
	if storage != nil {
		gatewaySigner = client.NewStorageSigner(storage, &cfg.Pipeline, cfg.Signer.RelayURL)
		pipelineSigner = client.NewStorageSigner(storage, &cfg.Pipeline, "")
	}
	signerClient := client.NewSignerClient(&cfg.Signer)
	if signerClient.IsConfigured() {
		log.Printf("Info: using signed URL gateway at %s", cfg.Signer.URL)
		pipelineSigner = signerClient
	}

	fireflyClient := client.NewFireflyClient(&cfg.Firefly)

	// Initialize Zitadel JWKS verifier (optional - falls back to legacy JWT)
	var jwksVerifier *auth.JWKSVerifier
	if cfg.Zitadel.Issuer != "" {
		jwksVerifier, err = auth.NewJWKSVerifier(&cfg.Zitadel)
		if err != nil {
			log.Printf("Warning: JWKS verifier not initialized: %v", err)
			jwksVerifier = nil
		} else {
			defer jwksVerifier.Close()
		}
	}
	var tokenVerifier auth.TokenVerifier
	if jwksVerifier != nil {
		tokenVerifier = jwksVerifier
	}

	// Local staging for smart-object uploads
	fileSpool := spool.New(cfg.Pipeline.SpoolDir)
	if err := os.MkdirAll(fileSpool.Dir(), 0o700); err != nil {
		log.Fatalf("Failed to create spool directory: %v", err)
	}

	// Initialize services
	templateService := service.NewTemplateService(storage)
	generationService := service.NewGenerationService(redisClient, asynqClient, inspector, templateService)
	storageService := service.NewStorageService(storage, gatewaySigner)

	// Initialize handlers
	generationHandler := handler.NewGenerationHandler(generationService, fileSpool, hub, validate)
	templateHandler := handler.NewTemplateHandler(templateService)
	storageHandler := handler.NewStorageHandler(storageService, validate)
	authHandler := handler.NewAuthHandler(tokenVerifier, cfg.JWT.Secret)

	// Initialize middleware
	var apiAuthMiddleware fiber.Handler
	if cfg.Gateway.Enabled {
		// Behind Traefik: auth is handled by ForwardAuth, read X-User-* headers
		log.Println("Info: Gateway mode enabled, using header-based auth")
		apiAuthMiddleware = middleware.GatewayAuthMiddleware()
	} else {
		apiAuthMiddleware = middleware.NewAuthMiddleware(tokenVerifier, cfg.JWT.Secret).Authenticate()
	}
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    200 * 1024 * 1024, // 200MB, several smart objects per request
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
				"storage": storage != nil,
				"signer":  pipelineSigner != nil,
				"firefly": fireflyClient.IsConfigured(),
				"auth":    jwksVerifier != nil || cfg.JWT.Secret != "",
			},
		})
	})

	// ForwardAuth verification endpoint (internal, called by Traefik)
	app.Get("/auth/verify", authHandler.Verify)

	// API routes
	api := app.Group("/api", apiAuthMiddleware)

	// Generation routes
	generations := api.Group("/generations")
	generations.Post("/", rateLimiter.GenerationLimit(cfg.RateLimit.GenerationsPerHour), generationHandler.Start)
	generations.Get("/:runId", generationHandler.Status)
	generations.Get("/:runId/result", generationHandler.Result)
	generations.Post("/:runId/cancel", generationHandler.Cancel)
	generations.Post("/:runId/retry", rateLimiter.GenerationLimit(cfg.RateLimit.GenerationsPerHour), generationHandler.Retry)

	// Template routes
	api.Get("/templates/layers", templateHandler.Layers)

	// Storage routes
	storageRoutes := api.Group("/storage")
	storageRoutes.Post("/signed-url", rateLimiter.SignedURLLimit(cfg.RateLimit.SignedURLsPerMin), storageHandler.SignedURL)
	storageRoutes.Post("/relay", rateLimiter.RelayLimit(cfg.RateLimit.RelayPerHour), storageHandler.Relay)
	storageRoutes.Get("/objects", storageHandler.List)
	storageRoutes.Delete("/objects", storageHandler.Delete)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}, apiAuthMiddleware)

	app.Get("/ws/generations/:runId", websocket.New(generationHandler.Stream))

	// Start Asynq worker server and scheduler
	var generationPipeline *pipeline.Pipeline
	if pipelineSigner != nil && fireflyClient.IsConfigured() {
		generationPipeline = pipeline.New(pipelineSigner, fireflyClient, &http.Client{Timeout: 10 * time.Minute}, &cfg.Pipeline)
	} else {
		log.Println("Warning: signer or render API not configured, generation runs stay queued")
	}
	srv := newWorkerServer(cfg, redisOpt)
	mux := newWorkerMux(cfg, generationService, templateService, generationPipeline, hub, fileSpool)
	if err := srv.Start(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}

	scheduler := asynq.NewScheduler(redisOpt, nil)
	if _, err := worker.RegisterSpoolCleanup(scheduler); err != nil {
		log.Printf("Warning: spool cleanup not scheduled: %v", err)
	}
	if err := scheduler.Start(); err != nil {
		log.Printf("Asynq scheduler error: %v", err)
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		scheduler.Shutdown()
		srv.Shutdown()
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

func newWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt) *asynq.Server {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	concurrency := cfg.Pipeline.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}

	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			service.QueueGeneration:  9,
			service.QueueMaintenance: 1,
		},
		LogLevel: asynqLogLevel,
	})
}

func newWorkerMux(
	cfg *config.Config,
	generationService *service.GenerationService,
	templateService *service.TemplateService,
	generationPipeline *pipeline.Pipeline,
	hub *ws.Hub,
	fileSpool *spool.Spool,
) *asynq.ServeMux {
	spoolWorker := worker.NewSpoolWorker(fileSpool, cfg.Pipeline.SpoolMaxAge)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeSpoolCleanup, spoolWorker.ProcessTask)
	if generationPipeline != nil {
		generationWorker := worker.NewGenerationWorker(generationService, templateService, generationPipeline, hub, fileSpool)
		mux.HandleFunc(service.TaskTypeGeneration, generationWorker.ProcessTask)
	}
	return mux
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
