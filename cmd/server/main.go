package main

import (
	"blockforge/internal/capability"
	"blockforge/internal/config"
	"blockforge/internal/handlers"
	"blockforge/internal/llm"
	"blockforge/internal/logging"
	"blockforge/internal/metrics"
	"blockforge/internal/registry"
	"blockforge/internal/sandbox"
	"blockforge/internal/synthesizer"
	"blockforge/internal/workflow"
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting BlockForge Server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s, DB: %s)", cfg.Port, cfg.DatabasePath)

	// Initialize SQLite database
	db, err := registry.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("❌ Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Initialize(); err != nil {
		log.Fatalf("❌ Failed to initialize database: %v", err)
	}

	reg := registry.New(db)

	// Capability manifest with hot reload
	capRegistry, err := capability.NewRegistry(cfg.ManifestPath, logrus.New())
	if err != nil {
		log.Fatalf("❌ Failed to load capability manifest: %v", err)
	}
	log.Printf("🧰 Loaded %d capabilities from %s", len(capRegistry.Summaries()), cfg.ManifestPath)

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if err := capRegistry.Watch(watchCtx); err != nil {
		log.Printf("⚠️ Capability manifest watch disabled: %v", err)
	}

	// LLM gateway
	if cfg.LLMAPIKey == "" {
		log.Println("⚠️ LLM_API_KEY not set - block generation will fail until configured")
	}
	gateway := llm.NewGateway(llm.Config{
		BaseURL:           cfg.LLMBaseURL,
		APIKey:            cfg.LLMAPIKey,
		Model:             cfg.LLMModel,
		Temperature:       cfg.LLMTemperature,
		MaxRetries:        cfg.LLMMaxRetries,
		RequestsPerSecond: cfg.LLMRequestsPerSecond,
	}, logrus.New())

	// Synthesizer with optional dry-run verification of drafts
	synth := synthesizer.New(gateway, capRegistry, cfg.MaxGenerationAttempts)
	if cfg.DryRunEnabled {
		synth.SetVerifier(sandbox.NewDryRunner(capRegistry.StubResolver(), cfg.BlockTimeout))
		log.Println("✅ Dry-run verification enabled for generated blocks")
	}

	// Execution
	sb := sandbox.New(capRegistry, cfg.BlockTimeout)
	engine := workflow.NewEngine(sb, reg, cfg.MaxParallelNodes, cfg.WorkflowTimeout)

	appMetrics := metrics.Init()

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "BlockForge v1.0",
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 120 * time.Second, // workflow runs can hold the response for a while
		IdleTimeout:  120 * time.Second,
		BodyLimit:    4 * 1024 * 1024,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prometheus := fiberprometheus.New("blockforge")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	// Fiber's CORS middleware does not allow AllowCredentials with wildcard origins.
	allowCredentials := cfg.AllowedOrigins != "*"
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
		AllowCredentials: allowCredentials,
	}))

	// Generation hits a paid LLM provider; keep per-client pressure bounded.
	app.Use("/api", limiter.New(limiter.Config{
		Max:        60,
		Expiration: 1 * time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded, try again shortly",
			})
		},
	}))

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(capRegistry)
	blockHandler := handlers.NewBlockHandler(synth, reg, sb, appMetrics)
	workflowHandler := handlers.NewWorkflowHandler(reg, engine, appMetrics)

	// Routes
	app.Get("/health", healthHandler.Health)

	api := app.Group("/api")
	api.Get("/capabilities", healthHandler.Capabilities)

	api.Post("/blocks/generate", blockHandler.Generate)
	api.Get("/blocks", blockHandler.List)
	api.Get("/blocks/:id", blockHandler.Get)
	api.Delete("/blocks/:id", blockHandler.Delete)
	api.Post("/blocks/:id/run", blockHandler.Run)

	api.Post("/workflows", workflowHandler.Create)
	api.Get("/workflows", workflowHandler.List)
	api.Get("/workflows/:id", workflowHandler.Get)
	api.Delete("/workflows/:id", workflowHandler.Delete)
	api.Post("/workflows/:id/run", workflowHandler.Run)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		stopWatch()

		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}
