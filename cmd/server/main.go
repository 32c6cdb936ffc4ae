package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/coverloop/api/internal/client"
	"github.com/coverloop/api/internal/config"
	"github.com/coverloop/api/internal/convergence"
	"github.com/coverloop/api/internal/database"
	"github.com/coverloop/api/internal/handler"
	"github.com/coverloop/api/internal/logging"
	"github.com/coverloop/api/internal/middleware"
	"github.com/coverloop/api/internal/pipeline"
	"github.com/coverloop/api/internal/pricing"
	"github.com/coverloop/api/internal/repository"
	"github.com/coverloop/api/internal/service"
	ws "github.com/coverloop/api/internal/websocket"
	"github.com/coverloop/api/internal/worker"
	"github.com/coverloop/api/pkg/response"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", "err", err)
	}

	lg := logging.New(os.Stderr, cfg.Server.LogLevel)

	db, err := database.Connect(&cfg.Database, cfg.Server.LogLevel)
	if err != nil {
		lg.Fatal("Failed to connect database", "driver", cfg.Database.Driver, "err", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		lg.Fatal("Failed to migrate database", "err", err)
	}
	store := repository.NewStore(db)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		lg.Warn("Redis not available", "err", err)
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	validate := validator.New()

	hub := ws.NewHub(logging.Component(lg, "hub"))
	go hub.Run(ctx)

	// External clients
	spotifyClient := client.NewSpotifyClient(&cfg.Spotify, logging.Component(lg, "spotify"))
	lyricsClient := client.NewLyricsClient(&cfg.Lyrics)
	groqClient := client.NewGroqClient(&cfg.Groq, logging.Component(lg, "groq"))
	replicateClient := client.NewReplicateClient(&cfg.Replicate, logging.Component(lg, "replicate"))
	if !replicateClient.IsConfigured() {
		lg.Warn("Image generation API key not set, generations will fail")
	}
	r2Client, err := client.NewR2Client(&cfg.R2)
	if err != nil {
		lg.Fatal("R2 client not initialized", "err", err)
	}

	prices := pricing.NewTable(&cfg.Pricing, logging.Component(lg, "pricing"))
	ledger := pricing.NewLedger(store.Usage, logging.Component(lg, "ledger"))
	integrityService := service.NewIntegrityService(store, spotifyClient, logging.Component(lg, "integrity"))

	runner := pipeline.NewRunner(pipeline.Deps{
		Store:        store,
		Playlists:    spotifyClient,
		Lyrics:       lyricsClient,
		Extractor:    groqClient,
		Images:       replicateClient,
		Storage:      r2Client,
		Convergence:  convergence.NewEngine(store, logging.Component(lg, "convergence")),
		Prices:       prices,
		Ledger:       ledger,
		Reporter:     hub,
		Integrity:    integrityService,
		DefaultModel: cfg.Replicate.DefaultModel,
		MaxTracks:    cfg.Worker.MaxTracks,
		Logger:       logging.Component(lg, "pipeline"),
	})

	// Services
	dispatcher := service.NewAsynqDispatcher(asynqClient, cfg.Worker.Queue, cfg.Worker.TargetTimeout)
	jobService := service.NewJobService(store, dispatcher, runner, hub, logging.Component(lg, "jobs"))
	cronService := service.NewCronService(store, jobService, logging.Component(lg, "cron"))
	previewService := service.NewPreviewService(store, replicateClient, prices, ledger,
		cfg.Replicate.DefaultModel, cfg.Worker.MaxPreview, logging.Component(lg, "preview"))
	historyService := service.NewHistoryService(store, logging.Component(lg, "history"))

	// Handlers
	jobHandler := handler.NewJobHandler(jobService, validate)
	playlistHandler := handler.NewPlaylistHandler(historyService, integrityService)
	previewHandler := handler.NewPreviewHandler(previewService, validate)

	rateLimiter := middleware.NewRateLimiter(redisClient, logging.Component(lg, "ratelimit"))
	authenticate := middleware.GatewayAuthMiddleware()
	if !cfg.Gateway.Enabled {
		authenticate = middleware.NewAuthMiddleware(cfg.JWT.Secret).Authenticate()
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    1 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api", authenticate)

	api.Post("/trigger", rateLimiter.TriggerLimit(cfg.RateLimit.TriggerPerHour), jobHandler.Trigger)
	api.Post("/cancel", jobHandler.Cancel)
	api.Get("/jobs/active", jobHandler.Active)
	api.Get("/jobs/:jobId", jobHandler.Status)

	playlists := api.Group("/playlists/:playlistId")
	playlists.Get("/generations", playlistHandler.Generations)
	playlists.Get("/claims", playlistHandler.Claims)
	playlists.Get("/integrity", playlistHandler.Integrity)

	api.Post("/styles/:styleId/preview", rateLimiter.PreviewLimit(cfg.RateLimit.PreviewPerHour), previewHandler.Preview)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", authenticate, func(c *fiber.Ctx) error {
		// Only the job's owner may subscribe.
		if _, err := jobService.GetJob(c.Context(), middleware.GetUserID(c), c.Params("jobId")); err != nil {
			return response.NotFound(c, "Job not found")
		}
		return c.Next()
	}, websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, c.Params("jobId"))
	}))

	coverWorker := worker.NewCoverWorker(jobService, cronService, hub, logging.Component(lg, "worker"))
	srv := startWorkerServer(cfg, redisOpt, coverWorker, lg)
	scheduler := startScheduler(cfg, redisOpt, lg)

	go func() {
		<-ctx.Done()
		lg.Info("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			lg.Error("Server shutdown error", "err", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	lg.Info("Server starting", "addr", addr, "env", cfg.Server.Env)
	if err := app.Listen(addr); err != nil {
		lg.Error("Server error", "err", err)
	}

	scheduler.Shutdown()
	srv.Shutdown()
	integrityService.Wait()
}

func asynqLogLevel(level string) asynq.LogLevel {
	switch {
	case strings.EqualFold(level, "debug"):
		return asynq.DebugLevel
	case strings.EqualFold(level, "warn"):
		return asynq.WarnLevel
	case strings.EqualFold(level, "error"):
		return asynq.ErrorLevel
	default:
		return asynq.InfoLevel
	}
}

func startWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt, coverWorker *worker.CoverWorker, lg *log.Logger) *asynq.Server {
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Queues: map[string]int{
			cfg.Worker.Queue: 1,
		},
		LogLevel: asynqLogLevel(cfg.Server.LogLevel),
	})

	mux := asynq.NewServeMux()
	coverWorker.Register(mux)

	if err := srv.Start(mux); err != nil {
		lg.Fatal("Asynq worker error", "err", err)
	}
	return srv
}

func startScheduler(cfg *config.Config, redisOpt asynq.RedisClientOpt, lg *log.Logger) *asynq.Scheduler {
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		LogLevel: asynqLogLevel(cfg.Server.LogLevel),
	})

	entryID, err := scheduler.Register(cfg.Worker.CronSpec, service.NewCoverCronTask(),
		asynq.Queue(cfg.Worker.Queue),
		asynq.MaxRetry(0),
		asynq.Unique(time.Hour),
	)
	if err != nil {
		lg.Fatal("Failed to register cron sweep", "spec", cfg.Worker.CronSpec, "err", err)
	}
	lg.Info("Cron sweep registered", "spec", cfg.Worker.CronSpec, "entry", entryID)

	if err := scheduler.Start(); err != nil {
		lg.Fatal("Scheduler error", "err", err)
	}
	return scheduler
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return response.Error(c, code, response.CodeServiceError, message, nil)
}
