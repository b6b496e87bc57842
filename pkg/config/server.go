package config

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/Egham-7/letterpress/internal/api"
	"github.com/Egham-7/letterpress/internal/config"
	"github.com/Egham-7/letterpress/internal/models"
	"github.com/Egham-7/letterpress/internal/services/analytics"
	"github.com/Egham-7/letterpress/internal/services/auth"
	"github.com/Egham-7/letterpress/internal/services/billing"
	"github.com/Egham-7/letterpress/internal/services/circuitbreaker"
	"github.com/Egham-7/letterpress/internal/services/credits"
	"github.com/Egham-7/letterpress/internal/services/database"
	"github.com/Egham-7/letterpress/internal/services/generation"
	"github.com/Egham-7/letterpress/internal/services/middleware"
	"github.com/Egham-7/letterpress/internal/services/notify"
	"github.com/Egham-7/letterpress/internal/services/request"
	"github.com/Egham-7/letterpress/pkg/builder"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/pprof"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/redis/go-redis/v9"
)

const defaultShutdownTimeout = 30 * time.Second

// Server represents a letterpress API server instance.
type Server struct {
	config  *config.Config
	app     *fiber.App
	builder *builder.Builder
}

type serverInfrastructure struct {
	redis     *redis.Client
	db        *database.DB
	analytics *database.DB
}

// serverServices holds everything that needs stopping on shutdown.
type serverServices struct {
	handlers       api.Handlers
	authMiddleware *middleware.AuthMiddleware
	auditor        *credits.ReservationAuditor
	mirror         *analytics.Mirror
	dispatcher     *notify.Dispatcher
	generation     *generation.Service
}

// NewServer creates a new Server instance with the given configuration.
// The cfg parameter is required and must not be nil.
func NewServer(cfg *config.Config) *Server {
	if cfg == nil {
		panic("config cannot be nil - use config.LoadFromFile() or the builder package to create config")
	}
	return &Server{config: cfg}
}

// NewServerWithBuilder creates a Server from a builder, which also carries rate limit, timeout and
// custom middleware settings.
func NewServerWithBuilder(b *builder.Builder) *Server {
	return &Server{
		config:  b.Build(),
		builder: b,
	}
}

// Run starts the server and blocks until shutdown.
func (s *Server) Run() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	setupLogLevel(s.config)

	port := s.config.Server.Port
	if port == "" {
		port = "8080"
	}
	listenAddr := ":" + port

	s.app = createFiberApp(s.config)

	// === Infrastructure Setup ===
	infra, err := initializeInfrastructure(s.config)
	if err != nil {
		return err
	}
	defer infra.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === Services Initialization ===
	services, err := initializeServices(ctx, s.config, infra)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer services.stop()

	// === Middleware Setup ===
	setupMiddleware(s.app, s.config, s.builder)

	// === Routes Setup ===
	api.RegisterRoutes(s.app, services.handlers, services.authMiddleware)
	s.app.Get("/", welcomeHandler())

	go services.auditor.Start(ctx)

	fmt.Printf("letterpress starting on %s\n", listenAddr)
	fmt.Printf("   Environment: %s\n", s.config.Server.Environment)
	fmt.Printf("   Go version: %s\n", runtime.Version())
	fmt.Printf("   GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := s.app.Listen(listenAddr); err != nil {
			serverErrChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		fiberlog.Infof("Received signal: %v. Starting graceful shutdown...", sig)
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	}

	fiberlog.Info("Server shutting down gracefully...")
	shutdownTimeout := defaultShutdownTimeout
	if s.config.Server.ShutdownTimeoutMs > 0 {
		shutdownTimeout = time.Duration(s.config.Server.ShutdownTimeoutMs) * time.Millisecond
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownErrChan := make(chan error, 1)
	go func() {
		shutdownErrChan <- s.app.ShutdownWithTimeout(shutdownTimeout)
	}()

	select {
	case err := <-shutdownErrChan:
		if err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		fiberlog.Info("Server shutdown completed successfully")
	case <-shutdownCtx.Done():
		return fmt.Errorf("shutdown timeout exceeded")
	}

	return nil
}

func createFiberApp(cfg *config.Config) *fiber.App {
	isProd := cfg.IsProduction()

	return fiber.New(fiber.Config{
		AppName:           "letterpress v1.0",
		EnablePrintRoutes: !isProd,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       5 * time.Minute,
		ReadBufferSize:    8192,
		WriteBufferSize:   8192,
		BodyLimit:         8 << 20,
		Prefork:           false,
		CaseSensitive:     true,
		StrictRouting:     false,
		Network:           "tcp",
		ServerHeader:      "letterpress",
		ErrorHandler:      api.ErrorHandler,
	})
}

func setupMiddleware(app *fiber.App, cfg *config.Config, b *builder.Builder) {
	isProd := cfg.IsProduction()

	// Recover middleware (must be first)
	app.Use(recover.New(recover.Config{
		EnableStackTrace: !isProd,
	}))

	app.Use(request.Middleware())

	rateLimit := models.RateLimitConfig{Max: 1000, Expiration: time.Minute}
	if cfg.Server.RateLimitRpm > 0 {
		rateLimit.Max = cfg.Server.RateLimitRpm
	}
	if b != nil && b.GetRateLimitConfig() != nil {
		rateLimit = *b.GetRateLimitConfig()
	}
	keyFunc := rateLimit.KeyFunc
	if keyFunc == nil {
		keyFunc = rateLimitKey
	}
	app.Use(limiter.New(limiter.Config{
		Max:               rateLimit.Max,
		Expiration:        rateLimit.Expiration,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      keyFunc,
		LimitReached: func(c *fiber.Ctx) error {
			return fiber.NewError(fiber.StatusTooManyRequests,
				fmt.Sprintf("%d requests per %v", rateLimit.Max, rateLimit.Expiration))
		},
	}))

	requestTimeout := cfg.RequestTimeout()
	if b != nil && b.GetTimeoutConfig() != nil {
		requestTimeout = b.GetTimeoutConfig().Timeout
	}
	app.Use(func(c *fiber.Ctx) error {
		return timeout.NewWithContext(func(c *fiber.Ctx) error {
			return c.Next()
		}, requestTimeout)(c)
	})

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	if isProd {
		app.Use(logger.New(logger.Config{
			Format: "${time} ${status} ${method} ${path} ${latency} ${bytesSent}b ${locals:request_id}\n",
			Output: os.Stdout,
		}))
	} else {
		app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path} ${locals:request_id} ${error}\n",
			Output: os.Stdout,
		}))
	}

	allowedHeaders := []string{
		"Origin", "Content-Type", "Accept", "Authorization", "User-Agent",
		"X-Request-ID", "Stripe-Signature", "svix-id", "svix-timestamp", "svix-signature",
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowHeaders:     strings.Join(allowedHeaders, ", "),
		AllowMethods:     "GET, POST, OPTIONS",
		AllowCredentials: cfg.Server.AllowedOrigins != "*",
		MaxAge:           86400,
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
	}))

	if b != nil {
		for _, mw := range b.GetMiddlewares() {
			app.Use(mw)
		}
	}

	// Profiler (dev only)
	if !isProd {
		app.Use(pprof.New())
	}
}

// rateLimitKey groups requests by bearer token, falling back to the client IP.
func rateLimitKey(c *fiber.Ctx) string {
	if token := c.Get(fiber.HeaderAuthorization); token != "" {
		return token
	}
	return c.IP()
}

func setupLogLevel(cfg *config.Config) {
	logLevel := cfg.GetNormalizedLogLevel()

	switch logLevel {
	case "trace":
		fiberlog.SetLevel(fiberlog.LevelTrace)
	case "debug":
		fiberlog.SetLevel(fiberlog.LevelDebug)
	case "info", "":
		fiberlog.SetLevel(fiberlog.LevelInfo)
	case "warn", "warning":
		fiberlog.SetLevel(fiberlog.LevelWarn)
	case "error":
		fiberlog.SetLevel(fiberlog.LevelError)
	case "fatal":
		fiberlog.SetLevel(fiberlog.LevelFatal)
	case "panic":
		fiberlog.SetLevel(fiberlog.LevelPanic)
	default:
		fiberlog.SetLevel(fiberlog.LevelInfo)
		fiberlog.Warnf("Unknown log level '%s', defaulting to 'info'", logLevel)
	}

	fiberlog.Infof("Log level set to: %s", logLevel)
}

func createRedisClient(cfg *config.Config) (*redis.Client, error) {
	if cfg.Redis == nil || cfg.Redis.URL == "" {
		fiberlog.Info("Redis not configured - circuit breakers disabled, notifications go to the log")
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opt.PoolSize = 50
	opt.MinIdleConns = 10
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	opt.ConnMaxLifetime = 30 * time.Minute
	opt.DialTimeout = 10 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 8 * time.Millisecond
	opt.MaxRetryBackoff = 512 * time.Millisecond

	fiberlog.Debugf("Redis client configuration: PoolSize=%d, MinIdle=%d, MaxRetries=%d",
		opt.PoolSize, opt.MinIdleConns, opt.MaxRetries)

	return testRedisConnectionWithRetry(redis.NewClient(opt))
}

func testRedisConnectionWithRetry(client *redis.Client) (*redis.Client, error) {
	const maxAttempts = 3
	const baseDelay = 1 * time.Second

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()

		if err == nil {
			fiberlog.Infof("Redis connection established successfully (attempt %d/%d)", attempt, maxAttempts)
			return client, nil
		}

		fiberlog.Warnf("Redis connection failed (attempt %d/%d): %v", attempt, maxAttempts, err)

		if attempt < maxAttempts {
			delay := time.Duration(attempt) * baseDelay
			fiberlog.Infof("Retrying Redis connection in %v...", delay)
			time.Sleep(delay)
		}
	}

	if err := client.Close(); err != nil {
		fiberlog.Errorf("Failed to close Redis client after connection failures: %v", err)
	}

	return nil, fmt.Errorf("failed to connect to Redis after %d attempts", maxAttempts)
}

func initializeInfrastructure(cfg *config.Config) (*serverInfrastructure, error) {
	infra := &serverInfrastructure{}

	redisClient, err := createRedisClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis client: %w", err)
	}
	infra.redis = redisClient

	db, err := database.New(*cfg.Database)
	if err != nil {
		infra.close()
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	infra.db = db
	fiberlog.Infof("Database (%s) initialized successfully", db.DriverName())

	if err := database.Migrate(db); err != nil {
		infra.close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}
	fiberlog.Info("Database migrations completed successfully")

	if cfg.Analytics != nil {
		analyticsDB, err := database.New(cfg.Analytics.Database)
		if err != nil {
			infra.close()
			return nil, fmt.Errorf("failed to connect analytics database: %w", err)
		}
		infra.analytics = analyticsDB

		if err := database.RunClickHouseMigrations(analyticsDB.DB); err != nil {
			infra.close()
			return nil, fmt.Errorf("failed to run analytics migrations: %w", err)
		}
		fiberlog.Info("Analytics mirror database ready")
	}

	return infra, nil
}

func (i *serverInfrastructure) close() {
	if i.redis != nil {
		if err := i.redis.Close(); err != nil {
			fiberlog.Errorf("Failed to close Redis client: %v", err)
		}
	}
	for _, db := range []*database.DB{i.analytics, i.db} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil {
			fiberlog.Errorf("Failed to close %s connection: %v", db.DriverName(), err)
		}
	}
}

func initializeServices(ctx context.Context, cfg *config.Config, infra *serverInfrastructure) (*serverServices, error) {
	svc := &serverServices{}

	var ledgerOpts []credits.Option
	if infra.analytics != nil {
		svc.mirror = analytics.NewMirror(analytics.NewGormSink(infra.analytics.DB), cfg.Analytics.Workers, cfg.Analytics.BufferSize)
		ledgerOpts = append(ledgerOpts, credits.WithObserver(svc.mirror))
	}

	ledger, err := credits.NewLedger(infra.db.DB, credits.ConfigFromModel(cfg.Credits), ledgerOpts...)
	if err != nil {
		return nil, err
	}

	svc.auditor = credits.NewReservationAuditor(ledger, cfg.AuditInterval(), cfg.StaleReservationAge())

	var notifier notify.Notifier = notify.LogNotifier{}
	var breakers generation.BreakerSource
	if infra.redis != nil {
		prefix := ""
		if cfg.Redis != nil {
			prefix = cfg.Redis.ChannelPrefix
		}
		notifier = notify.NewRedisNotifier(infra.redis, prefix)
		breakers = generation.BreakersFromRegistry(circuitbreaker.NewRegistry(infra.redis, circuitbreaker.DefaultConfig()))
	}
	svc.dispatcher = notify.NewDispatcher(notifier, 0)

	genOpts, err := generation.ProvidersFromConfig(cfg.Providers)
	if err != nil {
		return nil, fmt.Errorf("failed to create providers: %w", err)
	}
	if cfg.PromptCache != nil && cfg.PromptCache.Enabled {
		cacheCfg := *cfg.PromptCache
		if cacheCfg.Backend == models.CacheBackendRedis && cacheCfg.RedisURL == "" && cfg.Redis != nil {
			cacheCfg.RedisURL = cfg.Redis.URL
		}
		if cacheCfg.OpenAIAPIKey == "" && cfg.Providers.OpenAI != nil {
			cacheCfg.OpenAIAPIKey = cfg.Providers.OpenAI.APIKey
		}
		cache, err := generation.NewSemanticPromptCache(cacheCfg)
		if err != nil {
			fiberlog.Warnf("Prompt cache disabled: %v", err)
		} else {
			genOpts = append(genOpts, generation.WithPromptCache(cache))
		}
	}
	svc.generation = generation.NewService(generation.NewMeter(ledger, breakers), cfg.Providers.Default, genOpts...)

	var redisClient redis.UniversalClient
	if infra.redis != nil {
		redisClient = infra.redis
	}
	svc.handlers = api.Handlers{
		Health:     api.NewHealthHandler(infra.db, redisClient),
		Credits:    api.NewCreditsHandler(ledger, cfg.StaleReservationAge()),
		Generation: api.NewGenerationHandler(svc.generation),
	}

	if cfg.Billing != nil {
		billingSvc := billing.NewService(infra.db.DB, ledger, svc.dispatcher, *cfg.Billing)
		if err := billingSvc.SyncPackages(ctx); err != nil {
			return nil, fmt.Errorf("failed to sync credit packages: %w", err)
		}
		svc.handlers.Billing = api.NewBillingHandler(billingSvc)
	}

	var users, services auth.TokenVerifier
	if clerkCfg := cfg.Auth.ClerkConfig; clerkCfg != nil {
		users = auth.NewClerkVerifier(clerkCfg.SecretKey)
		if clerkCfg.WebhookSecret != "" {
			verifier, err := auth.NewClerkWebhookVerifier(clerkCfg.WebhookSecret)
			if err != nil {
				return nil, fmt.Errorf("invalid clerk webhook secret: %w", err)
			}
			svc.handlers.ClerkWebhook = api.NewClerkWebhookHandler(verifier, ledger)
		}
	}
	if cfg.Auth.ServiceTokenSecret != "" {
		tokens, err := auth.NewServiceTokens(cfg.Auth.ServiceTokenSecret)
		if err != nil {
			return nil, err
		}
		services = tokens
	}
	if users == nil && services == nil {
		fiberlog.Warn("No auth configured - user and internal routes will reject every request")
	}
	svc.authMiddleware = middleware.NewAuthMiddleware(users, services, nil)

	return svc, nil
}

// stop halts the auditor, then waits for notifications and drains the mirror queue.
func (s *serverServices) stop() {
	s.auditor.Stop()
	s.dispatcher.Close()
	if s.mirror != nil {
		s.mirror.Stop()
	}
	s.generation.Close()
}

func welcomeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message":    "letterpress credit service",
			"version":    "1.0.0",
			"go_version": runtime.Version(),
			"status":     "running",
			"endpoints": fiber.Map{
				"credits":  "/v1/credits",
				"generate": "/v1/generate",
				"billing":  "/v1/billing",
				"internal": "/internal/credits",
				"health":   "/health",
			},
		})
	}
}
