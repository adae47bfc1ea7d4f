package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/osvaldoandrade/captureq/internal/artifacts"
	"github.com/osvaldoandrade/captureq/internal/backend"
	"github.com/osvaldoandrade/captureq/internal/backend/chromium"
	"github.com/osvaldoandrade/captureq/internal/backend/remote"
	"github.com/osvaldoandrade/captureq/internal/backoff"
	"github.com/osvaldoandrade/captureq/internal/capture"
	"github.com/osvaldoandrade/captureq/internal/codec"
	"github.com/osvaldoandrade/captureq/internal/metrics"
	"github.com/osvaldoandrade/captureq/internal/middleware"
	"github.com/osvaldoandrade/captureq/internal/providers"
	"github.com/osvaldoandrade/captureq/internal/ratelimit"
	"github.com/osvaldoandrade/captureq/internal/repository"
	"github.com/osvaldoandrade/captureq/internal/services"
	"github.com/osvaldoandrade/captureq/internal/ssrf"
	"github.com/osvaldoandrade/captureq/internal/tracing"
	"github.com/osvaldoandrade/captureq/internal/useragents"
	"github.com/osvaldoandrade/captureq/pkg/config"
)

type Application struct {
	Config   *config.Config
	Engine   *gin.Engine
	Redis    *redis.Client
	Repo     repository.CaptureRepository
	Consumer services.ConsumerService
	// Reconciler is nil when no backend submission API is configured.
	Reconciler  services.ReconcileService
	Logger      *slog.Logger
	TZ          *time.Location
	RateLimiter ratelimit.Limiter

	TracingShutdown func(context.Context) error

	backend   backend.Backend
	submitter backend.Submitter
	resolver  ssrf.Resolver
	logOutput io.Writer
	redis     *redis.Client
}

// ApplicationOption configures the Application
type ApplicationOption func(*Application) error

// WithBackend replaces the local Chromium rendering backend.
func WithBackend(b backend.Backend) ApplicationOption {
	return func(app *Application) error {
		app.backend = b
		return nil
	}
}

// WithSubmitter replaces the HTTP client for the backend submission API.
func WithSubmitter(s backend.Submitter) ApplicationOption {
	return func(app *Application) error {
		app.submitter = s
		return nil
	}
}

// WithResolver sets the DNS resolver used by the network policy.
func WithResolver(r ssrf.Resolver) ApplicationOption {
	return func(app *Application) error {
		app.resolver = r
		return nil
	}
}

// WithRedisClient reuses an existing client instead of dialing cfg.RedisAddr.
func WithRedisClient(rdb *redis.Client) ApplicationOption {
	return func(app *Application) error {
		app.redis = rdb
		return nil
	}
}

// WithLogOutput redirects logs, stdout by default.
func WithLogOutput(w io.Writer) ApplicationOption {
	return func(app *Application) error {
		app.logOutput = w
		return nil
	}
}

// NewLogger builds the root logger the way every captureq binary does.
func NewLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	level := new(slog.LevelVar)
	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	var handler slog.Handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler).With("service", "captureq", "env", cfg.Env)
}

func NewApplication(cfg *config.Config, opts ...ApplicationOption) (*Application, error) {
	app := &Application{Config: cfg}
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	logger := NewLogger(cfg, app.logOutput)
	slog.SetDefault(logger)

	shutdown, err := tracing.Setup(context.Background(), tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  "captureq",
		OTLPEndpoint: cfg.Tracing.Endpoint,
		OTLPInsecure: cfg.Tracing.Insecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		return nil, err
	}

	redisClient := app.redis
	if redisClient == nil {
		redisClient = providers.NewRedisProvider(cfg.RedisAddr, cfg.RedisPassword)
	}
	limiter := ratelimit.NewTokenBucketLimiter(redisClient)
	loc := cfg.Location()

	metrics.RegisterRedisCollector(redisClient, logger)

	repo := repository.NewCaptureRepository(redisClient, loc)

	renderer := app.backend
	if renderer == nil {
		renderer = chromium.New(chromium.Options{
			ExecPath: cfg.ChromePath,
			Timeout:  time.Duration(cfg.CaptureTimeoutSeconds) * time.Second,
			Logger:   logger,
		})
	}
	guard := ssrf.NewGuard(ssrf.Options{
		OnlyGlobalLookups: cfg.OnlyGlobalLookups,
		TorProxy:          cfg.TorProxy,
		Resolver:          app.resolver,
	})
	agents := useragents.NewPool(useragents.Options{
		Dir:      cfg.UserAgentsDir,
		Fallback: cfg.DefaultUserAgent,
		Logger:   logger,
	})
	dispatcher := capture.NewDispatcher(renderer, guard, agents, logger)
	writer := artifacts.NewWriter(providers.NewLocalFileSink(cfg.CapturesDir), repo, artifacts.WithLogger(logger))
	consumer := services.NewConsumerService(repo, dispatcher, writer, codec.Options{DefaultPublic: cfg.DefaultPublic},
		logger, cfg.ConsumerPollIntervalSeconds)

	submitter := app.submitter
	if submitter == nil && cfg.BackendURL != "" {
		client, err := remote.New(remote.Options{
			BaseURL:           cfg.BackendURL,
			AuthSecret:        cfg.BackendAuthSecret,
			RequestsPerSecond: cfg.BackendRequestsPerSecond,
		})
		if err != nil {
			return nil, err
		}
		submitter = client
	}
	var reconciler services.ReconcileService
	if submitter != nil {
		reconciler = services.NewReconcileService(repo, submitter, limiter, services.ReconcileOptions{
			IntervalSeconds: cfg.ReconcileIntervalSeconds,
			ProbeRetries:    cfg.ReconcileProbeRetries,
			ProbeDelay:      time.Duration(cfg.ReconcileProbeDelaySeconds) * time.Second,
			BackoffPolicy:   backoff.ParsePolicy(cfg.ReconcileBackoffPolicy),
			RateLimit:       ratelimit.Bucket(cfg.ReconcileRateLimit),
		}, logger)
	} else {
		logger.Warn("no backendUrl configured; reconciliation disabled")
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.RequestIDMiddleware(), middleware.LoggerMiddleware(logger), middleware.TracingMiddleware())

	app.Engine = engine
	app.Redis = redisClient
	app.Repo = repo
	app.Consumer = consumer
	app.Reconciler = reconciler
	app.Logger = logger
	app.TZ = loc
	app.RateLimiter = limiter
	app.TracingShutdown = shutdown
	return app, nil
}

// StartWorkers runs the consumer and, when configured, the reconciler until
// ctx is cancelled. The returned func blocks until both have returned.
func (a *Application) StartWorkers(ctx context.Context) (wait func()) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Consumer.Start(ctx)
	}()
	if a.Reconciler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Reconciler.Start(ctx)
		}()
	}
	return wg.Wait
}
