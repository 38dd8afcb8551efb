package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/osvaldoandrade/docintel/internal/middleware"
	"github.com/osvaldoandrade/docintel/internal/providers"
	"github.com/osvaldoandrade/docintel/internal/ratelimit"
	"github.com/osvaldoandrade/docintel/internal/repository"
	"github.com/osvaldoandrade/docintel/internal/services"
	"github.com/osvaldoandrade/docintel/internal/tracing"
	"github.com/osvaldoandrade/docintel/pkg/config"

	"github.com/gin-gonic/gin"
)

// Application is the local emulator of the analysis service.
type Application struct {
	Config      *config.Config
	Engine      *gin.Engine
	Analyze     services.AnalyzeService
	Logger      *slog.Logger
	RateLimiter ratelimit.Limiter
	Throttle    ratelimit.Bucket
	Now         func() time.Time

	redis           *redis.Client
	closeLog        func() error
	TracingShutdown func(context.Context) error
}

// ApplicationOption configures the Application
type ApplicationOption func(*Application) error

// WithLogger replaces the logger built from config.
func WithLogger(logger *slog.Logger) ApplicationOption {
	return func(app *Application) error {
		app.Logger = logger
		return nil
	}
}

// WithClock injects the clock used for operation timestamps and expiry.
func WithClock(now func() time.Time) ApplicationOption {
	return func(app *Application) error {
		app.Now = now
		return nil
	}
}

// WithRedis uses rdb for operations and throttling instead of dialing
// cfg.Emulator.StoreURL.
func WithRedis(rdb *redis.Client) ApplicationOption {
	return func(app *Application) error {
		app.redis = rdb
		return nil
	}
}

func NewApplication(cfg *config.Config, opts ...ApplicationOption) (*Application, error) {
	app := &Application{
		Config:   cfg,
		Now:      time.Now,
		Throttle: ratelimit.Bucket{RequestsPerMinute: cfg.Emulator.RequestsPerMinute, BurstSize: cfg.Emulator.BurstSize},
	}
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	if app.Logger == nil {
		logger, closeLog, err := NewLogger(cfg, "docintel-emulator", nil)
		if err != nil {
			return nil, err
		}
		app.Logger = logger
		app.closeLog = closeLog
	}
	slog.SetDefault(app.Logger)

	if app.redis == nil && cfg.Emulator.StoreURL != "" {
		rdb, err := providers.NewRedisProvider(context.Background(), cfg.Emulator.StoreURL)
		if err != nil {
			return nil, err
		}
		app.redis = rdb
	}

	var repo repository.OperationRepository
	if app.redis != nil {
		repo = repository.NewOperationRepository(app.redis, cfg.ResultTTL())
		app.RateLimiter = ratelimit.NewTokenBucketLimiter(app.redis, app.Now)
	} else {
		repo = repository.NewMemoryOperationRepository(cfg.ResultTTL(), app.Now)
		if app.Throttle.Enabled() {
			app.Logger.Warn("throttling needs a redis store; requests will not be throttled")
		}
	}

	app.Analyze = services.NewAnalyzeService(repo, services.AnalyzeSettings{
		PollsUntilDone: cfg.Emulator.PollsUntilDone,
		FailingModel:   cfg.Emulator.FailingModel,
	}, app.Logger, app.Now)

	shutdown, err := tracing.Setup(context.Background(), tracing.Config{
		Enabled:      cfg.TracingEnabled,
		ServiceName:  "docintel-emulator",
		OTLPEndpoint: cfg.OTLPEndpoint,
		OTLPInsecure: cfg.OTLPInsecure,
		SampleRatio:  cfg.TracingSampleRatio,
	}, app.Logger)
	if err != nil {
		return nil, err
	}
	app.TracingShutdown = shutdown

	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.RequestIDMiddleware(), middleware.TracingMiddleware("docintel-emulator"), middleware.LoggerMiddleware(app.Logger))
	app.Engine = engine

	return app, nil
}

// Close flushes traces and releases the store.
func (app *Application) Close(ctx context.Context) error {
	var errs []error
	if app.TracingShutdown != nil {
		errs = append(errs, app.TracingShutdown(ctx))
	}
	if app.redis != nil {
		errs = append(errs, app.redis.Close())
	}
	if app.closeLog != nil {
		errs = append(errs, app.closeLog())
	}
	return errors.Join(errs...)
}
