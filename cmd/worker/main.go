package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-checkout/internal/cart"
	"github.com/noah-isme/storefront-checkout/internal/checkout"
	"github.com/noah-isme/storefront-checkout/internal/config"
	"github.com/noah-isme/storefront-checkout/internal/db"
	"github.com/noah-isme/storefront-checkout/internal/events"
	"github.com/noah-isme/storefront-checkout/internal/lock"
	"github.com/noah-isme/storefront-checkout/internal/obs"
	"github.com/noah-isme/storefront-checkout/internal/order"
	"github.com/noah-isme/storefront-checkout/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("component", "worker").Logger()
	if !cfg.ReconcileEnabled {
		logger.Info().Msg("commit reconciliation disabled, nothing to do")
		return
	}
	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)
	resilience.RegisterMetrics(nil)

	tel, err := obs.StartTelemetry(context.Background(), obs.TelemetryConfig{
		ServiceName:      "storefront-checkout-worker",
		Environment:      cfg.AppEnv,
		TracingEnabled:   cfg.Obs.TracingEnabled,
		TraceExporter:    cfg.Obs.TracingExporter,
		OTLPEndpoint:     cfg.Obs.OTLPEndpoint,
		SamplingRatio:    cfg.Obs.SamplingRatio,
		MetricsEnabled:   cfg.Obs.MetricsEnabled,
		MetricsNamespace: cfg.Obs.MetricsNamespace,
	})
	if err != nil {
		logger.Error().Err(err).Msg("initialise telemetry")
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("shutdown telemetry")
		}
	}()
	commitDuration, err := obs.NewCallDuration(obs.Meter(), "order.commit.latency", "Order service commit latency.")
	if err != nil {
		logger.Error().Err(err).Msg("create order commit histogram")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{Tracer: obs.PGXTracer{}})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	locker := lock.Redis{R: redisClient, RetryBackoff: cfg.LockRetryBackoff}
	orchestrator := &checkout.Orchestrator{
		Store: &checkout.PGStore{Pool: pool},
		Orders: &order.Client{BaseURL: cfg.OrderAPIURL, HTTP: resilience.HTTPClient{
			Client: &http.Client{Transport: obs.OutboundTransport(http.DefaultTransport)},
			Breaker: resilience.NewBreaker(resilience.BreakerConfig{
				Target:       "orders",
				MinRequests:  cfg.CircuitMinReqs,
				FailureRatio: cfg.CircuitFailRatio,
				OpenFor:      cfg.CircuitOpenFor,
				Logger:       logger,
			}),
			MaxAttempts: 1,
			Timeout:     cfg.UpstreamTimeout,
		}, Duration: commitDuration},
		Carts: &cart.Manager{
			Storage: &cart.RedisStorage{Client: redisClient, TTL: cfg.CartTTL},
			Locker:  locker,
			LockTTL: cfg.LockTTL,
		},
		Locker: locker,
		Events: &events.Bus{
			Store:     &events.PGStore{Pool: pool},
			Notifiers: []events.Notifier{events.LogNotifier{Logger: logger}},
		},
		Config: checkout.Config{
			Currency:      cfg.Currency,
			CurrencyScale: cfg.CurrencyScale,
			AdvanceRatio:  cfg.AdvanceRatio,
			CommitTimeout: cfg.CommitTimeout,
			LockTTL:       cfg.LockTTL,
		},
		Logger: logger.With().Str("component", "checkout").Logger(),
	}

	srv := asynq.NewServerFromRedisClient(redisClient, asynq.Config{
		Concurrency: cfg.ReconcileConcurrency,
		Queues:      map[string]int{cfg.ReconcileQueue: 1},
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			return resilience.Backoff(cfg.ReconcileDelay, n, 0.2)
		},
		Logger:          asynqLogger{logger},
		ShutdownTimeout: 20 * time.Second,
	})
	mux := asynq.NewServeMux()
	mux.Handle(checkout.TaskReconcileCommit, checkout.ReconcileHandler{Orchestrator: orchestrator, Logger: logger})

	logger.Info().Str("queue", cfg.ReconcileQueue).Int("concurrency", cfg.ReconcileConcurrency).Msg("worker starting")
	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}
	<-ctx.Done()
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

// asynqLogger routes asynq's internal logging through zerolog.
type asynqLogger struct{ l zerolog.Logger }

func (a asynqLogger) Debug(args ...any) { a.l.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...any)  { a.l.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...any) { a.l.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...any) { a.l.Fatal().Msg(fmt.Sprint(args...)) }
