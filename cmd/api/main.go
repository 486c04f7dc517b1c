package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-checkout/internal/cart"
	"github.com/noah-isme/storefront-checkout/internal/checkout"
	"github.com/noah-isme/storefront-checkout/internal/common"
	"github.com/noah-isme/storefront-checkout/internal/config"
	"github.com/noah-isme/storefront-checkout/internal/db"
	"github.com/noah-isme/storefront-checkout/internal/discount"
	"github.com/noah-isme/storefront-checkout/internal/events"
	"github.com/noah-isme/storefront-checkout/internal/health"
	"github.com/noah-isme/storefront-checkout/internal/lock"
	"github.com/noah-isme/storefront-checkout/internal/obs"
	"github.com/noah-isme/storefront-checkout/internal/order"
	"github.com/noah-isme/storefront-checkout/internal/payment"
	"github.com/noah-isme/storefront-checkout/internal/pricing"
	"github.com/noah-isme/storefront-checkout/internal/ratelimit"
	"github.com/noah-isme/storefront-checkout/internal/resilience"
	"github.com/noah-isme/storefront-checkout/internal/security"
	"github.com/noah-isme/storefront-checkout/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)
	resilience.RegisterMetrics(nil)

	tel, err := obs.StartTelemetry(context.Background(), obs.TelemetryConfig{
		ServiceName:      "storefront-checkout",
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
		tel = &obs.Telemetry{}
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
	sessionDuration, err := obs.NewCallDuration(obs.Meter(), "payment.session.latency", "Payment gateway session creation latency.")
	if err != nil {
		logger.Error().Err(err).Msg("create payment session histogram")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.AutoMigrate {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migrate database")
		}
	}
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

	outbound := func(target string, attempts int) resilience.HTTPClient {
		return resilience.HTTPClient{
			Client: &http.Client{Transport: obs.OutboundTransport(http.DefaultTransport)},
			Breaker: resilience.NewBreaker(resilience.BreakerConfig{
				Target:       target,
				MinRequests:  cfg.CircuitMinReqs,
				FailureRatio: cfg.CircuitFailRatio,
				OpenFor:      cfg.CircuitOpenFor,
				Logger:       logger,
			}),
			MaxAttempts: attempts,
			Timeout:     cfg.UpstreamTimeout,
		}
	}

	upstreamClient := &upstream.Client{BaseURL: cfg.UpstreamAPIURL, HTTP: outbound("upstream", 3)}
	subscriptions := &pricing.CachedSubscriptions{
		Lookup: upstreamClient,
		Client: redisClient,
		TTL:    cfg.SubscriptionCacheTTL,
		Logger: logger.With().Str("component", "subscriptions").Logger(),
	}

	locker := lock.Redis{R: redisClient, RetryBackoff: cfg.LockRetryBackoff}
	carts := &cart.Manager{
		Storage: &cart.RedisStorage{Client: redisClient, TTL: cfg.CartTTL},
		Locker:  locker,
		LockTTL: cfg.LockTTL,
	}
	quoter := &cart.Quoter{Coupons: upstreamClient, Wallet: upstreamClient, Engine: discount.Engine{Scale: cfg.CurrencyScale}}
	cartHandler := &cart.Handler{
		Carts:         carts,
		Catalog:       upstreamClient,
		Subscriptions: subscriptions,
		Quoter:        quoter,
		Logger:        logger.With().Str("component", "cart").Logger(),
	}

	providers := map[string]payment.Provider{
		"midtrans": payment.Midtrans{
			ServerKey: cfg.MidtransServerKey,
			BaseURL:   cfg.MidtransBaseURL,
			Sandbox:   cfg.PaymentSandbox,
			HTTP:      outbound("midtrans", 1),
		},
		"xendit": payment.Xendit{
			SecretKey:     cfg.XenditSecretKey,
			CallbackToken: cfg.XenditCallbackToken,
			BaseURL:       cfg.XenditBaseURL,
			HTTP:          outbound("xendit", 1),
		},
	}
	gateway := &payment.Service{
		Provider: providers[cfg.PaymentProvider],
		Timeout:  cfg.GatewayTimeout,
		Duration: sessionDuration,
		Logger:   logger.With().Str("component", "payment").Logger(),
	}

	eventStore := &events.PGStore{Pool: pool}
	notifiers := []events.Notifier{events.LogNotifier{Logger: logger.With().Str("component", "events").Logger()}}
	if cfg.ReconcileEnabled {
		taskClient := asynq.NewClientFromRedisClient(redisClient)
		notifiers = append(notifiers, checkout.ReconcileEnqueuer{
			Client:    taskClient,
			Queue:     cfg.ReconcileQueue,
			Delay:     cfg.ReconcileDelay,
			MaxRetry:  cfg.ReconcileMaxRetry,
			Retention: 7 * 24 * time.Hour,
			Logger:    logger.With().Str("component", "reconcile").Logger(),
		})
	}
	bus := &events.Bus{Store: eventStore, Notifiers: notifiers}

	// A single attempt per commit; repeats go through RetryCommit only.
	orders := &order.Client{BaseURL: cfg.OrderAPIURL, HTTP: outbound("orders", 1), Duration: commitDuration}
	orchestrator := &checkout.Orchestrator{
		Store:   &checkout.PGStore{Pool: pool},
		Gateway: gateway,
		Orders:  orders,
		Carts:   carts,
		Locker:  locker,
		Events:  bus,
		Config: checkout.Config{
			Currency:       cfg.Currency,
			CurrencyScale:  cfg.CurrencyScale,
			AdvanceRatio:   cfg.AdvanceRatio,
			GatewayTimeout: cfg.GatewayTimeout,
			CommitTimeout:  cfg.CommitTimeout,
			LockTTL:        cfg.LockTTL,
			PaymentTTL:     cfg.PaymentSessionTTL,
			FinishURL:      cfg.PaymentFinishURL,
		},
		Logger: logger.With().Str("component", "checkout").Logger(),
	}
	checkoutHandler := &checkout.Handler{
		Orchestrator: orchestrator,
		Carts:        carts,
		Quoter:       quoter,
		Events:       eventStore,
		Logger:       orchestrator.Logger,
	}
	webhook := payment.Webhook{
		Providers: providers,
		Replay:    redisClient,
		ReplayTTL: cfg.WebhookReplayTTL,
		Handler:   orchestrator,
		Logger:    logger.With().Str("component", "webhook").Logger(),
	}

	checkoutLimiter, err := ratelimit.NewRedisStore(redisClient, "ratelimit:checkout:", cfg.RateLimitCheckout)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter")
	}
	limit := ratelimit.Handler{
		Limiter: checkoutLimiter,
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
	}
	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}

	var httpMetrics *obs.HTTPMetrics
	if cfg.Obs.MetricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, obs.ParseBucketsCSV(cfg.Obs.MetricsBuckets), nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(security.BodyLimit{Max: 1 << 20}.Middleware)
	r.Use(security.Headers{HSTSMaxAge: hstsMaxAge(cfg)}.Middleware)
	r.Use(obs.RoutePatternMiddleware)
	if tel.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(corsOptions(cfg.CORSAllowedOrigins)))

	if cfg.Obs.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if cfg.Obs.PprofEnabled {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), os.Getenv("SECURE_PPROF_BASIC_AUTH_USER"), os.Getenv("SECURE_PPROF_BASIC_AUTH_PASS")))
	}

	healthHandler := health.Handler{Probes: []health.Probe{
		health.PostgresProbe(pool, 500*time.Millisecond),
		health.RedisProbe(redisClient, 300*time.Millisecond),
	}}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Route("/cart", func(c chi.Router) {
			c.Use(common.RequireCustomer)
			c.Get("/", cartHandler.Get)
			c.Group(func(g chi.Router) {
				g.Use(idem.Middleware)
				g.Post("/items", cartHandler.AddItem)
				g.Patch("/items", cartHandler.UpdateItem)
				g.Delete("/items", cartHandler.RemoveItem)
				g.Delete("/", cartHandler.Clear)
			})
			c.Post("/quote", cartHandler.Quote)
		})

		v.Route("/checkout", func(c chi.Router) {
			c.Use(common.RequireCustomer)
			c.With(limit.Middleware, idem.Middleware).Post("/", checkoutHandler.PlaceOrder)
			c.Group(func(g chi.Router) {
				g.Use(idem.Middleware)
				checkoutHandler.Routes(g)
			})
		})

		v.Post("/webhooks/payment/{provider}", webhook.ServeHTTP)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		logger.Info().Msg("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Str("payment_provider", gateway.ProviderName()).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
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
	if cfg.Obs.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func hstsMaxAge(cfg *config.Config) int {
	if cfg.IsProduction() {
		return 31536000
	}
	return 0
}

// corsOptions allows any origin without credentials unless explicit origins
// are configured. Credentials are never combined with a wildcard.
func corsOptions(origins []string) cors.Options {
	opts := cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Idempotency-Key", common.CustomerHeader},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}
	var explicit []string
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" || o == "*" {
			continue
		}
		explicit = append(explicit, o)
	}
	if len(explicit) > 0 {
		opts.AllowedOrigins = explicit
		opts.AllowCredentials = true
	}
	return opts
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
