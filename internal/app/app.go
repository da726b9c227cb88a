package app

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/gift-orders/internal/domain/catalog"
	"github.com/xenking/gift-orders/internal/domain/member"
	"github.com/xenking/gift-orders/internal/domain/order"
	"github.com/xenking/gift-orders/internal/handler"
	"github.com/xenking/gift-orders/internal/notify"
	"github.com/xenking/gift-orders/internal/seed"
	"github.com/xenking/gift-orders/internal/storage/memory"
	"github.com/xenking/gift-orders/internal/storage/postgres"
	"github.com/xenking/gift-orders/pkg/health"
	"github.com/xenking/gift-orders/pkg/httpmiddleware"
)

// backend bundles the storage ports of one storage implementation.
type backend struct {
	catalog catalog.Repository
	members member.Repository
	orders  order.Repository
	uow     order.UnitOfWork
	close   func()
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr), zap.String("storage", cfg.Storage))

	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second))

	var (
		store backend
		err   error
	)
	switch cfg.Storage {
	case StorageMemory:
		store, err = openMemory(ctx, lg, cfg)
	default:
		store, err = openPostgres(ctx, cfg, healthSvc)
	}
	if err != nil {
		return err
	}
	defer store.close()

	// Notifications go out through an instrumented client; without an
	// endpoint the dispatcher only logs.
	var channel notify.Channel
	if cfg.Notify.Endpoint != "" {
		client := &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithTracerProvider(m.TracerProvider()),
				otelhttp.WithMeterProvider(m.MeterProvider()),
			),
		}
		channel = notify.NewHTTPChannel(cfg.Notify.Endpoint, client)
	}
	dispatcher, err := notify.NewDispatcher(channel, notify.DispatcherOptions{
		Timeout:       cfg.Notify.Timeout,
		MeterProvider: m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create notification dispatcher")
	}
	defer dispatcher.Wait()

	orderService, err := order.NewService(store.uow, store.orders, dispatcher, order.ServiceOptions{
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create order service")
	}
	resolver := handler.NewJWTResolver([]byte(cfg.JWTSecret), store.members)

	// Redis backs idempotency keys and a shared rate limit window when
	// configured; otherwise rate limiting stays in-process.
	var (
		placeOrderMW []func(http.Handler) http.Handler
		limiter      httpmiddleware.Limiter
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer func() {
			if err := rdb.Close(); err != nil {
				lg.Warn("Close redis", zap.Error(err))
			}
		}()
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingCheck(health.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})))

		placeOrderMW = append(placeOrderMW, httpmiddleware.Idempotency(httpmiddleware.IdempotencyConfig{
			Store: httpmiddleware.NewRedisIdempotencyStore(rdb, "gift:idem:"),
			TTL:   cfg.Redis.IdempotencyTTL,
			Scope: func(r *http.Request) string {
				if mem, ok := handler.MemberFromContext(r.Context()); ok {
					return strconv.FormatInt(mem.ID, 10)
				}
				return ""
			},
		}))
		limiter = httpmiddleware.NewRedisLimiter(rdb, "gift:rl:", cfg.RateLimit.Max, cfg.RateLimit.Window)
	} else {
		ml := httpmiddleware.NewMemoryLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window)
		ml.StartCleanup(ctx)
		limiter = ml
	}

	h := handler.NewHandler(
		handler.HandlerConfig{
			Middlewares: []func(http.Handler) http.Handler{httpmiddleware.LogRequests()},
			PlaceOrder:  placeOrderMW,
		},
		store.catalog,
		orderService,
		resolver,
	)

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/", h.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: otelhttp.NewHandler(
			httpmiddleware.Wrap(mux,
				httpmiddleware.RequestID(),
				httpmiddleware.InjectLogger(zctx.From(ctx)),
				httpmiddleware.Recovery(),
				httpmiddleware.CORS(httpmiddleware.CORSConfig{
					AllowOrigins:     cfg.CORS.Origins,
					AllowHeaders:     []string{"Authorization", "Content-Type", httpmiddleware.IdempotencyHeader},
					ExposeHeaders:    []string{httpmiddleware.RequestIDHeader},
					AllowCredentials: cfg.CORS.AllowCredentials,
					MaxAge:           86400,
				}),
				httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
					Max:     cfg.RateLimit.Max,
					Window:  cfg.RateLimit.Window,
					Limiter: limiter,
				}),
			),
			"gift-api",
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	lg.Info("Waiting for pending notifications")
	return nil
}

func openPostgres(ctx context.Context, cfg *Config, healthSvc *health.Health) (backend, error) {
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return backend{}, errors.Wrap(err, "create db pool")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return backend{}, errors.Wrap(err, "run migrations")
	}
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))

	return backend{
		catalog: postgres.NewCatalogRepository(pool),
		members: postgres.NewMemberRepository(pool),
		orders:  postgres.NewOrderRepository(pool),
		uow:     postgres.NewUnitOfWork(pool),
		close:   pool.Close,
	}, nil
}

func openMemory(ctx context.Context, lg *zap.Logger, cfg *Config) (backend, error) {
	s := memory.New()
	if cfg.SeedFile != "" {
		f, err := seed.Load(cfg.SeedFile)
		if err != nil {
			return backend{}, errors.Wrapf(err, "load seed %s", cfg.SeedFile)
		}
		stats, err := seed.Apply(ctx, f, s, s)
		if err != nil {
			return backend{}, errors.Wrap(err, "apply seed")
		}
		lg.Info("Seeded memory store",
			zap.Int("products", stats.Products),
			zap.Int("options", stats.Options),
			zap.Int("members", stats.Members),
		)
	}
	return backend{
		catalog: s,
		members: s,
		orders:  s,
		uow:     s,
		close:   func() {},
	}, nil
}
