package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/oolio-kart-checkout/db"
	"github.com/xenking/oolio-kart-checkout/internal/api"
	"github.com/xenking/oolio-kart-checkout/internal/cache"
	"github.com/xenking/oolio-kart-checkout/internal/domain/auth"
	"github.com/xenking/oolio-kart-checkout/internal/domain/coupon"
	"github.com/xenking/oolio-kart-checkout/internal/domain/order"
	"github.com/xenking/oolio-kart-checkout/internal/domain/pricing"
	"github.com/xenking/oolio-kart-checkout/internal/domain/vat"
	"github.com/xenking/oolio-kart-checkout/internal/repository"
	"github.com/xenking/oolio-kart-checkout/internal/repository/memory"
	"github.com/xenking/oolio-kart-checkout/internal/seed"
	"github.com/xenking/oolio-kart-checkout/pkg/health"
	"github.com/xenking/oolio-kart-checkout/pkg/httpmiddleware"
)

// stores groups the storage collaborators of the domain services.
type stores struct {
	coupons coupon.Store
	ledger  coupon.Ledger
	orders  order.Repository
	rates   vat.Store
	keys    auth.Repository
	pinger  health.Pinger
	close   func()
}

// openStores connects the configured backend. The memory backend is loaded
// with the embedded seed file.
func openStores(ctx context.Context, lg *zap.Logger, cfg *Config) (*stores, error) {
	if cfg.Storage == StorageMemory {
		store := memory.New()
		f, err := seed.Parse(db.Seed)
		if err != nil {
			return nil, errors.Wrap(err, "parse seed")
		}
		st, err := seed.Apply(ctx, f, []byte(cfg.APIKeyPepper), seed.Memory(store))
		if err != nil {
			return nil, errors.Wrap(err, "apply seed")
		}
		lg.Info("Using in-memory storage",
			zap.Int("coupons", st.Coupons),
			zap.Int("vat_versions", st.VAT),
			zap.Int("api_keys", st.APIKeys),
		)
		return &stores{
			coupons: store,
			ledger:  store,
			orders:  store,
			rates:   store,
			keys:    store,
			pinger:  store,
			close:   func() {},
		}, nil
	}

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := repository.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	coupons := repository.NewCouponRepository(pool)
	return &stores{
		coupons: coupons,
		ledger:  coupons,
		orders:  repository.NewOrderRepository(pool),
		rates:   repository.NewVATRepository(pool),
		keys:    repository.NewAPIKeyRepository(pool),
		pinger:  pool,
		close:   pool.Close,
	}, nil
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
	)

	st, err := openStores(ctx, lg, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	fallback, err := cfg.VAT.RateTable()
	if err != nil {
		return errors.Wrap(err, "vat config")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck(cfg.Storage, 5*time.Second, health.PingCheck(st.pinger))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Coupon reads go through redis when configured; redemptions evict.
	couponStore := st.coupons
	var observers []order.RedemptionObserver
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := rdb.Close(); err != nil {
				lg.Warn("Close redis", zap.Error(err))
			}
		}()
		if err := rdb.Ping(ctx).Err(); err != nil {
			lg.Warn("Redis unavailable, coupon reads fall back to storage", zap.Error(err))
		}
		cached := cache.NewCoupons(st.coupons, rdb, cfg.Redis.CouponTTL)
		couponStore = cached
		observers = append(observers, cached)
	}

	// Domain services.
	couponSvc, err := coupon.NewService(couponStore, st.ledger, m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create coupon service")
	}
	pricingSvc := pricing.NewService(couponSvc, st.rates, fallback, m.TracerProvider())
	orderSvc := order.NewService(pricingSvc, st.orders, append(observers, couponSvc)...)
	authenticator := auth.NewAuthenticator(st.keys, []byte(cfg.APIKeyPepper))

	h := api.NewHandler(couponSvc, pricingSvc, orderSvc, authenticator,
		api.WithKeyRateLimit(httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:     cfg.RateLimit.KeyMax,
			Window:  cfg.RateLimit.Window,
			KeyFunc: api.APIKeyID,
		})),
	)

	root := chi.NewRouter()
	root.Get("/livez", healthSvc.LiveEndpoint)
	root.Get("/readyz", healthSvc.ReadyEndpoint)
	root.Mount("/api", h.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(root,
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", api.APIKeyHeader, httpmiddleware.RequestIDHeader},
				ExposeHeaders:    []string{httpmiddleware.RequestIDHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.Instrument("checkout-api", m),
			httpmiddleware.LogRequests(),
		),
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

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
	return nil
}
