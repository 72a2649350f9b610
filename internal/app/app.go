// Package app loads configuration and wires the API server together.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/storefront-discounts/internal/domain/auth"
	"github.com/xenking/storefront-discounts/internal/domain/coupon"
	"github.com/xenking/storefront-discounts/internal/domain/discount"
	"github.com/xenking/storefront-discounts/internal/domain/ledger"
	"github.com/xenking/storefront-discounts/internal/domain/product"
	"github.com/xenking/storefront-discounts/internal/handler"
	"github.com/xenking/storefront-discounts/internal/repository"
	"github.com/xenking/storefront-discounts/internal/repository/memory"
	"github.com/xenking/storefront-discounts/pkg/health"
	"github.com/xenking/storefront-discounts/pkg/httpmiddleware"
)

type transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// backend is one storage implementation of every repository.
type backend struct {
	tx       transactor
	products product.Repository
	coupons  coupon.Repository
	ledger   ledger.Repository
	apikeys  auth.Repository
	close    func()
}

func openPostgres(ctx context.Context, cfg *Config, hc *health.Health) (*backend, error) {
	pool, err := repository.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := repository.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	hc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool),
		health.WithFailureThreshold(2),
	)

	return &backend{
		tx:       repository.NewTransactor(pool, cfg.Database.TxRetries),
		products: repository.NewProductRepository(pool),
		coupons:  repository.NewCouponRepository(pool),
		ledger:   repository.NewLedgerRepository(pool),
		apikeys:  repository.NewAPIKeyRepository(pool),
		close:    pool.Close,
	}, nil
}

func openMemory(ctx context.Context, cfg *Config) (*backend, error) {
	store := memory.New()
	keys := memory.NewAPIKeyRepository()
	if cfg.AdminAPIKey != "" {
		hash := auth.NewAuthenticator(keys, []byte(cfg.APIKeyPepper)).Hash(cfg.AdminAPIKey)
		if err := keys.Upsert(ctx, auth.APIKeyInfo{
			ID:      "admin",
			KeyHash: hash,
			Name:    "admin",
			Scopes:  []string{auth.ScopeCatalogWrite},
		}); err != nil {
			return nil, errors.Wrap(err, "register admin key")
		}
	}
	return &backend{
		tx:       store,
		products: store.Products(),
		coupons:  store.Coupons(),
		ledger:   store.Ledger(),
		apikeys:  keys,
		close:    func() {},
	}, nil
}

func isProbe(r *http.Request) bool {
	return r.URL.Path == "/livez" || r.URL.Path == "/readyz"
}

// server is the wired HTTP server and the probes it reports through.
type server struct {
	http   *http.Server
	health *health.Health
	close  func()
}

// newServer opens storage, builds the services and assembles the middleware
// chain. The caller must call close once the server has stopped.
func newServer(ctx context.Context, lg *zap.Logger, m httpmiddleware.Telemetry, cfg *Config) (*server, error) {
	healthSvc := health.New(lg.Named("health"))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	var (
		db  *backend
		err error
	)
	switch cfg.Storage {
	case StorageMemory:
		lg.Warn("Using in-memory storage, data is lost on restart")
		db, err = openMemory(ctx, cfg)
	default:
		db, err = openPostgres(ctx, cfg, healthSvc)
	}
	if err != nil {
		return nil, err
	}

	// Domain services.
	products := product.NewService(db.tx, db.products)
	coupons := coupon.NewService(db.tx, db.coupons)
	discounts, err := discount.NewService(db.tx, db.products, db.coupons, db.ledger,
		discount.WithTracerProvider(m.TracerProvider()),
		discount.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		db.close()
		return nil, errors.Wrap(err, "create discount service")
	}
	authn := auth.NewAuthenticator(db.apikeys, []byte(cfg.APIKeyPepper))

	h := handler.NewHandler(handler.HandlerConfig{}, products, coupons, discounts, authn)
	router := h.Router(
		httpmiddleware.LogRequests(httpmiddleware.ChiRoute),
		httpmiddleware.Labeler(httpmiddleware.ChiRoute),
	)
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)

	srv := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins: cfg.CORS.Origins,
				AllowHeaders: []string{
					"Content-Type", "Authorization",
					handler.APIKeyHeader, httpmiddleware.RequestIDHeader,
				},
				ExposeHeaders:    []string{httpmiddleware.RequestIDHeader, "Retry-After"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
				Skip:   isProbe,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Instrument("storefront-api", m),
		),
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	return &server{
		http:   srv,
		health: healthSvc,
		close: func() {
			healthSvc.Stop()
			db.close()
		},
	}, nil
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application. *app.Telemetry
// from go-faster/sdk satisfies m.
func Run(ctx context.Context, lg *zap.Logger, m httpmiddleware.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
	)

	srv, err := newServer(ctx, lg, m, cfg)
	if err != nil {
		return err
	}
	defer srv.close()

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		srv.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := srv.http.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := srv.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
