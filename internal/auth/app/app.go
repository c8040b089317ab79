package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	httpapi "github.com/ezpay/wallet-auth/internal/auth/http"
	"github.com/ezpay/wallet-auth/internal/auth/service"
	"github.com/ezpay/wallet-auth/internal/auth/store"
	"github.com/ezpay/wallet-auth/internal/auth/store/drivers/sqlite"
	"github.com/ezpay/wallet-auth/internal/auth/store/ttl"
	"github.com/ezpay/wallet-auth/internal/auth/store/ttl/memory"
	ttlredis "github.com/ezpay/wallet-auth/internal/auth/store/ttl/redis"
	"github.com/ezpay/wallet-auth/pkg/jwtx"
	"github.com/ezpay/wallet-auth/pkg/slogx"
)

// BuildVersion should be set at build time via ldflags.
const BuildVersion = "v0.1.0"

// Application wires the auth core together.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db           store.Store
	ttlStore     ttl.Store
	keys         *jwtx.KeyManager
	promRegistry *prometheus.Registry

	metrics   *service.Metrics
	detector  *service.Detector
	publisher *service.Publisher
	tokens    *service.TokenService
	devices   *service.DeviceService
	validator *service.GuardedValidator
	risk      *service.RiskService
	stepUp    *service.StepUpService
	keeper    *service.Housekeeper

	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "wallet-auth",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initStores(); err != nil {
		return nil, err
	}

	keys, err := InitAuthKeys(cfg, app.logger)
	if err != nil {
		return nil, err
	}
	app.keys = keys

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.keeper.Start()

	app.logger.Info("wallet auth starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown drains in-flight requests then stops background work and closes
// the stores.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down wallet auth...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.keeper.Stop()
	app.publisher.Close()

	if err := app.ttlStore.Close(); err != nil {
		app.logger.Error("error closing ttl store", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("wallet auth stopped")
	return nil
}

func (app *Application) initStores() error {
	db, err := sqlite.Open(app.cfg.DatabaseFile)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}
	app.db = db
	app.logger.Info("database migrations applied successfully")

	if app.cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rs, err := ttlredis.New(ctx, ttlredis.Config{
			Addr:     app.cfg.RedisAddr,
			Password: app.cfg.RedisPassword,
			DB:       app.cfg.RedisDB,
		})
		if err != nil {
			return err
		}
		app.ttlStore = rs
		app.logger.Info("ttl store connected", "backend", "redis", "addr", app.cfg.RedisAddr)
	} else {
		app.ttlStore = memory.New()
		app.logger.Warn("ttl store is in-process; replay protection is per-instance only")
	}
	return nil
}

func (app *Application) initServices() {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	app.metrics = service.NewMetrics(promReg)
	app.promRegistry = promReg

	app.detector = service.NewDetector()
	app.publisher = service.NewPublisher(app.detector, app.ttlStore, app.metrics)

	app.tokens = service.NewTokenService(app.db, app.ttlStore, app.keys, app.publisher, app.metrics, service.TokenConfig{
		Issuer:     app.cfg.Issuer,
		Audience:   app.cfg.Audience,
		AccessTTL:  app.cfg.AccessTTL,
		RefreshTTL: app.cfg.RefreshTTL,
		StepUpTTL:  app.cfg.StepUpTTL,
		BindTokens: app.cfg.BindTokens,
	})

	deviceCfg := service.DefaultDeviceConfig()
	deviceCfg.TrustTTL = app.cfg.DeviceTrustTTL
	app.devices = service.NewDeviceService(app.db, app.ttlStore, app.tokens, deviceCfg)

	limiter := service.NewRateLimiter(app.ttlStore, app.publisher, app.metrics, app.cfg.RateLimit, app.cfg.RateWindow)
	inner := service.NewValidationService(app.ttlStore, limiter, app.publisher, app.metrics, service.DefaultValidationConfig())
	app.validator = service.NewGuardedValidator(inner, app.publisher, app.metrics, service.DefaultBreakerConfig())

	app.risk = service.NewRiskService(app.ttlStore, app.publisher, service.DefaultRiskConfig())

	// PIN verification lives with the account service; until that
	// integration lands, step-up is declined rather than stubbed open.
	app.stepUp = service.NewStepUpService(app.tokens, service.PinVerifierFunc(
		func(ctx context.Context, userID, pin string) (bool, error) {
			return false, nil
		}))

	hkCfg := service.DefaultHousekeepingConfig()
	hkCfg.Interval = app.cfg.HousekeepingInterval
	hkCfg.KeyDir = app.cfg.KeyDir
	app.keeper = service.NewHousekeeper(app.db, app.detector, app.keys, hkCfg)
}

func (app *Application) initHTTP() {
	verifier := jwtx.NewVerifier(app.keys, app.cfg.Issuer, app.cfg.Audience)

	router := httpapi.NewRouter(
		verifier,
		app.keys,
		BuildVersion,
		app.db,
		app.ttlStore,
		app.promRegistry,
		app.logger,
	)
	router.Tokens = app.tokens
	router.Devices = app.devices
	router.Validator = app.validator
	router.Risk = app.risk
	router.StepUp = app.stepUp
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
