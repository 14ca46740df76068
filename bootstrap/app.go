package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"chronicle/api"
	"chronicle/config"
	"chronicle/core"
	"chronicle/detect"
	"chronicle/notify"
	"chronicle/service"
	"chronicle/util/goroutine"

	"go.uber.org/zap"
)

// App represents the Chronicle service with all its components.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	Storage *StorageComponents

	// Evaluation and delivery
	Engine     *detect.Engine
	Rules      *service.RuleService
	Dispatcher *notify.Dispatcher
	Pool       *core.WorkerPool
	Pipeline   *service.AlertPipeline

	APIServer *api.API

	// Lifecycle
	ctx          context.Context
	cancel       context.CancelFunc
	serviceWg    sync.WaitGroup
	serverErr    chan error
	shutdownOnce sync.Once
}

// disabledNotifier stands in for the dispatcher when notifications are off
type disabledNotifier struct{}

func (disabledNotifier) Dispatch(ctx context.Context, event *core.Event, rules []core.AlertRule) ([]notify.Delivery, error) {
	return nil, nil
}

// NewApp loads configuration from the environment and initializes all components.
func NewApp(ctx context.Context) (*App, error) {
	logger, sugar, err := InitLogger("info")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := InitConfig(sugar)
	if err != nil {
		return nil, err
	}

	if cfg.Log.Level != "" && cfg.Log.Level != "info" {
		_ = logger.Sync()
		logger, _, err = InitLogger(cfg.Log.Level)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
	}

	return NewAppWithConfig(ctx, cfg, logger)
}

// NewAppWithConfig wires the service from an already loaded configuration.
func NewAppWithConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	appCtx, cancel := context.WithCancel(ctx)
	app := &App{
		Config:    cfg,
		Logger:    logger,
		Sugar:     logger.Sugar(),
		ctx:       appCtx,
		cancel:    cancel,
		serverErr: make(chan error, 1),
	}
	sugar := app.Sugar

	sugar.Info("Chronicle starting...")

	components, err := InitStorage(appCtx, cfg, sugar)
	if err != nil {
		cancel()
		return nil, err
	}
	app.Storage = components

	if err := ImportRulesFile(appCtx, cfg, components.RuleStorage, sugar); err != nil {
		components.Close(sugar)
		cancel()
		return nil, err
	}

	app.Engine = detect.NewEngine(components.UserDirectory, sugar.Named("engine"),
		detect.WithExcludedLoggers(cfg.Engine.ExcludedLoggers...),
		detect.WithMaxDepth(cfg.Engine.MaxDepth))
	app.Rules = service.NewRuleService(components.RuleStorage, app.Engine, sugar.Named("rules"))
	app.Pool = core.NewWorkerPool(appCtx, "events", cfg.Engine.Workers, cfg.Engine.QueueSize, sugar)

	// Delivery events re-enter the pipeline once it exists.
	var pipeline *service.AlertPipeline
	app.Dispatcher = notify.NewDispatcher(components.RuleStorage, sugar,
		notify.WithTimeout(cfg.Notifications.Timeout),
		notify.WithRateLimit(cfg.Notifications.RateLimit.RequestsPerSecond, cfg.Notifications.RateLimit.Burst),
		notify.WithCircuitBreaker(cfg.Notifications.CircuitBreaker),
		notify.WithDeliveryRecorder(func(event *core.Event) {
			if pipeline != nil {
				pipeline.Record(event)
			}
		}))

	var notifier service.Notifier = app.Dispatcher
	if !cfg.Notifications.Enabled {
		sugar.Warn("Notifications disabled, matched rules will only be logged")
		notifier = disabledNotifier{}
	}
	pipeline = service.NewAlertPipeline(app.Engine, components.RuleStorage, notifier, app.Pool, sugar.Named("pipeline"))
	app.Pipeline = pipeline

	app.APIServer = api.NewAPI(api.Dependencies{
		Rules:        app.Rules,
		Destinations: components.Destinations,
		Events:       pipeline,
		Tester:       app.Dispatcher,
		Health:       components.SQLite,
		Users:        components.UserStorage,
		RoleCache:    components.UserDirectory,
	}, cfg, sugar.Named("api"))

	return app, nil
}

// Start starts the worker pool, metrics collection and the API server.
func (a *App) Start(ctx context.Context) error {
	a.Pool.Start()
	a.Storage.SQLite.StartMetricsCollection(a.ctx, 30*time.Second)

	addr := a.Config.Addr()
	a.serviceWg.Add(1)
	goroutine.Go("api-server", a.Sugar, func() {
		defer a.serviceWg.Done()
		a.Sugar.Infow("API server listening", "addr", addr, "tls", a.Config.API.TLS)

		var err error
		if a.Config.API.TLS {
			err = a.APIServer.StartTLS(addr, a.Config.API.CertFile, a.Config.API.KeyFile)
		} else {
			err = a.APIServer.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Sugar.Errorw("API server failed", "addr", addr, "error", err)
			a.serverErr <- err
		}
	})

	return nil
}

// WaitForShutdown blocks until a shutdown signal is received or the API
// server fails. It returns the server error, if any.
func (a *App) WaitForShutdown() error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case sig := <-c:
		a.Sugar.Infow("Received shutdown signal", "signal", sig.String())
		return nil
	case err := <-a.serverErr:
		return err
	case <-a.ctx.Done():
		return nil
	}
}

// Shutdown stops accepting requests, drains queued events and closes storage.
// Safe to call more than once.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(a.shutdown)
}

func (a *App) shutdown() {
	a.Sugar.Info("Shutting down...")

	a.Sugar.Info("Phase 1: Stopping API server...")
	if a.APIServer != nil {
		timeout := a.Config.API.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := a.APIServer.Stop(ctx); err != nil {
			a.Sugar.Errorw("Failed to stop API server", "error", err)
		}
		cancel()
	}

	a.Sugar.Info("Phase 2: Draining event queue...")
	if a.Pool != nil {
		drain := a.Config.Engine.DrainTimeout
		if drain <= 0 {
			drain = 10 * time.Second
		}
		a.Pool.Stop(drain)
	}

	a.Sugar.Info("Phase 3: Waiting for service goroutines to complete...")
	a.cancel()
	done := make(chan struct{})
	go func() {
		a.serviceWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.Sugar.Info("All service goroutines stopped successfully")
	case <-time.After(15 * time.Second):
		a.Sugar.Warn("Service goroutine shutdown timed out")
	}

	a.Sugar.Info("Phase 4: Closing database connections...")
	if a.Storage != nil {
		a.Storage.Close(a.Sugar)
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}
