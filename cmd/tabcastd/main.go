package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/genricoloni/tabcast/internal/bridge"
	"github.com/genricoloni/tabcast/internal/config"
	"github.com/genricoloni/tabcast/internal/delivery"
	"github.com/genricoloni/tabcast/internal/domain"
	"github.com/genricoloni/tabcast/internal/engine"
	"github.com/genricoloni/tabcast/internal/filter"
	"github.com/genricoloni/tabcast/internal/selector"
	"github.com/genricoloni/tabcast/internal/server"
	"github.com/genricoloni/tabcast/internal/settings"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// AppOptions is the complete dependency graph of the daemon
var AppOptions = fx.Options(
	// Logger configuration
	fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
		return &fxevent.ZapLogger{Logger: log}
	}),

	// Provide dependencies
	fx.Provide(
		config.Load,
		func(cfg *config.AppConfig) domain.Config { return cfg },
		newLogger,
		newSettingsStore,
		func(store *settings.FileStore) domain.SettingsSource { return store },
		newFilterManager,
		newBridge,
		func(b *bridge.Bridge) domain.EventSource { return b },
		newConnection,
		func(c *delivery.Connection) selector.Sink { return c },
		newEngine,
		newHandler,
		newServer,
	),

	// Lifecycle hooks
	fx.Invoke(registerHooks),
)

func main() {
	app := fx.New(AppOptions)

	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Start the application
	if err := app.Start(ctx); err != nil {
		panic(err)
	}

	// Wait for interrupt signal
	<-ctx.Done()

	// Stop the application gracefully
	if err := app.Stop(context.Background()); err != nil {
		panic(err)
	}
}

// newLogger builds a JSON logger on stdout, teed into a rotating file when configured
func newLogger(cfg domain.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.GetLogLevel())
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	var out zapcore.WriteSyncer = zapcore.Lock(os.Stdout)
	if path := cfg.GetLogFile(); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		out = zapcore.NewMultiWriteSyncer(out, zapcore.AddSync(&lumberjack.Logger{
			Filename:   path,
			MaxSize:    25,
			MaxBackups: 10,
			MaxAge:     14,
			Compress:   true,
		}))
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), out, level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

func newSettingsStore(logger *zap.Logger, cfg domain.Config) *settings.FileStore {
	return settings.NewFileStore(logger.Named("settings"), cfg)
}

func newFilterManager(logger *zap.Logger, source domain.SettingsSource) *filter.Manager {
	logger = logger.Named("filter")
	return filter.NewManager(logger, filter.New(logger), source)
}

func newBridge(logger *zap.Logger) *bridge.Bridge {
	return bridge.New(logger.Named("bridge"))
}

func newConnection(logger *zap.Logger, source domain.SettingsSource) *delivery.Connection {
	return delivery.NewConnection(logger.Named("delivery"), source)
}

func newEngine(logger *zap.Logger, source domain.EventSource, filters *filter.Manager, sink selector.Sink) *engine.Engine {
	return engine.NewEngine(logger.Named("engine"), source, filters, sink)
}

func newHandler(logger *zap.Logger, b *bridge.Bridge, e *engine.Engine, c *delivery.Connection) http.Handler {
	return server.NewHandler(logger.Named("http"), b, e, c)
}

func newServer(logger *zap.Logger, cfg domain.Config, handler http.Handler) *server.Server {
	return server.NewServer(logger.Named("http"), cfg, handler)
}

// background runs fn until its hook stops it
type background struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (b *background) run(fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn(ctx)
	}()
}

func (b *background) stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
}

// registerHooks starts the components in dependency order; fx stops them in reverse
func registerHooks(
	lc fx.Lifecycle,
	logger *zap.Logger,
	cfg *config.AppConfig,
	store *settings.FileStore,
	filters *filter.Manager,
	srv *server.Server,
	b *bridge.Bridge,
	conn *delivery.Connection,
	e *engine.Engine,
) {
	var watcher background
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			cfg.Log(logger)
			if err := store.Load(); err != nil {
				logger.Warn("Keeping default settings", zap.Error(err))
			}
			watcher.run(func(ctx context.Context) {
				if err := store.Watch(ctx); err != nil && ctx.Err() == nil {
					logger.Error("Settings watcher stopped", zap.Error(err))
				}
			})
			return nil
		},
		OnStop: func(ctx context.Context) error {
			watcher.stop()
			filters.Close()
			return nil
		},
	})

	lc.Append(fx.Hook{
		OnStart: srv.Start,
		OnStop:  srv.Stop,
	})

	var browser background
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			browser.run(func(ctx context.Context) { _ = b.Start(ctx) })
			return nil
		},
		OnStop: func(ctx context.Context) error {
			err := b.Stop(ctx)
			browser.stop()
			return err
		},
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			conn.Start()
			if err := e.Start(context.Background()); err != nil {
				return fmt.Errorf("start engine: %w", err)
			}
			logger.Info("tabcast daemon started", zap.String("listenAddr", cfg.GetListenAddr()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down")
			return multierr.Combine(e.Stop(ctx), conn.Close())
		},
	})
}
