// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/channel-monitor/internal/config"
	"github.com/JakeFAU/channel-monitor/internal/logging"
	"github.com/JakeFAU/channel-monitor/internal/monitor"
	"github.com/JakeFAU/channel-monitor/internal/storage/memory"
	"github.com/JakeFAU/channel-monitor/internal/storage/postgres"
)

// App holds the shared, long-lived services for one CLI invocation.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	storage monitor.Storage
	closers []func()
}

// GetConfig returns the loaded configuration.
func (a *App) GetConfig() config.Config {
	return a.cfg
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetStorage returns the configured Storage backend.
func (a *App) GetStorage() monitor.Storage {
	return a.storage
}

// NewApp loads configuration from cfgPath and instantiates the logger and storage provider.
// It fails fast if any of them cannot be initialized.
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.OutputPaths...)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return NewAppWithConfig(ctx, cfg, logger)
}

// NewAppWithConfig builds an App from an already loaded configuration.
func NewAppWithConfig(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}

	switch cfg.DB.Provider {
	case config.ProviderPostgres:
		store, err := postgres.NewStorage(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: cfg.DB.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres storage: %w", err)
		}
		a.storage = store
		a.closers = append(a.closers, store.Close)
		logger.Info("using postgres storage")
	case config.ProviderMemory:
		a.storage = memory.NewStore()
		logger.Warn("using in-memory storage; collected rows are discarded on exit")
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.DB.Provider)
	}
	return a, nil
}

// Close releases storage connections and flushes the logger.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	_ = a.logger.Sync()
}
