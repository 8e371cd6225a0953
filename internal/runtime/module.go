// Package runtime composes the sync client out of its pieces and manages
// their lifecycles.
package runtime

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/tapin/tapin-go/internal/api"
	"github.com/tapin/tapin-go/internal/bus"
	"github.com/tapin/tapin-go/internal/config"
	"github.com/tapin/tapin-go/internal/lock"
	"github.com/tapin/tapin-go/internal/logging"
	"github.com/tapin/tapin-go/internal/netstatus"
	"github.com/tapin/tapin-go/internal/outbox"
	"github.com/tapin/tapin-go/internal/realtime"
	"github.com/tapin/tapin-go/internal/store"
	intsync "github.com/tapin/tapin-go/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// build is bumped when the cache schema or mapping changes incompatibly;
// a mismatch wipes the cache on startup.
const build = "1"

// Params holds the resolved configuration passed to the fx module.
type Params struct {
	Config *config.Config
}

// Module returns the fx module for the sync client, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("runtime",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideClient,
			provideMonitor,
			provideProcessor,
			provideEngine,
			provideScheduler,
			provideListener,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	logPath := filepath.Join(p.Config.DataDir, "tapind.log")
	return logging.New(logPath, p.Config.UserID)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data dir lock", zap.String("dir", p.Config.DataDir))
	l, err := lock.Acquire(p.Config.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := filepath.Join(p.Config.DataDir, "tapin.db")
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	cleared, err := db.EnsureCacheVersion(build)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if cleared {
		logger.Info("cache version changed, cleared local cache", zap.String("build", build))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideClient(p Params) *api.Client {
	return api.NewClient(p.Config.APIBaseURL)
}

func provideMonitor(p Params, b *bus.Bus, logger *zap.Logger) *netstatus.Monitor {
	return netstatus.NewMonitor(p.Config.APIBaseURL, b, logger,
		netstatus.WithInterval(p.Config.HealthInterval()))
}

func provideProcessor(p Params, db *store.DB, client *api.Client, monitor *netstatus.Monitor, b *bus.Bus, logger *zap.Logger) *outbox.Processor {
	return outbox.NewProcessor(db, client, monitor, b, logger,
		outbox.WithInterval(p.Config.OutboxInterval()))
}

func provideEngine(p Params, db *store.DB, client *api.Client, monitor *netstatus.Monitor, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, client, monitor, b, logger, p.Config.UserID)
}

func provideScheduler(p Params, engine *intsync.Engine, b *bus.Bus, logger *zap.Logger) *intsync.Scheduler {
	return intsync.NewScheduler(engine, b, logger,
		intsync.WithSyncInterval(p.Config.SyncInterval()))
}

func provideListener(p Params, db *store.DB, client *api.Client, b *bus.Bus, logger *zap.Logger) *realtime.Listener {
	return realtime.NewListener(realtimeURL(p.Config), db, client, b, logger)
}

// realtimeURL derives the push channel URL from the API base when it is not
// configured explicitly.
func realtimeURL(cfg *config.Config) string {
	if cfg.RealtimeURL != "" {
		return cfg.RealtimeURL
	}
	url := cfg.APIBaseURL
	if strings.HasPrefix(url, "https://") {
		url = "wss://" + strings.TrimPrefix(url, "https://")
	} else if strings.HasPrefix(url, "http://") {
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url + "/realtime?userId=" + cfg.UserID
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, monitor *netstatus.Monitor, processor *outbox.Processor, scheduler *intsync.Scheduler, listener *realtime.Listener, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			monitor.Start(context.Background())
			processor.Start(context.Background())
			scheduler.Start(context.Background())
			listener.Start(context.Background())
			logger.Info("sync client started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			listener.Stop()
			scheduler.Stop()
			processor.Stop()
			monitor.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("sync client stopped")
			return nil
		},
	})
}
