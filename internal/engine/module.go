package engine

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/courier-im/courier/internal/bus"
	"github.com/courier-im/courier/internal/config"
	"github.com/courier-im/courier/internal/expiry"
	"github.com/courier-im/courier/internal/lock"
	"github.com/courier-im/courier/internal/logging"
	"github.com/courier-im/courier/internal/receipt"
	"github.com/courier-im/courier/internal/recipient"
	"github.com/courier-im/courier/internal/session"
	"github.com/courier-im/courier/internal/status"
	"github.com/courier-im/courier/internal/store"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
}

// Module returns the fx module for the engine, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("engine",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideReceiptCache,
			provideResolver,
			provideScheduler,
			New,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() *config.Config {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		// Missing config is the normal first-run case.
		return &config.Config{}
	}
	return cfg
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(session.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, m *status.Machine, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.ProfileName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	_ = m.Transition(status.Migrating)
	result, err := db.Migrate()
	if err != nil {
		_ = m.Transition(status.Error)
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideReceiptCache() *receipt.Cache {
	return receipt.NewCache()
}

func provideResolver(db *store.DB, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *recipient.Resolver {
	return recipient.NewResolver(db, b, logger, cfg.ResolveTimeout())
}

func provideScheduler(db *store.DB, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *expiry.Scheduler {
	return expiry.NewScheduler(db, b, logger, cfg.SweepFloor())
}

func registerLifecycle(lc fx.Lifecycle, e *Engine, sched *expiry.Scheduler, db *store.DB, lk *lock.Lock, machine *status.Machine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			sched.Start()
			if err := machine.Transition(status.Ready); err != nil {
				return err
			}
			logger.Info("engine ready")
			return nil
		},
		OnStop: func(_ context.Context) error {
			_ = machine.Transition(status.Draining)
			sched.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			_ = machine.Transition(status.Stopped)
			logger.Info("engine stopped")
			return nil
		},
	})
}
