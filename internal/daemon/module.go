package daemon

import (
	"context"
	"path/filepath"

	"github.com/matheus3301/talk/internal/api"
	"github.com/matheus3301/talk/internal/bus"
	"github.com/matheus3301/talk/internal/lock"
	"github.com/matheus3301/talk/internal/logging"
	"github.com/matheus3301/talk/internal/outbox"
	"github.com/matheus3301/talk/internal/profile"
	"github.com/matheus3301/talk/internal/status"
	"github.com/matheus3301/talk/internal/store"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	Dir        string // optional override of the profile directory
	SocketPath string // optional override; empty = <dir>/talkd.sock
}

func (p Params) dir() string {
	if p.Dir != "" {
		return p.Dir
	}
	return profile.Dir(p.Profile)
}

func (p Params) socketPath() string {
	if p.SocketPath != "" {
		return p.SocketPath
	}
	return filepath.Join(p.dir(), filepath.Base(profile.SocketPath(p.Profile)))
}

func (p Params) historyDBPath() string {
	return filepath.Join(p.dir(), filepath.Base(profile.HistoryDBPath(p.Profile)))
}

func (p Params) logPath() string {
	return filepath.Join(p.dir(), "logs", "talkd.log")
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideSender,
			provideHistoryService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(p.logPath(), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("dir", p.dir()))
	l, err := lock.Acquire(p.dir(), lock.Owner{Program: "talkd", Socket: p.socketPath()})
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired", zap.Stringer("owner", l.Owner()))
	return l, nil
}

// provideStore depends on the lock so that only the lock holder migrates.
func provideStore(p Params, _ *lock.Lock, machine *status.Machine, logger *zap.Logger) (*store.DB, error) {
	if err := machine.Transition(status.Migrating); err != nil {
		return nil, err
	}
	dbPath := p.historyDBPath()
	db, result, err := store.OpenMigrated(dbPath)
	if err != nil {
		_ = machine.Transition(status.Error)
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("from", result.From), zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideSender(db *store.DB, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, outbox.NewLocalTransport(db), b, logger)
}

func provideHistoryService(p Params, db *store.DB, sender *outbox.Sender, m *status.Machine, b *bus.Bus, logger *zap.Logger) *api.HistoryService {
	return api.NewHistoryService(p.Profile, db, sender, m, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, sender *outbox.Sender, machine *status.Machine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
					_ = machine.Transition(status.Error)
				}
			}()

			// Entries queued before a crash are delivered by the loop.
			sender.Start(context.Background())

			return machine.Transition(status.Serving)
		},
		OnStop: func(ctx context.Context) error {
			_ = machine.Transition(status.Draining)
			srv.Stop(ctx)
			sender.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			_ = machine.Transition(status.Stopped)
			logger.Info("daemon stopped")
			return nil
		},
	})
}
