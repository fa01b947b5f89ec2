package daemon

import (
	"context"

	"github.com/bibekanandan892/peerchat/internal/api"
	"github.com/bibekanandan892/peerchat/internal/bus"
	"github.com/bibekanandan892/peerchat/internal/config"
	"github.com/bibekanandan892/peerchat/internal/credentials"
	"github.com/bibekanandan892/peerchat/internal/lock"
	"github.com/bibekanandan892/peerchat/internal/logging"
	"github.com/bibekanandan892/peerchat/internal/metrics"
	"github.com/bibekanandan892/peerchat/internal/outbox"
	"github.com/bibekanandan892/peerchat/internal/session"
	"github.com/bibekanandan892/peerchat/internal/store"
	intsync "github.com/bibekanandan892/peerchat/internal/sync"
	"github.com/bibekanandan892/peerchat/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string         // optional override for testing; empty = use default
	Config      *config.Config // nil = built-in defaults
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideMetrics,
			provideLock,
			provideStore,
			provideCredentials,
			provideTransport,
			provideSender,
			provideReconciler,
			provideEngine,
			provideControlService,
			NewServer,
			NewMetricsServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) *config.Config {
	if p.Config != nil {
		return p.Config
	}
	return config.Default()
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, cfg.Log.Level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.LockPath(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore takes the lock so the database is never opened by two daemons.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideCredentials(p Params) *credentials.Store {
	return credentials.NewStore(session.CredentialsPath(p.SessionName))
}

func provideTransport(cfg *config.Config, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *transport.Transport {
	return transport.New(transport.Options{
		URL:          cfg.Server.URL,
		Endpoint:     cfg.Server.Endpoint,
		UserAgent:    cfg.Server.UserAgent,
		Subprotocol:  cfg.Server.Subprotocol,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
	}, b, m, logger.Named("transport"))
}

func provideSender(db *store.DB, tx *transport.Transport, b *bus.Bus, m *metrics.Metrics, cfg *config.Config, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, tx, b, m, outbox.Options{
		ReplayInterval:   cfg.Delivery.ReplayInterval.Duration,
		Limit:            cfg.Delivery.OutboxLimit,
		ClearAfterReplay: cfg.Delivery.ClearAfterReplay,
	}, logger.Named("outbox"))
}

func provideReconciler(db *store.DB, sender *outbox.Sender, b *bus.Bus, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(db, sender, b, logger.Named("reconciler"))
}

func provideEngine(
	db *store.DB,
	tx *transport.Transport,
	sender *outbox.Sender,
	rec *intsync.Reconciler,
	creds *credentials.Store,
	b *bus.Bus,
	m *metrics.Metrics,
	cfg *config.Config,
	logger *zap.Logger,
) *intsync.Engine {
	policy := intsync.ReconnectPolicy{
		Enabled:         cfg.Reconnect.Enabled,
		InitialInterval: cfg.Reconnect.InitialInterval.Duration,
		MaxInterval:     cfg.Reconnect.MaxInterval.Duration,
		MaxElapsed:      cfg.Reconnect.MaxElapsed.Duration,
	}
	return intsync.NewEngine(db, tx, sender, rec, creds, b, m, policy, logger.Named("engine"))
}

func provideControlService(p Params, engine *intsync.Engine, db *store.DB, b *bus.Bus, logger *zap.Logger) *api.ControlService {
	return api.NewControlService(p.SessionName, engine, db, b, logger.Named("api"))
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *Server,
	ms *MetricsServer,
	lk *lock.Lock,
	db *store.DB,
	tx *transport.Transport,
	engine *intsync.Engine,
	creds *credentials.Store,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := ms.Start(); err != nil {
				return err
			}

			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			c, err := creds.Credentials()
			if err == nil {
				err = c.Validate()
			}
			if err != nil {
				logger.Warn("credentials incomplete, run peerchatd signup", zap.String("path", creds.Path()), zap.Error(err))
			}

			// The engine outlives the start hook's deadline.
			engine.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			engine.Stop()
			tx.Close()
			srv.Stop(ctx)
			ms.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
