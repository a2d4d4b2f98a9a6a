package daemon

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/albumchat/internal/backend"
	"github.com/matheus3301/albumchat/internal/bus"
	"github.com/matheus3301/albumchat/internal/chat"
	"github.com/matheus3301/albumchat/internal/config"
	"github.com/matheus3301/albumchat/internal/conn"
	"github.com/matheus3301/albumchat/internal/lock"
	"github.com/matheus3301/albumchat/internal/logging"
	"github.com/matheus3301/albumchat/internal/media"
	"github.com/matheus3301/albumchat/internal/outbox"
	"github.com/matheus3301/albumchat/internal/profile"
	"github.com/matheus3301/albumchat/internal/status"
	"github.com/matheus3301/albumchat/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string // optional override for testing; empty = use default
	Quiet      bool   // log to file only
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideCredentials,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideBackend,
			provideConnection,
			provideResolver,
			provideSender,
			provideSession,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	return config.Load(profile.ConfigPath())
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile, logging.Options{
		Level: cfg.LogLevel,
		Quiet: p.Quiet,
	})
}

func provideCredentials(p Params, logger *zap.Logger) (*config.Credentials, error) {
	creds, err := config.LoadCredentials(profile.CredentialsPath(p.Profile))
	if err != nil {
		if errors.Is(err, config.ErrNotLoggedIn) {
			return nil, fmt.Errorf("profile %q: %w (run chatctl login)", p.Profile, err)
		}
		return nil, err
	}
	if exp, ok := creds.ExpiresAt(); ok {
		logger.Info("credentials loaded", zap.String("user", creds.Username), zap.Time("expires_at", exp))
	} else {
		logger.Info("credentials loaded", zap.String("user", creds.Username))
	}
	return creds, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.LockPath(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// The lock is taken before the database is opened.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.Profile)
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

func provideBackend(cfg *config.Config, creds *config.Credentials) *backend.Client {
	c := backend.New(cfg.APIBaseURL, cfg.RequestTimeout)
	c.SetToken(creds.Token)
	c.SetHistoryPath(cfg.HistoryPath)
	return c
}

func provideConnection(cfg *config.Config, creds *config.Credentials, machine *status.Machine, logger *zap.Logger) *conn.Manager {
	dialer := conn.NewWebSocketDialer(cfg.ChatURL, creds.Token)
	return conn.NewManager(dialer, machine, conn.Options{
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.ReconnectDelay,
	}, logger.Named("conn"))
}

func provideResolver(p Params, client *backend.Client, b *bus.Bus, logger *zap.Logger) (*media.Resolver, error) {
	return media.NewResolver(client, profile.MediaDir(p.Profile), b, logger.Named("media"))
}

func provideSender(db *store.DB, mgr *conn.Manager, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, mgr, b, logger.Named("outbox"))
}

func provideSession(
	cfg *config.Config,
	creds *config.Credentials,
	mgr *conn.Manager,
	client *backend.Client,
	resolver *media.Resolver,
	sender *outbox.Sender,
	b *bus.Bus,
	logger *zap.Logger,
) *chat.Session {
	deps := chat.Deps{
		Identity: chat.Identity{DisplayName: creds.Username, SenderID: creds.UserID},
		Conn:     mgr,
		History:  client,
		Uploader: client,
		Resolver: resolver,
		Bus:      b,
		Logger:   logger.Named("chat"),
	}
	if cfg.Outbox {
		deps.Outbox = sender
	}
	return chat.NewSession(deps)
}

func registerLifecycle(
	lc fx.Lifecycle,
	p Params,
	srv *Server,
	lk *lock.Lock,
	db *store.DB,
	sess *chat.Session,
	sender *outbox.Sender,
	b *bus.Bus,
	logger *zap.Logger,
) {
	var stopWatch func()
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			stopWatch = watchUnauthorized(b, profile.CredentialsPath(p.Profile), logger)
			sender.Start(context.Background())
			return sess.Activate(ctx)
		},
		OnStop: func(ctx context.Context) error {
			sess.Deactivate()
			sender.Stop()
			if stopWatch != nil {
				stopWatch()
			}
			srv.Stop(ctx)
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

// watchUnauthorized clears stored credentials when the backend rejects the
// token, so the next start asks for a fresh login.
func watchUnauthorized(b *bus.Bus, credentialsPath string, logger *zap.Logger) func() {
	events, unsub := b.Subscribe(bus.KindHistoryFailed, 4)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case evt := <-events:
				err, ok := evt.Payload.(error)
				if !ok || !errors.Is(err, backend.ErrUnauthorized) {
					continue
				}
				logger.Warn("token rejected by backend, clearing credentials; run chatctl login")
				if err := config.ClearCredentials(credentialsPath); err != nil {
					logger.Error("failed to clear credentials", zap.Error(err))
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		unsub()
		close(done)
	}
}
