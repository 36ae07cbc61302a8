// Package app wires configuration, storage and services for the sq binary.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"sidequest/internal/config"
	"sidequest/internal/db"
	"sidequest/internal/deck"
	"sidequest/internal/engine"
	"sidequest/internal/engine/auth"
	"sidequest/internal/gesture"
	"sidequest/internal/logger"
	"sidequest/internal/migrate"
	"sidequest/internal/notify"
	"sidequest/internal/server"
	"sidequest/internal/session"
)

// Options override parts of the workspace config.
type Options struct {
	Workspace  string
	ConfigFile string
	Driver     string
	DSN        string
	LogMode    string
}

type App struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
	Log       *logger.Logger
}

// Open loads config, opens and migrates the store and builds the engine.
func Open(opts Options) (*App, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.ConfigFile != "" {
		cfg, err = config.FromFile(opts.ConfigFile)
	} else {
		cfg, err = config.LoadOrDefault(opts.Workspace)
	}
	if err != nil {
		return nil, err
	}
	if opts.Driver != "" {
		cfg.Store.Driver = opts.Driver
	}
	if opts.DSN != "" {
		cfg.Store.DSN = opts.DSN
	}
	if opts.LogMode != "" {
		cfg.Log.Mode = opts.LogMode
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace, Driver: cfg.Store.Driver, DSN: cfg.Store.DSN})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn, cfg.Store.Driver); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &App{
		Workspace: opts.Workspace,
		Config:    cfg,
		DB:        conn,
		Engine:    engine.New(conn, cfg.Store.Driver, cfg, log),
		Log:       log,
	}, nil
}

func (a *App) Close() error {
	a.Log.Sync()
	return a.DB.Close()
}

// Issuer returns the token issuer for the configured secret.
func (a *App) Issuer() auth.Issuer {
	return auth.Issuer{Secret: a.Config.Server.JWTSecret(), TTL: 24 * time.Hour}
}

// Registry builds a session registry backed by the engine.
func (a *App) Registry(observers func(sessionID, userID string) []gesture.Observer) *session.Registry {
	return session.NewRegistry(session.Options{
		Deck:          deck.Supplier{Store: a.Engine.Repo},
		Store:         a.Engine,
		Params:        a.Config.Gesture.Params(),
		CommitTimeout: a.Config.Gesture.CommitTimeout,
		TTL:           a.Config.Server.SessionTTL,
		Observers:     observers,
		Log:           a.Log.With("component", "sessions"),
	})
}

// Serve runs the HTTP API on addr until ctx is cancelled. The Redis publisher
// and the webhook dispatcher start when configured.
func (a *App) Serve(ctx context.Context, addr string) error {
	cfg := a.Config
	if addr == "" {
		addr = cfg.Server.Addr
	}
	issuer := a.Issuer()
	if strings.TrimSpace(issuer.Secret) == "" {
		if !cfg.Server.DevAuth {
			return fmt.Errorf("jwt secret not set; export %s or enable server.dev_auth", cfg.Server.JWTSecretEnv)
		}
		a.Log.Warn("jwt secret not set; only X-User-Id dev auth will work", "env", cfg.Server.JWTSecretEnv)
	}

	g, gctx := errgroup.WithContext(ctx)

	var observers func(string, string) []gesture.Observer
	if cfg.Redis.Addr != "" {
		pub, err := notify.Dial(ctx, cfg.Redis.Addr, cfg.Redis.DB, cfg.Redis.Channel, a.Log)
		if err != nil {
			return err
		}
		defer pub.Close()
		g.Go(func() error {
			pub.Run(gctx)
			return nil
		})
		observers = func(sessionID, userID string) []gesture.Observer {
			return []gesture.Observer{pub.ForSession(sessionID, userID)}
		}
		a.Log.Info("publishing session events", "redis", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
	}
	reg := a.Registry(observers)

	handler, err := server.New(server.Config{
		Engine:        a.Engine,
		Sessions:      reg,
		BasePath:      "/v0",
		Auth:          server.AuthConfig{Issuer: issuer, DevAuth: cfg.Server.DevAuth, Log: a.Log},
		CORSOrigins:   cfg.Server.CORSOrigins,
		GenerateRate:  cfg.Server.GenerateRate,
		GenerateBurst: cfg.Server.GenerateBurst,
		Log:           a.Log,
	})
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	a.Log.Info("listening", "addr", ln.Addr().String())

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		reg.Run(gctx, time.Minute)
		return nil
	})
	if len(cfg.Webhooks) > 0 {
		dispatcher := server.NewWebhookDispatcher(a.Engine.Repo, cfg.Webhooks, a.Log)
		g.Go(func() error {
			dispatcher.Run(gctx)
			return nil
		})
	}
	return g.Wait()
}
