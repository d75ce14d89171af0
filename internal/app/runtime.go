// Package app assembles a pressflow runtime from a workspace.
package app

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"pressflow/internal/config"
	"pressflow/internal/db"
	"pressflow/internal/engine"
	"pressflow/internal/mail"
	"pressflow/internal/membership"
	"pressflow/internal/migrate"
	"pressflow/internal/repo"
	"pressflow/internal/runlock"
)

type Options struct {
	Workspace string
	// DBPath overrides <workspace>/.pressflow/pressflow.db.
	DBPath string
	// Config is used as-is when set; otherwise pressflow.yml is loaded if
	// present, falling back to defaults.
	Config *config.Config
	Logger *log.Logger
}

// Runtime owns the open database and the collaborators built on it.
type Runtime struct {
	DB      *sql.DB
	Config  *config.Config
	Members *membership.Service
	Engine  engine.Engine
	Logger  *log.Logger

	closers []func()
}

// Open migrates the database and wires the engine's collaborators from config.
func Open(opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.LoadOptional(opts.Workspace)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		if cfg == nil {
			logger.Debug("no pressflow.yml; using defaults", "workspace", opts.Workspace)
			cfg = config.Default()
		}
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace, Path: opts.DBPath})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	rt := &Runtime{DB: conn, Config: cfg, Logger: logger}
	rt.closers = append(rt.closers, func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		rt.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	rt.Members = membership.New(repo.Repo{DB: conn}, cfg.RoleCapabilities())
	rt.Members.Logger = logger

	lock, err := rt.buildLock()
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Engine = engine.New(conn, cfg, engine.Deps{
		Members: rt.Members,
		Caps:    rt.Members,
		Mailer:  buildMailer(cfg.Mail, logger),
		Lock:    lock,
		Logger:  logger,
	})
	return rt, nil
}

func buildMailer(m config.Mail, logger *log.Logger) engine.Mailer {
	if m.Driver == "webhook" {
		timeout := time.Duration(m.TimeoutSeconds) * time.Second
		return mail.NewWebhookMailer(m.URL, m.Secret, timeout)
	}
	return mail.LogMailer{Logger: logger.WithPrefix("mail")}
}

func (rt *Runtime) buildLock() (runlock.Locker, error) {
	if rt.Config.Lock.Driver != "redis" {
		return runlock.NewLocal(), nil
	}
	client, err := runlock.NewRedisClient(rt.Config.Lock.Addr)
	if err != nil {
		return nil, err
	}
	locker := runlock.NewRedis(client, rt.Config.Lock.KeyPrefix)
	rt.closers = append(rt.closers, locker.Close)
	rt.Logger.Debug("digest run lock on redis", "addr", rt.Config.Lock.Addr)
	return locker, nil
}

// Close releases everything Open acquired, in reverse order.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
