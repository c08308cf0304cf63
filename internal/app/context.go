package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/engine"
	"caseline/internal/metrics"
	"caseline/internal/migrate"
	"caseline/internal/notify"
)

// Options select the workspace to open.
type Options struct {
	Workspace string
	// ConfigPath overrides <workspace>/caseline.yml.
	ConfigPath string
	Logger     *slog.Logger
	// LogNotifications adds a sink that logs every delivered notification.
	LogNotifications bool
}

// Workspace is an opened case store with its engine and notification queue.
type Workspace struct {
	Config  *config.Config
	DB      *sql.DB
	Engine  engine.Engine
	Queue   *notify.Queue
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// LoadConfig reads the configured file, falling back to the embedded defaults
// when the workspace has none.
func LoadConfig(workspace, path string) (*config.Config, error) {
	if path != "" {
		return config.FromFile(path)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

// Open migrates the workspace database and wires the engine. Intents are
// buffered until the queue is run, or flushed by Close.
func Open(ctx context.Context, opts Options) (*Workspace, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := LoadConfig(opts.Workspace, opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	n, err := migrate.Apply(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if n > 0 {
		logger.Info("applied migrations", "count", n, "db", db.Path(opts.Workspace))
	}
	m := metrics.New()
	sinks := notify.SinksFromConfig(cfg)
	if opts.LogNotifications {
		sinks = append(sinks, notify.LogSink{Logger: logger})
	}
	queue := notify.NewQueue(cfg.Notifications.Buffer, sinks,
		notify.WithLogger(logger),
		notify.WithDropHook(m.IncrementDropped),
	)
	eng, err := engine.New(conn, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	eng.Notifier = queue
	eng.Metrics = m
	eng.Logger = logger
	return &Workspace{Config: cfg, DB: conn, Engine: eng, Queue: queue, Metrics: m, Logger: logger}, nil
}

// Close delivers buffered notifications and closes the database.
func (w *Workspace) Close(ctx context.Context) error {
	w.Queue.Close()
	qerr := w.Queue.Run(ctx)
	return errors.Join(qerr, w.DB.Close())
}
