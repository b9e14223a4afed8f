// Package app assembles an orderflow process from its configuration: the
// execution store, task queue, notifier, order executors, engine, workers
// and HTTP gateway.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/orderflow/internal/config"
	"github.com/petrijr/orderflow/internal/engine"
	"github.com/petrijr/orderflow/internal/gateway"
	"github.com/petrijr/orderflow/internal/metrics"
	"github.com/petrijr/orderflow/internal/notify"
	"github.com/petrijr/orderflow/internal/orders"
	"github.com/petrijr/orderflow/internal/persistence"
	"github.com/petrijr/orderflow/internal/sqldb"
	"github.com/petrijr/orderflow/internal/storage"
	"github.com/petrijr/orderflow/internal/taskqueue"
	"github.com/petrijr/orderflow/pkg/api"
	"github.com/petrijr/orderflow/pkg/worker"
)

const redisKeyPrefix = "orderflow:"

// App is a fully wired orderflow process.
type App struct {
	Engine     *engine.Engine
	Gateway    *gateway.Server
	Worker     *worker.Worker
	Definition api.Definition

	cfg    *config.Config
	logger *slog.Logger

	// Shared clients, opened on first use.
	sqlDBs map[string]*sql.DB
	redis  *redis.Client
	mongo  *mongo.Client

	closers []func() error
}

// Option adjusts Build.
type Option func(*buildOptions)

type buildOptions struct {
	clock    func() time.Time
	registry *prometheus.Registry
}

// WithClock sets the clock the order executors take billing periods from.
func WithClock(now func() time.Time) Option {
	return func(o *buildOptions) { o.clock = now }
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *buildOptions) { o.registry = reg }
}

// Build opens every backend named in cfg and wires the engine. On error,
// everything opened so far is closed again.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	a := &App{
		cfg:    cfg,
		logger: logger,
		sqlDBs: make(map[string]*sql.DB),
	}
	if err := a.build(ctx, bo); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, bo buildOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return fmt.Errorf("execution store: %w", err)
	}
	queue, err := a.openQueue(ctx)
	if err != nil {
		return fmt.Errorf("task queue: %w", err)
	}
	notifier, err := a.openNotifier(ctx)
	if err != nil {
		return fmt.Errorf("notifier: %w", err)
	}
	executors, err := a.openExecutors(bo.clock)
	if err != nil {
		return err
	}

	reg := bo.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	prom, err := metrics.NewPrometheusObserver(reg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	eng, err := engine.New(engine.Config{
		Store:          store,
		Queue:          queue,
		Observer:       api.NewCompositeObserver(api.NewLoggingObserver(a.logger), prom),
		Notifier:       notifier,
		Topic:          a.cfg.Notify.Topic,
		Logger:         a.logger,
		DefaultTimeout: a.cfg.Workflow.Timeout,
	})
	if err != nil {
		return err
	}

	def, err := a.definition()
	if err != nil {
		return err
	}
	if err := orders.Register(eng, executors, def); err != nil {
		return fmt.Errorf("register %s: %w", def.Name, err)
	}

	a.Engine = eng
	a.Definition = def
	if queue != nil {
		a.Worker = worker.New(eng, queue, a.logger)
	}
	a.Gateway = gateway.New(gateway.Config{
		Engine:       eng,
		Definition:   def.Name,
		ReadItem:     api.TaskFunc(executors.ReadItem),
		ReadObject:   api.TaskFunc(executors.ReadObject),
		Metrics:      metrics.Handler(reg),
		Logger:       a.logger,
		MaxBodyBytes: a.cfg.HTTP.MaxBodyBytes,
	})
	return nil
}

func (a *App) definition() (api.Definition, error) {
	if path := a.cfg.Workflow.DefinitionFile; path != "" {
		def, err := api.LoadDefinitionYAML(path)
		if err != nil {
			return api.Definition{}, err
		}
		if def.Timeout == 0 {
			def.Timeout = a.cfg.Workflow.Timeout
		}
		return def, nil
	}
	return orders.Definition(a.cfg.Workflow.Timeout)
}

func (a *App) openStore(ctx context.Context) (persistence.ExecutionStore, error) {
	switch a.cfg.Store.Backend {
	case "memory":
		return persistence.NewInMemoryStore(), nil
	case "sqlite":
		db, err := a.openSQL(sqldb.SQLite, a.cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		return persistence.NewSQLiteStore(db)
	case "postgres":
		db, err := a.openSQL(sqldb.Postgres, a.cfg.Store.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return persistence.NewPostgresStore(db)
	case "redis":
		client, err := a.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return persistence.NewRedisStore(client, redisKeyPrefix), nil
	case "mongo":
		client, err := a.mongoClient(ctx)
		if err != nil {
			return nil, err
		}
		store := persistence.NewMongoStore(client, a.cfg.Store.MongoDatabase, "executions")
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown backend %q", a.cfg.Store.Backend)
}

// openQueue returns nil for "none": executions then advance in-process.
func (a *App) openQueue(ctx context.Context) (taskqueue.Queue, error) {
	switch a.cfg.Queue.Backend {
	case "none":
		return nil, nil
	case "memory":
		return taskqueue.NewInMemoryQueue(a.cfg.Queue.Capacity), nil
	case "sqlite":
		db, err := a.openSQL(sqldb.SQLite, a.cfg.Queue.SQLitePath)
		if err != nil {
			return nil, err
		}
		return taskqueue.NewSQLiteQueue(db)
	case "postgres":
		db, err := a.openSQL(sqldb.Postgres, a.cfg.Store.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return taskqueue.NewPostgresQueue(db)
	case "redis":
		client, err := a.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return taskqueue.NewRedisQueue(client, redisKeyPrefix), nil
	case "mongo":
		client, err := a.mongoClient(ctx)
		if err != nil {
			return nil, err
		}
		return taskqueue.NewMongoQueue(client, a.cfg.Store.MongoDatabase, "queue_tasks"), nil
	}
	return nil, fmt.Errorf("unknown backend %q", a.cfg.Queue.Backend)
}

func (a *App) openNotifier(ctx context.Context) (api.Notifier, error) {
	switch a.cfg.Notify.Backend {
	case "none":
		return nil, nil
	case "log":
		return notify.NewLogNotifier(a.logger), nil
	case "nats":
		n, err := notify.DialNATS(a.cfg.Notify.NATSURL, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, n.Close)
		return n, nil
	case "redis":
		client, err := a.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return notify.NewRedisNotifier(client), nil
	}
	return nil, fmt.Errorf("unknown backend %q", a.cfg.Notify.Backend)
}

func (a *App) openExecutors(clock func() time.Time) (*orders.Executors, error) {
	dialect, ok := sqldb.ByName(a.cfg.Items.Driver)
	if !ok {
		return nil, fmt.Errorf("items: unknown driver %q", a.cfg.Items.Driver)
	}
	db, err := a.openSQL(dialect, a.cfg.Items.DSN)
	if err != nil {
		return nil, fmt.Errorf("items: %w", err)
	}
	items, err := storage.NewSQLItemStore(db, dialect, a.cfg.Items.TableName)
	if err != nil {
		return nil, fmt.Errorf("items: %w", err)
	}

	if err := os.MkdirAll(a.cfg.Objects.Root, 0o755); err != nil {
		return nil, fmt.Errorf("objects: %w", err)
	}
	objects, err := storage.NewFSObjectStore(
		afero.NewBasePathFs(afero.NewOsFs(), a.cfg.Objects.Root),
		a.cfg.Objects.BucketName,
	)
	if err != nil {
		return nil, fmt.Errorf("objects: %w", err)
	}

	return &orders.Executors{
		Items:   items,
		Objects: objects,
		Logger:  a.logger,
		Clock:   clock,
	}, nil
}

// openSQL returns one *sql.DB per driver and DSN so the store, the item
// table and the queue can share a SQLite file.
func (a *App) openSQL(d sqldb.Dialect, dsn string) (*sql.DB, error) {
	if d.Name == sqldb.SQLite.Name {
		dsn = sqliteDSN(dsn)
	}
	key := d.Name + " " + dsn
	if db, ok := a.sqlDBs[key]; ok {
		return db, nil
	}

	db, err := sql.Open(d.Name, dsn)
	if err != nil {
		return nil, err
	}
	if d.Name == sqldb.SQLite.Name {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	a.sqlDBs[key] = db
	a.closers = append(a.closers, db.Close)
	return db, nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") || strings.HasPrefix(path, ":memory:") {
		return path
	}
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func (a *App) redisClient(ctx context.Context) (*redis.Client, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	client := redis.NewClient(&redis.Options{Addr: a.cfg.Store.RedisAddr})
	a.closers = append(a.closers, client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	a.redis = client
	return client, nil
}

func (a *App) mongoClient(ctx context.Context) (*mongo.Client, error) {
	if a.mongo != nil {
		return a.mongo, nil
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(a.cfg.Store.MongoURI))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return client.Disconnect(ctx)
	})
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	a.mongo = client
	return client, nil
}

// Run listens on the configured address and serves until ctx is done.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve fails overdue executions left by an earlier process, starts the
// workers and the periodic expiry sweep, and serves HTTP on ln. When ctx is
// done it shuts down gracefully and waits for in-flight advances.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.expireOverdue(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	var wg sync.WaitGroup

	if a.Worker != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Worker.Run(runCtx, a.cfg.Workers); err != nil {
				errCh <- fmt.Errorf("worker: %w", err)
			}
		}()
	}

	if interval := a.cfg.Workflow.ExpireInterval; interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-runCtx.Done():
					return
				case <-ticker.C:
					a.expireOverdue(runCtx)
				}
			}
		}()
	}

	srv := &http.Server{
		Handler:           a.Gateway.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(a.logger.Handler(), slog.LevelWarn),
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	a.logger.Info("orderflow listening",
		slog.String("addr", ln.Addr().String()),
		slog.String("definition", a.Definition.Name),
		slog.String("store", a.cfg.Store.Backend),
		slog.String("queue", a.cfg.Queue.Backend),
	)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", slog.Any("error", err))
	}
	cancel()
	wg.Wait()
	a.Engine.Wait()

	a.logger.Info("orderflow stopped")
	return runErr
}

func (a *App) expireOverdue(ctx context.Context) {
	n, err := a.Engine.ExpireOverdue(ctx)
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Error("expire overdue executions", slog.Any("error", err))
		}
		return
	}
	if n > 0 {
		a.logger.Info("expired overdue executions", slog.Int("count", n))
	}
}

// Close releases every backend connection in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
