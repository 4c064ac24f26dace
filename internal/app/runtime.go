package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hibiken/asynq"

	"github.com/loopos/loopos/internal/assignments"
	"github.com/loopos/loopos/internal/observability"
	"github.com/loopos/loopos/internal/plants"
	"github.com/loopos/loopos/internal/platform/cache"
	"github.com/loopos/loopos/internal/platform/db"
	"github.com/loopos/loopos/internal/storage/jsonfile"
	"github.com/loopos/loopos/internal/storage/postgres"
	"github.com/loopos/loopos/internal/users"
	"github.com/loopos/loopos/internal/workorders"
	"github.com/loopos/loopos/jobs"
)

// Backend is everything a storage implementation provides.
type Backend interface {
	users.RepositoryPort
	plants.RepositoryPort
	workorders.RepositoryPort
	assignments.Store
}

// Runtime holds the wired services shared by the API, the worker and the CLI.
type Runtime struct {
	Config       *Config
	Logger       *slog.Logger
	Metrics      *observability.Metrics
	Backend      Backend
	Locker       assignments.Locker
	Synchronizer *assignments.Synchronizer
	Users        *users.Service
	Plants       *plants.Service
	WorkOrders   *workorders.Service

	closers []func() error
}

// NewRuntime opens the configured storage and lock backends and wires the
// domain services on top of them.
func NewRuntime(ctx context.Context, cfg *Config, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}

	backend, err := rt.openBackend(ctx)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Backend = backend

	locker, err := rt.openLocker(ctx)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Locker = locker

	rt.Synchronizer = assignments.NewSynchronizer(backend, locker, logger.With(slog.String("component", "assignments")), rt.Metrics)
	rt.Users = users.NewService(backend, rt.Synchronizer, logger.With(slog.String("component", "users")))
	rt.Plants = plants.NewService(backend, rt.Synchronizer, logger.With(slog.String("component", "plants")))
	rt.WorkOrders = workorders.NewService(backend, locker, logger.With(slog.String("component", "workorders")))
	return rt, nil
}

func (rt *Runtime) openBackend(ctx context.Context) (Backend, error) {
	switch rt.Config.StorageBackend {
	case StoragePostgres:
		pool, err := db.New(ctx, rt.Config.PGDSN)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() error { pool.Close(); return nil })
		store := postgres.New(pool)
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		rt.Logger.Info("storage ready", slog.String("backend", StoragePostgres))
		return store, nil
	case StorageJSON:
		store, err := jsonfile.Open(rt.Config.DataDir, rt.Logger)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, store.Close)
		rt.Logger.Info("storage ready", slog.String("backend", StorageJSON), slog.String("dir", store.Dir()))
		return store, nil
	}
	return nil, fmt.Errorf("app: unknown storage backend %q", rt.Config.StorageBackend)
}

func (rt *Runtime) openLocker(ctx context.Context) (assignments.Locker, error) {
	if rt.Config.LockBackend != LockRedis {
		return assignments.NewLocalLocker(), nil
	}
	client, err := cache.New(ctx, rt.Config.RedisAddr)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, client.Close)
	return cache.NewLocker(client, rt.Config.LockTTL, rt.Logger), nil
}

// RedisOpts returns the asynq connection settings.
func (rt *Runtime) RedisOpts() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: rt.Config.RedisAddr}
}

// Router builds the HTTP API. A nil jobHandler leaves /jobs unmounted.
func (rt *Runtime) Router(jobHandler *jobs.Handler) http.Handler {
	return NewRouter(RouterParams{
		Logger:           rt.Logger,
		Config:           rt.Config,
		Actors:           rt.Backend,
		UsersHandler:     users.NewHandler(rt.Logger, rt.Users),
		PlantsHandler:    plants.NewHandler(rt.Logger, rt.Plants),
		WorkOrderHandler: workorders.NewHandler(rt.Logger, rt.WorkOrders),
		AdminHandler:     NewAdminHandler(rt.Logger, rt.Synchronizer),
		JobHandler:       jobHandler,
		Metrics:          rt.Metrics,
	})
}

// Close releases backends in reverse order of opening.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
