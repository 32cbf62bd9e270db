// Package app wires configuration, backends and the job for each trigger
// surface of bqmeta.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	httpapi "github.com/bqeco/bqmeta/internal/api/http"
	"github.com/bqeco/bqmeta/internal/config"
	bqerrors "github.com/bqeco/bqmeta/internal/errors"
	"github.com/bqeco/bqmeta/internal/job"
	"github.com/bqeco/bqmeta/internal/observability"
	"github.com/bqeco/bqmeta/internal/server"
	"github.com/bqeco/bqmeta/internal/storage"
	"github.com/bqeco/bqmeta/internal/warehouse"
)

// App owns the shared resources of one process.
type App struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *observability.Metrics

	store storage.Store
	wh    warehouse.Warehouse
	job   *job.Job
}

// New validates cfg. Backends are opened lazily by Open.
func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, bqerrors.Wrap(bqerrors.ErrCategoryValidation, bqerrors.CodeInvalidConfig, "invalid configuration", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &App{cfg: cfg, log: log, metrics: observability.NewMetrics()}, nil
}

// NewWithBackends builds an App around already opened backends.
func NewWithBackends(cfg *config.Config, log *zap.Logger, store storage.Store, wh warehouse.Warehouse) (*App, error) {
	a, err := New(cfg, log)
	if err != nil {
		return nil, err
	}
	a.store, a.wh = store, wh
	a.job = job.New(cfg, store, wh, a.log, a.metrics)
	return a, nil
}

// Open connects the object store and the warehouse.
func (a *App) Open(ctx context.Context) error {
	if a.job != nil {
		return nil
	}
	store, err := storage.Open(ctx, a.cfg.Store, a.cfg.Artifacts.Bucket)
	if err != nil {
		return bqerrors.NewStorageError(bqerrors.CodeUnexpected, "open object store", err)
	}
	wh, err := warehouse.Open(ctx, a.cfg.Warehouse)
	if err != nil {
		store.Close()
		return bqerrors.NewWarehouseError(bqerrors.CodeUnexpected, "open warehouse", err)
	}
	a.log.Info("backends ready",
		zap.String("store", a.cfg.Store.Driver),
		zap.String("bucket", a.cfg.Artifacts.Bucket),
		zap.String("warehouse", a.cfg.Warehouse.Driver),
		zap.Strings("projects", a.cfg.Scan.Projects))

	a.store, a.wh = store, wh
	a.job = job.New(a.cfg, store, wh, a.log, a.metrics)
	return nil
}

// RunOnce executes a single job run.
func (a *App) RunOnce(ctx context.Context, trigger string) job.Result {
	return a.job.Run(ctx, job.Request{Trigger: trigger})
}

// Handler returns the HTTP trigger with its middleware.
func (a *App) Handler(sm *server.ShutdownManager) http.Handler {
	mux := httpapi.NewMux(a.job, a.metrics.Handler())
	return httpapi.ChainMiddleware(
		server.ShutdownMiddleware(sm),
		httpapi.DefaultMiddleware(a.log),
	)(mux)
}

// Serve runs the HTTP trigger until ctx is cancelled or a termination
// signal arrives, then drains in-flight runs and releases the backends.
func (a *App) Serve(ctx context.Context) error {
	sm := server.NewShutdownManager(a.cfg.HTTP.ShutdownTimeout, a.log)
	srv := &http.Server{
		Addr:        a.cfg.HTTP.Addr,
		Handler:     a.Handler(sm),
		ReadTimeout: a.cfg.HTTP.ReadTimeout,
	}
	// Registered first so the backends close after the listener
	sm.RegisterCloser(a)
	serveErr := server.Start(srv, sm)
	a.log.Info("http trigger listening", zap.String("addr", a.cfg.HTTP.Addr))

	listenErr := make(chan error, 1)
	go func() { listenErr <- sm.ListenForSignals(ctx) }()

	select {
	case err := <-serveErr:
		if err != nil {
			_ = sm.Shutdown(context.Background(), "server error")
			<-listenErr
			return fmt.Errorf("http server failed: %w", err)
		}
		return <-listenErr
	case err := <-listenErr:
		return errors.Join(err, <-serveErr)
	}
}

// Snapshot copies the configured projects from the warehouse into a
// catalog file at path.
func (a *App) Snapshot(ctx context.Context, path string) (warehouse.SnapshotStats, error) {
	dst, err := warehouse.NewCatalog(path)
	if err != nil {
		return warehouse.SnapshotStats{}, err
	}
	defer dst.Close()

	label := ""
	if a.cfg.Scan.LabelsOnly {
		label = a.cfg.Scan.ScanLabel
	}
	stats, err := warehouse.Snapshot(ctx, a.wh, dst, a.cfg.Scan.Projects, label)
	if err != nil {
		return stats, err
	}
	a.log.Info("snapshot written",
		zap.String("path", path),
		zap.Int("datasets", stats.Datasets),
		zap.Int("tables", stats.Tables))
	return stats, nil
}

// Close releases the backends.
func (a *App) Close() error {
	var errs []error
	if a.wh != nil {
		errs = append(errs, a.wh.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
