package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/haukened/fleeting/internal/app"
	"github.com/haukened/fleeting/internal/config"
	"github.com/haukened/fleeting/internal/metrics"
	"github.com/haukened/fleeting/internal/store/filesystem"
	"github.com/haukened/fleeting/internal/store/sqlite"
)

// runtime is the set of adapters and services every command works against.
type runtime struct {
	cfg     *config.Config
	db      *sql.DB
	index   *sqlite.Index
	blobs   *filesystem.BlobStore
	metrics *metrics.Manager
	logger  *slog.Logger

	creds  *app.CredentialService
	ingest *app.Ingestor
	fetch  *app.Retriever
	reaper *app.Reaper
	admin  *app.Admin
}

// ensureDataDir creates the data directory and its blob subdirectory with
// owner-only permissions.
func ensureDataDir(cfg *config.Config) error {
	for _, dir := range []string{cfg.DataDir, cfg.BlobDir()} {
		st, err := os.Stat(dir)
		switch {
		case errors.Is(err, os.ErrNotExist):
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return fmt.Errorf("create %s: %w", dir, err)
			}
		case err != nil:
			return fmt.Errorf("stat %s: %w", dir, err)
		case !st.IsDir():
			return fmt.Errorf("%s is not a directory", dir)
		}
	}
	return nil
}

// openRuntime opens the database (applying migrations) and the blob store,
// then wires the services. The metrics manager is created but not started.
func openRuntime(ctx context.Context, cfg *config.Config, clock app.Clock, logger *slog.Logger) (*runtime, error) {
	if err := ensureDataDir(cfg); err != nil {
		return nil, err
	}
	db, err := sqlite.Open(ctx, cfg.SQLiteDSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	idx, err := sqlite.New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init database: %w", err)
	}
	blobs, err := filesystem.New(cfg.BlobDir())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init blob storage: %w", err)
	}
	mm := metrics.New(db, metrics.Config{FlushInterval: cfg.MetricsFlushInterval, Logger: logger})

	rt := &runtime{cfg: cfg, db: db, index: idx, blobs: blobs, metrics: mm, logger: logger}
	rt.creds = &app.CredentialService{Store: idx, Clock: clock, Metrics: mm}
	rt.ingest = &app.Ingestor{
		Blobs:                blobs,
		Index:                idx,
		Auth:                 rt.creds,
		Clock:                clock,
		Metrics:              mm,
		Logger:               logger,
		MaxBytes:             int64(cfg.MaxBytes),
		DefaultLifetimeHours: cfg.DefaultLifetimeHours,
		MaxLifetimeHours:     cfg.MaxLifetimeHours,
	}
	rt.fetch = &app.Retriever{Index: idx, Blobs: blobs, Clock: clock, Metrics: mm}
	rt.reaper = &app.Reaper{Store: idx, Blobs: blobs, Metrics: mm, Logger: logger, OrphanGrace: cfg.OrphanGrace, StaleUpload: cfg.UploadTimeout}
	rt.admin = &app.Admin{Store: idx, Blobs: blobs}
	return rt, nil
}

// ready is the readiness check: the database answers and the blob
// directory is readable.
func (rt *runtime) ready(ctx context.Context) error {
	if err := rt.db.PingContext(ctx); err != nil {
		return err
	}
	_, err := os.ReadDir(rt.blobs.Root())
	return err
}

// close flushes pending metrics and closes the database.
func (rt *runtime) close(ctx context.Context) {
	if err := rt.metrics.Stop(ctx); err != nil {
		rt.logger.Warn("final metrics flush", "error", err)
	}
	if err := rt.db.Close(); err != nil {
		rt.logger.Warn("close database", "error", err)
	}
}
