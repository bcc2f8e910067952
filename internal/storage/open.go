// Package storage opens the review store selected by configuration.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/drill/internal/config"
	"github.com/felixgeelhaar/drill/internal/review"
	"github.com/felixgeelhaar/drill/internal/storage/local"
	"github.com/felixgeelhaar/drill/internal/storage/postgres"
	"github.com/felixgeelhaar/drill/internal/storage/sqlite"
)

// Handle is an opened, migrated review store
type Handle struct {
	Store  review.Store
	Driver string

	learners func(ctx context.Context) ([]string, error)
	close    func() error
}

// Learners lists every learner with stored review state
func (h *Handle) Learners(ctx context.Context) ([]string, error) {
	return h.learners(ctx)
}

// Close releases the underlying connection or pool
func (h *Handle) Close() error {
	if h.close == nil {
		return nil
	}
	return h.close()
}

// Open connects to the configured driver and applies pending migrations
func Open(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (*Handle, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Driver {
	case config.DriverSQLite, "":
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		store := sqlite.NewReviewStore(db)
		logger.Debug("opened review store", "driver", config.DriverSQLite, "path", db.Path())
		return &Handle{Store: store, Driver: config.DriverSQLite, learners: store.Learners, close: db.Close}, nil

	case config.DriverPostgres:
		db, err := postgres.Connect(ctx, postgres.Config{
			URL:      cfg.DatabaseURL,
			Schema:   cfg.Schema,
			MaxConns: cfg.MaxConns,
			LogSQL:   cfg.LogSQL,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		store := postgres.NewReviewStore(db)
		logger.Debug("opened review store", "driver", config.DriverPostgres, "schema", cfg.Schema)
		return &Handle{
			Store:    store,
			Driver:   config.DriverPostgres,
			learners: store.Learners,
			close: func() error {
				db.Close()
				return nil
			},
		}, nil

	case config.DriverLocal:
		store, err := local.NewReviewStore(cfg.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("open local store: %w", err)
		}
		logger.Debug("opened review store", "driver", config.DriverLocal, "path", cfg.LocalPath)
		return &Handle{
			Store:  store,
			Driver: config.DriverLocal,
			learners: func(context.Context) ([]string, error) {
				return store.Learners()
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
