package storage

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/felixgeelhaar/drill/internal/config"
	"github.com/felixgeelhaar/drill/internal/domain"
)

func TestOpen(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name string
		cfg  func(dir string) config.StorageConfig
	}{
		{"sqlite", func(dir string) config.StorageConfig {
			return config.StorageConfig{Driver: config.DriverSQLite, SQLitePath: filepath.Join(dir, "drill.db")}
		}},
		{"default driver", func(dir string) config.StorageConfig {
			return config.StorageConfig{SQLitePath: filepath.Join(dir, "drill.db")}
		}},
		{"local", func(dir string) config.StorageConfig {
			return config.StorageConfig{Driver: config.DriverLocal, LocalPath: filepath.Join(dir, "data")}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()

			h, err := Open(ctx, tt.cfg(dir), logger)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}

			item := domain.NewReviewItem("alice", "arrays/two-sum", "arrays", domain.MustParseDate("2024-03-10"))
			item.CreatedAt = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
			item.UpdatedAt = item.CreatedAt
			if err := h.Store.CreateItem(ctx, &item); err != nil {
				t.Fatalf("CreateItem() error = %v", err)
			}

			learners, err := h.Learners(ctx)
			if err != nil {
				t.Fatalf("Learners() error = %v", err)
			}
			if len(learners) != 1 || learners[0] != "alice" {
				t.Errorf("Learners() = %v; want [alice]", learners)
			}
			if err := h.Close(); err != nil {
				t.Errorf("Close() error = %v", err)
			}

			// Reopening sees the stored item and does not re-run migrations.
			h, err = Open(ctx, tt.cfg(dir), logger)
			if err != nil {
				t.Fatalf("reopen error = %v", err)
			}
			defer h.Close()
			if _, err := h.Store.GetItem(ctx, "alice", "arrays/two-sum"); err != nil {
				t.Errorf("GetItem() after reopen error = %v", err)
			}
		})
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), config.StorageConfig{Driver: "redis"}, nil); err == nil {
		t.Error("Open() error = nil; want unknown driver error")
	}
}
