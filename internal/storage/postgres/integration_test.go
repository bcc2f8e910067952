//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/felixgeelhaar/drill/internal/review"
	"github.com/felixgeelhaar/drill/internal/review/reviewtest"
)

var _ review.Store = (*ReviewStore)(nil)

// setupPostgres starts a PostgreSQL container and returns its connection URL.
func setupPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "drill",
				"POSTGRES_PASSWORD": "drill",
				"POSTGRES_DB":       "drill",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("failed to get mapped port: %v", err)
	}
	return fmt.Sprintf("postgres://drill:drill@%s:%s/drill?sslmode=disable", host, port.Port())
}

func TestIntegration_ReviewStore(t *testing.T) {
	url := setupPostgres(t)
	ctx := context.Background()

	schemas := 0
	reviewtest.RunStoreTests(t, func(t *testing.T) review.Store {
		// Each subtest gets its own schema so they start empty.
		schemas++
		db, err := Connect(ctx, Config{URL: url, Schema: fmt.Sprintf("drill_test_%d", schemas)})
		if err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		t.Cleanup(db.Close)
		if err := db.Migrate(ctx); err != nil {
			t.Fatalf("Migrate() error = %v", err)
		}
		return NewReviewStore(db)
	})
}

func TestIntegration_MigrateIdempotent(t *testing.T) {
	url := setupPostgres(t)
	ctx := context.Background()

	db, err := Connect(ctx, Config{URL: url, Schema: "drill"})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer db.Close()

	for i := 0; i < 2; i++ {
		if err := db.Migrate(ctx); err != nil {
			t.Fatalf("Migrate() #%d error = %v", i+1, err)
		}
	}
	v, err := db.Version(ctx)
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if v != 1 {
		t.Errorf("Version() = %d; want 1", v)
	}

	learners, err := NewReviewStore(db).Learners(ctx)
	if err != nil {
		t.Fatalf("Learners() error = %v", err)
	}
	if len(learners) != 0 {
		t.Errorf("Learners() = %v; want none", learners)
	}
}
