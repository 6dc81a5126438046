package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// SetupTestContainer starts a migrated PostgreSQL container and returns a
// pool on it along with a cleanup func. It skips the test in -short mode.
func SetupTestContainer(t *testing.T) (*pgxpool.Pool, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	dsn := func(host string, port nat.Port) string {
		return fmt.Sprintf("postgres://schedules:schedules@%s:%s/schedules?sslmode=disable", host, port.Port())
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "schedules",
				"POSTGRES_PASSWORD": "schedules",
				"POSTGRES_DB":       "schedules",
			},
			WaitingFor: wait.ForSQL("5432/tcp", "pgx", dsn),
		},
		Started: true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn(host, port))
	require.NoError(t, err)
	require.NoError(t, RunMigrations(ctx, pool, MigrationsDir()))

	return pool, func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}
}

// NoOpTracer returns a tracer for tests that discards spans.
func NoOpTracer() trace.Tracer { return noop.NewTracerProvider().Tracer("test") }
