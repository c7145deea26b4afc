//go:build integration
// +build integration

// Package integration provides a disposable PostgreSQL checkpoint store
// harness for end-to-end tests; it holds no test of its own. Grounded on the migration
// tool's own test/integration/infra.go testcontainers harness.
package integration

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Infra owns a single disposable Postgres container for the lifetime of a
// test run.
type Infra struct {
	Container *postgres.PostgresContainer
	DB        *sql.DB
	DSN       string
}

// SetupPostgres starts a Postgres container and waits for it to accept
// connections.
func SetupPostgres(ctx context.Context) (*Infra, error) {
	container, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("reconciler_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &Infra{Container: container, DB: db, DSN: dsn}, nil
}

// Teardown stops the container and closes the connection pool.
func (i *Infra) Teardown(ctx context.Context) error {
	var err error
	if i.DB != nil {
		err = i.DB.Close()
	}
	if i.Container != nil {
		if terr := i.Container.Terminate(ctx); terr != nil && err == nil {
			err = terr
		}
	}
	return err
}
