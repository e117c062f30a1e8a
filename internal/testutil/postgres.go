package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"gitmetrics-service/internal/database"

	"github.com/go-testfixtures/testfixtures/v3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

type TestPostgres struct {
	Container *postgres.PostgresContainer
	DB        *sql.DB
	Store     *database.DB
	DSN       string
	Fixtures  *testfixtures.Loader
}

// NewTestPostgres starts a PostgreSQL container, applies the project
// migrations and prepares a fixtures loader.
func NewTestPostgres(ctx context.Context) (*TestPostgres, error) {
	pgContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_HOST_AUTH_METHOD": "trust",
		}),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Second)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	dsn, err := pgContainer.ConnectionString(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}
	dsn += " sslmode=disable"

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := database.NewFromDB(db)

	_, filename, _, _ := runtime.Caller(0)
	migrationsPath := filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
	if err := store.Migrate(migrationsPath); err != nil {
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	fixturesPath := filepath.Join(filepath.Dir(filename), "fixtures")
	fixtures, err := testfixtures.New(
		testfixtures.Database(db),
		testfixtures.Dialect("postgres"),
		testfixtures.Directory(fixturesPath),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize fixtures: %w", err)
	}

	return &TestPostgres{
		Container: pgContainer,
		DB:        db,
		Store:     store,
		DSN:       dsn,
		Fixtures:  fixtures,
	}, nil
}

// Close cleans up the test database resources
func (tp *TestPostgres) Close(ctx context.Context) error {
	if tp.DB != nil {
		if err := tp.DB.Close(); err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	if tp.Container != nil {
		if err := tp.Container.Terminate(ctx); err != nil {
			return fmt.Errorf("failed to terminate container: %w", err)
		}
	}

	return nil
}

// LoadFixtures loads all fixtures into the database
func (tp *TestPostgres) LoadFixtures() error {
	return tp.Fixtures.Load()
}
