package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq" // registers the PostgreSQL driver
)

// DB wraps the SQL connection and exposes the storage operations used
// by the sync engine and the analytics service.
type DB struct {
	db *sql.DB
}

// New creates a new database connection with pool settings tuned for
// the sync workload.
func New(dsn string) (*DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	return &DB{db: db}, nil
}

// NewFromDB wraps an existing connection. Used by tests that manage
// the connection lifecycle themselves.
func NewFromDB(db *sql.DB) *DB {
	return &DB{db: db}
}

// Migrate applies all pending migrations from the given directory.
func (d *DB) Migrate(migrationsPath string) error {
	driver, err := migratepg.WithInstance(d.db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("error creating migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("error creating migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("error applying migrations: %w", err)
	}

	return nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

// Conn exposes the underlying connection for components that manage
// their own tables, such as the result cache.
func (d *DB) Conn() *sql.DB {
	return d.db
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
