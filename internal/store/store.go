// Package store implements Component A: a single-file relational store
// with write-ahead durability and an ordered, transactional schema
// migration runner. Every accessor lives in its own file, grouped by the
// entity it serves, mirroring null-runner-mcp-gateway's pkg/db layout.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	msqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	pkgerrors "github.com/pkg/errors"

	// registers the "sqlite" driver used by sql.Open below.
	_ "modernc.org/sqlite"

	"mcpbroker/internal/crypto"
	"mcpbroker/internal/domain"
	"mcpbroker/pkg/logging"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store is the single-writer handle shared by every DAO in this package.
// A dedicated *crypto.Service encrypts/decrypts the sensitive columns
// named in invariant 2 before they cross the sql.DB boundary.
type Store struct {
	db     *sqlx.DB
	crypto *crypto.Service
}

// Open opens (creating if absent) the SQLite database at dbFile, applies
// any pending migrations, and returns a ready Store. Migration failure
// aborts startup
func Open(dbFile string, cryptoSvc *crypto.Service) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbFile), 0o755); err != nil {
		return nil, &domain.StoreError{Op: "mkdir", Cause: err}
	}

	dsn := "file:" + dbFile + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &domain.StoreError{Op: "open", Cause: err}
	}

	// SQLite has one writer; serialize everything through one connection
	// rather than letting database/sql hand out a pool that would then
	// contend on SQLITE_BUSY, the same discipline null-runner-mcp-gateway
	// uses for its own store.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := runMigrations(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return &Store{db: sqlx.NewDb(sqlDB, "sqlite"), crypto: cryptoSvc}, nil
}

func runMigrations(sqlDB *sql.DB) error {
	srcDriver, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return &domain.MigrationError{Message: "failed to load embedded migrations", Cause: err}
	}

	dbDriver, err := msqlite.WithInstance(sqlDB, &msqlite.Config{})
	if err != nil {
		return &domain.MigrationError{Message: "failed to create migration driver", Cause: err}
	}

	m, err := migrate.NewWithInstance("iofs", srcDriver, "sqlite", dbDriver)
	if err != nil {
		return &domain.MigrationError{Message: "failed to construct migration runner", Cause: err}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return &domain.MigrationError{Message: "failed to apply pending migrations", Cause: err}
	}
	logging.Info("store", "schema migrations up to date")
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// txClose rolls back tx if *err is non-nil after the caller's deferred
// call runs; mirrors null-runner-mcp-gateway's pkg/db.txClose idiom.
func txClose(tx *sqlx.Tx, err *error) {
	if err == nil || *err == nil {
		return
	}
	if rbErr := tx.Rollback(); rbErr != nil {
		logging.Warn("store", "failed to rollback transaction: %v", rbErr)
	}
}

func wrapStoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return &domain.StoreError{Op: op, Cause: pkgerrors.WithStack(err)}
}
