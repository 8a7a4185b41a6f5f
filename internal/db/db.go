// Package db bootstraps the gateway's SQLite database: opening the file,
// running migrations under a cross-process file lock, and handing back a
// *sqlx.DB for internal/repository/sqlite to build ports on top of.
//
// Grounded on the teacher's pkg/db/db.go: golang-migrate/v4 with the
// modernc.org/sqlite driver, gofrs/flock guarding concurrent migration
// runs across processes, and go:embed'd migration files.
package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/golang-migrate/migrate/v4"
	msqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/mcpbundler/gateway/internal/gwlog"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type Options struct {
	DBFile         string
	MigrationsFS   fs.FS
	MigrationsPath string
}

// Open opens (creating if necessary) the SQLite database at opts.DBFile,
// runs pending migrations, and returns a ready-to-use handle.
func Open(opts Options) (*sqlx.DB, error) {
	if opts.DBFile == "" {
		return nil, errors.New("db file is required")
	}
	if err := ensureDir(opts.DBFile); err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open("sqlite", "file:"+opts.DBFile+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	migFS := opts.MigrationsFS
	if migFS == nil {
		migFS = &migrationFiles
	}
	migPath := opts.MigrationsPath
	if migPath == "" {
		migPath = "migrations"
	}

	if err := runMigrations(opts.DBFile, sqlDB, migFS, migPath); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return sqlx.NewDb(sqlDB, "sqlite"), nil
}

// OpenMemory opens an in-process, shared-cache SQLite database for tests,
// skipping the file lock (there is no other process to race with). Handles
// open at the same time in one process see the same database; it is
// discarded when the last connection closes.
func OpenMemory() (*sqlx.DB, error) {
	sqlDB, err := sql.Open("sqlite", "file::memory:?cache=shared&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	driver, err := msqlite.WithInstance(sqlDB, &msqlite.Config{})
	if err != nil {
		return nil, err
	}
	migDriver, err := iofs.New(&migrationFiles, "migrations")
	if err != nil {
		return nil, err
	}
	defer migDriver.Close()

	mig, err := migrate.NewWithInstance("iofs", migDriver, "sqlite", driver)
	if err != nil {
		return nil, err
	}
	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return sqlx.NewDb(sqlDB, "sqlite"), nil
}

func ensureDir(dbFile string) error {
	dir := filepath.Dir(dbFile)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}
	return nil
}

// runMigrations applies pending migrations under a cross-process file
// lock, matching the teacher's pkg/db/db.go runMigrations exactly in
// spirit: fresh databases always migrate, dirty databases refuse to
// proceed, and a database version ahead of the binary's migrations fails
// loudly instead of silently skipping forward.
func runMigrations(dbFile string, sqlDB *sql.DB, migFS fs.FS, migPath string) error {
	migDriver, err := iofs.New(migFS, migPath)
	if err != nil {
		return err
	}
	defer migDriver.Close()

	driver, err := msqlite.WithInstance(sqlDB, &msqlite.Config{})
	if err != nil {
		return err
	}

	mig, err := migrate.NewWithInstance("iofs", migDriver, "sqlite", driver)
	if err != nil {
		return err
	}

	lockFile := filepath.Join(filepath.Dir(dbFile), ".mcpb-gateway-migration.lock")
	fileLock := flock.New(lockFile)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	locked, err := fileLock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !locked {
		return errors.New("timeout waiting for migration lock")
	}
	defer func() {
		if err := fileLock.Unlock(); err != nil {
			gwlog.Warnf("failed to unlock migration lock: %v", err)
		}
	}()

	version, dirty, err := mig.Version()
	isFresh := errors.Is(err, migrate.ErrNilVersion)
	if err != nil && !isFresh {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("database is in dirty state at version %d, manual intervention required", version)
	}
	if !isFresh {
		if _, _, err := migDriver.ReadUp(version); errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("database version %d (%s) is ahead of this binary's migrations", version, dbFile)
		} else if err != nil {
			return fmt.Errorf("failed to read migration file for version %d: %w", version, err)
		}
	}

	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// DefaultDatabaseFile returns the default SQLite file path under the
// user's home directory, mirroring the teacher's
// pkg/db.DefaultDatabaseFilename layout.
func DefaultDatabaseFile() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".mcpb-gateway", "gateway.db"), nil
}
