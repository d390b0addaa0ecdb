// Package sqlite implements the store driver on an embedded SQLite
// database. A single connection with WAL journaling is the intended
// deployment shape: the graph manager is the only writer.
package sqlite

import (
	"database/sql"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/hivemind-ai/hive/internal/profile"
	"github.com/hivemind-ai/hive/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the engine database at the profile DSN.
//
// Notes:
// - When using the `modernc.org/sqlite` driver, each pragma must be prefixed with `_pragma=`.
// - WAL journal mode prevents reader/writer locking issues.
// - Foreign key constraints stay explicitly disabled to match SQLite's default.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	// Single connection is optimal for SQLite with WAL; the write path is
	// serialized by the graph manager anyway.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	driver := DB{db: sqliteDB, profile: profile}

	return &driver, nil
}

func (d *DB) GetDB() any {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}
