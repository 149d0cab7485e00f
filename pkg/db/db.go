// Package db owns the OMS's SQLite-backed persistence schema: a
// single-writer connection plus idempotent additive migrations,
// following the teacher's pkg/db idiom.
package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Database wraps the underlying *sql.DB with the OMS's connection
// policy: a single writer connection, since SQLite serializes writes
// anyway and this avoids "database is locked" errors under WAL mode.
type Database struct {
	DB *sql.DB
}

// New opens (creating if absent) the sqlite file at path.
func New(path string) (*Database, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return &Database{DB: sqlDB}, nil
}

// Close releases the underlying connection.
func (d *Database) Close() error {
	if d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
