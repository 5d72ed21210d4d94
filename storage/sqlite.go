package storage

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "modernc.org/sqlite"
)

//go:embed schema/sqlite/schema.sql
var sqliteSchema string

// NewSQLiteStore opens (or creates) the database at dbPath. ":memory:" is
// accepted; the pool is pinned to one connection so it stays a single database.
func NewSQLiteStore(dbPath string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLStore{db: db, insert: "INSERT", nonceSource: "login"}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}
