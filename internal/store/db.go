package store

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection for a session's peerchat.db. It is the
// only shared mutable resource of the protocol engines. Writes from the
// event loop and from an outbox drain rely on SQLite's busy timeout.
type DB struct {
	*sql.DB
}

// Open creates a SQLite connection with WAL journaling and a busy timeout.
func Open(path string) (*DB, error) {
	pragmas := url.Values{}
	pragmas.Set("_journal_mode", "WAL")
	pragmas.Set("_busy_timeout", "5000")
	pragmas.Set("_foreign_keys", "on")

	db, err := sql.Open("sqlite3", "file:"+path+"?"+pragmas.Encode())
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db %s: %w", path, err)
	}
	return &DB{db}, nil
}
