package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"xynconsole/internal/config"
)

const defaultDBName = "xyn.db"

type Config struct {
	Workspace string
	// File overrides the database path; ":memory:" opens a private in-memory database.
	File string
}

func dbPath(cfg Config) string {
	if cfg.File != "" {
		return cfg.File
	}
	return filepath.Join(config.StateDir(cfg.Workspace), defaultDBName)
}

// EnsureStateDir creates the workspace state directory if missing.
func EnsureStateDir(workspace string) (string, error) {
	path := config.StateDir(workspace)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the SQLite database with foreign keys on and a busy timeout so
// the worker and request handlers can share the file.
func Open(cfg Config) (*sql.DB, error) {
	if cfg.File == "" {
		if _, err := EnsureStateDir(cfg.Workspace); err != nil {
			return nil, err
		}
	}
	path := dbPath(cfg)
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// each pooled connection would get its own empty database
		conn.SetMaxOpenConns(1)
	}
	return conn, nil
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(Config{Workspace: workspace})
}
