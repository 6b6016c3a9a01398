// Package db opens the SQLite results database and applies its embedded
// migrations.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

const driverName = "sqlite3"

// Options selects the database file and whether every statement is logged.
type Options struct {
	// Path is a file path, a "file:" URI or ":memory:".
	Path   string
	LogSQL bool
	Logger *slog.Logger
}

// Open connects, pings and migrates the database.
func Open(ctx context.Context, opts Options) (*sql.DB, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	dsn, err := buildDSN(opts.Path)
	if err != nil {
		return nil, err
	}

	var conn *sql.DB
	if opts.LogSQL {
		connector, err := NewLoggingConnector(dsn, opts.Logger)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
		conn = sql.OpenDB(connector)
	} else {
		conn, err = sql.Open(driverName, dsn)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
	}

	// One writer at a time; an in-memory database also lives on a single connection.
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	if err := Migrate(ctx, conn, opts.Logger); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	return conn, nil
}

func Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}

func buildDSN(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("empty sqlite path")
	}
	if path == ":memory:" {
		return "file::memory:?_foreign_keys=on", nil
	}

	params := []string{
		"_foreign_keys=on",
		"_busy_timeout=5000",
		"_journal_mode=WAL",
	}

	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}
