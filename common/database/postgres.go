package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"incarceration-bot/common/config"

	_ "github.com/lib/pq"
)

const pingTimeout = 10 * time.Second

// NewPostgresDB opens the shared pool and waits at most pingTimeout for the
// server to answer
func NewPostgresDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database %s@%s:%d: %w", cfg.Database, cfg.Host, cfg.Port, err)
	}

	return db, nil
}

// WithConn checks out a dedicated connection for the duration of fn.
// Jails never share a session: row/gap locks taken by one jail's batch
// must not serialize another jail's writes.
func WithConn(ctx context.Context, db *sql.DB, fn func(conn *sql.Conn) error) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	return fn(conn)
}

// Close closes the pool
func Close(db *sql.DB) error {
	if db != nil {
		return db.Close()
	}
	return nil
}
