package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied on startup. Statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username VARCHAR(200) NOT NULL UNIQUE,
		hashed_password VARCHAR(225) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS todos (
		id BIGSERIAL PRIMARY KEY,
		title VARCHAR(225) NOT NULL,
		description VARCHAR(225),
		done BOOLEAN NOT NULL DEFAULT FALSE,
		owner_id BIGINT NOT NULL REFERENCES users(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_todos_owner_id ON todos (owner_id)`,
	`CREATE TABLE IF NOT EXISTS task_permissions (
		id BIGSERIAL PRIMARY KEY,
		task_id BIGINT NOT NULL REFERENCES todos(id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL REFERENCES users(id),
		permission VARCHAR(16) NOT NULL CHECK (permission IN ('read', 'update')),
		UNIQUE (task_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_task_permissions_user_id ON task_permissions (user_id)`,
}

func OpenDB(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	config.MaxConns = 50
	config.MinConns = 2
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Migrate creates the tables the service needs if they do not exist yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
