package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrate applies idempotent schema changes for all required tables and indices,
// then seeds the system user sentinel.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			admin BOOLEAN DEFAULT FALSE,
			post_count INTEGER DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS groups (
			id BIGSERIAL PRIMARY KEY,
			name TEXT UNIQUE NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS group_users (
			group_id BIGINT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			PRIMARY KEY (group_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS categories (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			slug TEXT UNIQUE NOT NULL,
			read_restricted BOOLEAN DEFAULT FALSE,
			chat_channel_id BIGINT,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS category_groups (
			category_id BIGINT NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
			group_id BIGINT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
			PRIMARY KEY (category_id, group_id)
		)`,
		`CREATE TABLE IF NOT EXISTS channels (
			id BIGSERIAL PRIMARY KEY,
			title TEXT NOT NULL,
			permission_mode TEXT NOT NULL CHECK (permission_mode IN ('category','group')),
			category_id BIGINT REFERENCES categories(id),
			retention_limit INTEGER NOT NULL DEFAULT 100 CHECK (retention_limit >= 1),
			user_id BIGINT NOT NULL REFERENCES users(id),
			highest_post_number INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		// one channel per category, enforced at the storage layer too
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_channels_category ON channels(category_id) WHERE category_id IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS channel_groups (
			channel_id BIGINT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
			group_id BIGINT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
			PRIMARY KEY (channel_id, group_id)
		)`,
		`CREATE TABLE IF NOT EXISTS posts (
			id BIGSERIAL PRIMARY KEY,
			channel_id BIGINT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
			user_id BIGINT NOT NULL REFERENCES users(id),
			raw TEXT NOT NULL,
			post_number INTEGER NOT NULL,
			revision_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ,
			UNIQUE (channel_id, post_number)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_channel_created ON posts(channel_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS channel_users (
			channel_id BIGINT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			last_read_post_number INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (channel_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			data TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		// system identity sentinel used after pruning
		`INSERT INTO users (id, username, admin) VALUES (-1, 'system', TRUE) ON CONFLICT (id) DO NOTHING`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}
