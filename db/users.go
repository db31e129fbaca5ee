package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// User is a platform account. Authentication is owned by the surrounding
// platform; this service only resolves ids handed to it by the gateway.
type User struct {
	ID        int64
	Username  string
	Admin     bool
	PostCount int
	CreatedAt time.Time
}

// FindUser loads a user by id; returns nil when missing.
func FindUser(ctx context.Context, dbc *sql.DB, id int64) (*User, error) {
	u := &User{}
	err := dbc.QueryRowContext(ctx,
		`SELECT id, username, admin, post_count, created_at FROM users WHERE id=$1`, id).
		Scan(&u.ID, &u.Username, &u.Admin, &u.PostCount, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user %d: %w", id, err)
	}
	return u, nil
}
