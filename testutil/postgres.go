package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/loamlabs/shoutbox/db"
)

// SetupTestDB creates a test database connection and runs migrations.
// It skips the test if TEST_PG_DSN environment variable is not set.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(context.Background(), database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database
}

// CreateUser inserts a user with a unique username and returns its id.
func CreateUser(t *testing.T, dbc *sql.DB, admin bool) int64 {
	t.Helper()
	username := fmt.Sprintf("user_%d", time.Now().UnixNano())
	var id int64
	err := dbc.QueryRowContext(context.Background(),
		`INSERT INTO users (username, admin) VALUES ($1, $2) RETURNING id`,
		username, admin).Scan(&id)
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	t.Cleanup(func() {
		_, _ = dbc.Exec(`DELETE FROM users WHERE id = $1`, id)
	})
	return id
}

// CreateGroup inserts a group with a unique name and returns its id.
func CreateGroup(t *testing.T, dbc *sql.DB) int64 {
	t.Helper()
	name := fmt.Sprintf("group_%d", time.Now().UnixNano())
	var id int64
	err := dbc.QueryRowContext(context.Background(),
		`INSERT INTO groups (name) VALUES ($1) RETURNING id`, name).Scan(&id)
	if err != nil {
		t.Fatalf("failed to create group: %v", err)
	}
	t.Cleanup(func() {
		_, _ = dbc.Exec(`DELETE FROM groups WHERE id = $1`, id)
	})
	return id
}

// AddUserToGroup creates the membership row.
func AddUserToGroup(t *testing.T, dbc *sql.DB, groupID, userID int64) {
	t.Helper()
	_, err := dbc.ExecContext(context.Background(),
		`INSERT INTO group_users (group_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		groupID, userID)
	if err != nil {
		t.Fatalf("failed to add user to group: %v", err)
	}
}

// CreateCategory inserts a category with a unique slug and returns its id.
func CreateCategory(t *testing.T, dbc *sql.DB, restricted bool) int64 {
	t.Helper()
	slug := fmt.Sprintf("cat-%d", time.Now().UnixNano())
	var id int64
	err := dbc.QueryRowContext(context.Background(),
		`INSERT INTO categories (name, slug, read_restricted) VALUES ($1, $1, $2) RETURNING id`,
		slug, restricted).Scan(&id)
	if err != nil {
		t.Fatalf("failed to create category: %v", err)
	}
	t.Cleanup(func() {
		_, _ = dbc.Exec(`DELETE FROM categories WHERE id = $1`, id)
	})
	return id
}

// GrantCategoryGroup allows groupID to read categoryID.
func GrantCategoryGroup(t *testing.T, dbc *sql.DB, categoryID, groupID int64) {
	t.Helper()
	_, err := dbc.ExecContext(context.Background(),
		`INSERT INTO category_groups (category_id, group_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		categoryID, groupID)
	if err != nil {
		t.Fatalf("failed to grant category group: %v", err)
	}
}

// CleanupChannel removes a channel row and its dependents after the test.
func CleanupChannel(t *testing.T, dbc *sql.DB, channelID int64) {
	t.Helper()
	t.Cleanup(func() {
		_, _ = dbc.Exec(`UPDATE categories SET chat_channel_id = NULL WHERE chat_channel_id = $1`, channelID)
		_, _ = dbc.Exec(`DELETE FROM channels WHERE id = $1`, channelID)
	})
}
