package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// setupDB mirrors testutil.SetupTestDB; the testutil package depends on this
// one, so the helper is duplicated here.
func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	dbc, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := Migrate(context.Background(), dbc); err != nil {
		dbc.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { dbc.Close() })
	return dbc
}

func seedChannel(t *testing.T, dbc *sql.DB) (channelID, userID int64) {
	t.Helper()
	ctx := context.Background()
	username := fmt.Sprintf("poster_%d", time.Now().UnixNano())
	if err := dbc.QueryRowContext(ctx,
		`INSERT INTO users (username) VALUES ($1) RETURNING id`, username).Scan(&userID); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := dbc.QueryRowContext(ctx,
		`INSERT INTO channels (title, permission_mode, user_id) VALUES ('store test', 'group', $1) RETURNING id`,
		userID).Scan(&channelID); err != nil {
		t.Fatalf("create channel: %v", err)
	}
	t.Cleanup(func() {
		_, _ = dbc.Exec(`DELETE FROM channels WHERE id=$1`, channelID)
		_, _ = dbc.Exec(`DELETE FROM users WHERE id=$1`, userID)
	})
	return channelID, userID
}

func TestCreatePostAllocatesNumbers(t *testing.T) {
	dbc := setupDB(t)
	ctx := context.Background()
	chID, userID := seedChannel(t, dbc)

	for want := 1; want <= 3; want++ {
		p, err := CreatePost(ctx, dbc, CreatePostOpts{ChannelID: chID, UserID: userID, Raw: "hello"})
		if err != nil {
			t.Fatalf("CreatePost: %v", err)
		}
		if p.PostNumber != want {
			t.Errorf("post_number = %d, want %d", p.PostNumber, want)
		}
		if p.ID == 0 || p.CreatedAt.IsZero() {
			t.Errorf("post not fully populated: %+v", p)
		}
	}

	var highest int
	if err := dbc.QueryRowContext(ctx,
		`SELECT highest_post_number FROM channels WHERE id=$1`, chID).Scan(&highest); err != nil {
		t.Fatalf("load channel: %v", err)
	}
	if highest != 3 {
		t.Errorf("highest_post_number = %d, want 3", highest)
	}
}

func TestCreatePostMissingChannel(t *testing.T) {
	dbc := setupDB(t)
	_, userID := seedChannel(t, dbc)

	_, err := CreatePost(context.Background(), dbc, CreatePostOpts{ChannelID: 999999999, UserID: userID, Raw: "x"})
	if err != ErrNoChannel {
		t.Errorf("error = %v, want ErrNoChannel", err)
	}
}

func TestCreatePostLengthValidation(t *testing.T) {
	dbc := setupDB(t)
	ctx := context.Background()
	chID, userID := seedChannel(t, dbc)

	long := strings.Repeat("a", MaxPostLength+1)
	if _, err := CreatePost(ctx, dbc, CreatePostOpts{ChannelID: chID, UserID: userID, Raw: long}); err != ErrRawTooLong {
		t.Errorf("error = %v, want ErrRawTooLong", err)
	}
	// SkipValidations exempts the post from the bound.
	if _, err := CreatePost(ctx, dbc, CreatePostOpts{ChannelID: chID, UserID: userID, Raw: long, SkipValidations: true}); err != nil {
		t.Errorf("CreatePost with SkipValidations: %v", err)
	}
}

func TestCreatePostHooks(t *testing.T) {
	dbc := setupDB(t)
	ctx := context.Background()
	chID, userID := seedChannel(t, dbc)

	var beforeNumber, afterID int64
	p, err := CreatePost(ctx, dbc, CreatePostOpts{
		ChannelID: chID, UserID: userID, Raw: "hooked",
		BeforeCreate: func(_ context.Context, _ *sql.Tx, p *Post) error {
			beforeNumber = int64(p.PostNumber)
			return nil
		},
		AfterCreate: func(_ context.Context, _ *sql.Tx, p *Post) error {
			afterID = p.ID
			return nil
		},
	})
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	if beforeNumber != int64(p.PostNumber) {
		t.Errorf("BeforeCreate saw post_number %d, want %d", beforeNumber, p.PostNumber)
	}
	if afterID != p.ID {
		t.Errorf("AfterCreate saw id %d, want %d", afterID, p.ID)
	}

	// A failing hook aborts the whole creation.
	_, err = CreatePost(ctx, dbc, CreatePostOpts{
		ChannelID: chID, UserID: userID, Raw: "doomed",
		AfterCreate: func(_ context.Context, _ *sql.Tx, _ *Post) error {
			return fmt.Errorf("hook refused")
		},
	})
	if err == nil {
		t.Fatalf("expected hook error to abort creation")
	}
	var n int
	if err := dbc.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM posts WHERE channel_id=$1 AND raw='doomed'`, chID).Scan(&n); err != nil {
		t.Fatalf("count posts: %v", err)
	}
	if n != 0 {
		t.Errorf("aborted creation left %d rows", n)
	}
}

func TestRevisePost(t *testing.T) {
	dbc := setupDB(t)
	ctx := context.Background()
	chID, userID := seedChannel(t, dbc)

	p, err := CreatePost(ctx, dbc, CreatePostOpts{ChannelID: chID, UserID: userID, Raw: "v1"})
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	updated, err := RevisePost(ctx, dbc, p, "v2", RevisePostOpts{})
	if err != nil {
		t.Fatalf("RevisePost: %v", err)
	}
	if updated.Raw != "v2" || updated.RevisionCount != 1 || updated.UpdatedAt == nil {
		t.Errorf("updated = %+v", updated)
	}

	long := strings.Repeat("b", MaxPostLength+1)
	if _, err := RevisePost(ctx, dbc, p, long, RevisePostOpts{}); err != ErrRawTooLong {
		t.Errorf("error = %v, want ErrRawTooLong", err)
	}
	if _, err := RevisePost(ctx, dbc, p, long, RevisePostOpts{SkipValidations: true}); err != nil {
		t.Errorf("RevisePost with SkipValidations: %v", err)
	}
}

func TestFindPostMissing(t *testing.T) {
	dbc := setupDB(t)
	p, err := FindPost(context.Background(), dbc, 999999999)
	if err != nil {
		t.Fatalf("FindPost: %v", err)
	}
	if p != nil {
		t.Errorf("expected nil for missing post, got %+v", p)
	}
}

func TestEnsureGroupIdempotent(t *testing.T) {
	dbc := setupDB(t)
	ctx := context.Background()
	name := fmt.Sprintf("ensure_%d", time.Now().UnixNano())
	t.Cleanup(func() { _, _ = dbc.Exec(`DELETE FROM groups WHERE name=$1`, name) })

	first, err := EnsureGroup(ctx, dbc, name)
	if err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}
	second, err := EnsureGroup(ctx, dbc, name)
	if err != nil {
		t.Fatalf("EnsureGroup second call: %v", err)
	}
	if first != second {
		t.Errorf("EnsureGroup returned %d then %d for the same name", first, second)
	}
}
