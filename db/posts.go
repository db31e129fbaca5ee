package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNoChannel is returned when a post operation references a channel that
// does not exist.
var ErrNoChannel = errors.New("channel not found")

// ErrRawTooLong is returned by the generic content validation when a post
// body exceeds MaxPostLength and validation was not skipped.
var ErrRawTooLong = errors.New("post content exceeds maximum length")

// MaxPostLength is the generic content-model bound on post bodies. Chat
// posts are created with SkipValidations and are exempt.
const MaxPostLength = 32000

// Post is a content-store post row. channel_id is always explicit; it is
// never inferred from surrounding context.
type Post struct {
	ID            int64
	ChannelID     int64
	UserID        int64
	Raw           string
	PostNumber    int
	RevisionCount int
	CreatedAt     time.Time
	UpdatedAt     *time.Time
}

// CreatePostOpts configures a generic post creation. The hook fields are the
// pipeline's extension points: callers inject pre-validation and in-transaction
// side effects instead of overriding store internals.
type CreatePostOpts struct {
	ChannelID int64
	UserID    int64
	Raw       string

	// SkipValidations bypasses the generic length bound (chat posts are
	// intentionally unconstrained in that dimension).
	SkipValidations bool
	// UpdateUserCounts maintains the author's post_count. Chat turns this off.
	UpdateUserCounts bool
	// EnqueueNotification writes a generic notification row for the author's
	// followers. Chat turns this off and does its own read tracking.
	EnqueueNotification bool

	// BeforeCreate runs inside the transaction before the insert, after the
	// post_number has been allocated. Returning an error aborts the creation.
	BeforeCreate func(ctx context.Context, tx *sql.Tx, p *Post) error
	// AfterCreate runs inside the transaction after the insert. Returning an
	// error aborts the creation.
	AfterCreate func(ctx context.Context, tx *sql.Tx, p *Post) error
}

// CreatePost allocates the next post_number for the channel and inserts the
// post in a single transaction. The row lock taken by the allocation update
// guarantees unique, strictly increasing post numbers under concurrent
// writers.
func CreatePost(ctx context.Context, dbc *sql.DB, opts CreatePostOpts) (*Post, error) {
	if !opts.SkipValidations && len(opts.Raw) > MaxPostLength {
		return nil, ErrRawTooLong
	}

	tx, err := dbc.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create post: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	p := &Post{ChannelID: opts.ChannelID, UserID: opts.UserID, Raw: opts.Raw}
	err = tx.QueryRowContext(ctx, `
		UPDATE channels SET highest_post_number = highest_post_number + 1
		WHERE id=$1
		RETURNING highest_post_number`, opts.ChannelID).Scan(&p.PostNumber)
	if err == sql.ErrNoRows {
		return nil, ErrNoChannel
	}
	if err != nil {
		return nil, fmt.Errorf("allocate post number: %w", err)
	}

	if opts.BeforeCreate != nil {
		if err := opts.BeforeCreate(ctx, tx, p); err != nil {
			return nil, err
		}
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO posts (channel_id, user_id, raw, post_number, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, created_at`,
		p.ChannelID, p.UserID, p.Raw, p.PostNumber).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert post: %w", err)
	}

	if opts.UpdateUserCounts {
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET post_count = post_count + 1 WHERE id=$1`, p.UserID); err != nil {
			return nil, fmt.Errorf("update user counts: %w", err)
		}
	}
	if opts.EnqueueNotification {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO notifications (user_id, data) VALUES ($1, $2)`,
			p.UserID, fmt.Sprintf(`{"post_id":%d,"channel_id":%d}`, p.ID, p.ChannelID)); err != nil {
			return nil, fmt.Errorf("enqueue notification: %w", err)
		}
	}

	if opts.AfterCreate != nil {
		if err := opts.AfterCreate(ctx, tx, p); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create post: %w", err)
	}
	return p, nil
}

// RevisePostOpts configures a content revision.
type RevisePostOpts struct {
	// SkipValidations bypasses the generic length bound.
	SkipValidations bool
}

// RevisePost replaces the post's raw content and bumps its revision count.
// The updated post is returned.
func RevisePost(ctx context.Context, dbc *sql.DB, post *Post, raw string, opts RevisePostOpts) (*Post, error) {
	if !opts.SkipValidations && len(raw) > MaxPostLength {
		return nil, ErrRawTooLong
	}
	updated := *post
	err := dbc.QueryRowContext(ctx, `
		UPDATE posts SET raw=$1, revision_count = revision_count + 1, updated_at=NOW()
		WHERE id=$2
		RETURNING revision_count, updated_at`, raw, post.ID).Scan(&updated.RevisionCount, &updated.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("revise post %d: %w", post.ID, err)
	}
	updated.Raw = raw
	return &updated, nil
}

// DeletePost removes a post row. Post numbers of surviving posts are left
// untouched so per-channel ordering stays intact.
func DeletePost(ctx context.Context, dbc *sql.DB, post *Post) error {
	if _, err := dbc.ExecContext(ctx, `DELETE FROM posts WHERE id=$1`, post.ID); err != nil {
		return fmt.Errorf("delete post %d: %w", post.ID, err)
	}
	return nil
}

// FindPost loads a post by id; returns nil when missing.
func FindPost(ctx context.Context, dbc *sql.DB, id int64) (*Post, error) {
	p := &Post{}
	err := dbc.QueryRowContext(ctx, `
		SELECT id, channel_id, user_id, raw, post_number, revision_count, created_at, updated_at
		FROM posts WHERE id=$1`, id).
		Scan(&p.ID, &p.ChannelID, &p.UserID, &p.Raw, &p.PostNumber, &p.RevisionCount, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find post %d: %w", id, err)
	}
	return p, nil
}

// ListPosts returns a channel's posts ordered oldest to newest.
func ListPosts(ctx context.Context, dbc *sql.DB, channelID int64) ([]*Post, error) {
	rows, err := dbc.QueryContext(ctx, `
		SELECT id, channel_id, user_id, raw, post_number, revision_count, created_at, updated_at
		FROM posts WHERE channel_id=$1 ORDER BY post_number ASC`, channelID)
	if err != nil {
		return nil, fmt.Errorf("list posts for channel %d: %w", channelID, err)
	}
	defer func() { _ = rows.Close() }()
	var out []*Post
	for rows.Next() {
		p := &Post{}
		if err := rows.Scan(&p.ID, &p.ChannelID, &p.UserID, &p.Raw, &p.PostNumber, &p.RevisionCount, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan post row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
