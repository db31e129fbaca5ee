// Package message orchestrates the chat post lifecycle against the content
// store: creation, revision, deletion, read tracking, and retention pruning,
// with broadcast and relay side effects. Authorization is the caller's job;
// the pipeline enforces only structural invariants (non-empty content,
// correct channel binding).
package message

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loamlabs/shoutbox/apperr"
	"github.com/loamlabs/shoutbox/broadcast"
	"github.com/loamlabs/shoutbox/channel"
	"github.com/loamlabs/shoutbox/db"
	"github.com/loamlabs/shoutbox/relay"
	"github.com/loamlabs/shoutbox/telemetry"
)

// Pipeline composes the content store's generic post operations with the
// chat-specific hooks and side effects.
type Pipeline struct {
	db     *sql.DB
	reg    *channel.Registry
	bc     *broadcast.Broadcaster
	pruner *Pruner
	relay  *relay.Client
}

// NewPipeline wires the pipeline's collaborators together.
func NewPipeline(dbc *sql.DB, reg *channel.Registry, bc *broadcast.Broadcaster, pruner *Pruner, rc *relay.Client) *Pipeline {
	return &Pipeline{db: dbc, reg: reg, bc: bc, pruner: pruner, relay: rc}
}

// CreateOpts carries per-request creation options.
type CreateOpts struct {
	// SkipRelay suppresses the outbound relay notification for this post.
	SkipRelay bool
}

// Create posts a new message into the channel. The post is bound to the
// channel explicitly; generic per-post side effects (author counters, the
// generic notification queue) are suppressed because chat does its own read
// tracking. On success the creator's last-read marker is advanced in the same
// transaction, then the channel is pruned and the post and channel are
// broadcast. Prune, broadcast, and relay failures never fail the creation.
func (p *Pipeline) Create(ctx context.Context, user *db.User, channelID int64, raw string, opts CreateOpts) (*db.Post, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, apperr.Validation("no post content")
	}
	ch, err := p.reg.FindByID(ctx, channelID)
	if err != nil {
		return nil, err
	}

	post, err := db.CreatePost(ctx, p.db, db.CreatePostOpts{
		ChannelID:           ch.ID,
		UserID:              user.ID,
		Raw:                 raw,
		SkipValidations:     true,
		UpdateUserCounts:    false,
		EnqueueNotification: false,
		AfterCreate: func(ctx context.Context, tx *sql.Tx, post *db.Post) error {
			return advanceLastReadTx(ctx, tx, user.ID, post.ChannelID, post.PostNumber)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create chat post: %w", err)
	}
	telemetry.IncCounter(telemetry.PostsCreated)
	ch.HighestPostNumber = post.PostNumber

	if err := p.pruner.Prune(ctx, ch); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("prune after create failed",
			slog.Int64("channel_id", ch.ID), slog.Any("err", err))
	}

	p.bc.PublishPost(ctx, post, nil)
	p.bc.PublishChannel(ctx, ch, nil)

	if !opts.SkipRelay {
		p.relay.Notify(ctx, user.Username, post.Raw)
	}
	return post, nil
}

// Update revises a post's raw content. The post must belong to the channel
// under edit, and chat revisions are exempt from the generic length and
// format validation.
func (p *Pipeline) Update(ctx context.Context, editor *db.User, post *db.Post, ch *channel.Channel, raw string) (*db.Post, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, apperr.Validation("no post content")
	}
	if post.ChannelID != ch.ID {
		return nil, apperr.Validation("post %d does not belong to channel %d", post.ID, ch.ID)
	}
	updated, err := db.RevisePost(ctx, p.db, post, raw, db.RevisePostOpts{SkipValidations: true})
	if err != nil {
		return nil, fmt.Errorf("revise chat post: %w", err)
	}
	telemetry.IncCounter(telemetry.PostsEdited)
	p.bc.PublishPost(ctx, updated, map[string]any{"is_edit": true})
	return updated, nil
}

// Delete removes a post and broadcasts the same events as any other deletion
// path: a channel snapshot and the post with a delete flag.
func (p *Pipeline) Delete(ctx context.Context, user *db.User, post *db.Post) error {
	ch, err := p.reg.FindByID(ctx, post.ChannelID)
	if err != nil {
		return err
	}
	if err := db.DeletePost(ctx, p.db, post); err != nil {
		return err
	}
	telemetry.IncCounter(telemetry.PostsDeleted)
	p.bc.PublishChannel(ctx, ch, nil)
	p.bc.PublishPost(ctx, post, map[string]any{"is_delete": true})
	return nil
}

// RemoveAll drains every post in the channel, broadcasting one delete event
// per post and a single channel snapshot at the end. Used when a channel is
// destroyed.
func (p *Pipeline) RemoveAll(ctx context.Context, ch *channel.Channel) error {
	posts, err := db.ListPosts(ctx, p.db, ch.ID)
	if err != nil {
		return err
	}
	for _, post := range posts {
		if err := db.DeletePost(ctx, p.db, post); err != nil {
			return err
		}
		telemetry.IncCounter(telemetry.PostsDeleted)
		p.bc.PublishPost(ctx, post, map[string]any{"is_delete": true})
	}
	p.bc.PublishChannel(ctx, ch, nil)
	return nil
}

// MarkRead advances the user's last-read marker for the channel. The marker
// is monotonic: a stale post_number never regresses it.
func (p *Pipeline) MarkRead(ctx context.Context, user *db.User, ch *channel.Channel, postNumber int) error {
	if postNumber < 0 {
		return apperr.Validation("post_number must not be negative")
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO channel_users (channel_id, user_id, last_read_post_number)
		VALUES ($1, $2, $3)
		ON CONFLICT (channel_id, user_id)
		DO UPDATE SET last_read_post_number = GREATEST(channel_users.last_read_post_number, EXCLUDED.last_read_post_number)`,
		ch.ID, user.ID, postNumber)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// LastRead returns the user's last-read marker for the channel (0 when the
// user has never read it).
func (p *Pipeline) LastRead(ctx context.Context, user *db.User, ch *channel.Channel) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT last_read_post_number FROM channel_users WHERE channel_id=$1 AND user_id=$2`,
		ch.ID, user.ID).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load last read: %w", err)
	}
	return n, nil
}

// EnsureMembership creates the user's channel_users row if missing, so read
// tracking starts when a user first opens a channel.
func (p *Pipeline) EnsureMembership(ctx context.Context, user *db.User, ch *channel.Channel) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO channel_users (channel_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, ch.ID, user.ID)
	if err != nil {
		return fmt.Errorf("ensure channel membership: %w", err)
	}
	return nil
}

func advanceLastReadTx(ctx context.Context, tx *sql.Tx, userID, channelID int64, postNumber int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO channel_users (channel_id, user_id, last_read_post_number)
		VALUES ($1, $2, $3)
		ON CONFLICT (channel_id, user_id)
		DO UPDATE SET last_read_post_number = GREATEST(channel_users.last_read_post_number, EXCLUDED.last_read_post_number)`,
		channelID, userID, postNumber)
	if err != nil {
		return fmt.Errorf("advance last read: %w", err)
	}
	return nil
}
