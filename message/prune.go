package message

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/loamlabs/shoutbox/channel"
	"github.com/loamlabs/shoutbox/db"
	"github.com/loamlabs/shoutbox/telemetry"
)

// Pruner trims a channel's post history to its retention limit and hands the
// channel's owning-user marker to the system identity, since after pruning
// the "most recent activity" slot is controlled by retained content only.
type Pruner struct {
	db *sql.DB
}

// NewPruner builds a pruner over the content store.
func NewPruner(dbc *sql.DB) *Pruner { return &Pruner{db: dbc} }

// Prune deletes all posts beyond the channel's newest retention_limit posts.
// Post numbers of retained posts are untouched, so ordering survives. Runs
// synchronously after every successful creation; retention limits are small
// enough that this stays cheap.
func (p *Pruner) Prune(ctx context.Context, ch *channel.Channel) error {
	res, err := p.db.ExecContext(ctx, `
		DELETE FROM posts WHERE channel_id=$1 AND id IN (
			SELECT id FROM posts WHERE channel_id=$1
			ORDER BY post_number DESC OFFSET $2
		)`, ch.ID, ch.RetentionLimit)
	if err != nil {
		return fmt.Errorf("prune channel %d: %w", ch.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		telemetry.AddCounter(telemetry.PostsPruned, float64(n))
		slog.Debug("pruned channel posts", slog.Int64("channel_id", ch.ID), slog.Int64("deleted", n))
	}

	if _, err := p.db.ExecContext(ctx,
		`UPDATE channels SET user_id=$1 WHERE id=$2`, db.SystemUserID, ch.ID); err != nil {
		return fmt.Errorf("reassign channel owner: %w", err)
	}
	ch.UserID = db.SystemUserID
	return nil
}

// LoadSweepInterval reads CHAT_PRUNE_SWEEP_INTERVAL. Zero disables the
// background sweep; unset defaults to 6h.
func LoadSweepInterval() time.Duration {
	if s := os.Getenv("CHAT_PRUNE_SWEEP_INTERVAL"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d >= 0 {
			return d
		}
	}
	return 6 * time.Hour
}

// StartPruneSweep runs a background job that periodically re-prunes every
// channel. The synchronous prune after each creation keeps channels at their
// limit in steady state; the sweep catches channels whose retention limit
// was lowered after the fact.
func StartPruneSweep(ctx context.Context, dbc *sql.DB, interval time.Duration) {
	if interval <= 0 {
		slog.Info("prune sweep disabled")
		return
	}
	slog.Info("prune sweep starting", slog.Duration("interval", interval))

	pruner := NewPruner(dbc)
	if err := sweepOnce(ctx, dbc, pruner); err != nil {
		slog.Warn("prune sweep failed", slog.Any("err", err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("prune sweep stopped")
			return
		case <-ticker.C:
			if err := sweepOnce(ctx, dbc, pruner); err != nil {
				slog.Warn("prune sweep failed", slog.Any("err", err))
			}
		}
	}
}

func sweepOnce(ctx context.Context, dbc *sql.DB, pruner *Pruner) error {
	rows, err := dbc.QueryContext(ctx, `SELECT id, retention_limit FROM channels ORDER BY id ASC`)
	if err != nil {
		return fmt.Errorf("list channels for sweep: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var channels []*channel.Channel
	for rows.Next() {
		ch := &channel.Channel{}
		if err := rows.Scan(&ch.ID, &ch.RetentionLimit); err != nil {
			return fmt.Errorf("scan channel for sweep: %w", err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list channels for sweep: %w", err)
	}

	telemetry.SetChannelCount(len(channels))
	for _, ch := range channels {
		if err := pruner.Prune(ctx, ch); err != nil {
			slog.Warn("sweep prune failed", slog.Int64("channel_id", ch.ID), slog.Any("err", err))
		}
	}
	return nil
}
