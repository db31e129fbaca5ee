// Package broadcast serializes channel and post state changes and publishes
// them to the pub/sub transport. Publishing is fire-and-forget: failures are
// logged and counted, never surfaced to the triggering mutation.
package broadcast

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/samber/lo"

	"github.com/loamlabs/shoutbox/channel"
	"github.com/loamlabs/shoutbox/db"
	"github.com/loamlabs/shoutbox/telemetry"
)

// embedPattern matches markdown image references; their count rides along on
// post payloads so clients can reserve layout space before fetching.
var embedPattern = sync.OnceValue(func() *regexp.Regexp {
	return regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
})

// Broadcaster publishes channel-scoped events. It reads core state but never
// mutates it.
type Broadcaster struct {
	db  *sql.DB
	pub Publisher
}

// New builds a broadcaster over the given transport.
func New(dbc *sql.DB, pub Publisher) *Broadcaster {
	return &Broadcaster{db: dbc, pub: pub}
}

func channelAddress(channelID int64) string {
	return fmt.Sprintf("/chat/channels/%d", channelID)
}

// PublishChannel publishes an anonymous snapshot of the channel's post
// listing. The payload is delivered to every subscriber, so it must never
// carry any single user's read state.
func (b *Broadcaster) PublishChannel(ctx context.Context, ch *channel.Channel, extras map[string]any) {
	posts, err := db.ListPosts(ctx, b.db, ch.ID)
	if err != nil {
		b.fail(ctx, channelAddress(ch.ID), err)
		return
	}
	groupNames, err := b.groupNames(ctx, ch)
	if err != nil {
		b.fail(ctx, channelAddress(ch.ID), err)
		return
	}

	payload := map[string]any{
		"id":                  ch.ID,
		"title":               ch.Title,
		"permissions":         ch.PermissionMode,
		"category_id":         ch.CategoryID,
		"group_names":         groupNames,
		"highest_post_number": ch.HighestPostNumber,
		"posts": lo.Map(posts, func(p *db.Post, _ int) map[string]any {
			return b.postPayload(ctx, p, nil)
		}),
	}
	for k, v := range extras {
		payload[k] = v
	}
	b.publish(ctx, channelAddress(ch.ID), payload)
}

// PublishPost publishes the full post, merged with extras such as edit or
// delete flags, to the channel's posts address.
func (b *Broadcaster) PublishPost(ctx context.Context, post *db.Post, extras map[string]any) {
	address := channelAddress(post.ChannelID) + "/posts"
	b.publish(ctx, address, b.postPayload(ctx, post, extras))
}

// PublishNotification publishes a minimal {username, status} payload to the
// channel's notifications address.
func (b *Broadcaster) PublishNotification(ctx context.Context, ch *channel.Channel, user *db.User, status string) {
	address := channelAddress(ch.ID) + "/notifications"
	b.publish(ctx, address, map[string]any{
		"username": user.Username,
		"status":   status,
	})
}

func (b *Broadcaster) postPayload(ctx context.Context, p *db.Post, extras map[string]any) map[string]any {
	username := ""
	if u, err := db.FindUser(ctx, b.db, p.UserID); err == nil && u != nil {
		username = u.Username
	}
	payload := map[string]any{
		"id":             p.ID,
		"channel_id":     p.ChannelID,
		"user_id":        p.UserID,
		"username":       username,
		"raw":            p.Raw,
		"post_number":    p.PostNumber,
		"revision_count": p.RevisionCount,
		"created_at":     p.CreatedAt,
		"updated_at":     p.UpdatedAt,
		"embed_count":    len(embedPattern().FindAllString(p.Raw, -1)),
	}
	for k, v := range extras {
		payload[k] = v
	}
	return payload
}

func (b *Broadcaster) groupNames(ctx context.Context, ch *channel.Channel) ([]string, error) {
	if ch.PermissionMode != channel.ModeGroup {
		return nil, nil
	}
	rows, err := b.db.QueryContext(ctx, `
		SELECT g.name FROM groups g
		JOIN channel_groups cg ON cg.group_id = g.id
		WHERE cg.channel_id=$1 ORDER BY g.id ASC`, ch.ID)
	if err != nil {
		return nil, fmt.Errorf("load group names: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan group name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (b *Broadcaster) publish(ctx context.Context, address string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.fail(ctx, address, err)
		return
	}
	if err := b.pub.Publish(ctx, address, data); err != nil {
		b.fail(ctx, address, err)
		return
	}
	telemetry.IncCounter(telemetry.BroadcastsSent)
}

func (b *Broadcaster) fail(ctx context.Context, address string, err error) {
	telemetry.IncCounter(telemetry.BroadcastFailures)
	telemetry.LoggerWithCorr(ctx).Warn("broadcast failed",
		slog.String("address", address), slog.Any("err", err))
}
