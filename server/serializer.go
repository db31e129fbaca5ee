package server

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/loamlabs/shoutbox/channel"
	"github.com/loamlabs/shoutbox/db"
)

// postView serializes a post with its author's username.
func (h *Handlers) postView(ctx context.Context, p *db.Post) map[string]any {
	username := ""
	if u, err := db.FindUser(ctx, h.deps.DB, p.UserID); err == nil && u != nil {
		username = u.Username
	}
	return map[string]any{
		"id":             p.ID,
		"channel_id":     p.ChannelID,
		"user_id":        p.UserID,
		"username":       username,
		"raw":            p.Raw,
		"post_number":    p.PostNumber,
		"revision_count": p.RevisionCount,
		"created_at":     p.CreatedAt,
		"updated_at":     p.UpdatedAt,
	}
}

// channelView serializes the per-user channel view: the post listing plus the
// caller's last-read marker. This shape is for direct responses only; the
// broadcast snapshot stays anonymous.
func (h *Handlers) channelView(ctx context.Context, scope *reqScope) (map[string]any, error) {
	posts, err := db.ListPosts(ctx, h.deps.DB, scope.ch.ID)
	if err != nil {
		return nil, err
	}
	lastRead, err := h.deps.Pipeline.LastRead(ctx, scope.user, scope.ch)
	if err != nil {
		return nil, err
	}
	view := map[string]any{
		"id":                    scope.ch.ID,
		"title":                 scope.ch.Title,
		"permissions":           scope.ch.PermissionMode,
		"category_id":           scope.ch.CategoryID,
		"highest_post_number":   scope.ch.HighestPostNumber,
		"last_read_post_number": lastRead,
		"posts": lo.Map(posts, func(p *db.Post, _ int) map[string]any {
			return h.postView(ctx, p)
		}),
	}
	if scope.ch.PermissionMode == channel.ModeGroup {
		groups, err := h.deps.Registry.Groups(ctx, scope.ch)
		if err != nil {
			return nil, fmt.Errorf("load groups for view: %w", err)
		}
		view["group_names"] = lo.Map(groups, func(g channel.Group, _ int) string { return g.Name })
	}
	return view, nil
}
