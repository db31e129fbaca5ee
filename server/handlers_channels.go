package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/loamlabs/shoutbox/apperr"
	"github.com/loamlabs/shoutbox/channel"
)

// channelParams is the create/update request shape.
type channelParams struct {
	Title           string  `json:"title"`
	PermissionMode  string  `json:"permission_mode"`
	CategoryID      *int64  `json:"category_id"`
	AllowedGroupIDs []int64 `json:"allowed_group_ids"`
}

func (p channelParams) toParams() channel.Params {
	return channel.Params{
		Title:           p.Title,
		PermissionMode:  p.PermissionMode,
		CategoryID:      p.CategoryID,
		AllowedGroupIDs: p.AllowedGroupIDs,
	}
}

// HandleChannels serves GET /channels (list) and POST /channels (create).
func (h *Handlers) HandleChannels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scope, err := h.resolveScope(ctx, r, "")
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		h.handleChannelList(ctx, w, scope)
	case http.MethodPost:
		h.handleChannelSave(ctx, w, r, scope, nil)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) handleChannelList(ctx context.Context, w http.ResponseWriter, scope *reqScope) {
	list, err := h.deps.Registry.ListFor(ctx, scope.user)
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	respondJSON(w, lo.Map(list, func(ch *channel.Channel, _ int) map[string]any {
		return map[string]any{
			"id":          ch.ID,
			"title":       ch.Title,
			"permissions": ch.PermissionMode,
			"category_id": ch.CategoryID,
		}
	}))
}

func (h *Handlers) handleChannelSave(ctx context.Context, w http.ResponseWriter, r *http.Request, scope *reqScope, existing *channel.Channel) {
	if !scope.user.Admin {
		respondErr(ctx, w, apperr.Forbidden("You are unable to view this chat channel"))
		return
	}
	var params channelParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		respondErr(ctx, w, apperr.Validation("malformed channel params"))
		return
	}
	ch, err := h.deps.Registry.Save(ctx, params.toParams(), existing)
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	view, err := h.channelView(ctx, &reqScope{user: scope.user, ch: ch})
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	respondJSON(w, view)
}

// HandleChannelDispatcher routes requests under /channels/{ref}/* to the
// appropriate sub-handlers. {ref} is a numeric channel id or a category slug.
func (h *Handlers) HandleChannelDispatcher(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// crude routing
	path := strings.TrimPrefix(r.URL.Path, "/channels/")
	parts := strings.Split(path, "/")
	ref := parts[0]
	tail := ""
	if len(parts) > 1 {
		tail = strings.Join(parts[1:], "/")
	}
	if ref == "" {
		http.NotFound(w, r)
		return
	}

	if ref == "default" {
		h.handleChannelDefault(ctx, w, r)
		return
	}

	scope, err := h.resolveScope(ctx, r, ref)
	if err != nil {
		respondErr(ctx, w, err)
		return
	}

	switch {
	case tail == "":
		h.handleChannelDetail(ctx, w, r, scope)
	case tail == "posts":
		h.handlePostCreate(ctx, w, r, scope)
	case strings.HasPrefix(tail, "posts/"):
		h.handlePostDispatch(ctx, w, r, scope, strings.TrimPrefix(tail, "posts/"))
	case strings.HasPrefix(tail, "read/"):
		h.handleMarkRead(ctx, w, r, scope, strings.TrimPrefix(tail, "read/"))
	case tail == "groups":
		h.handleChannelGroups(ctx, w, r, scope)
	case tail == "notification":
		h.handleNotification(ctx, w, r, scope)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handlers) handleChannelDefault(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	user, err := h.resolveUser(ctx, r)
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	ch, err := h.deps.Registry.DefaultFor(ctx, user)
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	h.showChannel(ctx, w, &reqScope{user: user, ch: ch})
}

func (h *Handlers) handleChannelDetail(ctx context.Context, w http.ResponseWriter, r *http.Request, scope *reqScope) {
	switch r.Method {
	case http.MethodGet:
		h.showChannel(ctx, w, scope)
	case http.MethodPost:
		h.handleChannelSave(ctx, w, r, scope, scope.ch)
	case http.MethodDelete:
		h.handleChannelDestroy(ctx, w, scope)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// showChannel renders the per-user channel view and records that the user
// opened the channel.
func (h *Handlers) showChannel(ctx context.Context, w http.ResponseWriter, scope *reqScope) {
	if err := h.deps.Pipeline.EnsureMembership(ctx, scope.user, scope.ch); err != nil {
		respondErr(ctx, w, err)
		return
	}
	view, err := h.channelView(ctx, scope)
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	respondJSON(w, view)
}

func (h *Handlers) handleChannelDestroy(ctx context.Context, w http.ResponseWriter, scope *reqScope) {
	if !scope.user.Admin {
		respondErr(ctx, w, apperr.Forbidden("You are unable to view this chat channel"))
		return
	}
	if err := h.deps.Registry.Destroy(ctx, scope.ch); err != nil {
		respondErr(ctx, w, err)
		return
	}
	slog.Info("chat channel destroyed", slog.Int64("channel_id", scope.ch.ID), slog.Int64("by", scope.user.ID))
	respondJSON(w, nil)
}

func (h *Handlers) handleMarkRead(ctx context.Context, w http.ResponseWriter, r *http.Request, scope *reqScope, rest string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		respondErr(ctx, w, apperr.Validation("invalid post_number %q", rest))
		return
	}
	if err := h.deps.Pipeline.MarkRead(ctx, scope.user, scope.ch, n); err != nil {
		respondErr(ctx, w, err)
		return
	}
	view, err := h.channelView(ctx, scope)
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	respondJSON(w, view)
}

func (h *Handlers) handleChannelGroups(ctx context.Context, w http.ResponseWriter, r *http.Request, scope *reqScope) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !scope.user.Admin {
		respondErr(ctx, w, apperr.Forbidden("You are unable to view this chat channel"))
		return
	}
	groups, err := h.deps.Registry.Groups(ctx, scope.ch)
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	respondJSON(w, lo.Map(groups, func(g channel.Group, _ int) map[string]any {
		return map[string]any{"id": g.ID, "name": g.Name}
	}))
}

func (h *Handlers) handleNotification(ctx context.Context, w http.ResponseWriter, r *http.Request, scope *reqScope) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Status == "" {
		respondErr(ctx, w, apperr.Validation("missing notification status"))
		return
	}
	h.deps.Notifier.PublishNotification(ctx, scope.ch, scope.user, body.Status)
	respondJSON(w, nil)
}
