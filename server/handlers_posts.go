package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/loamlabs/shoutbox/apperr"
	"github.com/loamlabs/shoutbox/db"
	"github.com/loamlabs/shoutbox/guardian"
	"github.com/loamlabs/shoutbox/message"
)

type postParams struct {
	Raw string `json:"raw"`
}

func (h *Handlers) handlePostCreate(ctx context.Context, w http.ResponseWriter, r *http.Request, scope *reqScope) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var params postParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		respondErr(ctx, w, apperr.Validation("no post content"))
		return
	}
	post, err := h.deps.Pipeline.Create(ctx, scope.user, scope.ch.ID, params.Raw, message.CreateOpts{
		SkipRelay: r.URL.Query().Get("skip_relay") == "1",
	})
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	respondJSON(w, h.postView(ctx, post))
}

func (h *Handlers) handlePostDispatch(ctx context.Context, w http.ResponseWriter, r *http.Request, scope *reqScope, rest string) {
	postID, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	post, err := db.FindPost(ctx, h.deps.DB, postID)
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	if post == nil || post.ChannelID != scope.ch.ID {
		respondErr(ctx, w, apperr.NotFound("Post not found"))
		return
	}

	switch r.Method {
	case http.MethodPost:
		h.handlePostUpdate(ctx, w, r, scope, post)
	case http.MethodDelete:
		h.handlePostDelete(ctx, w, scope, post)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) handlePostUpdate(ctx context.Context, w http.ResponseWriter, r *http.Request, scope *reqScope, post *db.Post) {
	if !guardian.CanEditPost(scope.user, post) {
		respondErr(ctx, w, apperr.Forbidden("You are unable to edit this post"))
		return
	}
	var params postParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		respondErr(ctx, w, apperr.Validation("no post content"))
		return
	}
	updated, err := h.deps.Pipeline.Update(ctx, scope.user, post, scope.ch, params.Raw)
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	respondJSON(w, h.postView(ctx, updated))
}

func (h *Handlers) handlePostDelete(ctx context.Context, w http.ResponseWriter, scope *reqScope, post *db.Post) {
	if !guardian.CanDeletePost(scope.user, post) {
		respondErr(ctx, w, apperr.Forbidden("You are unable to delete this post"))
		return
	}
	if err := h.deps.Pipeline.Delete(ctx, scope.user, post); err != nil {
		respondErr(ctx, w, err)
		return
	}
	respondJSON(w, h.postView(ctx, post))
}
