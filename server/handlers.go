package server

import (
	"context"
	"net/http"

	"github.com/loamlabs/shoutbox/apperr"
	"github.com/loamlabs/shoutbox/channel"
	"github.com/loamlabs/shoutbox/db"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps Deps
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{deps: deps}
}

// reqScope caches the per-request lookups (current user, resolved channel)
// so each logical operation resolves them once and passes them down the call
// chain explicitly.
type reqScope struct {
	user *db.User
	ch   *channel.Channel
}

// resolveUser loads the caller's identity from the gateway-provided
// X-User-Id header. A missing or unknown id is a forbidden outcome, matching
// the "logged in users only" contract of the chat surface.
func (h *Handlers) resolveUser(ctx context.Context, r *http.Request) (*db.User, error) {
	id, ok := parseInt64Header(r, "X-User-Id")
	if !ok {
		return nil, apperr.Forbidden("You are unable to view this chat channel")
	}
	user, err := db.FindUser(ctx, h.deps.DB, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.Forbidden("You are unable to view this chat channel")
	}
	return user, nil
}

// resolveScope resolves the current user and, when ref is non-empty, the
// channel it names, enforcing the visibility predicate before any handler
// runs.
func (h *Handlers) resolveScope(ctx context.Context, r *http.Request, ref string) (*reqScope, error) {
	user, err := h.resolveUser(ctx, r)
	if err != nil {
		return nil, err
	}
	scope := &reqScope{user: user}
	if ref == "" {
		return scope, nil
	}
	ch, err := h.deps.Registry.Find(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := h.checkVisible(ctx, user, ch); err != nil {
		return nil, err
	}
	scope.ch = ch
	return scope, nil
}

func (h *Handlers) checkVisible(ctx context.Context, user *db.User, ch *channel.Channel) error {
	ok, err := canView(ctx, h.deps.DB, user, ch)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Forbidden("You are unable to view this chat channel")
	}
	return nil
}
