// Package guardian holds the visibility and capability predicates for chat
// channels. All predicates are read-only; callers consult them before every
// user-facing read or mutation.
package guardian

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/loamlabs/shoutbox/db"
)

// CanSeeCategory is the platform's generic category-visibility predicate:
// a category is visible when it is unrestricted, or the user is an admin,
// or the user belongs to one of the category's access groups.
func CanSeeCategory(ctx context.Context, dbc *sql.DB, user *db.User, categoryID int64) (bool, error) {
	if user == nil {
		return false, nil
	}
	if user.Admin {
		return true, nil
	}
	var restricted bool
	err := dbc.QueryRowContext(ctx,
		`SELECT read_restricted FROM categories WHERE id=$1`, categoryID).Scan(&restricted)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load category %d: %w", categoryID, err)
	}
	if !restricted {
		return true, nil
	}
	var ok bool
	err = dbc.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM category_groups cg
			JOIN group_users gu ON gu.group_id = cg.group_id
			WHERE cg.category_id=$1 AND gu.user_id=$2
		)`, categoryID, user.ID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check category access for user %d: %w", user.ID, err)
	}
	return ok, nil
}

// CanViewChannel extends the generic predicate without replacing it: the
// generic category rule is consulted first, then the chat-specific clause
// (membership in one of the channel's allowed groups) is OR-ed on top.
func CanViewChannel(ctx context.Context, dbc *sql.DB, user *db.User, channelID int64, categoryID *int64) (bool, error) {
	if user == nil {
		return false, nil
	}
	if categoryID != nil {
		ok, err := CanSeeCategory(ctx, dbc, user, *categoryID)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	if user.Admin {
		return true, nil
	}
	var ok bool
	err := dbc.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM channel_groups cg
			JOIN group_users gu ON gu.group_id = cg.group_id
			WHERE cg.channel_id=$1 AND gu.user_id=$2
		)`, channelID, user.ID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check channel membership for user %d: %w", user.ID, err)
	}
	return ok, nil
}

// CanEditPost reports whether the user may revise the post: author or admin.
func CanEditPost(user *db.User, post *db.Post) bool {
	return user != nil && (user.Admin || user.ID == post.UserID)
}

// CanDeletePost reports whether the user may delete the post: author or admin.
func CanDeletePost(user *db.User, post *db.Post) bool {
	return user != nil && (user.Admin || user.ID == post.UserID)
}
