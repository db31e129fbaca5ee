package channel

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/loamlabs/shoutbox/apperr"
	"github.com/loamlabs/shoutbox/db"
	"github.com/loamlabs/shoutbox/guardian"
)

// PostRemover drains a channel's posts through the message pipeline so the
// standard delete broadcasts fire. Implemented by message.Pipeline and wired
// in at startup; the indirection keeps the registry free of a dependency on
// the pipeline.
type PostRemover interface {
	RemoveAll(ctx context.Context, ch *Channel) error
}

// Registry owns channel records and their permission invariants.
type Registry struct {
	db             *sql.DB
	baselineGroup  string
	retentionLimit int
	posts          PostRemover
}

// NewRegistry builds a registry. baselineGroup names the group backfilled
// into group-mode channels observed with no allowed groups; retentionLimit
// is applied to newly created channels.
func NewRegistry(dbc *sql.DB, baselineGroup string, retentionLimit int) *Registry {
	return &Registry{db: dbc, baselineGroup: baselineGroup, retentionLimit: retentionLimit}
}

// SetPostRemover wires the message pipeline in after construction.
func (r *Registry) SetPostRemover(p PostRemover) { r.posts = p }

// Save creates a channel, or updates one when existing is non-nil. Mode
// defaults to group. Category mode binds the category's channel-reference
// field on success; group mode resolves the allowed group set, falling back
// to the baseline group.
func (r *Registry) Save(ctx context.Context, params Params, existing *Channel) (*Channel, error) {
	mode := params.PermissionMode
	if mode == "" {
		mode = ModeGroup
	}

	ch := &Channel{
		Title:          strings.TrimSpace(params.Title),
		PermissionMode: mode,
		RetentionLimit: r.retentionLimit,
		UserID:         db.SystemUserID,
	}
	if existing != nil {
		ch.ID = existing.ID
		ch.RetentionLimit = existing.RetentionLimit
		ch.HighestPostNumber = existing.HighestPostNumber
	}

	switch mode {
	case ModeCategory:
		if len(params.AllowedGroupIDs) > 0 {
			return nil, apperr.Conflict("category permissions cannot be combined with allowed groups")
		}
		if params.CategoryID == nil {
			return nil, apperr.Validation("category mode requires a category_id")
		}
		var name string
		var bound sql.NullInt64
		err := r.db.QueryRowContext(ctx,
			`SELECT name, chat_channel_id FROM categories WHERE id=$1`, *params.CategoryID).Scan(&name, &bound)
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("category %d not found", *params.CategoryID)
		}
		if err != nil {
			return nil, fmt.Errorf("load category %d: %w", *params.CategoryID, err)
		}
		if bound.Valid && bound.Int64 != ch.ID {
			return nil, apperr.Conflict("category %d already has a chat channel", *params.CategoryID)
		}
		if ch.Title == "" {
			ch.Title = name
		}
		ch.CategoryID = params.CategoryID
		ch.AllowedGroupIDs = nil
	case ModeGroup:
		if params.CategoryID != nil {
			return nil, apperr.Validation("group mode cannot reference a category")
		}
		if ch.Title == "" {
			return nil, apperr.Validation("group mode requires a title")
		}
		ids, err := r.resolveGroups(ctx, params.AllowedGroupIDs)
		if err != nil {
			return nil, err
		}
		ch.AllowedGroupIDs = ids
		ch.CategoryID = nil
	default:
		return nil, apperr.Validation("unknown permission mode %q", mode)
	}

	// Title is required in both modes at the storage layer. In category mode
	// it was just defaulted from the category name, so an empty title here is
	// a data problem rather than caller input.
	if ch.Title == "" {
		return nil, apperr.Validation("title is required")
	}

	if err := r.persist(ctx, ch); err != nil {
		return nil, err
	}
	return ch, nil
}

func (r *Registry) persist(ctx context.Context, ch *Channel) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save channel: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if ch.ID == 0 {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO channels (title, permission_mode, category_id, retention_limit, user_id)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at`,
			ch.Title, ch.PermissionMode, ch.CategoryID, ch.RetentionLimit, ch.UserID).
			Scan(&ch.ID, &ch.CreatedAt)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE channels SET title=$1, permission_mode=$2, category_id=$3, user_id=$4
			WHERE id=$5`,
			ch.Title, ch.PermissionMode, ch.CategoryID, ch.UserID, ch.ID)
	}
	if err != nil {
		return fmt.Errorf("persist channel: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM channel_groups WHERE channel_id=$1`, ch.ID); err != nil {
		return fmt.Errorf("clear channel groups: %w", err)
	}
	for _, gid := range ch.AllowedGroupIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO channel_groups (channel_id, group_id) VALUES ($1, $2)`, ch.ID, gid); err != nil {
			return fmt.Errorf("bind channel group %d: %w", gid, err)
		}
	}

	if ch.CategoryID != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE categories SET chat_channel_id=$1 WHERE id=$2`, ch.ID, *ch.CategoryID); err != nil {
			return fmt.Errorf("bind category channel ref: %w", err)
		}
	} else {
		// an update may have switched the channel off a category
		if _, err := tx.ExecContext(ctx,
			`UPDATE categories SET chat_channel_id=NULL WHERE chat_channel_id=$1`, ch.ID); err != nil {
			return fmt.Errorf("clear category channel ref: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save channel: %w", err)
	}
	return nil
}

// resolveGroups keeps only group ids that exist; an empty result falls back
// to the baseline group, which is created on demand.
func (r *Registry) resolveGroups(ctx context.Context, ids []int64) ([]int64, error) {
	var out []int64
	for _, id := range ids {
		var ok bool
		if err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM groups WHERE id=$1)`, id).Scan(&ok); err != nil {
			return nil, fmt.Errorf("resolve group %d: %w", id, err)
		}
		if ok {
			out = append(out, id)
		}
	}
	if len(out) > 0 {
		return out, nil
	}
	baseline, err := db.EnsureGroup(ctx, r.db, r.baselineGroup)
	if err != nil {
		return nil, err
	}
	return []int64{baseline}, nil
}

// Destroy unbinds the channel's category reference, drains its posts through
// the message pipeline (emitting the standard delete broadcasts), then
// deletes the channel record.
func (r *Registry) Destroy(ctx context.Context, ch *Channel) error {
	if ch.CategoryID != nil {
		if _, err := r.db.ExecContext(ctx,
			`UPDATE categories SET chat_channel_id=NULL WHERE id=$1`, *ch.CategoryID); err != nil {
			return fmt.Errorf("clear category channel ref: %w", err)
		}
	}

	var n int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM posts WHERE channel_id=$1`, ch.ID).Scan(&n); err != nil {
		return fmt.Errorf("count channel posts: %w", err)
	}
	if n > 0 && r.posts != nil {
		if err := r.posts.RemoveAll(ctx, ch); err != nil {
			return fmt.Errorf("drain channel posts: %w", err)
		}
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM channels WHERE id=$1`, ch.ID); err != nil {
		return fmt.Errorf("delete channel %d: %w", ch.ID, err)
	}
	return nil
}

// Find resolves a channel by numeric id or by category slug. Group-mode
// channels observed with an empty allowed-group set are backfilled with the
// baseline group before being returned.
func (r *Registry) Find(ctx context.Context, ref string) (*Channel, error) {
	var row *sql.Row
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		row = r.db.QueryRowContext(ctx, `
			SELECT id, title, permission_mode, category_id, retention_limit, user_id, highest_post_number, created_at
			FROM channels WHERE id=$1`, id)
	} else {
		row = r.db.QueryRowContext(ctx, `
			SELECT c.id, c.title, c.permission_mode, c.category_id, c.retention_limit, c.user_id, c.highest_post_number, c.created_at
			FROM channels c JOIN categories cat ON cat.chat_channel_id = c.id
			WHERE cat.slug=$1`, ref)
	}
	ch, err := scanChannel(row)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, apperr.NotFound("chat channel %q not found", ref)
	}
	if err := r.loadGroups(ctx, ch); err != nil {
		return nil, err
	}
	if ch.PermissionMode == ModeGroup && len(ch.AllowedGroupIDs) == 0 {
		if err := r.backfillBaseline(ctx, ch); err != nil {
			return nil, err
		}
	}
	return ch, nil
}

// FindByID is Find for callers that already hold a numeric id.
func (r *Registry) FindByID(ctx context.Context, id int64) (*Channel, error) {
	return r.Find(ctx, strconv.FormatInt(id, 10))
}

// backfillBaseline repairs the "allowed groups never empty" invariant lazily,
// matching what Save would have produced.
func (r *Registry) backfillBaseline(ctx context.Context, ch *Channel) error {
	baseline, err := db.EnsureGroup(ctx, r.db, r.baselineGroup)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO channel_groups (channel_id, group_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, ch.ID, baseline); err != nil {
		return fmt.Errorf("backfill baseline group: %w", err)
	}
	ch.AllowedGroupIDs = append(ch.AllowedGroupIDs, baseline)
	return nil
}

// ListFor returns every chat channel the user may view, in insertion order.
func (r *Registry) ListFor(ctx context.Context, user *db.User) ([]*Channel, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, permission_mode, category_id, retention_limit, user_id, highest_post_number, created_at
		FROM channels ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var all []*Channel
	for rows.Next() {
		ch, err := scanChannelRows(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}

	visible := make([]*Channel, 0, len(all))
	for _, ch := range all {
		if err := r.loadGroups(ctx, ch); err != nil {
			return nil, err
		}
		ok, err := guardian.CanViewChannel(ctx, r.db, user, ch.ID, ch.CategoryID)
		if err != nil {
			return nil, err
		}
		if ok {
			visible = append(visible, ch)
		}
	}
	return visible, nil
}

// DefaultFor returns the first channel visible to the user.
func (r *Registry) DefaultFor(ctx context.Context, user *db.User) (*Channel, error) {
	list, err := r.ListFor(ctx, user)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, apperr.NotFound("no chat channels available")
	}
	return list[0], nil
}

// Groups resolves the channel's allowed group records for admin display.
func (r *Registry) Groups(ctx context.Context, ch *Channel) ([]Group, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT g.id, g.name FROM groups g
		JOIN channel_groups cg ON cg.group_id = g.id
		WHERE cg.channel_id=$1 ORDER BY g.id ASC`, ch.ID)
	if err != nil {
		return nil, fmt.Errorf("load channel groups: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, fmt.Errorf("scan group row: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *Registry) loadGroups(ctx context.Context, ch *Channel) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT group_id FROM channel_groups WHERE channel_id=$1 ORDER BY group_id ASC`, ch.ID)
	if err != nil {
		return fmt.Errorf("load channel group ids: %w", err)
	}
	defer func() { _ = rows.Close() }()
	ch.AllowedGroupIDs = nil
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan channel group id: %w", err)
		}
		ch.AllowedGroupIDs = append(ch.AllowedGroupIDs, id)
	}
	return rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanInto(s rowScanner) (*Channel, error) {
	ch := &Channel{}
	var cat sql.NullInt64
	err := s.Scan(&ch.ID, &ch.Title, &ch.PermissionMode, &cat, &ch.RetentionLimit, &ch.UserID, &ch.HighestPostNumber, &ch.CreatedAt)
	if err != nil {
		return nil, err
	}
	if cat.Valid {
		ch.CategoryID = &cat.Int64
	}
	return ch, nil
}

func scanChannel(row *sql.Row) (*Channel, error) {
	ch, err := scanInto(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan channel: %w", err)
	}
	return ch, nil
}

func scanChannelRows(rows *sql.Rows) (*Channel, error) {
	ch, err := scanInto(rows)
	if err != nil {
		return nil, fmt.Errorf("scan channel row: %w", err)
	}
	return ch, nil
}
