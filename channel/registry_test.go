package channel

import (
	"context"
	"testing"

	"github.com/loamlabs/shoutbox/apperr"
	"github.com/loamlabs/shoutbox/db"
	"github.com/loamlabs/shoutbox/testutil"
)

func TestSaveCategoryMode(t *testing.T) {
	dbc := testutil.SetupTestDB(t)
	ctx := context.Background()
	reg := NewRegistry(dbc, "everyone", 100)

	catID := testutil.CreateCategory(t, dbc, false)
	var catName string
	if err := dbc.QueryRow(`SELECT name FROM categories WHERE id=$1`, catID).Scan(&catName); err != nil {
		t.Fatalf("load category name: %v", err)
	}

	ch, err := reg.Save(ctx, Params{PermissionMode: ModeCategory, CategoryID: &catID}, nil)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	testutil.CleanupChannel(t, dbc, ch.ID)

	if ch.Title != catName {
		t.Errorf("title = %q, want category name %q", ch.Title, catName)
	}
	if ch.CategoryID == nil || *ch.CategoryID != catID {
		t.Errorf("category_id = %v, want %d", ch.CategoryID, catID)
	}
	var bound int64
	if err := dbc.QueryRow(`SELECT chat_channel_id FROM categories WHERE id=$1`, catID).Scan(&bound); err != nil {
		t.Fatalf("load category binding: %v", err)
	}
	if bound != ch.ID {
		t.Errorf("category bound to %d, want %d", bound, ch.ID)
	}

	// A second channel on the same category is a conflict.
	if _, err := reg.Save(ctx, Params{PermissionMode: ModeCategory, CategoryID: &catID}, nil); !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("duplicate category channel error = %v, want conflict", err)
	}
}

func TestSaveCategoryModeValidation(t *testing.T) {
	dbc := testutil.SetupTestDB(t)
	ctx := context.Background()
	reg := NewRegistry(dbc, "everyone", 100)

	catID := testutil.CreateCategory(t, dbc, false)
	groupID := testutil.CreateGroup(t, dbc)

	if _, err := reg.Save(ctx, Params{PermissionMode: ModeCategory, CategoryID: &catID, AllowedGroupIDs: []int64{groupID}}, nil); !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("category mode with groups error = %v, want conflict", err)
	}
	if _, err := reg.Save(ctx, Params{PermissionMode: ModeCategory}, nil); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("category mode without category_id error = %v, want validation", err)
	}
	missing := int64(999999999)
	if _, err := reg.Save(ctx, Params{PermissionMode: ModeCategory, CategoryID: &missing}, nil); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("category mode with missing category error = %v, want not found", err)
	}
}

func TestSaveGroupMode(t *testing.T) {
	dbc := testutil.SetupTestDB(t)
	ctx := context.Background()
	reg := NewRegistry(dbc, "everyone", 100)

	groupID := testutil.CreateGroup(t, dbc)

	ch, err := reg.Save(ctx, Params{Title: "staff room", PermissionMode: ModeGroup, AllowedGroupIDs: []int64{groupID}}, nil)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	testutil.CleanupChannel(t, dbc, ch.ID)
	if len(ch.AllowedGroupIDs) != 1 || ch.AllowedGroupIDs[0] != groupID {
		t.Errorf("allowed groups = %v, want [%d]", ch.AllowedGroupIDs, groupID)
	}

	// Missing title is rejected.
	if _, err := reg.Save(ctx, Params{PermissionMode: ModeGroup, AllowedGroupIDs: []int64{groupID}}, nil); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("group mode without title error = %v, want validation", err)
	}
	// Group mode may not reference a category.
	catID := testutil.CreateCategory(t, dbc, false)
	if _, err := reg.Save(ctx, Params{Title: "x", PermissionMode: ModeGroup, CategoryID: &catID}, nil); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("group mode with category error = %v, want validation", err)
	}
}

func TestSaveGroupModeBaselineFallback(t *testing.T) {
	dbc := testutil.SetupTestDB(t)
	ctx := context.Background()
	reg := NewRegistry(dbc, "everyone", 100)

	// No groups given, and unknown ids are discarded; both fall back to baseline.
	ch, err := reg.Save(ctx, Params{Title: "open floor", PermissionMode: ModeGroup}, nil)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	testutil.CleanupChannel(t, dbc, ch.ID)

	var baselineID int64
	if err := dbc.QueryRow(`SELECT id FROM groups WHERE name='everyone'`).Scan(&baselineID); err != nil {
		t.Fatalf("baseline group was not created: %v", err)
	}
	if len(ch.AllowedGroupIDs) != 1 || ch.AllowedGroupIDs[0] != baselineID {
		t.Errorf("allowed groups = %v, want baseline [%d]", ch.AllowedGroupIDs, baselineID)
	}

	ch2, err := reg.Save(ctx, Params{Title: "phantom", PermissionMode: ModeGroup, AllowedGroupIDs: []int64{999999999}}, nil)
	if err != nil {
		t.Fatalf("Save with unknown group: %v", err)
	}
	testutil.CleanupChannel(t, dbc, ch2.ID)
	if len(ch2.AllowedGroupIDs) != 1 || ch2.AllowedGroupIDs[0] != baselineID {
		t.Errorf("unknown group ids should fall back to baseline, got %v", ch2.AllowedGroupIDs)
	}
}

func TestFindByIDAndSlug(t *testing.T) {
	dbc := testutil.SetupTestDB(t)
	ctx := context.Background()
	reg := NewRegistry(dbc, "everyone", 100)

	catID := testutil.CreateCategory(t, dbc, false)
	var slug string
	if err := dbc.QueryRow(`SELECT slug FROM categories WHERE id=$1`, catID).Scan(&slug); err != nil {
		t.Fatalf("load slug: %v", err)
	}

	ch, err := reg.Save(ctx, Params{PermissionMode: ModeCategory, CategoryID: &catID}, nil)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	testutil.CleanupChannel(t, dbc, ch.ID)

	bySlug, err := reg.Find(ctx, slug)
	if err != nil {
		t.Fatalf("Find by slug: %v", err)
	}
	if bySlug.ID != ch.ID {
		t.Errorf("Find(%q).ID = %d, want %d", slug, bySlug.ID, ch.ID)
	}

	byID, err := reg.FindByID(ctx, ch.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if byID.ID != ch.ID {
		t.Errorf("FindByID = %d, want %d", byID.ID, ch.ID)
	}

	if _, err := reg.Find(ctx, "no-such-slug"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("Find missing error = %v, want not found", err)
	}
}

func TestFindBackfillsBaseline(t *testing.T) {
	dbc := testutil.SetupTestDB(t)
	ctx := context.Background()
	reg := NewRegistry(dbc, "everyone", 100)

	ch, err := reg.Save(ctx, Params{Title: "repair me", PermissionMode: ModeGroup}, nil)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	testutil.CleanupChannel(t, dbc, ch.ID)

	// Simulate drift: the allowed-group set got emptied out of band.
	if _, err := dbc.Exec(`DELETE FROM channel_groups WHERE channel_id=$1`, ch.ID); err != nil {
		t.Fatalf("clear groups: %v", err)
	}

	got, err := reg.FindByID(ctx, ch.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if len(got.AllowedGroupIDs) != 1 {
		t.Fatalf("allowed groups after backfill = %v, want 1 entry", got.AllowedGroupIDs)
	}
	var n int
	if err := dbc.QueryRow(`SELECT COUNT(*) FROM channel_groups WHERE channel_id=$1`, ch.ID).Scan(&n); err != nil {
		t.Fatalf("count groups: %v", err)
	}
	if n != 1 {
		t.Errorf("persisted group rows = %d, want 1", n)
	}
}

type countingRemover struct {
	calls int
}

func (c *countingRemover) RemoveAll(ctx context.Context, ch *Channel) error {
	c.calls++
	return nil
}

func TestDestroy(t *testing.T) {
	dbc := testutil.SetupTestDB(t)
	ctx := context.Background()
	reg := NewRegistry(dbc, "everyone", 100)
	remover := &countingRemover{}
	reg.SetPostRemover(remover)

	catID := testutil.CreateCategory(t, dbc, false)
	ch, err := reg.Save(ctx, Params{PermissionMode: ModeCategory, CategoryID: &catID}, nil)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	testutil.CleanupChannel(t, dbc, ch.ID)

	if _, err := dbc.Exec(`INSERT INTO posts (channel_id, user_id, raw, post_number) VALUES ($1, $2, 'bye', 1)`,
		ch.ID, db.SystemUserID); err != nil {
		t.Fatalf("insert post: %v", err)
	}

	if err := reg.Destroy(ctx, ch); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if remover.calls != 1 {
		t.Errorf("post remover called %d times, want 1", remover.calls)
	}
	var bound *int64
	if err := dbc.QueryRow(`SELECT chat_channel_id FROM categories WHERE id=$1`, catID).Scan(&bound); err != nil {
		t.Fatalf("load category: %v", err)
	}
	if bound != nil {
		t.Errorf("category still bound to channel %d after destroy", *bound)
	}
	var n int
	if err := dbc.QueryRow(`SELECT COUNT(*) FROM channels WHERE id=$1`, ch.ID).Scan(&n); err != nil {
		t.Fatalf("count channels: %v", err)
	}
	if n != 0 {
		t.Errorf("channel row survived destroy")
	}
}

func TestListForVisibility(t *testing.T) {
	dbc := testutil.SetupTestDB(t)
	ctx := context.Background()
	reg := NewRegistry(dbc, "everyone", 100)

	memberID := testutil.CreateUser(t, dbc, false)
	outsiderID := testutil.CreateUser(t, dbc, false)
	groupID := testutil.CreateGroup(t, dbc)
	testutil.AddUserToGroup(t, dbc, groupID, memberID)

	ch, err := reg.Save(ctx, Params{Title: "insiders", PermissionMode: ModeGroup, AllowedGroupIDs: []int64{groupID}}, nil)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	testutil.CleanupChannel(t, dbc, ch.ID)

	member, _ := db.FindUser(ctx, dbc, memberID)
	outsider, _ := db.FindUser(ctx, dbc, outsiderID)

	contains := func(list []*Channel, id int64) bool {
		for _, c := range list {
			if c.ID == id {
				return true
			}
		}
		return false
	}

	memberList, err := reg.ListFor(ctx, member)
	if err != nil {
		t.Fatalf("ListFor member: %v", err)
	}
	if !contains(memberList, ch.ID) {
		t.Errorf("member list missing channel %d", ch.ID)
	}
	outsiderList, err := reg.ListFor(ctx, outsider)
	if err != nil {
		t.Fatalf("ListFor outsider: %v", err)
	}
	if contains(outsiderList, ch.ID) {
		t.Errorf("outsider list should not contain channel %d", ch.ID)
	}
}
