// Package channel implements the chat channel registry: creation, permission
// rules, lookup, and listing filtered through the visibility guardian.
package channel

import "time"

// Permission modes. A channel derives visibility either from its backing
// category or from explicit group membership, never both.
const (
	ModeCategory = "category"
	ModeGroup    = "group"
)

// Channel is a chat stream bound to a category or to a set of groups.
type Channel struct {
	ID                int64
	Title             string
	PermissionMode    string
	CategoryID        *int64
	AllowedGroupIDs   []int64
	RetentionLimit    int
	UserID            int64 // owning-user marker; reassigned to the system identity by pruning
	HighestPostNumber int
	CreatedAt         time.Time
}

// Group is a platform group referenced by group-mode channels.
type Group struct {
	ID   int64
	Name string
}

// Params is the boundary-layer request shape for creating or updating a
// channel.
type Params struct {
	Title           string
	PermissionMode  string
	CategoryID      *int64
	AllowedGroupIDs []int64
}
