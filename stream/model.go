package stream

import (
	"encoding/json"
	"strings"
)

// ViewerRole is the reason an activity shows up in a viewer's feed.
type ViewerRole string

const (
	// RolePoster marks the viewer who posted the activity.
	RolePoster ViewerRole = "POSTER"
	// RoleCommenter marks a viewer who commented on the activity.
	RoleCommenter ViewerRole = "COMMENTER"
	// RoleLiker marks a viewer who liked the activity.
	RoleLiker ViewerRole = "LIKER"
	// RoleMentioner marks a viewer mentioned on the activity or a comment.
	RoleMentioner ViewerRole = "MENTIONER"
)

// AllRoles lists every viewer role in the closed set.
var AllRoles = []ViewerRole{RolePoster, RoleCommenter, RoleLiker, RoleMentioner}

// repeatableRoles marks the roles whose triggering action can happen more
// than once per viewer, and which therefore carry an action counter.
// POSTER and LIKER are presence-only.
var repeatableRoles = map[ViewerRole]bool{
	RoleCommenter: true,
	RoleMentioner: true,
}

// Repeatable reports whether the role carries an action counter.
func (r ViewerRole) Repeatable() bool {
	return repeatableRoles[r]
}

// StreamItem is one denormalized fan-out pointer: at most one exists per
// (activity, viewer) pair regardless of how many roles the viewer holds.
// Roles are a comma-joined set; action counters are a JSON map keyed by role.
type StreamItem struct {
	ID          string `gorm:"column:stream_item_id;primaryKey;size:190;not null"`
	ActivityID  string `gorm:"column:activity_id;size:190;not null;uniqueIndex:idx_stream_activity_viewer,priority:1"`
	ViewerID    string `gorm:"column:viewer_id;size:190;not null;uniqueIndex:idx_stream_activity_viewer,priority:2;index:idx_stream_viewer_time,priority:1"`
	OwnerHandle string `gorm:"column:owner_handle;size:190;not null;index:idx_stream_owner"`
	PosterID    string `gorm:"column:poster_id;size:190;not null"`
	Roles       string `gorm:"column:roles;size:190;not null;default:''"`
	CountsJSON  string `gorm:"column:counts_json;type:text;not null;default:'{}'"`
	TimeMillis  int64  `gorm:"column:time_ms;not null;index:idx_stream_viewer_time,priority:2,sort:desc"`
	Hidden      bool   `gorm:"column:hidden;not null;default:false"`
	Locked      bool   `gorm:"column:locked;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (StreamItem) TableName() string {
	return "stream_items"
}

// RoleSet returns the roles held by the pointer's viewer.
func (i *StreamItem) RoleSet() []ViewerRole {
	if i.Roles == "" {
		return nil
	}
	parts := strings.Split(i.Roles, ",")
	roles := make([]ViewerRole, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			roles = append(roles, ViewerRole(part))
		}
	}
	return roles
}

// HasRole reports whether the pointer carries the given role.
func (i *StreamItem) HasRole(role ViewerRole) bool {
	for _, held := range i.RoleSet() {
		if held == role {
			return true
		}
	}
	return false
}

func (i *StreamItem) setRoles(roles []ViewerRole) {
	parts := make([]string, 0, len(roles))
	for _, role := range roles {
		parts = append(parts, string(role))
	}
	i.Roles = strings.Join(parts, ",")
}

func (i *StreamItem) addRole(role ViewerRole) {
	if i.HasRole(role) {
		return
	}
	i.setRoles(append(i.RoleSet(), role))
}

func (i *StreamItem) removeRole(role ViewerRole) {
	kept := make([]ViewerRole, 0, len(i.RoleSet()))
	for _, held := range i.RoleSet() {
		if held != role {
			kept = append(kept, held)
		}
	}
	i.setRoles(kept)
}

// ActionCount returns the number of outstanding actions behind a repeatable role.
func (i *StreamItem) ActionCount(role ViewerRole) int {
	return i.counts()[string(role)]
}

func (i *StreamItem) counts() map[string]int {
	if i.CountsJSON == "" {
		return map[string]int{}
	}
	counts := map[string]int{}
	if err := json.Unmarshal([]byte(i.CountsJSON), &counts); err != nil {
		return map[string]int{}
	}
	return counts
}

func (i *StreamItem) setCounts(counts map[string]int) {
	if counts == nil {
		counts = map[string]int{}
	}
	encoded, err := json.Marshal(counts)
	if err != nil {
		i.CountsJSON = "{}"
		return
	}
	i.CountsJSON = string(encoded)
}

func (i *StreamItem) bumpCount(role ViewerRole, delta int) int {
	counts := i.counts()
	next := counts[string(role)] + delta
	if next <= 0 {
		delete(counts, string(role))
		next = 0
	} else {
		counts[string(role)] = next
	}
	i.setCounts(counts)
	return next
}
