// Package roster tracks the members an engagement can target and picks
// candidates from an immutable snapshot.
package roster

import (
	"math/rand"
	"strings"
	"time"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusIdle    Status = "idle"
	StatusDND     Status = "dnd"
	StatusOffline Status = "offline"
)

// Present reports whether the status counts as reachable. DND still counts;
// only full absence excludes a member.
func (s Status) Present() bool {
	switch s {
	case StatusOnline, StatusIdle, StatusDND:
		return true
	}
	return false
}

type Member struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	MemberID    string `gorm:"type:varchar(64);uniqueIndex;not null" json:"member_id"`
	ScopeID     string `gorm:"type:varchar(64);index;not null" json:"scope_id"`
	DisplayName string `gorm:"type:varchar(128)" json:"display_name"`
	// comma-separated membership tags
	Tags      string    `gorm:"type:varchar(512)" json:"tags"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// merged from the presence store at snapshot time, never persisted
	Status Status `gorm:"-" json:"status"`
}

func (Member) TableName() string { return "roster_members" }

func (m Member) TagList() []string {
	if m.Tags == "" {
		return nil
	}
	parts := strings.Split(m.Tags, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func (m Member) HasTag(tag string) bool {
	for _, t := range m.TagList() {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// SelectCandidate filters the snapshot to present members holding the
// required tag and returns one uniformly at random. An empty pool returns
// nil; that is an expected outcome, not an error. Callers must re-verify
// the tag on the returned member before acting, membership can change
// between snapshot and use.
func SelectCandidate(members []Member, requiredTag string) *Member {
	var pool []Member
	for _, m := range members {
		if m.HasTag(requiredTag) && m.Status.Present() {
			pool = append(pool, m)
		}
	}
	if len(pool) == 0 {
		return nil
	}
	picked := pool[rand.Intn(len(pool))]
	return &picked
}
