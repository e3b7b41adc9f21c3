package roster

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PresenceSource reports the current presence status for a member.
// Implementations return StatusOffline semantics as ("offline", nil) when
// nothing is known.
type PresenceSource interface {
	GetPresence(ctx context.Context, memberID string) (string, error)
}

// Store joins persisted member records with live presence.
type Store struct {
	db       *gorm.DB
	presence PresenceSource
}

func NewStore(db *gorm.DB, presence PresenceSource) *Store {
	return &Store{db: db, presence: presence}
}

func (s *Store) Upsert(ctx context.Context, m *Member) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "member_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"scope_id", "display_name", "tags", "updated_at"}),
		}).
		Create(m).Error
}

func (s *Store) Get(ctx context.Context, memberID string) (*Member, error) {
	var m Member
	if err := s.db.WithContext(ctx).
		Where("member_id = ?", memberID).
		First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// Snapshot lists every member of a scope with presence merged in. Presence
// lookup failures degrade that member to offline rather than failing the
// whole snapshot.
func (s *Store) Snapshot(ctx context.Context, scopeID string) ([]Member, error) {
	var members []Member
	if err := s.db.WithContext(ctx).
		Where("scope_id = ?", scopeID).
		Find(&members).Error; err != nil {
		return nil, err
	}
	for i := range members {
		members[i].Status = StatusOffline
		if s.presence == nil {
			continue
		}
		if st, err := s.presence.GetPresence(ctx, members[i].MemberID); err == nil {
			members[i].Status = Status(st)
		}
	}
	return members, nil
}
