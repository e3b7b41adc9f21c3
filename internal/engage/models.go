package engage

import "time"

type Session struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID  string    `gorm:"type:varchar(26);uniqueIndex;not null" json:"session_id"`
	UserID     string    `gorm:"type:varchar(64);index;not null" json:"user_id"`
	ScopeID    string    `gorm:"type:varchar(64);index;not null" json:"scope_id"`
	RoundCount int       `gorm:"not null;default:0" json:"round_count"`
	Complete   bool      `gorm:"not null;default:false;index" json:"complete"`
	Context    string    `gorm:"type:text" json:"-"` // JSON snapshot taken at selection time, immutable
	CreatedAt  time.Time `json:"created_at"`
	LastTurnAt time.Time `json:"last_turn_at"`
}

func (Session) TableName() string { return "engage_sessions" }

type Turn struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"type:varchar(64);index;not null" json:"user_id"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	FromUser  bool      `gorm:"not null" json:"from_user"`
	Round     int       `gorm:"not null" json:"round"`
	CreatedAt time.Time `json:"created_at"`
}

func (Turn) TableName() string { return "engage_turns" }
