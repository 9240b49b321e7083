package models

import (
	"time"
)

// Match pairs two bots on a map. Lifecycle: created (Started nil) →
// started (Started set exactly once) → finished (Result exists, terminal).
type Match struct {
	ID      string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	MapID   string `gorm:"index;not null" json:"map_id"`
	Map     *GameMap `gorm:"foreignKey:MapID" json:"map,omitempty"`
	RoundID string `gorm:"index;not null" json:"round_id"`
	Round   *Round `gorm:"foreignKey:RoundID" json:"round,omitempty"`

	Started *time.Time `json:"started,omitempty"`

	// Arena client the match was handed to
	AssignedToID *string    `gorm:"index" json:"assigned_to_id,omitempty"`
	AssignedTo   *ArenaUser `gorm:"foreignKey:AssignedToID" json:"assigned_to,omitempty"`

	// Set when a user spent quota to request this match
	RequestedByID *string    `gorm:"index" json:"requested_by_id,omitempty"`
	RequestedBy   *ArenaUser `gorm:"foreignKey:RequestedByID" json:"requested_by,omitempty"`

	Participations []MatchParticipation `gorm:"foreignKey:MatchID" json:"participations,omitempty"`
	Result         *Result              `gorm:"foreignKey:MatchID" json:"result,omitempty"`

	Timestamps
}

// MatchParticipation binds a bot to one slot (1 or 2) of a match. Both
// participations are created atomically with the match. ResultantElo and
// EloChange stay NULL until the rating engine has run for the match.
type MatchParticipation struct {
	ID                string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	MatchID           string `gorm:"not null;index;uniqueIndex:idx_match_slot" json:"match_id"`
	ParticipantNumber int    `gorm:"not null;uniqueIndex:idx_match_slot;check:participant_number IN (1,2)" json:"participant_number"`
	BotID             string `gorm:"index;not null" json:"bot_id"`
	Bot               *Bot   `gorm:"foreignKey:BotID" json:"bot,omitempty"`

	ResultantElo *int `json:"resultant_elo,omitempty"`
	EloChange    *int `json:"elo_change,omitempty"`

	Timestamps
}
