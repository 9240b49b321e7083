package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	PatreonNone     = "none"
	PatreonBronze   = "bronze"
	PatreonSilver   = "silver"
	PatreonGold     = "gold"
	PatreonPlatinum = "platinum"
	PatreonDiamond  = "diamond"
)

const (
	UserTypeWebsite     = "WEBSITE_USER"
	UserTypeArenaClient = "ARENA_CLIENT"
	UserTypeService     = "SERVICE"
)

// ArenaUser is a local snapshot of user identity needed by the arena.
// Accounts and authentication live in the external identity service;
// this table only mirrors what match scheduling and quotas read.
type ArenaUser struct {
	ID             string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	ExternalUserID string `gorm:"uniqueIndex;not null" json:"external_user_id"`
	Username       string `gorm:"index;not null" json:"username"`
	Email          string `json:"email,omitempty"`
	Type           string `json:"type" gorm:"type:varchar(16);default:'WEBSITE_USER'"`

	// Membership tier synced from the patreon service
	PatreonLevel string `json:"patreon_level" gorm:"type:varchar(16);default:'none'"`

	// Numeric overrides granted per user on top of the tier limits
	ExtraPeriodicMatchRequests int `json:"extra_periodic_match_requests" gorm:"default:0"`
	ExtraActiveBots            int `json:"extra_active_bots" gorm:"default:0"`

	ServiceAccount bool `json:"service_account" gorm:"default:false"`

	Timestamps
}

// MatchRequestTierLimits: how many matches a user may request per rolling
// window at each membership tier.
var MatchRequestTierLimits = map[string]int{
	PatreonNone:     10,
	PatreonBronze:   20,
	PatreonSilver:   40,
	PatreonGold:     60,
	PatreonPlatinum: 100,
	PatreonDiamond:  200,
}

// ActiveBotTierLimits: how many bots a user may keep active at once.
// A missing/negative entry means unlimited.
var ActiveBotTierLimits = map[string]int{
	PatreonNone:     1,
	PatreonBronze:   2,
	PatreonSilver:   4,
	PatreonGold:     6,
	PatreonPlatinum: 10,
	PatreonDiamond:  -1,
}

// MatchRequestLimit returns the user's effective per-window request allowance.
func (u *ArenaUser) MatchRequestLimit() int {
	limit, ok := MatchRequestTierLimits[u.PatreonLevel]
	if !ok {
		limit = MatchRequestTierLimits[PatreonNone]
	}
	return limit + u.ExtraPeriodicMatchRequests
}

// ActiveBotLimit returns the user's effective active-bot cap, or -1 for unlimited.
func (u *ArenaUser) ActiveBotLimit() int {
	limit, ok := ActiveBotTierLimits[u.PatreonLevel]
	if !ok {
		limit = ActiveBotTierLimits[PatreonNone]
	}
	if limit < 0 {
		return -1
	}
	return limit + u.ExtraActiveBots
}

func (u *ArenaUser) HasDonated() bool {
	return u.PatreonLevel != PatreonNone
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
