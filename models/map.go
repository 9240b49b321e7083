package models

import (
	"time"
)

// GameMap is a ladder map bots play on. The map file itself lives in the
// artifact store; only the URL is kept here.
type GameMap struct {
	ID      string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Name    string `gorm:"uniqueIndex;not null" json:"name"`
	FileURL string `json:"file_url"`

	Timestamps
}

// Round groups the matches generated in one ladder pass.
type Round struct {
	ID       string     `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Number   int        `gorm:"uniqueIndex;not null" json:"number"`
	Started  time.Time  `json:"started" gorm:"autoCreateTime"`
	Finished *time.Time `json:"finished,omitempty"`
	Complete bool       `json:"complete" gorm:"default:false"`

	Timestamps
}
