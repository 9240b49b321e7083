package models

// EloStartValue is the rating a bot enters the ladder with.
const EloStartValue = 1600

const (
	RaceTerran  = "T"
	RaceZerg    = "Z"
	RaceProtoss = "P"
	RaceRandom  = "R"
)

const (
	BotTypeCppWin32   = "cppwin32"
	BotTypeCppLinux   = "cpplinux"
	BotTypeDotnetCore = "dotnetcore"
	BotTypeJava       = "java"
	BotTypeNodeJS     = "nodejs"
	BotTypePython     = "python"
)

type Bot struct {
	ID     string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	UserID string `gorm:"index;not null" json:"user_id"`
	User   *ArenaUser `gorm:"foreignKey:UserID" json:"user,omitempty"`

	Name      string `gorm:"uniqueIndex;not null" json:"name"`
	PlaysRace string `json:"plays_race" gorm:"type:varchar(1);check:plays_race IN ('T','Z','P','R')"`
	Type      string `json:"type" gorm:"type:varchar(32)"`

	Active bool `json:"active" gorm:"default:false"`

	// Occupancy: InMatch is true iff CurrentMatchID is set. Only the bot
	// registry service may touch these two fields.
	InMatch        bool    `json:"in_match" gorm:"default:false"`
	CurrentMatchID *string `gorm:"index" json:"current_match_id,omitempty"`

	Elo int `json:"elo" gorm:"default:1600"`

	// Artifacts (uploaded to R2, URLs only)
	BotZipURL      string  `json:"bot_zip_url"`
	BotZipMD5      string  `json:"bot_zip_md5" gorm:"type:varchar(32)"`
	BotDataURL     *string `json:"bot_data_url,omitempty"`
	BotDataMD5     *string `json:"bot_data_md5,omitempty" gorm:"type:varchar(32)"`
	ZipDownloadable  bool  `json:"zip_downloadable" gorm:"default:false"`
	DataDownloadable bool  `json:"data_downloadable" gorm:"default:false"`

	// ID shown to the opposing bot in-game so it can recognize its opponent
	GameDisplayID string `json:"game_display_id" gorm:"type:uuid;default:gen_random_uuid()"`

	Timestamps
}

// BotDataFrozen reports whether the bot's data artifact may not be replaced
// right now. Data is frozen while the bot plays, unless it never had any.
func (b *Bot) BotDataFrozen() bool {
	return b.InMatch && b.BotDataURL != nil
}
