package services

import (
	"bot-arena-system/models"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"
)

var raceNames = map[string]string{
	models.RaceTerran:  "terran",
	models.RaceZerg:    "zerg",
	models.RaceProtoss: "protoss",
	models.RaceRandom:  "random",
}

var titleCaser = cases.Title(language.English)

// RankingService exposes the ladder standings.
type RankingService struct {
	DB *gorm.DB
}

func NewRankingService(db *gorm.DB) *RankingService {
	return &RankingService{DB: db}
}

// Ranking lists active bots by descending elo.
func (s *RankingService) Ranking(c *fiber.Ctx) error {
	var bots []models.Bot
	err := s.DB.Preload("User").
		Where("active = ?", true).
		Order("elo DESC").
		Find(&bots).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	type rankedBot struct {
		Rank      int    `json:"rank"`
		ID        string `json:"id"`
		Name      string `json:"name"`
		Race      string `json:"race"`
		Type      string `json:"type"`
		Elo       int    `json:"elo"`
		InMatch   bool   `json:"in_match"`
		OwnerName string `json:"owner_name,omitempty"`
	}

	res := make([]rankedBot, len(bots))
	for i, b := range bots {
		race := raceNames[b.PlaysRace]
		entry := rankedBot{
			Rank:    i + 1,
			ID:      b.ID,
			Name:    b.Name,
			Race:    titleCaser.String(race),
			Type:    b.Type,
			Elo:     b.Elo,
			InMatch: b.InMatch,
		}
		if b.User != nil {
			entry.OwnerName = b.User.Username
		}
		res[i] = entry
	}
	return c.JSON(res)
}
