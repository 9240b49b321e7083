package services

import (
	"errors"
	"fmt"

	"bot-arena-system/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BotRegistryService is the sole owner of bot occupancy state. Every other
// service goes through EnterMatch/LeaveMatch instead of touching the
// in_match / current_match_id columns directly.
type BotRegistryService struct {
	DB *gorm.DB
}

func NewBotRegistryService(db *gorm.DB) *BotRegistryService {
	return &BotRegistryService{DB: db}
}

// EnterMatch marks the bot as occupied by the given match. The bot row is
// locked so the check-then-set is atomic against concurrent starts sharing
// this bot. Runs on the caller's transaction.
func (s *BotRegistryService) EnterMatch(tx *gorm.DB, botID, matchID string) error {
	var bot models.Bot
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&bot, "id = ?", botID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrBotNotFound
		}
		return fmt.Errorf("failed to lock bot %s: %w", botID, err)
	}

	if bot.InMatch {
		return ErrBotAlreadyInMatch
	}

	if err := tx.Model(&bot).Updates(map[string]interface{}{
		"in_match":         true,
		"current_match_id": matchID,
	}).Error; err != nil {
		return fmt.Errorf("failed to mark bot %s as in match: %w", botID, err)
	}
	return nil
}

// LeaveMatch clears the bot's occupancy. When matchID is non-nil the bot
// must be occupied by exactly that match, otherwise ErrBotNotInMatch.
func (s *BotRegistryService) LeaveMatch(tx *gorm.DB, botID string, matchID *string) error {
	var bot models.Bot
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&bot, "id = ?", botID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrBotNotFound
		}
		return fmt.Errorf("failed to lock bot %s: %w", botID, err)
	}

	if !bot.InMatch {
		return ErrBotNotInMatch
	}
	if matchID != nil && (bot.CurrentMatchID == nil || *bot.CurrentMatchID != *matchID) {
		return ErrBotNotInMatch
	}

	if err := tx.Model(&bot).Updates(map[string]interface{}{
		"in_match":         false,
		"current_match_id": nil,
	}).Error; err != nil {
		return fmt.Errorf("failed to mark bot %s as free: %w", botID, err)
	}
	return nil
}

// IsOccupied reports the bot's current occupancy under the caller's transaction.
func (s *BotRegistryService) IsOccupied(tx *gorm.DB, botID string) (bool, error) {
	var bot models.Bot
	if err := tx.Select("in_match").First(&bot, "id = ?", botID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrBotNotFound
		}
		return false, err
	}
	return bot.InMatch, nil
}

// RandomAvailable picks one active, unoccupied bot uniformly at random,
// optionally excluding a bot (so a bot never plays itself).
func (s *BotRegistryService) RandomAvailable(excludeBotID *string) (*models.Bot, error) {
	query := s.DB.Where("active = ? AND in_match = ?", true, false)
	if excludeBotID != nil {
		query = query.Where("id <> ?", *excludeBotID)
	}

	var bot models.Bot
	err := query.Order("random()").First(&bot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoBotsAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pick an available bot: %w", err)
	}
	return &bot, nil
}

// ActiveCount returns how many bots are currently active on the ladder.
func (s *BotRegistryService) ActiveCount() (int64, error) {
	var count int64
	err := s.DB.Model(&models.Bot{}).Where("active = ?", true).Count(&count).Error
	return count, err
}
