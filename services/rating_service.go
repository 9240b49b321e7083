package services

import (
	"errors"
	"fmt"
	"math"

	"bot-arena-system/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EloK is the rating volatility factor.
const EloK = 32

// ExpectedScore is the logistic win expectation of a player rated ratingA
// against one rated ratingB.
func ExpectedScore(ratingA, ratingB int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(ratingB-ratingA)/400.0))
}

// EloDelta computes the signed rating movement for the first player of the
// pairing, rounded to the nearest integer. actualScore is 1.0 for a win and
// 0.5 for a tie.
func EloDelta(ratingFirst, ratingSecond int, actualScore float64) int {
	return int(math.Round(EloK * (actualScore - ExpectedScore(ratingFirst, ratingSecond))))
}

// RatingService applies Elo movements to the two bots of a finished match.
// It runs exactly once per competitive or tie result: the result recorder's
// single-invocation guarantee is load-bearing, a second call would
// double-apply. Both sides commit in one transaction, so a partial
// application cannot be persisted.
type RatingService struct {
	DB *gorm.DB
}

func NewRatingService(db *gorm.DB) *RatingService {
	return &RatingService{DB: db}
}

// AdjustForResult moves ratings for the given outcome. first and second are
// the slot-1 and slot-2 participations. Non-competitive outcomes are a no-op.
// Must run on the transaction that persists the result.
func (s *RatingService) AdjustForResult(tx *gorm.DB, resultType models.ResultType, first, second *models.MatchParticipation) error {
	switch {
	case resultType.HasWinner():
		winner, loser := first, second
		if resultType.WinnerParticipantNumber() == 2 {
			winner, loser = second, first
		}
		winnerBot, loserBot, err := s.lockBots(tx, winner.BotID, loser.BotID)
		if err != nil {
			return err
		}
		delta := EloDelta(winnerBot.Elo, loserBot.Elo, 1.0)
		return s.applyDelta(tx, delta, winner, winnerBot, loser, loserBot)

	case resultType.IsTie():
		// Ties pair as (first, second), not winner/loser, with score 0.5.
		firstBot, secondBot, err := s.lockBots(tx, first.BotID, second.BotID)
		if err != nil {
			return err
		}
		delta := EloDelta(firstBot.Elo, secondBot.Elo, 0.5)
		return s.applyDelta(tx, delta, first, firstBot, second, secondBot)
	}
	return nil
}

// applyDelta adds delta to a's bot and subtracts it from b's bot, recording
// the resulting rating and signed change on both participations for audit.
func (s *RatingService) applyDelta(tx *gorm.DB, delta int, a *models.MatchParticipation, aBot *models.Bot, b *models.MatchParticipation, bBot *models.Bot) error {
	aElo := aBot.Elo + delta
	bElo := bBot.Elo - delta

	if err := tx.Model(aBot).Update("elo", aElo).Error; err != nil {
		return fmt.Errorf("failed to update rating for bot %s: %w", aBot.ID, err)
	}
	if err := tx.Model(bBot).Update("elo", bElo).Error; err != nil {
		return fmt.Errorf("failed to update rating for bot %s: %w", bBot.ID, err)
	}

	aChange, bChange := delta, -delta
	if err := tx.Model(a).Updates(map[string]interface{}{
		"resultant_elo": aElo,
		"elo_change":    aChange,
	}).Error; err != nil {
		return fmt.Errorf("failed to record rating audit for participation %s: %w", a.ID, err)
	}
	if err := tx.Model(b).Updates(map[string]interface{}{
		"resultant_elo": bElo,
		"elo_change":    bChange,
	}).Error; err != nil {
		return fmt.Errorf("failed to record rating audit for participation %s: %w", b.ID, err)
	}
	return nil
}

// lockBots locks both bot rows in a stable order so two rating applications
// touching the same bots cannot deadlock.
func (s *RatingService) lockBots(tx *gorm.DB, firstID, secondID string) (*models.Bot, *models.Bot, error) {
	ids := []string{firstID, secondID}
	if secondID < firstID {
		ids[0], ids[1] = secondID, firstID
	}

	var bots []models.Bot
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).Order("id ASC").Find(&bots).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to lock bots for rating update: %w", err)
	}
	if len(bots) != 2 {
		return nil, nil, errors.New("rating update: both bots must exist")
	}

	byID := map[string]*models.Bot{bots[0].ID: &bots[0], bots[1].ID: &bots[1]}
	return byID[firstID], byID[secondID], nil
}
