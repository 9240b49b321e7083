package services

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"time"

	"bot-arena-system/models"
	"bot-arena-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ResultService records terminal match outcomes and triggers the rating
// engine exactly once per competitive result. Result creation, occupancy
// release and rating application share one transaction, so a crash can
// never leave a result persisted without its rating movement.
type ResultService struct {
	DB       *gorm.DB
	Registry *BotRegistryService
	Rating   *RatingService
}

func NewResultService(db *gorm.DB, registry *BotRegistryService, rating *RatingService) *ResultService {
	return &ResultService{DB: db, Registry: registry, Rating: rating}
}

type SubmitResultInput struct {
	MatchID        string
	Type           models.ResultType
	GameSteps      int
	ReplayFileURL  *string
	ArenaClientLog *string
	SubmittedByID  *string
}

// SubmitResult validates and persists the outcome of a match.
//
// The unique index on results.match_id is the second line of defense: two
// submissions can both pass the lock-free "no result yet" world view, but
// only one insert commits; the loser observes ErrMatchAlreadyHasResult.
// A decisive or tie outcome without a replay file is tolerated (the
// competitive information is still valid) but flagged as suspected
// transmission corruption for external alerting.
func (s *ResultService) SubmitResult(in SubmitResultInput) (*models.Result, error) {
	if !in.Type.Valid() {
		return nil, ErrInvalidResultType
	}

	var result models.Result
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var match models.Match
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&match, "id = ?", in.MatchID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMatchNotFound
			}
			return fmt.Errorf("failed to lock match %s: %w", in.MatchID, err)
		}

		var participations []models.MatchParticipation
		if err := tx.Where("match_id = ?", in.MatchID).
			Order("participant_number ASC").
			Find(&participations).Error; err != nil {
			return fmt.Errorf("failed to load participations for match %s: %w", in.MatchID, err)
		}
		if len(participations) != 2 {
			return fmt.Errorf("match %s has %d participations, expected 2", in.MatchID, len(participations))
		}

		result = models.Result{
			ID:             uuid.NewString(),
			MatchID:        in.MatchID,
			Type:           in.Type,
			GameSteps:      in.GameSteps,
			ReplayFileURL:  in.ReplayFileURL,
			ArenaClientLog: in.ArenaClientLog,
			SubmittedByID:  in.SubmittedByID,
		}
		if slot := in.Type.WinnerParticipantNumber(); slot != 0 {
			result.WinnerID = &participations[slot-1].BotID
		}
		if result.ReplayCorruptionDetected() {
			result.ReplayCorrupted = true
			log.Printf("[RESULT] match %s: %s result arrived without a replay file, suspected transmission corruption",
				in.MatchID, in.Type)
		}

		if err := tx.Create(&result).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrMatchAlreadyHasResult
			}
			return fmt.Errorf("failed to persist result for match %s: %w", in.MatchID, err)
		}

		// Free both bots. A bot the registry shows as elsewhere is a
		// consistency warning, not a submission failure.
		if match.Started != nil {
			for _, p := range participations {
				if err := s.Registry.LeaveMatch(tx, p.BotID, &in.MatchID); err != nil {
					if errors.Is(err, ErrBotNotInMatch) {
						log.Printf("WARNING! Match %q: participant %d bot %q was not registered as in this match on result submission.",
							in.MatchID, p.ParticipantNumber, p.BotID)
						continue
					}
					return err
				}
			}
		}

		// Rating movement, exactly once, in the same transaction.
		// Cancelled/error outcomes never reach the rating engine.
		if in.Type.Competitive() {
			if err := s.Rating.AdjustForResult(tx, in.Type, &participations[0], &participations[1]); err != nil {
				return err
			}
		}

		return s.updateRoundIfComplete(tx, match.RoundID)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// updateRoundIfComplete marks the round finished once no match in it lacks
// a result.
func (s *ResultService) updateRoundIfComplete(tx *gorm.DB, roundID string) error {
	var open int64
	err := tx.Model(&models.Match{}).
		Joins("LEFT JOIN results ON results.match_id = matches.id").
		Where("matches.round_id = ? AND results.id IS NULL", roundID).
		Count(&open).Error
	if err != nil {
		return fmt.Errorf("failed to check round %s completion: %w", roundID, err)
	}
	if open > 0 {
		return nil
	}

	now := time.Now()
	if err := tx.Model(&models.Round{}).Where("id = ?", roundID).
		Updates(map[string]interface{}{"complete": true, "finished": now}).Error; err != nil {
		return fmt.Errorf("failed to mark round %s complete: %w", roundID, err)
	}
	return nil
}

// --- HTTP endpoints ---

// SubmitResultEndpoint accepts an arena client's multipart result upload:
// match_id, type, game_steps, plus optional replay_file and arenaclient_log
// attachments which go to the artifact store before the result is recorded.
func (s *ResultService) SubmitResultEndpoint(c *fiber.Ctx) error {
	matchID := c.FormValue("match_id")
	resultType := models.ResultType(c.FormValue("type"))
	gameSteps := 0
	if v := c.FormValue("game_steps"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "game_steps must be a non-negative integer"})
		}
		gameSteps = n
	}

	if matchID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "match_id is required"})
	}
	if !resultType.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid result type"})
	}

	var submittedByID *string
	if externalID, _ := c.Locals("user_id").(string); externalID != "" {
		var user models.ArenaUser
		if err := s.DB.Where("external_user_id = ?", externalID).First(&user).Error; err == nil {
			submittedByID = &user.ID
		}
	}

	var replayURL, logURL *string
	if replayFile, err := c.FormFile("replay_file"); err == nil && replayFile.Size > 0 {
		key, err := s.replayObjectKey(matchID, replayFile.Filename)
		if err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		}
		url, err := utils.StoreArtifact(replayFile, key)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to store replay file"})
		}
		replayURL = &url
	}
	if logFile, err := c.FormFile("arenaclient_log"); err == nil && logFile.Size > 0 {
		key := "arenaclient-logs/" + matchID + "_arenaclientlog.zip"
		url, err := utils.StoreArtifact(logFile, key)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to store arena client log"})
		}
		logURL = &url
	}

	result, err := s.SubmitResult(SubmitResultInput{
		MatchID:        matchID,
		Type:           resultType,
		GameSteps:      gameSteps,
		ReplayFileURL:  replayURL,
		ArenaClientLog: logURL,
		SubmittedByID:  submittedByID,
	})
	switch {
	case err == nil:
		return c.Status(fiber.StatusCreated).JSON(result)
	case errors.Is(err, ErrMatchNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "match not found"})
	case errors.Is(err, ErrMatchAlreadyHasResult):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "match already has a result"})
	case errors.Is(err, ErrInvalidResultType):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid result type"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
}

// ListRecentResults returns the latest 100 results with their matchups.
func (s *ResultService) ListRecentResults(c *fiber.Ctx) error {
	var results []models.Result
	err := s.DB.Preload("Winner").Preload("SubmittedBy").
		Order("created_at DESC").Limit(100).Find(&results).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(results)
}

// replayObjectKey names replays after the matchup so they stay browsable:
// replays/{match}_{bot1}_{bot2}_{map}.SC2Replay
func (s *ResultService) replayObjectKey(matchID, originalFilename string) (string, error) {
	var match models.Match
	err := s.DB.Preload("Map").
		Preload("Participations", func(db *gorm.DB) *gorm.DB {
			return db.Order("participant_number ASC")
		}).
		Preload("Participations.Bot").
		First(&match, "id = ?", matchID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("match not found")
	}
	if err != nil {
		return "", err
	}
	if len(match.Participations) != 2 || match.Participations[0].Bot == nil || match.Participations[1].Bot == nil || match.Map == nil {
		// Fall back to the raw id when the matchup can't be resolved.
		return "replays/" + matchID + filepath.Ext(originalFilename), nil
	}

	ext := filepath.Ext(originalFilename)
	if ext == "" {
		ext = ".SC2Replay"
	}
	return fmt.Sprintf("replays/%s_%s_%s_%s%s",
		matchID,
		slug.Make(match.Participations[0].Bot.Name),
		slug.Make(match.Participations[1].Bot.Name),
		slug.Make(match.Map.Name),
		ext,
	), nil
}
