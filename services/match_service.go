package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"bot-arena-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MatchTimeoutDeadline: a match still running this long after it started is
// assumed lost and force-cancelled by the sweeper.
const MatchTimeoutDeadline = time.Hour

// MatchService owns the match lifecycle. Start and cancel serialize on a
// per-match row lock so two workers can never race the same match, while
// unrelated matches stay fully concurrent.
type MatchService struct {
	DB       *gorm.DB
	Registry *BotRegistryService
}

func NewMatchService(db *gorm.DB, registry *BotRegistryService) *MatchService {
	return &MatchService{DB: db, Registry: registry}
}

// CreateMatch allocates a match plus both participations in one transaction.
// No occupancy changes happen until the match is started.
func (s *MatchService) CreateMatch(roundID, mapID, bot1ID, bot2ID string) (*models.Match, error) {
	match := models.Match{
		ID:      uuid.NewString(),
		MapID:   mapID,
		RoundID: roundID,
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&match).Error; err != nil {
			return fmt.Errorf("failed to create match: %w", err)
		}
		participations := []models.MatchParticipation{
			{ID: uuid.NewString(), MatchID: match.ID, ParticipantNumber: 1, BotID: bot1ID},
			{ID: uuid.NewString(), MatchID: match.ID, ParticipantNumber: 2, BotID: bot2ID},
		}
		if err := tx.Create(&participations).Error; err != nil {
			return fmt.Errorf("failed to create match participations: %w", err)
		}
		match.Participations = participations
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &match, nil
}

// StartMatch stamps the start time and hands the match to an arena client.
// The match row is locked first so a concurrent start or cancel observes
// either nothing or the committed start, never a half-applied one.
// Returns ErrMatchAlreadyStarted if another worker got there first, or
// ErrBotAlreadyInMatch (with no mutation) if either bot is busy elsewhere.
func (s *MatchService) StartMatch(matchID, assignedToID string) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var match models.Match
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&match, "id = ?", matchID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMatchNotFound
			}
			return fmt.Errorf("failed to lock match %s: %w", matchID, err)
		}

		if match.Started != nil {
			return ErrMatchAlreadyStarted
		}

		participations, err := s.matchParticipations(tx, matchID)
		if err != nil {
			return err
		}

		// Pre-check both bots before entering either, so a busy bot leaves
		// the match untouched and retryable with different bots.
		for _, p := range participations {
			occupied, err := s.Registry.IsOccupied(tx, p.BotID)
			if err != nil {
				return err
			}
			if occupied {
				return ErrBotAlreadyInMatch
			}
		}

		for _, p := range participations {
			if err := s.Registry.EnterMatch(tx, p.BotID, matchID); err != nil {
				return err
			}
		}

		now := time.Now()
		if err := tx.Model(&match).Updates(map[string]interface{}{
			"started":        now,
			"assigned_to_id": assignedToID,
		}).Error; err != nil {
			return fmt.Errorf("failed to start match %s: %w", matchID, err)
		}
		return nil
	})
}

// CancelMatch closes a match with a MatchCancelled result. Returns
// ErrMatchAlreadyHasResult if the match is already terminal. A bot the
// registry no longer shows as occupied by this match is logged as a
// consistency warning and skipped; the cancellation still goes through.
func (s *MatchService) CancelMatch(matchID string) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var match models.Match
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&match, "id = ?", matchID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMatchNotFound
			}
			return fmt.Errorf("failed to lock match %s: %w", matchID, err)
		}

		var existing int64
		if err := tx.Model(&models.Result{}).Where("match_id = ?", matchID).Count(&existing).Error; err != nil {
			return fmt.Errorf("failed to check for existing result: %w", err)
		}
		if existing > 0 {
			return ErrMatchAlreadyHasResult
		}

		result := models.Result{
			ID:        uuid.NewString(),
			MatchID:   matchID,
			Type:      models.ResultMatchCancelled,
			GameSteps: 0,
		}
		if err := tx.Create(&result).Error; err != nil {
			return fmt.Errorf("failed to create cancellation result: %w", err)
		}

		if match.Started != nil {
			// Kick both bots out of the match.
			participations, err := s.matchParticipations(tx, matchID)
			if err != nil {
				return err
			}
			for _, p := range participations {
				if err := s.Registry.LeaveMatch(tx, p.BotID, &matchID); err != nil {
					if errors.Is(err, ErrBotNotInMatch) {
						log.Printf("WARNING! Match %q: participant %d bot %q was not registered as in this match, despite the match having started.",
							matchID, p.ParticipantNumber, p.BotID)
						continue
					}
					return err
				}
			}
		} else {
			// Never started: stamp the start time now so duration
			// bookkeeping stays well-defined.
			now := time.Now()
			if err := tx.Model(&match).Update("started", now).Error; err != nil {
				return fmt.Errorf("failed to stamp start time on cancelled match %s: %w", matchID, err)
			}
		}
		return nil
	})
}

// SweepTimedOutMatches cancels every started, resultless match older than
// the deadline. Each match is cancelled individually; one failure never
// aborts the rest of the sweep. Returns how many matches were cancelled.
func (s *MatchService) SweepTimedOutMatches(deadline time.Duration) (int, error) {
	cutoff := time.Now().Add(-deadline)

	var matchIDs []string
	err := s.DB.Model(&models.Match{}).
		Joins("LEFT JOIN results ON results.match_id = matches.id").
		Where("matches.started IS NOT NULL AND matches.started < ? AND results.id IS NULL", cutoff).
		Pluck("matches.id", &matchIDs).Error
	if err != nil {
		return 0, fmt.Errorf("failed to select timed out matches: %w", err)
	}

	cancelled := 0
	for _, id := range matchIDs {
		if err := s.CancelMatch(id); err != nil {
			if errors.Is(err, ErrMatchAlreadyHasResult) {
				// A result landed between selection and cancel. Benign.
				continue
			}
			log.Printf("[SWEEP] failed to cancel timed out match %s: %v", id, err)
			continue
		}
		cancelled++
	}
	return cancelled, nil
}

// EnsureOpenRound returns the current incomplete round, creating one when
// every earlier round has finished.
func (s *MatchService) EnsureOpenRound() (*models.Round, error) {
	var round models.Round
	err := s.DB.Where("complete = ?", false).Order("number ASC").First(&round).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		var maxNumber int64
		if err := s.DB.Model(&models.Round{}).
			Select("COALESCE(MAX(number), 0)").Scan(&maxNumber).Error; err != nil {
			return nil, fmt.Errorf("failed to number the new round: %w", err)
		}
		round = models.Round{ID: uuid.NewString(), Number: int(maxNumber) + 1}
		if err := s.DB.Create(&round).Error; err != nil {
			return nil, fmt.Errorf("failed to open a new round: %w", err)
		}
		return &round, nil
	}
	if err != nil {
		return nil, err
	}
	return &round, nil
}

// RandomMap picks a map uniformly at random.
func (s *MatchService) RandomMap() (*models.GameMap, error) {
	var gameMap models.GameMap
	err := s.DB.Order("random()").First(&gameMap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMapNotFound
	}
	if err != nil {
		return nil, err
	}
	return &gameMap, nil
}

func (s *MatchService) matchParticipations(tx *gorm.DB, matchID string) ([]models.MatchParticipation, error) {
	var participations []models.MatchParticipation
	if err := tx.Where("match_id = ?", matchID).
		Order("participant_number ASC").
		Find(&participations).Error; err != nil {
		return nil, fmt.Errorf("failed to load participations for match %s: %w", matchID, err)
	}
	if len(participations) != 2 {
		return nil, fmt.Errorf("match %s has %d participations, expected 2", matchID, len(participations))
	}
	return participations, nil
}

// --- HTTP endpoints ---

// ClaimNextMatch hands a freshly created and started match to the calling
// arena client: two random available bots on a random map in the open round.
func (s *MatchService) ClaimNextMatch(c *fiber.Ctx) error {
	assignedToID, err := s.resolveArenaClient(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}

	bot1, err := s.Registry.RandomAvailable(nil)
	if err != nil {
		if errors.Is(err, ErrNoBotsAvailable) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "no available bots"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	bot2, err := s.Registry.RandomAvailable(&bot1.ID)
	if err != nil {
		if errors.Is(err, ErrNoBotsAvailable) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "no opponent available"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	gameMap, err := s.RandomMap()
	if err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "no maps available"})
	}
	round, err := s.EnsureOpenRound()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	match, err := s.CreateMatch(round.ID, gameMap.ID, bot1.ID, bot2.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	if err := s.StartMatch(match.ID, assignedToID); err != nil {
		switch {
		case errors.Is(err, ErrBotAlreadyInMatch):
			// Another client grabbed one of the bots first; this match
			// stays unstarted and will be picked up or swept later.
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "a bot was claimed by another match, retry"})
		case errors.Is(err, ErrMatchAlreadyStarted):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "match already started"})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"match_id": match.ID,
		"map":      gameMap,
		"bot1": fiber.Map{
			"id": bot1.ID, "name": bot1.Name, "game_display_id": bot1.GameDisplayID,
			"bot_zip_url": bot1.BotZipURL, "bot_data_url": bot1.BotDataURL,
			"plays_race": bot1.PlaysRace, "type": bot1.Type,
		},
		"bot2": fiber.Map{
			"id": bot2.ID, "name": bot2.Name, "game_display_id": bot2.GameDisplayID,
			"bot_zip_url": bot2.BotZipURL, "bot_data_url": bot2.BotDataURL,
			"plays_race": bot2.PlaysRace, "type": bot2.Type,
		},
	})
}

// CancelMatchEndpoint force-cancels one match (admin).
func (s *MatchService) CancelMatchEndpoint(c *fiber.Ctx) error {
	matchID := c.Params("id")
	err := s.CancelMatch(matchID)
	switch {
	case err == nil:
		return c.JSON(fiber.Map{"message": "match cancelled", "match_id": matchID})
	case errors.Is(err, ErrMatchNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "match not found"})
	case errors.Is(err, ErrMatchAlreadyHasResult):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "match already has a result"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
}

// SweepEndpoint triggers a timeout sweep on demand (admin).
func (s *MatchService) SweepEndpoint(c *fiber.Ctx) error {
	cancelled, err := s.SweepTimedOutMatches(MatchTimeoutDeadline)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"cancelled": cancelled})
}

// resolveArenaClient maps the gateway user context to an arena client user.
func (s *MatchService) resolveArenaClient(c *fiber.Ctx) (string, error) {
	externalID, _ := c.Locals("user_id").(string)
	if externalID == "" {
		return "", fmt.Errorf("missing user context")
	}
	var user models.ArenaUser
	if err := s.DB.Where("external_user_id = ?", externalID).First(&user).Error; err != nil {
		return "", fmt.Errorf("unknown arena client %s", externalID)
	}
	if user.Type != models.UserTypeArenaClient && user.Type != models.UserTypeService {
		return "", fmt.Errorf("user %s is not an arena client", externalID)
	}
	return user.ID, nil
}
