package services

import (
	"errors"
	"fmt"
	"time"

	"bot-arena-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// MatchRequestWindow is the rolling period tier quotas are counted over.
const MatchRequestWindow = 7 * 24 * time.Hour

// QuotaService computes a user's remaining match-request allowance. Pure
// reads; nothing here mutates quota state. Cancelling a requested match
// refunds its consumption, so cancellation results submitted by the user
// inside the window count back in.
type QuotaService struct {
	DB       *gorm.DB
	Matches  *MatchService
	Registry *BotRegistryService
}

func NewQuotaService(db *gorm.DB, matches *MatchService, registry *BotRegistryService) *QuotaService {
	return &QuotaService{DB: db, Matches: matches, Registry: registry}
}

// RemainingQuota is the quota arithmetic on its own:
// limit - requests consumed + cancellations refunded.
func RemainingQuota(limit, requested, cancelled int) int {
	return limit - requested + cancelled
}

// MatchRequestsRemaining returns how many more matches the user may request
// within the rolling window, net of cancellations.
func (s *QuotaService) MatchRequestsRemaining(user *models.ArenaUser, window time.Duration) (int, error) {
	since := time.Now().Add(-window)

	var requested int64
	err := s.DB.Model(&models.Match{}).
		Where("requested_by_id = ? AND created_at >= ?", user.ID, since).
		Count(&requested).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count requested matches: %w", err)
	}

	var cancelled int64
	err = s.DB.Model(&models.Result{}).
		Where("submitted_by_id = ? AND type = ? AND created_at >= ?",
			user.ID, models.ResultMatchCancelled, since).
		Count(&cancelled).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count cancellation refunds: %w", err)
	}

	return RemainingQuota(user.MatchRequestLimit(), int(requested), int(cancelled)), nil
}

// RequestMatch creates (but does not start) a match on the user's behalf,
// consuming one unit of quota. Opponent and map fall back to random picks
// when unspecified.
func (s *QuotaService) RequestMatch(user *models.ArenaUser, botID string, opponentID, mapID *string) (*models.Match, error) {
	remaining, err := s.MatchRequestsRemaining(user, MatchRequestWindow)
	if err != nil {
		return nil, err
	}
	if remaining <= 0 {
		return nil, ErrQuotaExceeded
	}

	var bot models.Bot
	if err := s.DB.First(&bot, "id = ?", botID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBotNotFound
		}
		return nil, err
	}

	var opponent *models.Bot
	if opponentID != nil {
		opponent = &models.Bot{}
		if err := s.DB.First(opponent, "id = ?", *opponentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrBotNotFound
			}
			return nil, err
		}
	} else {
		opponent, err = s.Registry.RandomAvailable(&bot.ID)
		if err != nil {
			return nil, err
		}
	}

	var gameMap *models.GameMap
	if mapID != nil {
		gameMap = &models.GameMap{}
		if err := s.DB.First(gameMap, "id = ?", *mapID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrMapNotFound
			}
			return nil, err
		}
	} else {
		gameMap, err = s.Matches.RandomMap()
		if err != nil {
			return nil, err
		}
	}

	round, err := s.Matches.EnsureOpenRound()
	if err != nil {
		return nil, err
	}

	match, err := s.Matches.CreateMatch(round.ID, gameMap.ID, bot.ID, opponent.ID)
	if err != nil {
		return nil, err
	}
	if err := s.DB.Model(match).Update("requested_by_id", user.ID).Error; err != nil {
		return nil, fmt.Errorf("failed to record match requester: %w", err)
	}
	match.RequestedByID = &user.ID
	return match, nil
}

// --- HTTP endpoints ---

// QuotaEndpoint reports the calling user's remaining request allowance.
func (s *QuotaService) QuotaEndpoint(c *fiber.Ctx) error {
	user, err := s.resolveUser(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}
	remaining, err := s.MatchRequestsRemaining(user, MatchRequestWindow)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"limit":          user.MatchRequestLimit(),
		"remaining":      remaining,
		"window_hours":   int(MatchRequestWindow.Hours()),
		"patreon_level":  user.PatreonLevel,
		"extra_requests": user.ExtraPeriodicMatchRequests,
	})
}

// RequestMatchEndpoint lets a user spend quota on a match of their own bot.
func (s *QuotaService) RequestMatchEndpoint(c *fiber.Ctx) error {
	user, err := s.resolveUser(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}

	var req struct {
		BotID      string  `json:"bot_id"`
		OpponentID *string `json:"opponent_id"`
		MapID      *string `json:"map_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.BotID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bot_id is required"})
	}

	match, err := s.RequestMatch(user, req.BotID, req.OpponentID, req.MapID)
	switch {
	case err == nil:
		return c.Status(fiber.StatusCreated).JSON(match)
	case errors.Is(err, ErrQuotaExceeded):
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "match request quota exceeded"})
	case errors.Is(err, ErrBotNotFound), errors.Is(err, ErrMapNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ErrNoBotsAvailable):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "no opponent available"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
}

func (s *QuotaService) resolveUser(c *fiber.Ctx) (*models.ArenaUser, error) {
	externalID, _ := c.Locals("user_id").(string)
	if externalID == "" {
		return nil, fmt.Errorf("missing user context")
	}
	var user models.ArenaUser
	if err := s.DB.Where("external_user_id = ?", externalID).First(&user).Error; err != nil {
		return nil, fmt.Errorf("unknown user %s", externalID)
	}
	return &user, nil
}
