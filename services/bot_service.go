package services

import (
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"mime/multipart"

	"bot-arena-system/models"
	"bot-arena-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MaxUserBotCount caps how many bots a single user may register in total.
const MaxUserBotCount = 10

// BotService manages bot registration and ladder enrollment. Bot zips are
// opaque blobs: they go to the artifact store and only URLs are kept.
type BotService struct {
	DB *gorm.DB
}

func NewBotService(db *gorm.DB) *BotService {
	return &BotService{DB: db}
}

// CreateBot registers a bot in two phases: the row is persisted first to
// obtain an identity, then the zip artifact is attached under a key derived
// from that identity. The URL update is the second phase of the same
// exposed operation, not a lifecycle hook.
func (s *BotService) CreateBot(user *models.ArenaUser, name, playsRace, botType string, zipFile *multipart.FileHeader) (*models.Bot, error) {
	if err := s.validateBotCount(user); err != nil {
		return nil, err
	}

	bot := models.Bot{
		ID:            uuid.NewString(),
		UserID:        user.ID,
		Name:          name,
		PlaysRace:     playsRace,
		Type:          botType,
		Elo:           models.EloStartValue,
		GameDisplayID: uuid.NewString(),
	}
	if err := s.DB.Create(&bot).Error; err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	url, err := utils.StoreArtifact(zipFile, "bots/"+bot.ID+"/bot_zip.zip")
	if err != nil {
		return nil, fmt.Errorf("failed to store bot zip: %w", err)
	}
	md5hash, err := fileMD5(zipFile)
	if err != nil {
		return nil, fmt.Errorf("failed to hash bot zip: %w", err)
	}
	if err := s.DB.Model(&bot).Updates(map[string]interface{}{
		"bot_zip_url": url,
		"bot_zip_md5": md5hash,
	}).Error; err != nil {
		return nil, fmt.Errorf("failed to attach bot zip: %w", err)
	}
	bot.BotZipURL = url
	bot.BotZipMD5 = md5hash
	return &bot, nil
}

// UpdateBotData replaces the bot's data artifact. Refused while the bot is
// playing, unless it never had data to begin with.
func (s *BotService) UpdateBotData(botID string, dataFile *multipart.FileHeader) (*models.Bot, error) {
	var bot models.Bot
	if err := s.DB.First(&bot, "id = ?", botID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBotNotFound
		}
		return nil, err
	}
	if bot.BotDataFrozen() {
		return nil, ErrBotDataFrozen
	}

	url, err := utils.StoreArtifact(dataFile, "bots/"+bot.ID+"/bot_data.zip")
	if err != nil {
		return nil, fmt.Errorf("failed to store bot data: %w", err)
	}
	md5hash, err := fileMD5(dataFile)
	if err != nil {
		return nil, fmt.Errorf("failed to hash bot data: %w", err)
	}
	if err := s.DB.Model(&bot).Updates(map[string]interface{}{
		"bot_data_url": url,
		"bot_data_md5": md5hash,
	}).Error; err != nil {
		return nil, err
	}
	bot.BotDataURL = &url
	bot.BotDataMD5 = &md5hash
	return &bot, nil
}

// SetActive enrolls or withdraws a bot from the ladder, enforcing the
// tier's active-per-race limit on enrollment.
func (s *BotService) SetActive(user *models.ArenaUser, botID string, active bool) (*models.Bot, error) {
	var bot models.Bot
	if err := s.DB.First(&bot, "id = ?", botID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBotNotFound
		}
		return nil, err
	}
	if bot.UserID != user.ID {
		return nil, ErrForbiddenOperation
	}

	if active && !bot.Active {
		if err := s.validateActivePerRace(user, &bot); err != nil {
			return nil, err
		}
	}

	if err := s.DB.Model(&bot).Update("active", active).Error; err != nil {
		return nil, err
	}
	bot.Active = active
	return &bot, nil
}

func (s *BotService) validateBotCount(user *models.ArenaUser) error {
	var count int64
	if err := s.DB.Model(&models.Bot{}).Where("user_id = ?", user.ID).Count(&count).Error; err != nil {
		return err
	}
	if count >= MaxUserBotCount {
		return ErrBotLimitReached
	}
	return nil
}

func (s *BotService) validateActivePerRace(user *models.ArenaUser, bot *models.Bot) error {
	limit := user.ActiveBotLimit()
	if limit < 0 {
		return nil // unlimited tier
	}
	var active int64
	err := s.DB.Model(&models.Bot{}).
		Where("user_id = ? AND active = ? AND plays_race = ? AND id <> ?",
			user.ID, true, bot.PlaysRace, bot.ID).
		Count(&active).Error
	if err != nil {
		return err
	}
	if int(active) >= limit {
		return ErrActiveLimitReached
	}
	return nil
}

func fileMD5(fileHeader *multipart.FileHeader) (string, error) {
	file, err := fileHeader.Open()
	if err != nil {
		return "", err
	}
	defer file.Close()

	h := md5.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// --- HTTP endpoints ---

// CreateBotEndpoint registers a bot from a multipart upload.
func (s *BotService) CreateBotEndpoint(c *fiber.Ctx) error {
	user, err := s.resolveUser(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}

	name := c.FormValue("name")
	playsRace := c.FormValue("plays_race")
	botType := c.FormValue("type")
	if name == "" || playsRace == "" || botType == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "name, plays_race and type are required"})
	}

	zipFile, err := c.FormFile("bot_zip")
	if err != nil || zipFile.Size == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bot_zip file is required"})
	}

	bot, err := s.CreateBot(user, name, playsRace, botType, zipFile)
	switch {
	case err == nil:
		return c.Status(fiber.StatusCreated).JSON(bot)
	case errors.Is(err, ErrBotLimitReached):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "maximum bot count reached"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
}

// UpdateBotDataEndpoint replaces a bot's data artifact.
func (s *BotService) UpdateBotDataEndpoint(c *fiber.Ctx) error {
	dataFile, err := c.FormFile("bot_data")
	if err != nil || dataFile.Size == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bot_data file is required"})
	}

	bot, err := s.UpdateBotData(c.Params("id"), dataFile)
	switch {
	case err == nil:
		return c.JSON(bot)
	case errors.Is(err, ErrBotNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "bot not found"})
	case errors.Is(err, ErrBotDataFrozen):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "bot data is frozen while the bot is in a match"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
}

// SetActiveEndpoint toggles ladder enrollment.
func (s *BotService) SetActiveEndpoint(c *fiber.Ctx) error {
	user, err := s.resolveUser(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}

	var req struct {
		Active bool `json:"active"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	bot, err := s.SetActive(user, c.Params("id"), req.Active)
	switch {
	case err == nil:
		return c.JSON(bot)
	case errors.Is(err, ErrBotNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "bot not found"})
	case errors.Is(err, ErrForbiddenOperation):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "not your bot"})
	case errors.Is(err, ErrActiveLimitReached):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "active bot limit reached for your tier"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
}

func (s *BotService) resolveUser(c *fiber.Ctx) (*models.ArenaUser, error) {
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
