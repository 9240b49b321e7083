package handlers

import (
	"bot-arena-system/middleware"
	"bot-arena-system/services"

	"github.com/gofiber/fiber/v2"
)

// SetupUserRoutes registers the website-user surface: bot management and
// quota-gated match requests.
func SetupUserRoutes(app *fiber.App, botService *services.BotService, quotaService *services.QuotaService) {
	secured := app.Group("/", middleware.UserContextMiddleware())

	// Bot management
	secured.Post("/bots", botService.CreateBotEndpoint)
	secured.Put("/bots/:id/data", botService.UpdateBotDataEndpoint)
	secured.Patch("/bots/:id/active", botService.SetActiveEndpoint)

	// Match requests and quota
	secured.Post("/matches/request", quotaService.RequestMatchEndpoint)
	secured.Get("/users/me/quota", quotaService.QuotaEndpoint)
}
