package handlers

import (
	"bot-arena-system/middleware"
	"bot-arena-system/services"

	"github.com/gofiber/fiber/v2"
)

// SetupArenaRoutes registers the arena client and public ladder surface.
func SetupArenaRoutes(app *fiber.App, matchService *services.MatchService, resultService *services.ResultService, rankingService *services.RankingService) {
	// 🔓 Public ladder views
	app.Get("/ranking", rankingService.Ranking)
	app.Get("/results", resultService.ListRecentResults)

	// 🔐 Arena client API — requires gateway user context
	arenaclient := app.Group("/arenaclient", middleware.UserContextMiddleware())
	arenaclient.Post("/matches", matchService.ClaimNextMatch)
	arenaclient.Post("/results", resultService.SubmitResultEndpoint)

	// 🔒 Admin-only operations
	admin := app.Group("/admin", middleware.UserContextMiddleware(), middleware.RequireRole("admin"))
	admin.Post("/matches/:id/cancel", matchService.CancelMatchEndpoint)
	admin.Post("/sweep", matchService.SweepEndpoint)
}
