package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"bot-arena-system/handlers"
	"bot-arena-system/middleware"
	"bot-arena-system/models"
	"bot-arena-system/services"
	"bot-arena-system/utils"
	"bot-arena-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 100 * 1024 * 1024, // 100MB: bot zips and replays
	})

	// 🔐 GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-User-ID, X-User-Roles, X-Service-Token",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	// TranslateError maps driver unique-violation errors onto
	// gorm.ErrDuplicatedKey, which the result recorder depends on.
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.ArenaUser{},
		&models.GameMap{},
		&models.Round{},
		&models.Bot{},
		&models.Match{},
		&models.MatchParticipation{},
		&models.Result{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	if err := utils.EnsureUploadDir(); err != nil {
		log.Fatal("failed to ensure upload dir:", err)
	}

	registry := services.NewBotRegistryService(db)
	ratingService := services.NewRatingService(db)
	matchService := services.NewMatchService(db, registry)
	resultService := services.NewResultService(db, registry, ratingService)
	quotaService := services.NewQuotaService(db, matchService, registry)
	botService := services.NewBotService(db)
	rankingService := services.NewRankingService(db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Membership tier sync is optional: without it every user stays on the
	// free tier.
	membershipURL := os.Getenv("PATREON_SYNC_URL")
	membershipToken := os.Getenv("PATREON_SYNC_TOKEN")
	if membershipURL != "" && membershipToken != "" {
		patreonWorker := workers.NewPatreonSyncWorker(db, membershipURL, membershipToken)
		patreonWorker.Start(ctx)
	} else {
		log.Println("⚠️  PATREON_SYNC_URL/PATREON_SYNC_TOKEN not set — membership tiers will not refresh")
	}

	auditWorker := workers.NewRatingAuditWorker(db)
	auditWorker.Start(ctx)

	matchService.StartTimeoutScheduler()

	// ✅ Setup routes — enforced Gateway auth everywhere
	handlers.SetupArenaRoutes(app, matchService, resultService, rankingService)
	handlers.SetupUserRoutes(app, botService, quotaService)

	app.Static("/uploads", "./uploads")

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Arena server running on http://localhost:5300")
	log.Println("✅ Timeout sweeper scheduled (hourly)")
	log.Println("✅ Rating audit worker running")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
