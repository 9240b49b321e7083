package services

import (
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"bot-arena-system/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// setupArenaDB connects to the test database, migrates the schema and
// wipes it. Tests that need real row locking and unique constraints skip
// when TEST_DATABASE_URL is not set.
func setupArenaDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping database-backed test")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.ArenaUser{},
		&models.GameMap{},
		&models.Round{},
		&models.Bot{},
		&models.Match{},
		&models.MatchParticipation{},
		&models.Result{},
	))

	for _, table := range []string{"results", "match_participations", "matches", "bots", "rounds", "game_maps", "arena_users"} {
		require.NoError(t, db.Exec("DELETE FROM "+table).Error)
	}
	return db
}

type arenaFixture struct {
	db       *gorm.DB
	registry *BotRegistryService
	matches  *MatchService
	results  *ResultService
	rating   *RatingService
	quota    *QuotaService

	client *models.ArenaUser
	owner  *models.ArenaUser
	gmap   *models.GameMap
	round  *models.Round
}

func newArenaFixture(t *testing.T) *arenaFixture {
	t.Helper()
	db := setupArenaDB(t)

	registry := NewBotRegistryService(db)
	rating := NewRatingService(db)
	matches := NewMatchService(db, registry)
	results := NewResultService(db, registry, rating)
	quota := NewQuotaService(db, matches, registry)

	f := &arenaFixture{
		db:       db,
		registry: registry,
		matches:  matches,
		results:  results,
		rating:   rating,
		quota:    quota,
	}

	f.client = f.createUser(t, "arena-client-1", models.UserTypeArenaClient)
	f.owner = f.createUser(t, "bot-owner-1", models.UserTypeWebsite)

	f.gmap = &models.GameMap{ID: uuid.NewString(), Name: "AbyssalReef-" + uuid.NewString()[:8]}
	require.NoError(t, db.Create(f.gmap).Error)

	round, err := matches.EnsureOpenRound()
	require.NoError(t, err)
	f.round = round
	return f
}

func (f *arenaFixture) createUser(t *testing.T, username, userType string) *models.ArenaUser {
	t.Helper()
	user := models.ArenaUser{
		ID:             uuid.NewString(),
		ExternalUserID: uuid.NewString(),
		Username:       username,
		Type:           userType,
	}
	require.NoError(t, f.db.Create(&user).Error)
	return &user
}

func (f *arenaFixture) createBot(t *testing.T, name string, elo int) *models.Bot {
	t.Helper()
	bot := models.Bot{
		ID:            uuid.NewString(),
		UserID:        f.owner.ID,
		Name:          name + "-" + uuid.NewString()[:8],
		PlaysRace:     models.RaceTerran,
		Type:          models.BotTypeCppLinux,
		Active:        true,
		Elo:           elo,
		GameDisplayID: uuid.NewString(),
	}
	require.NoError(t, f.db.Create(&bot).Error)
	return &bot
}

func (f *arenaFixture) createMatch(t *testing.T, bot1, bot2 *models.Bot) *models.Match {
	t.Helper()
	match, err := f.matches.CreateMatch(f.round.ID, f.gmap.ID, bot1.ID, bot2.ID)
	require.NoError(t, err)
	return match
}

func (f *arenaFixture) reloadBot(t *testing.T, id string) *models.Bot {
	t.Helper()
	var bot models.Bot
	require.NoError(t, f.db.First(&bot, "id = ?", id).Error)
	return &bot
}

func TestStartMatchLifecycle(t *testing.T) {
	f := newArenaFixture(t)
	bot1 := f.createBot(t, "alpha", 1600)
	bot2 := f.createBot(t, "beta", 1600)
	match := f.createMatch(t, bot1, bot2)

	// Creation changes no occupancy.
	assert.False(t, f.reloadBot(t, bot1.ID).InMatch)
	assert.False(t, f.reloadBot(t, bot2.ID).InMatch)

	require.NoError(t, f.matches.StartMatch(match.ID, f.client.ID))

	var started models.Match
	require.NoError(t, f.db.First(&started, "id = ?", match.ID).Error)
	require.NotNil(t, started.Started)
	require.NotNil(t, started.AssignedToID)
	assert.Equal(t, f.client.ID, *started.AssignedToID)

	// Both bots now occupied by exactly this match.
	for _, id := range []string{bot1.ID, bot2.ID} {
		bot := f.reloadBot(t, id)
		assert.True(t, bot.InMatch)
		require.NotNil(t, bot.CurrentMatchID)
		assert.Equal(t, match.ID, *bot.CurrentMatchID)
	}

	// A second start is a benign no-op signal.
	assert.ErrorIs(t, f.matches.StartMatch(match.ID, f.client.ID), ErrMatchAlreadyStarted)
}

func TestStartMatchBotBusyElsewhere(t *testing.T) {
	f := newArenaFixture(t)
	bot1 := f.createBot(t, "alpha", 1600)
	bot2 := f.createBot(t, "beta", 1600)
	bot3 := f.createBot(t, "gamma", 1600)

	first := f.createMatch(t, bot1, bot2)
	require.NoError(t, f.matches.StartMatch(first.ID, f.client.ID))

	// bot2 is busy, so the second match must not start or mutate anything.
	second := f.createMatch(t, bot3, bot2)
	assert.ErrorIs(t, f.matches.StartMatch(second.ID, f.client.ID), ErrBotAlreadyInMatch)

	var m models.Match
	require.NoError(t, f.db.First(&m, "id = ?", second.ID).Error)
	assert.Nil(t, m.Started)
	assert.False(t, f.reloadBot(t, bot3.ID).InMatch)
}

func TestStartMatchConcurrent(t *testing.T) {
	f := newArenaFixture(t)
	bot1 := f.createBot(t, "alpha", 1600)
	bot2 := f.createBot(t, "beta", 1600)
	match := f.createMatch(t, bot1, bot2)

	const workers = 2
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.matches.StartMatch(match.ID, f.client.ID)
		}(i)
	}
	wg.Wait()

	successes, contended := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case err == ErrMatchAlreadyStarted || err == ErrBotAlreadyInMatch:
			contended++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, contended)
}

func TestSubmitResultConcurrent(t *testing.T) {
	f := newArenaFixture(t)
	bot1 := f.createBot(t, "alpha", 1500)
	bot2 := f.createBot(t, "beta", 1500)
	match := f.createMatch(t, bot1, bot2)
	require.NoError(t, f.matches.StartMatch(match.ID, f.client.ID))

	replay := "https://cdn.example.com/replays/x.SC2Replay"
	const submissions = 4
	errs := make([]error, submissions)
	var wg sync.WaitGroup
	for i := 0; i < submissions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.results.SubmitResult(SubmitResultInput{
				MatchID:       match.ID,
				Type:          models.ResultPlayer1Win,
				GameSteps:     10000,
				ReplayFileURL: &replay,
			})
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, ErrMatchAlreadyHasResult)
		}
	}
	assert.Equal(t, 1, successes)

	// Rating applied exactly once despite four submission attempts.
	assert.Equal(t, 1516, f.reloadBot(t, bot1.ID).Elo)
	assert.Equal(t, 1484, f.reloadBot(t, bot2.ID).Elo)
}

func TestSubmitResultRatingScenario(t *testing.T) {
	f := newArenaFixture(t)
	bot1 := f.createBot(t, "alpha", 1500)
	bot2 := f.createBot(t, "beta", 1500)
	match := f.createMatch(t, bot1, bot2)
	require.NoError(t, f.matches.StartMatch(match.ID, f.client.ID))

	replay := "https://cdn.example.com/replays/x.SC2Replay"
	result, err := f.results.SubmitResult(SubmitResultInput{
		MatchID:       match.ID,
		Type:          models.ResultPlayer1Win,
		GameSteps:     8000,
		ReplayFileURL: &replay,
	})
	require.NoError(t, err)
	require.NotNil(t, result.WinnerID)
	assert.Equal(t, bot1.ID, *result.WinnerID)
	assert.False(t, result.ReplayCorrupted)

	assert.Equal(t, 1516, f.reloadBot(t, bot1.ID).Elo)
	assert.Equal(t, 1484, f.reloadBot(t, bot2.ID).Elo)

	// Audit trail on the participations, zero-sum overall.
	var participations []models.MatchParticipation
	require.NoError(t, f.db.Where("match_id = ?", match.ID).
		Order("participant_number ASC").Find(&participations).Error)
	require.Len(t, participations, 2)
	require.NotNil(t, participations[0].EloChange)
	require.NotNil(t, participations[1].EloChange)
	assert.Equal(t, 16, *participations[0].EloChange)
	assert.Equal(t, -16, *participations[1].EloChange)
	assert.Equal(t, 0, *participations[0].EloChange+*participations[1].EloChange)
	assert.Equal(t, 1516, *participations[0].ResultantElo)
	assert.Equal(t, 1484, *participations[1].ResultantElo)

	// Both bots released.
	assert.False(t, f.reloadBot(t, bot1.ID).InMatch)
	assert.False(t, f.reloadBot(t, bot2.ID).InMatch)

	// The single-invocation boundary: a second submission is rejected
	// before it can reach the rating engine, so ratings stay put.
	_, err = f.results.SubmitResult(SubmitResultInput{
		MatchID:       match.ID,
		Type:          models.ResultPlayer1Win,
		GameSteps:     8000,
		ReplayFileURL: &replay,
	})
	assert.ErrorIs(t, err, ErrMatchAlreadyHasResult)
	assert.Equal(t, 1516, f.reloadBot(t, bot1.ID).Elo)
	assert.Equal(t, 1484, f.reloadBot(t, bot2.ID).Elo)
}

func TestSubmitResultTie(t *testing.T) {
	f := newArenaFixture(t)
	bot1 := f.createBot(t, "alpha", 1600)
	bot2 := f.createBot(t, "beta", 1400)
	match := f.createMatch(t, bot1, bot2)
	require.NoError(t, f.matches.StartMatch(match.ID, f.client.ID))

	replay := "https://cdn.example.com/replays/tie.SC2Replay"
	result, err := f.results.SubmitResult(SubmitResultInput{
		MatchID:       match.ID,
		Type:          models.ResultTie,
		GameSteps:     20000,
		ReplayFileURL: &replay,
	})
	require.NoError(t, err)
	assert.Nil(t, result.WinnerID)

	// Tie pairs (first, second) with score 0.5: the stronger bot loses 8.
	assert.Equal(t, 1592, f.reloadBot(t, bot1.ID).Elo)
	assert.Equal(t, 1408, f.reloadBot(t, bot2.ID).Elo)
}

func TestSubmitResultMissingReplayTolerated(t *testing.T) {
	f := newArenaFixture(t)
	bot1 := f.createBot(t, "alpha", 1500)
	bot2 := f.createBot(t, "beta", 1500)
	match := f.createMatch(t, bot1, bot2)
	require.NoError(t, f.matches.StartMatch(match.ID, f.client.ID))

	// Decisive outcome, no replay: accepted but flagged.
	result, err := f.results.SubmitResult(SubmitResultInput{
		MatchID:   match.ID,
		Type:      models.ResultPlayer2Win,
		GameSteps: 5000,
	})
	require.NoError(t, err)
	assert.True(t, result.ReplayCorrupted)
	assert.Equal(t, 1516, f.reloadBot(t, bot2.ID).Elo)
}

func TestSubmitResultNonCompetitiveSkipsRating(t *testing.T) {
	f := newArenaFixture(t)
	bot1 := f.createBot(t, "alpha", 1500)
	bot2 := f.createBot(t, "beta", 1500)
	match := f.createMatch(t, bot1, bot2)
	require.NoError(t, f.matches.StartMatch(match.ID, f.client.ID))

	_, err := f.results.SubmitResult(SubmitResultInput{
		MatchID:   match.ID,
		Type:      models.ResultInitError,
		GameSteps: 0,
	})
	require.NoError(t, err)

	assert.Equal(t, 1500, f.reloadBot(t, bot1.ID).Elo)
	assert.Equal(t, 1500, f.reloadBot(t, bot2.ID).Elo)
	assert.False(t, f.reloadBot(t, bot1.ID).InMatch)
}

func TestCancelBeforeStartStampsStart(t *testing.T) {
	f := newArenaFixture(t)
	bot1 := f.createBot(t, "alpha", 1600)
	bot2 := f.createBot(t, "beta", 1600)
	match := f.createMatch(t, bot1, bot2)

	require.NoError(t, f.matches.CancelMatch(match.ID))

	var m models.Match
	require.NoError(t, f.db.First(&m, "id = ?", match.ID).Error)
	assert.NotNil(t, m.Started, "cancellation of an unstarted match stamps the start time")

	var result models.Result
	require.NoError(t, f.db.First(&result, "match_id = ?", match.ID).Error)
	assert.Equal(t, models.ResultMatchCancelled, result.Type)
	assert.Equal(t, 0, result.GameSteps)

	// Terminal: neither start nor a second cancel may proceed.
	assert.ErrorIs(t, f.matches.CancelMatch(match.ID), ErrMatchAlreadyHasResult)
}

func TestCancelWithTamperedOccupancy(t *testing.T) {
	f := newArenaFixture(t)
	bot1 := f.createBot(t, "alpha", 1600)
	bot2 := f.createBot(t, "beta", 1600)
	match := f.createMatch(t, bot1, bot2)
	require.NoError(t, f.matches.StartMatch(match.ID, f.client.ID))

	// Simulate external tamper: bot1 no longer registered as occupied.
	require.NoError(t, f.db.Model(&models.Bot{}).Where("id = ?", bot1.ID).
		Updates(map[string]interface{}{"in_match": false, "current_match_id": nil}).Error)

	// Cancellation still succeeds and frees the other bot.
	require.NoError(t, f.matches.CancelMatch(match.ID))

	var result models.Result
	require.NoError(t, f.db.First(&result, "match_id = ?", match.ID).Error)
	assert.Equal(t, models.ResultMatchCancelled, result.Type)
	assert.Equal(t, 0, result.GameSteps)

	assert.False(t, f.reloadBot(t, bot2.ID).InMatch)
}

func TestSweepTimedOutMatches(t *testing.T) {
	f := newArenaFixture(t)

	ages := []time.Duration{30 * time.Minute, 90 * time.Minute, 120 * time.Minute}
	matchIDs := make([]string, len(ages))
	for i, age := range ages {
		bot1 := f.createBot(t, fmt.Sprintf("sweep-a%d", i), 1600)
		bot2 := f.createBot(t, fmt.Sprintf("sweep-b%d", i), 1600)
		match := f.createMatch(t, bot1, bot2)
		require.NoError(t, f.matches.StartMatch(match.ID, f.client.ID))
		require.NoError(t, f.db.Model(&models.Match{}).Where("id = ?", match.ID).
			Update("started", time.Now().Add(-age)).Error)
		matchIDs[i] = match.ID
	}

	cancelled, err := f.matches.SweepTimedOutMatches(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, cancelled)

	// 30min-old match untouched.
	var count int64
	require.NoError(t, f.db.Model(&models.Result{}).
		Where("match_id = ?", matchIDs[0]).Count(&count).Error)
	assert.Zero(t, count)

	// The two overdue matches got cancellation results and their bots back.
	for _, id := range matchIDs[1:] {
		var result models.Result
		require.NoError(t, f.db.First(&result, "match_id = ?", id).Error)
		assert.Equal(t, models.ResultMatchCancelled, result.Type)
	}

	var occupied int64
	require.NoError(t, f.db.Model(&models.Bot{}).
		Where("in_match = ?", true).Count(&occupied).Error)
	assert.Equal(t, int64(2), occupied, "only the young match's bots stay occupied")

	// A repeat sweep finds nothing new.
	cancelled, err = f.matches.SweepTimedOutMatches(time.Hour)
	require.NoError(t, err)
	assert.Zero(t, cancelled)
}

func TestQuotaRemainingWithRefunds(t *testing.T) {
	f := newArenaFixture(t)
	user := f.createUser(t, "requester", models.UserTypeWebsite) // free tier

	// Three requested matches inside the window.
	for i := 0; i < 3; i++ {
		bot1 := f.createBot(t, fmt.Sprintf("quota-a%d", i), 1600)
		bot2 := f.createBot(t, fmt.Sprintf("quota-b%d", i), 1600)
		match := f.createMatch(t, bot1, bot2)
		require.NoError(t, f.db.Model(&models.Match{}).Where("id = ?", match.ID).
			Update("requested_by_id", user.ID).Error)
	}

	// One cancellation submitted by the user refunds one request.
	refundBot1 := f.createBot(t, "quota-r1", 1600)
	refundBot2 := f.createBot(t, "quota-r2", 1600)
	refundMatch := f.createMatch(t, refundBot1, refundBot2)
	require.NoError(t, f.db.Create(&models.Result{
		ID:            uuid.NewString(),
		MatchID:       refundMatch.ID,
		Type:          models.ResultMatchCancelled,
		SubmittedByID: &user.ID,
	}).Error)

	remaining, err := f.quota.MatchRequestsRemaining(user, MatchRequestWindow)
	require.NoError(t, err)
	assert.Equal(t, 8, remaining)
}

func TestRandomAvailableExcludes(t *testing.T) {
	f := newArenaFixture(t)
	bot1 := f.createBot(t, "only", 1600)

	// Excluding the single available bot leaves an empty pool.
	_, err := f.registry.RandomAvailable(&bot1.ID)
	assert.ErrorIs(t, err, ErrNoBotsAvailable)

	picked, err := f.registry.RandomAvailable(nil)
	require.NoError(t, err)
	assert.Equal(t, bot1.ID, picked.ID)

	// Inactive and occupied bots never surface.
	require.NoError(t, f.db.Model(&models.Bot{}).Where("id = ?", bot1.ID).
		Update("active", false).Error)
	_, err = f.registry.RandomAvailable(nil)
	assert.ErrorIs(t, err, ErrNoBotsAvailable)
}

func TestRoundCompletion(t *testing.T) {
	f := newArenaFixture(t)
	bot1 := f.createBot(t, "alpha", 1600)
	bot2 := f.createBot(t, "beta", 1600)
	match := f.createMatch(t, bot1, bot2)
	require.NoError(t, f.matches.StartMatch(match.ID, f.client.ID))

	replay := "https://cdn.example.com/replays/final.SC2Replay"
	_, err := f.results.SubmitResult(SubmitResultInput{
		MatchID:       match.ID,
		Type:          models.ResultPlayer1Win,
		GameSteps:     9000,
		ReplayFileURL: &replay,
	})
	require.NoError(t, err)

	// The only match of the round finished, so the round closed.
	var round models.Round
	require.NoError(t, f.db.First(&round, "id = ?", f.round.ID).Error)
	assert.True(t, round.Complete)
	assert.NotNil(t, round.Finished)

	// The next open round is a fresh one.
	next, err := f.matches.EnsureOpenRound()
	require.NoError(t, err)
	assert.NotEqual(t, f.round.ID, next.ID)
	assert.Equal(t, round.Number+1, next.Number)
}
