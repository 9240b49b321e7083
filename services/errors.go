package services

import "errors"

// Business errors shared across services and the HTTP mapping.
var (
	ErrNotFound      = errors.New("requested resource not found")
	ErrMatchNotFound = errors.New("match not found")
	ErrBotNotFound   = errors.New("bot not found")
	ErrUserNotFound  = errors.New("user not found")
	ErrMapNotFound   = errors.New("map not found")

	// Contention errors: expected races, callers retry or treat as no-op.
	ErrMatchAlreadyStarted   = errors.New("match has already been started")
	ErrMatchAlreadyHasResult = errors.New("match already has a result")
	ErrBotAlreadyInMatch     = errors.New("bot is already in a match")

	// Occupancy consistency
	ErrBotNotInMatch = errors.New("bot is not in a match")

	// Scheduling
	ErrNoBotsAvailable = errors.New("no active bots are available for a match")

	// Validation and business rules
	ErrInvalidResultType  = errors.New("invalid result type")
	ErrQuotaExceeded      = errors.New("match request quota exceeded for the current period")
	ErrBotLimitReached    = errors.New("maximum bot count reached for this user")
	ErrActiveLimitReached = errors.New("active bot limit reached for this user's tier")
	ErrBotDataFrozen      = errors.New("bot data cannot be modified while the bot is in a match")
	ErrForbiddenOperation = errors.New("operation not allowed for the current user")
)
