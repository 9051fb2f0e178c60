package domain

import "errors"

// Domain errors
var (
	ErrPlayerNotFound      = errors.New("player not found")
	ErrGameNotFound        = errors.New("game not found")
	ErrSelfPlay            = errors.New("winner and loser must be different players")
	ErrScoreRequired       = errors.New("losing score is required to create a game")
	ErrInvalidScore        = errors.New("losing score must be 0, 1 or 2")
	ErrAlreadyConfirmed    = errors.New("game is already confirmed")
	ErrNotConfirmed        = errors.New("game is not confirmed")
	ErrDuplicatePendingGame = errors.New("an unconfirmed game already exists for these players")
	ErrConflict            = errors.New("concurrent modification, try again")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrInternalError       = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrPlayerNotFound) || errors.Is(err, ErrGameNotFound)
}
