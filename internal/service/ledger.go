// Package service implements the rating ledger: game lifecycle state
// transitions, the confirmation/reversal protocol and chronological
// recalculation, on top of a transactional Store.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/elo-ladder/internal/config"
	"github.com/elo-ladder/internal/domain"
	"github.com/elo-ladder/internal/rating"
)

// Store is the persistence surface the ledger operates on. Implementations
// must serialize concurrent writers on the same game and player rows inside
// WithTx so lost updates cannot occur.
type Store interface {
	// WithTx runs fn inside a single atomic transaction. When serializable
	// is set the transaction must also prevent other writers from
	// confirming or deleting rows in any timestamp range fn scans.
	WithTx(ctx context.Context, serializable bool, fn func(tx Tx) error) error

	GetGame(ctx context.Context, id int64) (*domain.Game, error)
	GetPlayerByExternalID(ctx context.Context, externalID int64) (*domain.Player, error)
	SearchPlayers(ctx context.Context, query string) ([]domain.Player, error)
	PlayerRecord(ctx context.Context, playerID int64) (domain.Record, error)
	SetPlayerBanned(ctx context.Context, externalID int64, banned bool) error
	RenamePlayer(ctx context.Context, externalID int64, name string) error

	// Leaderboard returns the full ranked set: players appearing in a
	// confirmed game completed after cutoff, banned players excluded,
	// ordered by elo (or elo_max) descending then insertion order. When
	// fewer than 10 qualify it falls back to all registered players.
	Leaderboard(ctx context.Context, cutoff time.Time, useMax bool) ([]domain.Player, error)

	// RatingsSnapshot returns every player's current ratings for cache rebuilds
	RatingsSnapshot(ctx context.Context) ([]domain.PlayerRating, error)
}

// Tx is the mutation surface available inside a ledger transaction
type Tx interface {
	FindOrCreatePlayer(ctx context.Context, externalID int64, name string) (*domain.Player, error)
	// GetPlayersForUpdate locks and returns both player rows. Rows are
	// locked in ascending id order regardless of argument order.
	GetPlayersForUpdate(ctx context.Context, winnerID, loserID int64) (winner, loser *domain.Player, err error)
	UpdatePlayerRating(ctx context.Context, playerID int64, elo, eloMax int) error
	ResetAllRatings(ctx context.Context) error

	GetGameForUpdate(ctx context.Context, id int64) (*domain.Game, error)
	FindPendingGame(ctx context.Context, winnerID, loserID int64) (*domain.Game, error)
	InsertGame(ctx context.Context, g *domain.Game) error
	UpdateGame(ctx context.Context, g *domain.Game) error
	DeleteGame(ctx context.Context, id int64) error
	// ConfirmedGamesSince returns confirmed games with completed_ts >= since,
	// ascending, locked for the remainder of the transaction
	ConfirmedGamesSince(ctx context.Context, since time.Time) ([]*domain.Game, error)
	AllConfirmedGames(ctx context.Context) ([]*domain.Game, error)

	InsertPlayerGame(ctx context.Context, playerID, gameID int64) error
	SetSnapshot(ctx context.Context, gameID, playerID int64, eloAfter *int) error
	DeletePlayerGames(ctx context.Context, gameID int64) error
}

// Broadcaster pushes rating changes to connected clients
type Broadcaster interface {
	BroadcastRatingUpdate(update domain.RatingUpdate)
	BroadcastLadderReset()
}

// RatingCache mirrors current ratings into a fast read path
type RatingCache interface {
	SetRatings(ctx context.Context, ratings ...domain.PlayerRating) error
	RemovePlayer(ctx context.Context, externalID int64) error
	Rebuild(ctx context.Context, ratings []domain.PlayerRating) error
}

// Ledger provides the game lifecycle and recalculation operations
type Ledger struct {
	store  Store
	config *config.LadderConfig
	logger *slog.Logger
	hub    Broadcaster
	cache  RatingCache
}

// NewLedger creates a new ledger service
func NewLedger(store Store, cfg *config.LadderConfig, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		config: cfg,
		logger: logger,
	}
}

// SetHub attaches a broadcaster for rating update pushes
func (l *Ledger) SetHub(hub Broadcaster) {
	l.hub = hub
}

// SetCache attaches a rating cache kept in sync after mutations
func (l *Ledger) SetCache(cache RatingCache) {
	l.cache = cache
}

// Game returns a game by id
func (l *Ledger) Game(ctx context.Context, id int64) (*domain.Game, error) {
	return l.store.GetGame(ctx, id)
}

// Report records a win claim. When an unconfirmed game already exists for the
// same ordered winner/loser pair that game is returned with created=false
// instead of creating a duplicate. A report without a losing score is only
// valid as a match against an existing pending game. When the event carries
// Confirmed the matched-or-created game is confirmed in the same call.
func (l *Ledger) Report(ctx context.Context, res domain.ResultEvent) (*domain.Game, bool, error) {
	if res.WinnerExternalID == res.LoserExternalID {
		return nil, false, domain.ErrSelfPlay
	}
	if res.LosingScore != nil && !domain.ValidLosingScore(*res.LosingScore) {
		return nil, false, domain.ErrInvalidScore
	}

	var game *domain.Game
	var created bool
	err := l.store.WithTx(ctx, false, func(tx Tx) error {
		winner, err := tx.FindOrCreatePlayer(ctx, res.WinnerExternalID, res.WinnerName)
		if err != nil {
			return err
		}
		loser, err := tx.FindOrCreatePlayer(ctx, res.LoserExternalID, res.LoserName)
		if err != nil {
			return err
		}

		existing, err := tx.FindPendingGame(ctx, winner.ID, loser.ID)
		if err != nil && !errors.Is(err, domain.ErrGameNotFound) {
			return err
		}
		if existing != nil {
			game = existing
			created = false
			return nil
		}

		if res.LosingScore == nil {
			return domain.ErrScoreRequired
		}

		game = &domain.Game{
			Name:        domain.NormalizeGameName(res.GameName),
			WinnerID:    winner.ID,
			LoserID:     loser.ID,
			LosingScore: res.LosingScore,
		}
		if err := tx.InsertGame(ctx, game); err != nil {
			return err
		}
		if err := tx.InsertPlayerGame(ctx, winner.ID, game.ID); err != nil {
			return err
		}
		if err := tx.InsertPlayerGame(ctx, loser.ID, game.ID); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	l.logger.Debug("game reported", "game_id", game.ID, "created", created)

	if res.Confirmed {
		confirmed, err := l.Confirm(ctx, game.ID)
		if err != nil {
			return game, created, err
		}
		game = confirmed
	}
	return game, created, nil
}

// Confirm applies the rating deltas for a pending game and marks it
// confirmed. The game row is re-locked inside the transaction, so a game
// deleted in the interim fails with ErrGameNotFound and no partial change.
func (l *Ledger) Confirm(ctx context.Context, gameID int64) (*domain.Game, error) {
	var game *domain.Game
	var update domain.RatingUpdate
	err := l.store.WithTx(ctx, false, func(tx Tx) error {
		var err error
		game, err = tx.GetGameForUpdate(ctx, gameID)
		if err != nil {
			return err
		}
		update, err = l.confirmLocked(ctx, tx, game, false)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.afterRatingChange(ctx, update)
	return game, nil
}

// confirmLocked applies one confirmation inside an open transaction. The
// caller holds the game row lock.
func (l *Ledger) confirmLocked(ctx context.Context, tx Tx, game *domain.Game, bypassCheck bool) (domain.RatingUpdate, error) {
	if game.IsConfirmed && !bypassCheck {
		return domain.RatingUpdate{}, domain.ErrAlreadyConfirmed
	}
	if game.LosingScore == nil {
		return domain.RatingUpdate{}, domain.ErrScoreRequired
	}

	winner, loser, err := tx.GetPlayersForUpdate(ctx, game.WinnerID, game.LoserID)
	if err != nil {
		return domain.RatingUpdate{}, err
	}

	// both deltas come from the ratings before either side is updated
	winnerDelta := rating.Delta(true, winner.Elo, loser.Elo, *game.LosingScore)
	loserDelta := rating.Delta(false, winner.Elo, loser.Elo, *game.LosingScore)

	l.logger.Debug("confirming game",
		"game_id", game.ID,
		"winner", winner.Name, "winner_elo", winner.Elo, "winner_delta", winnerDelta,
		"loser", loser.Name, "loser_elo", loser.Elo, "loser_delta", loserDelta,
	)

	winner.Elo += winnerDelta
	if winner.Elo > winner.EloMax {
		winner.EloMax = winner.Elo
	}
	loser.Elo += loserDelta

	if err := tx.UpdatePlayerRating(ctx, winner.ID, winner.Elo, winner.EloMax); err != nil {
		return domain.RatingUpdate{}, err
	}
	if err := tx.UpdatePlayerRating(ctx, loser.ID, loser.Elo, loser.EloMax); err != nil {
		return domain.RatingUpdate{}, err
	}

	now := time.Now()
	game.EloChangeWinner = winnerDelta
	game.EloChangeLoser = loserDelta
	game.IsConfirmed = true
	game.CompletedTS = &now
	if err := tx.UpdateGame(ctx, game); err != nil {
		return domain.RatingUpdate{}, err
	}

	winnerElo, loserElo := winner.Elo, loser.Elo
	if err := tx.SetSnapshot(ctx, game.ID, winner.ID, &winnerElo); err != nil {
		return domain.RatingUpdate{}, err
	}
	if err := tx.SetSnapshot(ctx, game.ID, loser.ID, &loserElo); err != nil {
		return domain.RatingUpdate{}, err
	}

	return domain.RatingUpdate{
		GameID:          game.ID,
		Winner:          ratingOf(winner),
		Loser:           ratingOf(loser),
		EloChangeWinner: winnerDelta,
		EloChangeLoser:  loserDelta,
	}, nil
}

// Reverse undoes a confirmation: both players get the stored deltas
// subtracted back out, the delta fields are zeroed, snapshots cleared and the
// game returns to the unconfirmed state. Historical elo_max is never erased.
func (l *Ledger) Reverse(ctx context.Context, gameID int64) error {
	var update domain.RatingUpdate
	err := l.store.WithTx(ctx, false, func(tx Tx) error {
		game, err := tx.GetGameForUpdate(ctx, gameID)
		if err != nil {
			return err
		}
		if !game.IsConfirmed {
			return domain.ErrNotConfirmed
		}
		update, err = l.reverseLocked(ctx, tx, game)
		return err
	})
	if err != nil {
		return err
	}

	l.afterRatingChange(ctx, update)
	return nil
}

// reverseLocked undoes one confirmation inside an open transaction
func (l *Ledger) reverseLocked(ctx context.Context, tx Tx, game *domain.Game) (domain.RatingUpdate, error) {
	winner, loser, err := tx.GetPlayersForUpdate(ctx, game.WinnerID, game.LoserID)
	if err != nil {
		return domain.RatingUpdate{}, err
	}

	winner.Elo -= game.EloChangeWinner
	loser.Elo -= game.EloChangeLoser

	if err := tx.UpdatePlayerRating(ctx, winner.ID, winner.Elo, winner.EloMax); err != nil {
		return domain.RatingUpdate{}, err
	}
	if err := tx.UpdatePlayerRating(ctx, loser.ID, loser.Elo, loser.EloMax); err != nil {
		return domain.RatingUpdate{}, err
	}

	game.EloChangeWinner = 0
	game.EloChangeLoser = 0
	game.IsConfirmed = false
	game.CompletedTS = nil
	if err := tx.UpdateGame(ctx, game); err != nil {
		return domain.RatingUpdate{}, err
	}

	if err := tx.SetSnapshot(ctx, game.ID, winner.ID, nil); err != nil {
		return domain.RatingUpdate{}, err
	}
	if err := tx.SetSnapshot(ctx, game.ID, loser.ID, nil); err != nil {
		return domain.RatingUpdate{}, err
	}

	return domain.RatingUpdate{
		GameID:   game.ID,
		Reversed: true,
		Winner:   ratingOf(winner),
		Loser:    ratingOf(loser),
	}, nil
}

// Delete removes a game and its join rows. A confirmed game is reversed
// first, and every confirmation completed at or after its original timestamp
// is replayed in chronological order, since those confirmations were computed
// against ratings the deleted game had influenced. Everything happens in one
// transaction.
func (l *Ledger) Delete(ctx context.Context, gameID int64) error {
	err := l.store.WithTx(ctx, true, func(tx Tx) error {
		game, err := tx.GetGameForUpdate(ctx, gameID)
		if err != nil {
			return err
		}

		var since time.Time
		wasConfirmed := game.IsConfirmed
		if wasConfirmed {
			since = *game.CompletedTS
			if _, err := l.reverseLocked(ctx, tx, game); err != nil {
				return err
			}
		}

		if err := tx.DeletePlayerGames(ctx, game.ID); err != nil {
			return err
		}
		if err := tx.DeleteGame(ctx, game.ID); err != nil {
			return err
		}

		if wasConfirmed {
			return l.recalculateSince(ctx, tx, since)
		}
		return nil
	})
	if err != nil {
		return err
	}

	l.logger.Info("game deleted", "game_id", gameID)
	l.refreshCache(ctx)
	if l.hub != nil {
		l.hub.BroadcastLadderReset()
	}
	return nil
}

// recalculateSince replays confirmed games completed at or after the given
// timestamp: reverse all of them in ascending order, then re-confirm in the
// same order. Replaying chronologically reproduces the original dependency
// chain of each confirmation.
func (l *Ledger) recalculateSince(ctx context.Context, tx Tx, since time.Time) error {
	games, err := tx.ConfirmedGamesSince(ctx, since)
	if err != nil {
		return err
	}

	l.logger.Debug("recalculating ratings", "since", since, "games", len(games))

	for _, g := range games {
		if _, err := l.reverseLocked(ctx, tx, g); err != nil {
			return err
		}
	}
	for _, g := range games {
		if _, err := l.confirmLocked(ctx, tx, g, false); err != nil {
			return err
		}
	}
	return nil
}

// RecalculateAll resets every player to the default rating and replays the
// entire confirmed history in chronological order, retroactively applying the
// current formula. Runs as one serializable transaction; any failure rolls
// the whole pass back.
func (l *Ledger) RecalculateAll(ctx context.Context) error {
	l.logger.Warn("resetting and recalculating all ratings")

	err := l.store.WithTx(ctx, true, func(tx Tx) error {
		if err := tx.ResetAllRatings(ctx); err != nil {
			return err
		}

		games, err := tx.AllConfirmedGames(ctx)
		if err != nil {
			return err
		}
		for _, g := range games {
			if _, err := l.confirmLocked(ctx, tx, g, true); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	l.logger.Info("rating recalculation complete")
	l.refreshCache(ctx)
	if l.hub != nil {
		l.hub.BroadcastLadderReset()
	}
	return nil
}

// afterRatingChange pushes a committed confirm/reverse outcome to the cache
// and any connected clients
func (l *Ledger) afterRatingChange(ctx context.Context, update domain.RatingUpdate) {
	if l.cache != nil {
		if err := l.cache.SetRatings(ctx, update.Winner, update.Loser); err != nil {
			l.logger.Warn("failed to update rating cache", "error", err)
		}
	}
	if l.hub != nil {
		l.hub.BroadcastRatingUpdate(update)
	}
}

// refreshCache rebuilds the rating cache from a fresh store snapshot
func (l *Ledger) refreshCache(ctx context.Context) {
	if l.cache == nil {
		return
	}
	snapshot, err := l.store.RatingsSnapshot(ctx)
	if err != nil {
		l.logger.Warn("failed to snapshot ratings for cache rebuild", "error", err)
		return
	}
	if err := l.cache.Rebuild(ctx, snapshot); err != nil {
		l.logger.Warn("failed to rebuild rating cache", "error", err)
	}
}

func ratingOf(p *domain.Player) domain.PlayerRating {
	return domain.PlayerRating{
		ExternalID: p.ExternalID,
		Name:       p.Name,
		Elo:        p.Elo,
		EloMax:     p.EloMax,
	}
}
