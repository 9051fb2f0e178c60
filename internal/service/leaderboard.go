package service

import (
	"context"
	"fmt"
	"time"

	"github.com/elo-ladder/internal/domain"
)

// LeaderboardOptions controls a ranked leaderboard query
type LeaderboardOptions struct {
	// UseMax ranks by each player's historical peak instead of current rating
	UseMax bool
	Limit  int
}

// Leaderboard returns the top of the ranked ladder and the total number of
// ranked players. Ranking and the small-ladder fallback are delegated to the
// store; this layer only clamps the display window.
func (l *Ledger) Leaderboard(ctx context.Context, opts LeaderboardOptions) ([]domain.LadderEntry, int, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = l.config.DefaultLimit
	}
	if limit > l.config.MaxLimit {
		limit = l.config.MaxLimit
	}

	players, err := l.store.Leaderboard(ctx, l.config.Cutoff(time.Now()), opts.UseMax)
	if err != nil {
		return nil, 0, fmt.Errorf("querying leaderboard: %w", err)
	}

	total := len(players)
	if len(players) > limit {
		players = players[:limit]
	}

	entries := make([]domain.LadderEntry, len(players))
	for i, p := range players {
		elo := p.Elo
		if opts.UseMax {
			elo = p.EloMax
		}
		entries[i] = domain.LadderEntry{
			Rank:       int64(i + 1),
			ExternalID: p.ExternalID,
			Name:       p.Name,
			Elo:        elo,
		}
	}
	return entries, total, nil
}

// Rank returns a player's 1-based leaderboard position and the ladder size.
// Position 0 means the player does not appear in the filtered set.
func (l *Ledger) Rank(ctx context.Context, externalID int64) (int64, int, error) {
	player, err := l.store.GetPlayerByExternalID(ctx, externalID)
	if err != nil {
		return 0, 0, err
	}

	players, err := l.store.Leaderboard(ctx, l.config.Cutoff(time.Now()), false)
	if err != nil {
		return 0, 0, fmt.Errorf("querying leaderboard: %w", err)
	}

	for i, p := range players {
		if p.ID == player.ID {
			return int64(i + 1), len(players), nil
		}
	}
	return 0, len(players), nil
}

// Player returns a player with their confirmed win/loss record
func (l *Ledger) Player(ctx context.Context, externalID int64) (*domain.Player, domain.Record, error) {
	player, err := l.store.GetPlayerByExternalID(ctx, externalID)
	if err != nil {
		return nil, domain.Record{}, err
	}
	record, err := l.store.PlayerRecord(ctx, player.ID)
	if err != nil {
		return nil, domain.Record{}, fmt.Errorf("querying player record: %w", err)
	}
	return player, record, nil
}

// Search finds players by external id, exact name or name substring,
// returning zero, one or many matches. Ambiguity resolution belongs to the
// caller.
func (l *Ledger) Search(ctx context.Context, query string) ([]domain.Player, error) {
	return l.store.SearchPlayers(ctx, query)
}

// SetBanned applies an external ban or unban event. Banned players drop off
// leaderboard queries but keep their history.
func (l *Ledger) SetBanned(ctx context.Context, externalID int64, banned bool) error {
	if err := l.store.SetPlayerBanned(ctx, externalID, banned); err != nil {
		return err
	}
	l.logger.Info("player ban flag changed", "external_id", externalID, "banned", banned)

	if l.cache != nil {
		if banned {
			if err := l.cache.RemovePlayer(ctx, externalID); err != nil {
				l.logger.Warn("failed to evict banned player from cache", "error", err)
			}
		} else {
			l.refreshCache(ctx)
		}
	}
	return nil
}

// Rename applies an external display-name change event
func (l *Ledger) Rename(ctx context.Context, externalID int64, name string) error {
	if err := l.store.RenamePlayer(ctx, externalID, name); err != nil {
		return err
	}

	if l.cache != nil {
		player, err := l.store.GetPlayerByExternalID(ctx, externalID)
		if err == nil {
			if err := l.cache.SetRatings(ctx, ratingOf(player)); err != nil {
				l.logger.Warn("failed to refresh renamed player in cache", "error", err)
			}
		}
	}
	return nil
}

// SubmitResult ingests a reported outcome from the result topic
func (l *Ledger) SubmitResult(ctx context.Context, res domain.ResultEvent) error {
	game, created, err := l.Report(ctx, res)
	if err != nil {
		return err
	}
	if !created && !res.Confirmed {
		l.logger.Debug("result matched existing pending game", "game_id", game.ID)
	}
	return nil
}
