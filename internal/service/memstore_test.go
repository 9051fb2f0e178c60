package service

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/elo-ladder/internal/domain"
)

// memStore is an in-memory Store used to exercise the ledger without a
// database. WithTx commits a deep copy on success, so failed transactions
// leave the visible state untouched.
type memStore struct {
	nextPlayerID int64
	nextGameID   int64
	players      map[int64]*domain.Player
	games        map[int64]*domain.Game
	playerGames  []memPlayerGame
}

type memPlayerGame struct {
	playerID int64
	gameID   int64
	eloAfter *int
}

func newMemStore() *memStore {
	return &memStore{
		players: make(map[int64]*domain.Player),
		games:   make(map[int64]*domain.Game),
	}
}

func (s *memStore) clone() *memStore {
	c := &memStore{
		nextPlayerID: s.nextPlayerID,
		nextGameID:   s.nextGameID,
		players:      make(map[int64]*domain.Player, len(s.players)),
		games:        make(map[int64]*domain.Game, len(s.games)),
		playerGames:  make([]memPlayerGame, len(s.playerGames)),
	}
	for id, p := range s.players {
		cp := *p
		c.players[id] = &cp
	}
	for id, g := range s.games {
		cg := *g
		if g.LosingScore != nil {
			score := *g.LosingScore
			cg.LosingScore = &score
		}
		if g.CompletedTS != nil {
			ts := *g.CompletedTS
			cg.CompletedTS = &ts
		}
		c.games[id] = &cg
	}
	for i, pg := range s.playerGames {
		c.playerGames[i] = pg
		if pg.eloAfter != nil {
			elo := *pg.eloAfter
			c.playerGames[i].eloAfter = &elo
		}
	}
	return c
}

func (s *memStore) WithTx(ctx context.Context, serializable bool, fn func(tx Tx) error) error {
	work := s.clone()
	if err := fn(&memTx{s: work}); err != nil {
		return err
	}
	*s = *work
	return nil
}

func (s *memStore) GetGame(ctx context.Context, id int64) (*domain.Game, error) {
	g, ok := s.games[id]
	if !ok {
		return nil, domain.ErrGameNotFound
	}
	cg := *g
	return &cg, nil
}

func (s *memStore) GetPlayerByExternalID(ctx context.Context, externalID int64) (*domain.Player, error) {
	for _, p := range s.players {
		if p.ExternalID == externalID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrPlayerNotFound
}

func (s *memStore) SearchPlayers(ctx context.Context, query string) ([]domain.Player, error) {
	if id, err := strconv.ParseInt(strings.Trim(query, "<>!@"), 10, 64); err == nil {
		if p, err := s.GetPlayerByExternalID(ctx, id); err == nil {
			return []domain.Player{*p}, nil
		}
		return nil, nil
	}
	var out []domain.Player
	for _, p := range s.sortedPlayers() {
		if strings.Contains(strings.ToLower(p.Name), strings.ToLower(query)) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *memStore) PlayerRecord(ctx context.Context, playerID int64) (domain.Record, error) {
	var rec domain.Record
	for _, g := range s.games {
		if !g.IsConfirmed {
			continue
		}
		switch playerID {
		case g.WinnerID:
			rec.Wins++
		case g.LoserID:
			rec.Losses++
		}
	}
	return rec, nil
}

func (s *memStore) SetPlayerBanned(ctx context.Context, externalID int64, banned bool) error {
	for _, p := range s.players {
		if p.ExternalID == externalID {
			p.IsBanned = banned
			return nil
		}
	}
	return domain.ErrPlayerNotFound
}

func (s *memStore) RenamePlayer(ctx context.Context, externalID int64, name string) error {
	for _, p := range s.players {
		if p.ExternalID == externalID {
			p.Name = name
			return nil
		}
	}
	return domain.ErrPlayerNotFound
}

func (s *memStore) Leaderboard(ctx context.Context, cutoff time.Time, useMax bool) ([]domain.Player, error) {
	active := make(map[int64]bool)
	for _, g := range s.games {
		if g.IsConfirmed && g.CompletedTS != nil && g.CompletedTS.After(cutoff) {
			active[g.WinnerID] = true
			active[g.LoserID] = true
		}
	}

	var ranked []*domain.Player
	for _, p := range s.sortedPlayers() {
		if active[p.ID] && !p.IsBanned {
			ranked = append(ranked, p)
		}
	}
	if len(ranked) < 10 {
		ranked = s.sortedPlayers()
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i].Elo, ranked[j].Elo
		if useMax {
			a, b = ranked[i].EloMax, ranked[j].EloMax
		}
		return a > b
	})

	out := make([]domain.Player, len(ranked))
	for i, p := range ranked {
		out[i] = *p
	}
	return out, nil
}

func (s *memStore) RatingsSnapshot(ctx context.Context) ([]domain.PlayerRating, error) {
	var out []domain.PlayerRating
	for _, p := range s.sortedPlayers() {
		if p.IsBanned {
			continue
		}
		out = append(out, domain.PlayerRating{
			ExternalID: p.ExternalID,
			Name:       p.Name,
			Elo:        p.Elo,
			EloMax:     p.EloMax,
		})
	}
	return out, nil
}

func (s *memStore) sortedPlayers() []*domain.Player {
	out := make([]*domain.Player, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type memTx struct {
	s *memStore
}

func (t *memTx) FindOrCreatePlayer(ctx context.Context, externalID int64, name string) (*domain.Player, error) {
	for _, p := range t.s.players {
		if p.ExternalID == externalID {
			return p, nil
		}
	}
	t.s.nextPlayerID++
	p := &domain.Player{
		ID:         t.s.nextPlayerID,
		ExternalID: externalID,
		Name:       name,
		Elo:        domain.DefaultElo,
		EloMax:     domain.DefaultElo,
		CreatedAt:  time.Now(),
	}
	t.s.players[p.ID] = p
	return p, nil
}

func (t *memTx) GetPlayersForUpdate(ctx context.Context, winnerID, loserID int64) (*domain.Player, *domain.Player, error) {
	winner, ok := t.s.players[winnerID]
	if !ok {
		return nil, nil, domain.ErrPlayerNotFound
	}
	loser, ok := t.s.players[loserID]
	if !ok {
		return nil, nil, domain.ErrPlayerNotFound
	}
	return winner, loser, nil
}

func (t *memTx) UpdatePlayerRating(ctx context.Context, playerID int64, elo, eloMax int) error {
	p, ok := t.s.players[playerID]
	if !ok {
		return domain.ErrPlayerNotFound
	}
	p.Elo = elo
	p.EloMax = eloMax
	return nil
}

func (t *memTx) ResetAllRatings(ctx context.Context) error {
	for _, p := range t.s.players {
		p.Elo = domain.DefaultElo
		p.EloMax = domain.DefaultElo
	}
	return nil
}

func (t *memTx) GetGameForUpdate(ctx context.Context, id int64) (*domain.Game, error) {
	g, ok := t.s.games[id]
	if !ok {
		return nil, domain.ErrGameNotFound
	}
	return g, nil
}

func (t *memTx) FindPendingGame(ctx context.Context, winnerID, loserID int64) (*domain.Game, error) {
	for _, g := range t.s.games {
		if !g.IsConfirmed && g.WinnerID == winnerID && g.LoserID == loserID {
			return g, nil
		}
	}
	return nil, domain.ErrGameNotFound
}

func (t *memTx) InsertGame(ctx context.Context, g *domain.Game) error {
	for _, existing := range t.s.games {
		if !existing.IsConfirmed && existing.WinnerID == g.WinnerID && existing.LoserID == g.LoserID {
			return domain.ErrDuplicatePendingGame
		}
	}
	t.s.nextGameID++
	g.ID = t.s.nextGameID
	g.WinClaimedTS = time.Now()
	t.s.games[g.ID] = g
	return nil
}

func (t *memTx) UpdateGame(ctx context.Context, g *domain.Game) error {
	if _, ok := t.s.games[g.ID]; !ok {
		return domain.ErrGameNotFound
	}
	t.s.games[g.ID] = g
	return nil
}

func (t *memTx) DeleteGame(ctx context.Context, id int64) error {
	delete(t.s.games, id)
	return nil
}

func (t *memTx) ConfirmedGamesSince(ctx context.Context, since time.Time) ([]*domain.Game, error) {
	var out []*domain.Game
	for _, g := range t.s.games {
		if g.IsConfirmed && g.CompletedTS != nil && !g.CompletedTS.Before(since) {
			out = append(out, g)
		}
	}
	sortGamesByCompletion(out)
	return out, nil
}

func (t *memTx) AllConfirmedGames(ctx context.Context) ([]*domain.Game, error) {
	var out []*domain.Game
	for _, g := range t.s.games {
		if g.IsConfirmed {
			out = append(out, g)
		}
	}
	sortGamesByCompletion(out)
	return out, nil
}

func sortGamesByCompletion(games []*domain.Game) {
	sort.Slice(games, func(i, j int) bool {
		a, b := games[i], games[j]
		if a.CompletedTS.Equal(*b.CompletedTS) {
			return a.ID < b.ID
		}
		return a.CompletedTS.Before(*b.CompletedTS)
	})
}

func (t *memTx) InsertPlayerGame(ctx context.Context, playerID, gameID int64) error {
	t.s.playerGames = append(t.s.playerGames, memPlayerGame{playerID: playerID, gameID: gameID})
	return nil
}

func (t *memTx) SetSnapshot(ctx context.Context, gameID, playerID int64, eloAfter *int) error {
	for i := range t.s.playerGames {
		if t.s.playerGames[i].gameID == gameID && t.s.playerGames[i].playerID == playerID {
			t.s.playerGames[i].eloAfter = eloAfter
			return nil
		}
	}
	return domain.ErrGameNotFound
}

func (t *memTx) DeletePlayerGames(ctx context.Context, gameID int64) error {
	kept := t.s.playerGames[:0]
	for _, pg := range t.s.playerGames {
		if pg.gameID != gameID {
			kept = append(kept, pg)
		}
	}
	t.s.playerGames = kept
	return nil
}
