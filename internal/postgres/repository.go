// Package postgres implements the ledger's persistent store on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/elo-ladder/internal/config"
	"github.com/elo-ladder/internal/domain"
	"github.com/elo-ladder/internal/service"
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ service.Store = (*Repository)(nil)

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Pool returns the underlying connection pool
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS players (
			id BIGSERIAL PRIMARY KEY,
			external_id BIGINT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			elo INT NOT NULL DEFAULT 1000,
			elo_max INT NOT NULL DEFAULT 1000,
			is_banned BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS games (
			id BIGSERIAL PRIMARY KEY,
			name TEXT,
			winning_player_id BIGINT NOT NULL REFERENCES players(id) ON DELETE RESTRICT,
			losing_player_id BIGINT NOT NULL REFERENCES players(id) ON DELETE RESTRICT,
			losing_score SMALLINT,
			is_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
			win_claimed_ts TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_ts TIMESTAMPTZ,
			elo_change_winner INT NOT NULL DEFAULT 0,
			elo_change_loser INT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS player_games (
			id BIGSERIAL PRIMARY KEY,
			player_id BIGINT NOT NULL REFERENCES players(id) ON DELETE RESTRICT,
			game_id BIGINT NOT NULL REFERENCES games(id) ON DELETE CASCADE,
			elo_after_game INT
		)`,
		// at most one unconfirmed game per ordered (winner, loser) pair
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_games_pending_pair
			ON games(winning_player_id, losing_player_id) WHERE NOT is_confirmed`,
		`CREATE INDEX IF NOT EXISTS idx_games_completed
			ON games(completed_ts) WHERE is_confirmed`,
		`CREATE INDEX IF NOT EXISTS idx_player_games_player ON player_games(player_id)`,
		`CREATE INDEX IF NOT EXISTS idx_player_games_game ON player_games(game_id)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// mapError translates PostgreSQL error codes into domain errors
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			if pgErr.ConstraintName == "idx_games_pending_pair" {
				return domain.ErrDuplicatePendingGame
			}
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return domain.ErrConflict
		}
	}
	return err
}

// WithTx runs fn in a single transaction. Serializable isolation is used for
// recalculation passes so no other writer can confirm or delete games in the
// scanned timestamp range before the pass commits.
func (r *Repository) WithTx(ctx context.Context, serializable bool, fn func(tx service.Tx) error) error {
	opts := pgx.TxOptions{}
	if serializable {
		opts.IsoLevel = pgx.Serializable
	}

	tx, err := r.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&repoTx{tx: tx}); err != nil {
		return mapError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError(fmt.Errorf("committing transaction: %w", err))
	}
	return nil
}

const playerColumns = `id, external_id, name, elo, elo_max, is_banned, created_at`

func scanPlayer(row pgx.Row) (*domain.Player, error) {
	var p domain.Player
	err := row.Scan(&p.ID, &p.ExternalID, &p.Name, &p.Elo, &p.EloMax, &p.IsBanned, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

const gameColumns = `id, COALESCE(name, ''), winning_player_id, losing_player_id,
	losing_score, is_confirmed, win_claimed_ts, completed_ts, elo_change_winner, elo_change_loser`

func scanGame(row pgx.Row) (*domain.Game, error) {
	var g domain.Game
	err := row.Scan(&g.ID, &g.Name, &g.WinnerID, &g.LoserID,
		&g.LosingScore, &g.IsConfirmed, &g.WinClaimedTS, &g.CompletedTS,
		&g.EloChangeWinner, &g.EloChangeLoser)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// GetGame retrieves a game by id
func (r *Repository) GetGame(ctx context.Context, id int64) (*domain.Game, error) {
	return getGame(ctx, r.pool, id, "")
}

func getGame(ctx context.Context, q querier, id int64, lock string) (*domain.Game, error) {
	query := `SELECT ` + gameColumns + ` FROM games WHERE id = $1` + lock
	game, err := scanGame(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrGameNotFound
		}
		return nil, fmt.Errorf("getting game: %w", err)
	}
	return game, nil
}

// GetPlayerByExternalID retrieves a player by their external account id
func (r *Repository) GetPlayerByExternalID(ctx context.Context, externalID int64) (*domain.Player, error) {
	query := `SELECT ` + playerColumns + ` FROM players WHERE external_id = $1`
	player, err := scanPlayer(r.pool.QueryRow(ctx, query, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting player: %w", err)
	}
	return player, nil
}

// SearchPlayers finds players by external id first, then exact name match
// (case-insensitive), then name substring ordered by games played
func (r *Repository) SearchPlayers(ctx context.Context, query string) ([]domain.Player, error) {
	if id, err := strconv.ParseInt(strings.Trim(query, "<>!@"), 10, 64); err == nil {
		player, err := r.GetPlayerByExternalID(ctx, id)
		if err == nil {
			return []domain.Player{*player}, nil
		}
		if !errors.Is(err, domain.ErrPlayerNotFound) {
			return nil, err
		}
	}

	// a name like "Nelluk#7034" is matched on just the name part
	exact := query
	if i := strings.Index(query, "#"); i > 2 {
		exact = query[:i]
	}

	matches, err := r.queryPlayers(ctx,
		`SELECT `+playerColumns+` FROM players WHERE LOWER(name) = LOWER($1) ORDER BY id`, exact)
	if err != nil {
		return nil, fmt.Errorf("searching players by name: %w", err)
	}
	if len(matches) == 1 {
		return matches, nil
	}

	substring, err := r.queryPlayers(ctx, `
		SELECT p.id, p.external_id, p.name, p.elo, p.elo_max, p.is_banned, p.created_at
		FROM players p
		JOIN player_games pg ON pg.player_id = p.id
		WHERE p.name ILIKE '%' || $1 || '%'
		GROUP BY p.id
		ORDER BY COUNT(pg.id) DESC`, query)
	if err != nil {
		return nil, fmt.Errorf("searching players by substring: %w", err)
	}
	return substring, nil
}

func (r *Repository) queryPlayers(ctx context.Context, query string, args ...any) ([]domain.Player, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []domain.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, *p)
	}
	return players, rows.Err()
}

// PlayerRecord returns a player's confirmed win and loss counts
func (r *Repository) PlayerRecord(ctx context.Context, playerID int64) (domain.Record, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE winning_player_id = $1),
			COUNT(*) FILTER (WHERE losing_player_id = $1)
		FROM games
		WHERE is_confirmed AND (winning_player_id = $1 OR losing_player_id = $1)
	`
	var record domain.Record
	if err := r.pool.QueryRow(ctx, query, playerID).Scan(&record.Wins, &record.Losses); err != nil {
		return domain.Record{}, fmt.Errorf("counting record: %w", err)
	}
	return record, nil
}

// SetPlayerBanned flags or unflags a player as banned
func (r *Repository) SetPlayerBanned(ctx context.Context, externalID int64, banned bool) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE players SET is_banned = $2 WHERE external_id = $1`, externalID, banned)
	if err != nil {
		return fmt.Errorf("updating ban flag: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrPlayerNotFound
	}
	return nil
}

// RenamePlayer overwrites a player's display name
func (r *Repository) RenamePlayer(ctx context.Context, externalID int64, name string) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE players SET name = $2 WHERE external_id = $1`, externalID, name)
	if err != nil {
		return fmt.Errorf("renaming player: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrPlayerNotFound
	}
	return nil
}

// Leaderboard returns players with a confirmed game completed after cutoff,
// banned excluded, ordered by rating descending then insertion order. When
// fewer than 10 qualify it falls back to all registered players.
func (r *Repository) Leaderboard(ctx context.Context, cutoff time.Time, useMax bool) ([]domain.Player, error) {
	eloField := "elo"
	if useMax {
		eloField = "elo_max"
	}

	players, err := r.queryPlayers(ctx, `
		SELECT `+playerColumns+` FROM players
		WHERE NOT is_banned AND id IN (
			SELECT pg.player_id FROM player_games pg
			JOIN games g ON g.id = pg.game_id
			WHERE g.is_confirmed AND g.completed_ts > $1
		)
		ORDER BY `+eloField+` DESC, id ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("querying leaderboard: %w", err)
	}

	if len(players) < 10 {
		// small ladder: include every registered player
		players, err = r.queryPlayers(ctx,
			`SELECT `+playerColumns+` FROM players ORDER BY `+eloField+` DESC, id ASC`)
		if err != nil {
			return nil, fmt.Errorf("querying leaderboard fallback: %w", err)
		}
	}
	return players, nil
}

// RatingsSnapshot returns every non-banned player's current ratings
func (r *Repository) RatingsSnapshot(ctx context.Context) ([]domain.PlayerRating, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT external_id, name, elo, elo_max FROM players WHERE NOT is_banned`)
	if err != nil {
		return nil, fmt.Errorf("snapshotting ratings: %w", err)
	}
	defer rows.Close()

	var ratings []domain.PlayerRating
	for rows.Next() {
		var pr domain.PlayerRating
		if err := rows.Scan(&pr.ExternalID, &pr.Name, &pr.Elo, &pr.EloMax); err != nil {
			return nil, fmt.Errorf("scanning rating: %w", err)
		}
		ratings = append(ratings, pr)
	}
	return ratings, rows.Err()
}

// repoTx implements the ledger's transactional surface on an open pgx.Tx
type repoTx struct {
	tx pgx.Tx
}

var _ service.Tx = (*repoTx)(nil)

// FindOrCreatePlayer registers a player lazily on first game report
func (t *repoTx) FindOrCreatePlayer(ctx context.Context, externalID int64, name string) (*domain.Player, error) {
	player, err := scanPlayer(t.tx.QueryRow(ctx, `
		INSERT INTO players (external_id, name)
		VALUES ($1, $2)
		ON CONFLICT (external_id) DO NOTHING
		RETURNING `+playerColumns, externalID, name))
	if err == nil {
		return player, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("creating player: %w", err)
	}

	player, err = scanPlayer(t.tx.QueryRow(ctx,
		`SELECT `+playerColumns+` FROM players WHERE external_id = $1`, externalID))
	if err != nil {
		return nil, fmt.Errorf("getting player: %w", err)
	}
	return player, nil
}

// GetPlayersForUpdate locks both player rows, always in ascending id order
// to keep concurrent confirmations deadlock-free
func (t *repoTx) GetPlayersForUpdate(ctx context.Context, winnerID, loserID int64) (*domain.Player, *domain.Player, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+playerColumns+` FROM players
		WHERE id = ANY($1::bigint[])
		ORDER BY id
		FOR UPDATE`, []int64{winnerID, loserID})
	if err != nil {
		return nil, nil, fmt.Errorf("locking players: %w", err)
	}
	defer rows.Close()

	var winner, loser *domain.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("scanning player: %w", err)
		}
		switch p.ID {
		case winnerID:
			winner = p
		case loserID:
			loser = p
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("locking players: %w", err)
	}
	if winner == nil || loser == nil {
		return nil, nil, domain.ErrPlayerNotFound
	}
	return winner, loser, nil
}

// UpdatePlayerRating writes a player's current and peak rating
func (t *repoTx) UpdatePlayerRating(ctx context.Context, playerID int64, elo, eloMax int) error {
	result, err := t.tx.Exec(ctx,
		`UPDATE players SET elo = $2, elo_max = $3 WHERE id = $1`, playerID, elo, eloMax)
	if err != nil {
		return fmt.Errorf("updating rating: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrPlayerNotFound
	}
	return nil
}

// ResetAllRatings returns every player to the default rating
func (t *repoTx) ResetAllRatings(ctx context.Context) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE players SET elo = $1, elo_max = $1`, domain.DefaultElo)
	if err != nil {
		return fmt.Errorf("resetting ratings: %w", err)
	}
	return nil
}

// GetGameForUpdate locks and returns a game row. A game deleted by a
// concurrent writer surfaces as ErrGameNotFound.
func (t *repoTx) GetGameForUpdate(ctx context.Context, id int64) (*domain.Game, error) {
	return getGame(ctx, t.tx, id, ` FOR UPDATE`)
}

// FindPendingGame returns the unconfirmed game for an ordered pair, if any
func (t *repoTx) FindPendingGame(ctx context.Context, winnerID, loserID int64) (*domain.Game, error) {
	query := `SELECT ` + gameColumns + ` FROM games
		WHERE winning_player_id = $1 AND losing_player_id = $2 AND NOT is_confirmed
		FOR UPDATE`
	game, err := scanGame(t.tx.QueryRow(ctx, query, winnerID, loserID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrGameNotFound
		}
		return nil, fmt.Errorf("finding pending game: %w", err)
	}
	return game, nil
}

// InsertGame creates a pending game and fills in its id and claim timestamp
func (t *repoTx) InsertGame(ctx context.Context, g *domain.Game) error {
	var name *string
	if g.Name != "" {
		name = &g.Name
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO games (name, winning_player_id, losing_player_id, losing_score)
		VALUES ($1, $2, $3, $4)
		RETURNING id, win_claimed_ts`,
		name, g.WinnerID, g.LoserID, g.LosingScore,
	).Scan(&g.ID, &g.WinClaimedTS)
	if err != nil {
		return fmt.Errorf("inserting game: %w", mapError(err))
	}
	return nil
}

// UpdateGame persists a game's confirmation state and deltas
func (t *repoTx) UpdateGame(ctx context.Context, g *domain.Game) error {
	var name *string
	if g.Name != "" {
		name = &g.Name
	}
	result, err := t.tx.Exec(ctx, `
		UPDATE games SET
			name = $2,
			losing_score = $3,
			is_confirmed = $4,
			completed_ts = $5,
			elo_change_winner = $6,
			elo_change_loser = $7
		WHERE id = $1`,
		g.ID, name, g.LosingScore, g.IsConfirmed, g.CompletedTS,
		g.EloChangeWinner, g.EloChangeLoser,
	)
	if err != nil {
		return fmt.Errorf("updating game: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrGameNotFound
	}
	return nil
}

// DeleteGame removes a game row
func (t *repoTx) DeleteGame(ctx context.Context, id int64) error {
	result, err := t.tx.Exec(ctx, `DELETE FROM games WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting game: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrGameNotFound
	}
	return nil
}

// ConfirmedGamesSince returns confirmed games completed at or after since,
// oldest first, locked until the transaction ends
func (t *repoTx) ConfirmedGamesSince(ctx context.Context, since time.Time) ([]*domain.Game, error) {
	return t.queryGames(ctx, `
		SELECT `+gameColumns+` FROM games
		WHERE is_confirmed AND completed_ts >= $1
		ORDER BY completed_ts ASC, id ASC
		FOR UPDATE`, since)
}

// AllConfirmedGames returns the full confirmed history, oldest first
func (t *repoTx) AllConfirmedGames(ctx context.Context) ([]*domain.Game, error) {
	return t.queryGames(ctx, `
		SELECT `+gameColumns+` FROM games
		WHERE is_confirmed
		ORDER BY completed_ts ASC, id ASC
		FOR UPDATE`)
}

func (t *repoTx) queryGames(ctx context.Context, query string, args ...any) ([]*domain.Game, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying games: %w", err)
	}
	defer rows.Close()

	var games []*domain.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning game: %w", err)
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

// InsertPlayerGame creates the join row tying a player to a game
func (t *repoTx) InsertPlayerGame(ctx context.Context, playerID, gameID int64) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO player_games (player_id, game_id) VALUES ($1, $2)`, playerID, gameID)
	if err != nil {
		return fmt.Errorf("inserting player game: %w", err)
	}
	return nil
}

// SetSnapshot writes or clears a player's post-game rating snapshot
func (t *repoTx) SetSnapshot(ctx context.Context, gameID, playerID int64, eloAfter *int) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE player_games SET elo_after_game = $3 WHERE game_id = $1 AND player_id = $2`,
		gameID, playerID, eloAfter)
	if err != nil {
		return fmt.Errorf("updating snapshot: %w", err)
	}
	return nil
}

// DeletePlayerGames removes both join rows for a game
func (t *repoTx) DeletePlayerGames(ctx context.Context, gameID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM player_games WHERE game_id = $1`, gameID)
	if err != nil {
		return fmt.Errorf("deleting player games: %w", err)
	}
	return nil
}
