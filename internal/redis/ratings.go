// Package redis keeps a realtime mirror of current and peak ratings in
// sorted sets, refreshed by the ledger after every confirmed mutation.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/elo-ladder/internal/config"
	"github.com/elo-ladder/internal/domain"
)

const (
	eloKey    = "ladder:elo"
	eloMaxKey = "ladder:elo_max"
)

// RatingCache provides Redis-based realtime rating reads
type RatingCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRatingCache creates a new Redis rating cache
func NewRatingCache(cfg *config.RedisConfig, logger *slog.Logger) (*RatingCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RatingCache{
		client: client,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (c *RatingCache) Close() error {
	return c.client.Close()
}

func playerInfoKey(externalID int64) string {
	return fmt.Sprintf("player:%d:info", externalID)
}

func member(externalID int64) string {
	return strconv.FormatInt(externalID, 10)
}

// SetRatings writes one or more players' current and peak ratings
func (c *RatingCache) SetRatings(ctx context.Context, ratings ...domain.PlayerRating) error {
	pipe := c.client.Pipeline()
	for _, r := range ratings {
		m := member(r.ExternalID)
		pipe.ZAdd(ctx, eloKey, redis.Z{Score: float64(r.Elo), Member: m})
		pipe.ZAdd(ctx, eloMaxKey, redis.Z{Score: float64(r.EloMax), Member: m})
		pipe.HSet(ctx, playerInfoKey(r.ExternalID), "name", r.Name)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("setting ratings: %w", err)
	}
	return nil
}

// RemovePlayer evicts a player from both rating sets
func (c *RatingCache) RemovePlayer(ctx context.Context, externalID int64) error {
	m := member(externalID)
	pipe := c.client.Pipeline()
	pipe.ZRem(ctx, eloKey, m)
	pipe.ZRem(ctx, eloMaxKey, m)
	pipe.Del(ctx, playerInfoKey(externalID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("removing player: %w", err)
	}
	return nil
}

// Rebuild replaces the cached sets with a fresh snapshot
func (c *RatingCache) Rebuild(ctx context.Context, ratings []domain.PlayerRating) error {
	pipe := c.client.Pipeline()
	pipe.Del(ctx, eloKey)
	pipe.Del(ctx, eloMaxKey)
	for _, r := range ratings {
		m := member(r.ExternalID)
		pipe.ZAdd(ctx, eloKey, redis.Z{Score: float64(r.Elo), Member: m})
		pipe.ZAdd(ctx, eloMaxKey, redis.Z{Score: float64(r.EloMax), Member: m})
		pipe.HSet(ctx, playerInfoKey(r.ExternalID), "name", r.Name)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rebuilding rating cache: %w", err)
	}

	c.logger.Debug("rating cache rebuilt", "players", len(ratings))
	return nil
}

func ratingSetKey(useMax bool) string {
	if useMax {
		return eloMaxKey
	}
	return eloKey
}

// Top returns the highest-rated cached players, descending
func (c *RatingCache) Top(ctx context.Context, n int, useMax bool) ([]domain.LadderEntry, error) {
	results, err := c.client.ZRevRangeWithScores(ctx, ratingSetKey(useMax), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top players: %w", err)
	}

	entries := make([]domain.LadderEntry, len(results))
	for i, result := range results {
		id, _ := strconv.ParseInt(result.Member.(string), 10, 64)
		name, err := c.client.HGet(ctx, playerInfoKey(id), "name").Result()
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("getting player info: %w", err)
		}
		entries[i] = domain.LadderEntry{
			Rank:       int64(i + 1),
			ExternalID: id,
			Name:       name,
			Elo:        int(result.Score),
		}
	}
	return entries, nil
}

// Rank returns a player's 1-indexed position and cached rating
func (c *RatingCache) Rank(ctx context.Context, externalID int64, useMax bool) (*domain.LadderEntry, error) {
	key := ratingSetKey(useMax)
	m := member(externalID)

	pipe := c.client.Pipeline()
	rankCmd := pipe.ZRevRank(ctx, key, m)
	scoreCmd := pipe.ZScore(ctx, key, m)
	if _, err := pipe.Exec(ctx); err != nil {
		if err == redis.Nil {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting player rank: %w", err)
	}

	rank, err := rankCmd.Result()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting rank result: %w", err)
	}
	score, err := scoreCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("getting score result: %w", err)
	}

	name, err := c.client.HGet(ctx, playerInfoKey(externalID), "name").Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("getting player info: %w", err)
	}

	return &domain.LadderEntry{
		Rank:       rank + 1, // convert 0-indexed to 1-indexed
		ExternalID: externalID,
		Name:       name,
		Elo:        int(score),
	}, nil
}

// Count returns the number of cached players
func (c *RatingCache) Count(ctx context.Context) (int64, error) {
	count, err := c.client.ZCard(ctx, eloKey).Result()
	if err != nil {
		return 0, fmt.Errorf("getting count: %w", err)
	}
	return count, nil
}
