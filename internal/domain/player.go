package domain

import "time"

// Player represents a ranked member of the ladder
type Player struct {
	ID         int64     `json:"id"`
	ExternalID int64     `json:"external_id"`
	Name       string    `json:"name"`
	Elo        int       `json:"elo"`
	EloMax     int       `json:"elo_max"`
	IsBanned   bool      `json:"is_banned"`
	CreatedAt  time.Time `json:"created_at"`
}

// DefaultElo is the rating assigned to a newly registered player
const DefaultElo = 1000

// PlayerRating is a lightweight rating snapshot used for caching and broadcasts
type PlayerRating struct {
	ExternalID int64  `json:"external_id"`
	Name       string `json:"name"`
	Elo        int    `json:"elo"`
	EloMax     int    `json:"elo_max"`
}

// Record holds a player's confirmed win/loss counts
type Record struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
}

// LadderEntry represents a single row of the ranked leaderboard
type LadderEntry struct {
	Rank       int64  `json:"rank"`
	ExternalID int64  `json:"external_id"`
	Name       string `json:"name"`
	Elo        int    `json:"elo"`
}
