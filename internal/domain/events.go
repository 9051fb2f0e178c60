package domain

import "time"

// ResultEvent is a reported game outcome arriving from an external surface
// (HTTP or the result topic). Confirmed marks the loser-acknowledged shorthand
// where the report and the confirmation happen in one step.
type ResultEvent struct {
	WinnerExternalID int64     `json:"winner_external_id"`
	WinnerName       string    `json:"winner_name"`
	LoserExternalID  int64     `json:"loser_external_id"`
	LoserName        string    `json:"loser_name"`
	LosingScore      *int      `json:"losing_score,omitempty"`
	GameName         string    `json:"game_name,omitempty"`
	Confirmed        bool      `json:"confirmed"`
	Timestamp        time.Time `json:"timestamp"`
}

// RatingUpdate describes the outcome of a confirmation or reversal for broadcast
type RatingUpdate struct {
	GameID          int64        `json:"game_id"`
	Reversed        bool         `json:"reversed,omitempty"`
	Winner          PlayerRating `json:"winner"`
	Loser           PlayerRating `json:"loser"`
	EloChangeWinner int          `json:"elo_change_winner"`
	EloChangeLoser  int          `json:"elo_change_loser"`
}
