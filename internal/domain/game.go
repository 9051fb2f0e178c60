package domain

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// MaxGameNameLen caps the free-text game label
const MaxGameNameLen = 35

// Game is a directed winner/loser pair with its rating outcome.
// LosingScore is the loser's score in a first-to-3 game (0, 1 or 2) and is
// nil only while a score-less confirmation shorthand is pending.
type Game struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name,omitempty"`
	WinnerID        int64      `json:"winner_id"`
	LoserID         int64      `json:"loser_id"`
	LosingScore     *int       `json:"losing_score,omitempty"`
	IsConfirmed     bool       `json:"is_confirmed"`
	WinClaimedTS    time.Time  `json:"win_claimed_ts"`
	CompletedTS     *time.Time `json:"completed_ts,omitempty"`
	EloChangeWinner int        `json:"elo_change_winner"`
	EloChangeLoser  int        `json:"elo_change_loser"`
}

// PlayerGame joins a player to a game and snapshots the rating that resulted.
// EloAfterGame is nil while the game is unconfirmed or reversed.
type PlayerGame struct {
	ID           int64 `json:"id"`
	PlayerID     int64 `json:"player_id"`
	GameID       int64 `json:"game_id"`
	EloAfterGame *int  `json:"elo_after_game,omitempty"`
}

var gameTitler = cases.Title(language.English)

// NormalizeGameName strips surrounding straight and curly quotes, title-cases
// the label and truncates it to MaxGameNameLen runes. Applied once at
// assignment time; empty input stays empty.
func NormalizeGameName(name string) string {
	if name == "" {
		return ""
	}
	name = strings.Trim(name, `"'`+"“”")
	name = gameTitler.String(name)
	runes := []rune(name)
	if len(runes) > MaxGameNameLen {
		name = string(runes[:MaxGameNameLen])
	}
	return strings.TrimSpace(name)
}

// ValidLosingScore reports whether a margin indicator is in the allowed range
func ValidLosingScore(score int) bool {
	return score >= 0 && score <= 2
}
