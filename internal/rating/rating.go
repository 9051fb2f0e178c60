// Package rating implements the ladder's ELO delta computation: a standard
// expected-score formula with a K of 32, a low-rating boost that accelerates
// climbs out of the starting band, and margin-of-victory scaling for
// first-to-3 games.
package rating

import "math"

const (
	// KFactor is the maximum base rating swing per game
	KFactor = 32

	// deviation is the rating gap at which the stronger player is
	// expected to win ten times as often
	deviation = 400

	boostFloor   = 900
	boostCeiling = 1200
	boostMax     = 0.60
)

// Chance returns the expected probability that a player at targetElo beats a
// player at opponentElo, rounded to 3 decimal places.
func Chance(targetElo, opponentElo int) float64 {
	p := 1 / (1 + math.Pow(10, float64(opponentElo-targetElo)/deviation))
	return math.Round(p*1000) / 1000
}

// Delta computes the signed rating change for one side of a game outcome.
// Both sides are computed from the ratings as they stand before either is
// updated. losingScore is the loser's score in a first-to-3 game: 0 scales
// the delta up for a blowout, 2 scales it down for a close game.
func Delta(forWinner bool, winnerElo, loserElo, losingScore int) int {
	var own int
	var delta int
	if forWinner {
		own = winnerElo
		delta = int(math.Round(KFactor * (1 - Chance(winnerElo, loserElo))))
	} else {
		own = loserElo
		delta = int(math.Round(KFactor * (0 - Chance(loserElo, winnerElo))))
	}

	// 60% bonus magnitude at or below 900, tapering to none at 1200
	boost := boostMax * float64(boostCeiling-clamp(own, boostFloor, boostCeiling)) / float64(boostCeiling-boostFloor)
	bonus := int(math.Round(math.Abs(float64(delta)) * boost))
	if delta < 0 {
		delta -= bonus
	} else {
		delta += bonus
	}

	switch losingScore {
	case 0:
		delta = int(math.Round(float64(delta) * 1.15))
	case 2:
		delta = int(math.Round(float64(delta) * 0.85))
	}

	return delta
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
