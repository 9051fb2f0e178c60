package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elo-ladder/internal/config"
	"github.com/elo-ladder/internal/domain"
)

func newTestLedger(t *testing.T) (*Ledger, *memStore) {
	t.Helper()
	store := newMemStore()
	cfg := &config.LadderConfig{CutoffDays: 90, DefaultLimit: 10, MaxLimit: 200}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewLedger(store, cfg, logger), store
}

func score(n int) *int { return &n }

func result(winner, loser int64, losingScore *int) domain.ResultEvent {
	return domain.ResultEvent{
		WinnerExternalID: winner,
		WinnerName:       "Player" + string(rune('A'+winner-100)),
		LoserExternalID:  loser,
		LoserName:        "Player" + string(rune('A'+loser-100)),
		LosingScore:      losingScore,
	}
}

type recordingHub struct {
	updates []domain.RatingUpdate
	resets  int
}

func (h *recordingHub) BroadcastRatingUpdate(update domain.RatingUpdate) {
	h.updates = append(h.updates, update)
}

func (h *recordingHub) BroadcastLadderReset() { h.resets++ }

func TestReportCreatesPendingGame(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	game, created, err := ledger.Report(ctx, result(100, 101, score(1)))
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, game.IsConfirmed)
	assert.Nil(t, game.CompletedTS)
	assert.False(t, game.WinClaimedTS.IsZero())

	// both players start at the default rating
	winner, err := store.GetPlayerByExternalID(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultElo, winner.Elo)
	assert.Equal(t, domain.DefaultElo, winner.EloMax)
}

func TestReportMatchesExistingPendingGame(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	first, created, err := ledger.Report(ctx, result(100, 101, score(1)))
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := ledger.Report(ctx, result(100, 101, score(0)))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestReportWithoutScore(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	// no pending game to match, so a score is required
	_, _, err := ledger.Report(ctx, result(100, 101, nil))
	assert.ErrorIs(t, err, domain.ErrScoreRequired)

	_, created, err := ledger.Report(ctx, result(100, 101, score(2)))
	require.NoError(t, err)
	require.True(t, created)

	// a scoreless report is valid as a match against the pending game
	game, created, err := ledger.Report(ctx, result(100, 101, nil))
	require.NoError(t, err)
	assert.False(t, created)
	assert.NotNil(t, game)
}

func TestReportValidation(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	_, _, err := ledger.Report(ctx, result(100, 100, score(1)))
	assert.ErrorIs(t, err, domain.ErrSelfPlay)

	_, _, err = ledger.Report(ctx, result(100, 101, score(3)))
	assert.ErrorIs(t, err, domain.ErrInvalidScore)
}

func TestConfirmAppliesRatingDeltas(t *testing.T) {
	ledger, store := newTestLedger(t)
	hub := &recordingHub{}
	ledger.SetHub(hub)
	ctx := context.Background()

	game, _, err := ledger.Report(ctx, result(100, 101, score(1)))
	require.NoError(t, err)

	confirmed, err := ledger.Confirm(ctx, game.ID)
	require.NoError(t, err)

	// evenly matched at 1000, score 1: 22 points change hands
	assert.Equal(t, 22, confirmed.EloChangeWinner)
	assert.Equal(t, -22, confirmed.EloChangeLoser)
	assert.True(t, confirmed.IsConfirmed)
	require.NotNil(t, confirmed.CompletedTS)

	winner, err := store.GetPlayerByExternalID(ctx, 100)
	require.NoError(t, err)
	loser, err := store.GetPlayerByExternalID(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, 1022, winner.Elo)
	assert.Equal(t, 1022, winner.EloMax)
	assert.Equal(t, 978, loser.Elo)
	assert.Equal(t, 1000, loser.EloMax)

	require.Len(t, hub.updates, 1)
	assert.Equal(t, game.ID, hub.updates[0].GameID)
	assert.Equal(t, 1022, hub.updates[0].Winner.Elo)
}

func TestConfirmAlreadyConfirmed(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	game, _, err := ledger.Report(ctx, result(100, 101, score(1)))
	require.NoError(t, err)
	_, err = ledger.Confirm(ctx, game.ID)
	require.NoError(t, err)

	_, err = ledger.Confirm(ctx, game.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyConfirmed)
}

func TestConfirmMissingGame(t *testing.T) {
	ledger, _ := newTestLedger(t)

	_, err := ledger.Confirm(context.Background(), 12345)
	assert.ErrorIs(t, err, domain.ErrGameNotFound)
}

func TestReportConfirmedShorthand(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	res := result(100, 101, score(0))
	res.Confirmed = true
	game, created, err := ledger.Report(ctx, res)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, game.IsConfirmed)

	winner, err := store.GetPlayerByExternalID(ctx, 100)
	require.NoError(t, err)
	assert.Greater(t, winner.Elo, domain.DefaultElo)
}

func TestReverseRestoresRatings(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	game, _, err := ledger.Report(ctx, result(100, 101, score(1)))
	require.NoError(t, err)
	_, err = ledger.Confirm(ctx, game.ID)
	require.NoError(t, err)

	require.NoError(t, ledger.Reverse(ctx, game.ID))

	winner, err := store.GetPlayerByExternalID(ctx, 100)
	require.NoError(t, err)
	loser, err := store.GetPlayerByExternalID(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, 1000, winner.Elo)
	assert.Equal(t, 1000, loser.Elo)
	// the historical peak is never erased
	assert.Equal(t, 1022, winner.EloMax)

	reversed, err := ledger.Game(ctx, game.ID)
	require.NoError(t, err)
	assert.False(t, reversed.IsConfirmed)
	assert.Nil(t, reversed.CompletedTS)
	assert.Zero(t, reversed.EloChangeWinner)
	assert.Zero(t, reversed.EloChangeLoser)
}

func TestReverseUnconfirmed(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	game, _, err := ledger.Report(ctx, result(100, 101, score(1)))
	require.NoError(t, err)

	assert.ErrorIsf(t, ledger.Reverse(ctx, game.ID), domain.ErrNotConfirmed,
		"reversing a pending game must fail")
}

func TestReversedGameCanBeReconfirmed(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	game, _, err := ledger.Report(ctx, result(100, 101, score(1)))
	require.NoError(t, err)
	_, err = ledger.Confirm(ctx, game.ID)
	require.NoError(t, err)
	require.NoError(t, ledger.Reverse(ctx, game.ID))

	confirmed, err := ledger.Confirm(ctx, game.ID)
	require.NoError(t, err)
	assert.Equal(t, 22, confirmed.EloChangeWinner)

	winner, err := store.GetPlayerByExternalID(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1022, winner.Elo)
}

func TestDeletePendingGame(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	game, _, err := ledger.Report(ctx, result(100, 101, score(1)))
	require.NoError(t, err)

	require.NoError(t, ledger.Delete(ctx, game.ID))

	_, err = ledger.Game(ctx, game.ID)
	assert.ErrorIs(t, err, domain.ErrGameNotFound)

	// the pair slot is free again
	_, created, err := ledger.Report(ctx, result(100, 101, score(1)))
	require.NoError(t, err)
	assert.True(t, created)
}

func playConfirmed(t *testing.T, ledger *Ledger, winner, loser int64, losingScore int) *domain.Game {
	t.Helper()
	res := result(winner, loser, score(losingScore))
	res.Confirmed = true
	game, _, err := ledger.Report(context.Background(), res)
	require.NoError(t, err)
	return game
}

func ratingsByExternalID(t *testing.T, store *memStore) map[int64]int {
	t.Helper()
	snapshot, err := store.RatingsSnapshot(context.Background())
	require.NoError(t, err)
	out := make(map[int64]int, len(snapshot))
	for _, pr := range snapshot {
		out[pr.ExternalID] = pr.Elo
	}
	return out
}

func TestDeleteConfirmedGameReplaysHistory(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	first := playConfirmed(t, ledger, 100, 101, 1)
	playConfirmed(t, ledger, 101, 102, 0)
	playConfirmed(t, ledger, 100, 102, 2)

	require.NoError(t, ledger.Delete(ctx, first.ID))

	// a ledger that never saw the deleted game must agree exactly
	control, controlStore := newTestLedger(t)
	playConfirmed(t, control, 101, 102, 0)
	playConfirmed(t, control, 100, 102, 2)

	assert.Equal(t, ratingsByExternalID(t, controlStore), ratingsByExternalID(t, store))
}

func TestDeleteEarlierGameKeepsLaterOrder(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	playConfirmed(t, ledger, 100, 101, 1)
	second := playConfirmed(t, ledger, 100, 101, 0)
	third := playConfirmed(t, ledger, 101, 100, 2)
	require.NoError(t, ledger.Delete(ctx, second.ID))

	control, controlStore := newTestLedger(t)
	playConfirmed(t, control, 100, 101, 1)
	playConfirmed(t, control, 101, 100, 2)

	assert.Equal(t, ratingsByExternalID(t, controlStore), ratingsByExternalID(t, store))

	// the surviving game keeps its confirmed state
	g, err := ledger.Game(ctx, third.ID)
	require.NoError(t, err)
	assert.True(t, g.IsConfirmed)
}

func TestRecalculateAllIsIdempotent(t *testing.T) {
	ledger, store := newTestLedger(t)
	hub := &recordingHub{}
	ledger.SetHub(hub)
	ctx := context.Background()

	playConfirmed(t, ledger, 100, 101, 1)
	playConfirmed(t, ledger, 101, 102, 0)
	playConfirmed(t, ledger, 102, 100, 2)
	playConfirmed(t, ledger, 100, 101, 0)

	before := ratingsByExternalID(t, store)

	require.NoError(t, ledger.RecalculateAll(ctx))
	assert.Equal(t, before, ratingsByExternalID(t, store))
	assert.Equal(t, 1, hub.resets)

	// a second pass changes nothing either
	require.NoError(t, ledger.RecalculateAll(ctx))
	assert.Equal(t, before, ratingsByExternalID(t, store))
}

func TestLeaderboardSmallLadderFallback(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	playConfirmed(t, ledger, 100, 101, 1)
	playConfirmed(t, ledger, 102, 103, 0)

	entries, total, err := ledger.Leaderboard(ctx, LeaderboardOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, entries, 4)
	assert.Equal(t, int64(1), entries[0].Rank)
	// winners outrank losers
	assert.Greater(t, entries[0].Elo, entries[3].Elo)
}

func TestLeaderboardByPeakRating(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	game := playConfirmed(t, ledger, 100, 101, 1)
	require.NoError(t, ledger.Reverse(ctx, game.ID))

	// current ratings are level again but the winner's peak survives
	entries, _, err := ledger.Leaderboard(ctx, LeaderboardOptions{UseMax: true})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(100), entries[0].ExternalID)
	assert.Equal(t, 1022, entries[0].Elo)
}

func TestRank(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	playConfirmed(t, ledger, 100, 101, 1)

	rank, total, err := ledger.Rank(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rank)
	assert.Equal(t, 2, total)

	rank, _, err = ledger.Rank(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rank)

	_, _, err = ledger.Rank(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrPlayerNotFound)
}

func TestPlayerRecord(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	playConfirmed(t, ledger, 100, 101, 1)
	playConfirmed(t, ledger, 100, 102, 0)
	playConfirmed(t, ledger, 101, 100, 2)

	player, record, err := ledger.Player(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), player.ExternalID)
	assert.Equal(t, domain.Record{Wins: 2, Losses: 1}, record)
}

func TestSubmitResultFromEvent(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	res := result(100, 101, score(1))
	res.Confirmed = true
	require.NoError(t, ledger.SubmitResult(ctx, res))

	winner, err := store.GetPlayerByExternalID(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1022, winner.Elo)

	// replaying the same pending-style event is harmless
	require.NoError(t, ledger.SubmitResult(ctx, result(100, 101, score(1))))
}
