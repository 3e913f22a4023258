package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/genji-bot/internal/domain"
)

func TestPlaytest_InsertAndLookup(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()

	p := &domain.Playtest{ThreadID: 10, MapCode: "ABCD", UserID: 5, IsAuthor: true, MessageID: 11, RequiredVotes: 5}
	require.NoError(t, InsertPlaytest(ctx, db, p))
	assert.Equal(t, domain.PlaytestOpen, p.Status)

	byMsg, err := GetPlaytestByMessage(ctx, db, 11)
	require.NoError(t, err)
	assert.EqualValues(t, 10, byMsg.ThreadID)

	byThread, err := GetPlaytestByThread(ctx, db, 10)
	require.NoError(t, err)
	assert.Equal(t, "ABCD", byThread.MapCode)
	assert.False(t, byThread.Resolved())

	dup := &domain.Playtest{ThreadID: 12, MapCode: "EFGH", UserID: 5, IsAuthor: true, MessageID: 11, RequiredVotes: 5}
	assert.ErrorIs(t, InsertPlaytest(ctx, db, dup), ErrDuplicate)
}

func TestPlaytest_StatusAndUnresolved(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()

	for i, code := range []string{"AAAA", "BBBB", "CCCC"} {
		require.NoError(t, InsertPlaytest(ctx, db, &domain.Playtest{
			ThreadID: int64(100 + i), MapCode: code, UserID: 5, IsAuthor: true,
			MessageID: int64(200 + i), RequiredVotes: 3,
			CreatedAt: time.Date(2025, 1, 1+i, 0, 0, 0, 0, time.UTC),
		}))
	}
	require.NoError(t, SetPlaytestStatus(ctx, db, 101, domain.PlaytestApproved))
	assert.ErrorIs(t, SetPlaytestStatus(ctx, db, 999, domain.PlaytestDenied), ErrNotFound)

	open, err := ListUnresolvedPlaytests(ctx, db)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "AAAA", open[0].MapCode)
	assert.Equal(t, "CCCC", open[1].MapCode)

	n, err := CountOpenAuthoredPlaytests(ctx, db, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestSwapPlaytestStatus(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()
	require.NoError(t, InsertPlaytest(ctx, db, &domain.Playtest{
		ThreadID: 300, MapCode: "SWAP", UserID: 5, IsAuthor: true, MessageID: 301, RequiredVotes: 3,
	}))

	require.NoError(t, SwapPlaytestStatus(ctx, db, 300, domain.PlaytestOpen, domain.PlaytestRestarting))
	assert.ErrorIs(t, SwapPlaytestStatus(ctx, db, 300, domain.PlaytestOpen, domain.PlaytestRestarting), ErrNotFound)

	open, err := ListUnresolvedPlaytests(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, open)
	restarting, err := ListPlaytestsByStatus(ctx, db, domain.PlaytestRestarting)
	require.NoError(t, err)
	require.Len(t, restarting, 1)

	n, err := CountOpenAuthoredPlaytests(ctx, db, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "restarting sessions still count toward the quota")

	require.NoError(t, SwapPlaytestStatus(ctx, db, 300, domain.PlaytestRestarting, domain.PlaytestOpen))
	p, err := GetPlaytestByThread(ctx, db, 300)
	require.NoError(t, err)
	assert.Equal(t, domain.PlaytestOpen, p.Status)
}

func TestUpsertVote_OverwritesPerVoter(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()
	t1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, UpsertVote(ctx, db, 1, 42, 3.0, t1))
	require.NoError(t, UpsertVote(ctx, db, 1, 43, 9.0, t1))
	require.NoError(t, UpsertVote(ctx, db, 1, 42, 6.5, t1.Add(time.Minute)))

	votes, err := ListVotes(ctx, db, 1)
	require.NoError(t, err)
	require.Len(t, votes, 2)

	byUser := map[int64]float64{}
	for _, v := range votes {
		byUser[v.UserID] = v.Value
	}
	assert.Equal(t, 6.5, byUser[42])
	assert.Equal(t, 9.0, byUser[43])

	n, err := DeleteVotes(ctx, db, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestToggleFinalized(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()
	require.NoError(t, InsertPlaytest(ctx, db, &domain.Playtest{ThreadID: 1, MapCode: "ABCD", UserID: 1, MessageID: 2, RequiredVotes: 1}))

	v, err := ToggleFinalized(ctx, db, 1)
	require.NoError(t, err)
	assert.True(t, v)

	v, err = ToggleFinalized(ctx, db, 1)
	require.NoError(t, err)
	assert.False(t, v)

	_, err = ToggleFinalized(ctx, db, 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompletions_DeleteByMap(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()
	for _, code := range []string{"AAAA", "AAAA", "BBBB"} {
		require.NoError(t, db.WithContext(ctx).Create(&domain.Completion{MapCode: code, UserID: 1, Record: 1}).Error)
	}
	n, err := DeleteCompletions(ctx, db, "AAAA")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestUpdatePlaytestDifficulty(t *testing.T) {
	db := newTestDB(t, true)
	ctx := context.Background()
	require.NoError(t, InsertPlaytest(ctx, db, &domain.Playtest{
		ThreadID: 5, MapCode: "ABC12", UserID: 1, IsAuthor: true, MessageID: 6, RequiredVotes: 5, Difficulty: "Easy",
	}))

	require.NoError(t, UpdatePlaytestDifficulty(ctx, db, 5, "Hell", 1))
	p, err := GetPlaytestByThread(ctx, db, 5)
	require.NoError(t, err)
	assert.Equal(t, "Hell", p.Difficulty)
	assert.Equal(t, 1, p.RequiredVotes)

	assert.ErrorIs(t, UpdatePlaytestDifficulty(ctx, db, 404, "Hell", 1), ErrNotFound)
}
