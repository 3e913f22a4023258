package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/genji-bot/internal/cache"
	"github.com/tbourn/genji-bot/internal/domain"
	"github.com/tbourn/genji-bot/internal/events"
	"github.com/tbourn/genji-bot/internal/repo"
)

func TestBegin_NormalizesAndDefaultsCreator(t *testing.T) {
	f := newFixture(t)

	d, err := f.engine.Begin(context.Background(), creator, submission(" abco1 "), false)
	require.NoError(t, err)
	assert.Equal(t, "ABC01", d.Submission.Code)
	assert.Equal(t, []int64{creatorID}, d.Submission.Creators)
	assert.Equal(t, StateAwaitingDetails, d.State)
	assert.NotEmpty(t, d.ID)
	assert.False(t, d.Mod)
}

func TestBegin_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Begin(ctx, creator, submission("ABCD"), true)
	assert.ErrorIs(t, err, ErrNotModerator)

	_, err = f.engine.Begin(ctx, creator, submission("A!"), false)
	assert.ErrorIs(t, err, domain.ErrInvalidMapCode)

	require.NoError(t, f.cache.Maps.AddOne(cache.MapData{Code: "CACHED", UserIDs: []int64{1}}))
	_, err = f.engine.Begin(ctx, creator, submission("cached"), false)
	assert.ErrorIs(t, err, ErrMapExists)

	sub := submission("MEDAL")
	sub.Gold, sub.Silver, sub.Bronze = 30, 20, 40
	_, err = f.engine.Begin(ctx, creator, sub, false)
	assert.ErrorIs(t, err, domain.ErrInvalidMedals)

	require.NoError(t, f.cache.MapNames.AddMany([]string{"Ayutthaya"}))
	_, err = f.engine.Begin(ctx, creator, submission("NAME1"), false)
	assert.ErrorIs(t, err, ErrUnknownLookup)
}

func TestBegin_QuotaFromValidator(t *testing.T) {
	f := newFixture(t)
	f.engine.Validator = NewSubmissionValidator(fakeQuota{open: 5})

	_, err := f.engine.Begin(context.Background(), modActor, submission("QUOTA"), true)
	assert.ErrorIs(t, err, ErrMaxMapsInPlaytest, "quotas apply to moderators too")
}

func TestSetDetails_CompletesInSteps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, err := f.engine.Begin(ctx, creator, submission("STEP1"), false)
	require.NoError(t, err)

	partial := fullDetails("Hard")
	partial.Restrictions = nil
	d, err = f.engine.SetDetails(ctx, d.ID, creatorID, partial)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingDetails, d.State)

	_, err = f.engine.Confirm(ctx, d.ID, creatorID)
	assert.ErrorIs(t, err, ErrDetailsIncomplete)

	d, err = f.engine.SetDetails(ctx, d.ID, creatorID, fullDetails("Hard"))
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingConfirmation, d.State)
	assert.Equal(t, "Hard", d.Submission.Difficulty)

	_, err = f.engine.SetDetails(ctx, d.ID, creatorID, fullDetails("Impossible"))
	assert.ErrorIs(t, err, domain.ErrUnknownDifficulty)

	_, err = f.engine.SetDetails(ctx, d.ID, voterID, fullDetails("Hard"))
	assert.ErrorIs(t, err, ErrNotDraftOwner)
}

func TestSetDetails_UnknownLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cache.Mechanics.AddMany([]string{"Bhop", "Slide"}))

	d, err := f.engine.Begin(ctx, creator, submission("LOOK1"), false)
	require.NoError(t, err)

	det := fullDetails("Easy")
	det.Mechanics = []string{"Teleport"}
	_, err = f.engine.SetDetails(ctx, d.ID, creatorID, det)
	assert.ErrorIs(t, err, ErrUnknownLookup)

	_, err = f.engine.SetDetails(ctx, d.ID, creatorID, fullDetails("Easy"))
	assert.NoError(t, err)
}

func TestConfirm_ModeratorPublishesDirectly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub := submission("MOD01")
	sub.Creators = []int64{creatorID}
	d, err := f.engine.Begin(ctx, modActor, sub, true)
	require.NoError(t, err)
	_, err = f.engine.SetDetails(ctx, d.ID, modUserID, fullDetails("Very Hard"))
	require.NoError(t, err)

	res, err := f.engine.Confirm(ctx, d.ID, modUserID)
	require.NoError(t, err)
	assert.Equal(t, StatePublished, res.State)
	assert.Equal(t, "MOD01", res.MapCode)

	m, err := repo.GetMap(ctx, f.db, "MOD01")
	require.NoError(t, err)
	assert.True(t, m.Official)
	assert.Equal(t, "Very Hard", m.Difficulty)

	assert.True(t, f.cache.Maps.IsCreator("MOD01", creatorID))
	assert.Contains(t, f.msgr.roles, "500002:777")
	assert.Equal(t, []string{events.TagMapPublished, events.TagNewsfeed}, f.tags())
	assert.Empty(t, f.msgr.threads, "no playtest thread on the moderator path")

	_, err = f.engine.Draft(d.ID, modUserID)
	assert.ErrorIs(t, err, ErrDraftNotFound, "confirmed drafts are consumed")
}

func TestConfirm_OpensPlaytest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.openPlaytest(t, "PLAY1", "Hard")
	assert.Equal(t, StateVotingOpen, res.State)
	assert.NotZero(t, res.ThreadID)
	assert.NotZero(t, res.MessageID)
	assert.Equal(t, 1, f.engine.Sessions())

	p, err := repo.GetPlaytestByThread(ctx, f.db, res.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, res.MessageID, p.MessageID)
	assert.Equal(t, 4, p.RequiredVotes)
	assert.True(t, p.IsAuthor)
	assert.Equal(t, domain.PlaytestOpen, p.Status)

	m, err := repo.GetMap(ctx, f.db, "PLAY1")
	require.NoError(t, err)
	assert.False(t, m.Official)

	status := f.msgr.sentTo(playtestChannel)
	require.Len(t, status, 1)
	assert.Equal(t, "Total Votes: 0 / 4", status[0].Content)
	assert.Len(t, f.msgr.sentTo(res.ThreadID), 2, "voting post and creator ping")
	assert.Equal(t, []string{"PLAY1 | Hard | Hanamura 12 CPs"}, f.msgr.threads)
	assert.Equal(t, []string{events.TagPlaytestCreated}, f.tags())
}

func TestConfirm_FailureKeepsDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, err := f.engine.Begin(ctx, creator, submission("FAIL1"), false)
	require.NoError(t, err)
	_, err = f.engine.SetDetails(ctx, d.ID, creatorID, fullDetails("Easy"))
	require.NoError(t, err)

	f.msgr.sendErr = errBoom
	_, err = f.engine.Confirm(ctx, d.ID, creatorID)
	require.ErrorIs(t, err, errBoom)

	kept, err := f.engine.Draft(d.ID, creatorID)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingConfirmation, kept.State)

	exists, err := repo.MapExists(ctx, f.db, "FAIL1")
	require.NoError(t, err)
	assert.False(t, exists)

	f.msgr.sendErr = nil
	res, err := f.engine.Confirm(ctx, d.ID, creatorID)
	require.NoError(t, err)
	assert.Equal(t, StateVotingOpen, res.State)
}

func TestConfirm_RetryReusesPostedThread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d, err := f.engine.Begin(ctx, creator, submission("DUP01"), false)
	require.NoError(t, err)
	d, err = f.engine.SetDetails(ctx, d.ID, creatorID, fullDetails("Easy"))
	require.NoError(t, err)

	// another writer stores the code between details and confirm
	taken := d.Submission
	require.NoError(t, repo.InsertMapSubmission(ctx, f.db, &taken, false, time.Now()))
	_, err = f.engine.Confirm(ctx, d.ID, creatorID)
	require.ErrorIs(t, err, ErrMapExists)
	require.Len(t, f.msgr.threads, 1)

	require.NoError(t, repo.DeleteMap(ctx, f.db, "DUP01"))
	res, err := f.engine.Confirm(ctx, d.ID, creatorID)
	require.NoError(t, err)
	assert.Len(t, f.msgr.threads, 1, "retry must not open a second thread")
	assert.Len(t, f.msgr.sentTo(playtestChannel), 1)
	assert.Len(t, f.msgr.sentTo(res.ThreadID), 2, "voting post and creator ping")

	p, err := repo.GetPlaytestByThread(ctx, f.db, res.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, res.MessageID, p.MessageID)
}

func TestCancelAndSweepDrafts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f.engine.Now = func() time.Time { return base }

	a, err := f.engine.Begin(ctx, creator, submission("DRAFT1"), false)
	require.NoError(t, err)
	b, err := f.engine.Begin(ctx, creator, submission("DRAFT2"), false)
	require.NoError(t, err)

	assert.ErrorIs(t, f.engine.Cancel(ctx, a.ID, voterID), ErrNotDraftOwner)
	require.NoError(t, f.engine.Cancel(ctx, a.ID, creatorID))
	assert.ErrorIs(t, f.engine.Cancel(ctx, a.ID, creatorID), ErrDraftNotFound)

	assert.Equal(t, 0, f.engine.SweepDrafts(ctx, base.Add(time.Minute)))
	assert.Equal(t, 1, f.engine.SweepDrafts(ctx, base.Add(11*time.Minute)))
	_, err = f.engine.Draft(b.ID, creatorID)
	assert.ErrorIs(t, err, ErrDraftNotFound)
}

func TestDraft_ExpiresOnRead(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f.engine.Now = func() time.Time { return now }

	d, err := f.engine.Begin(context.Background(), creator, submission("EXP01"), false)
	require.NoError(t, err)

	now = now.Add(10*time.Minute + time.Second)
	_, err = f.engine.Draft(d.ID, creatorID)
	assert.True(t, errors.Is(err, ErrDraftNotFound))
}

func TestAddFromRelay(t *testing.T) {
	f := newFixture(t)
	mirror := &fakeMirror{}
	f.engine.Mirror = mirror

	sub := submission("web01")
	sub.Difficulty = "Easy"
	threadID, err := f.engine.AddFromRelay(context.Background(), sub)
	require.NoError(t, err)
	assert.NotZero(t, threadID)
	assert.Equal(t, []string{"WEB01 | Easy | Hanamura 12 CPs"}, f.msgr.forums)
	require.Len(t, mirror.got, 1)
	assert.Equal(t, "WEB01", mirror.got[0].MapID)
	assert.InDelta(t, 1.47, mirror.got[0].InitialDifficulty, 0.001)
	require.Equal(t, []string{events.TagPlaytestCreated}, f.tags())
	created := f.got[0].Payload.(events.PlaytestCreated)
	assert.Equal(t, threadID, created.ThreadID)
	assert.Equal(t, "WEB01", created.MapCode)

	_, err = f.engine.AddFromRelay(context.Background(), submission("!"))
	assert.ErrorIs(t, err, domain.ErrInvalidMapCode)
}
