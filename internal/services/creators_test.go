package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/genji-bot/internal/cache"
	"github.com/tbourn/genji-bot/internal/repo"
)

func TestCreatorService_AddRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedMap(t, f, "CRT01", creatorID)
	require.NoError(t, f.cache.Users.AddOne(cache.UserData{ID: voterID, Nickname: "tester"}))
	svc := &CreatorService{DB: f.db, Cache: f.cache, Perms: testPerms}

	_, err := svc.AddCreator(ctx, Actor{ID: voterID}, "CRT01", voterID)
	assert.ErrorIs(t, err, ErrNotCreator)
	_, err = svc.AddCreator(ctx, creator, "ZZZZ", voterID)
	assert.ErrorIs(t, err, ErrMapNotFound)

	m, err := svc.AddCreator(ctx, creator, "crt01", voterID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{creatorID, voterID}, m.UserIDs)
	u, _ := f.cache.Users.Find(voterID)
	assert.True(t, u.IsCreator)

	_, err = svc.AddCreator(ctx, modActor, "CRT01", voterID)
	assert.ErrorIs(t, err, cache.ErrCreatorAlreadyExists)

	m, err = svc.RemoveCreator(ctx, modActor, "CRT01", voterID)
	require.NoError(t, err)
	assert.Equal(t, []int64{creatorID}, m.UserIDs)
	u, _ = f.cache.Users.Find(voterID)
	assert.False(t, u.IsCreator)

	ids, err := repo.ListMapCreators(ctx, f.db, "CRT01")
	require.NoError(t, err)
	assert.Equal(t, []int64{creatorID}, ids)

	_, err = svc.RemoveCreator(ctx, modActor, "CRT01", voterID)
	assert.ErrorIs(t, err, cache.ErrCreatorDoesNotExist)
	_, err = svc.RemoveCreator(ctx, modActor, "CRT01", creatorID)
	assert.ErrorIs(t, err, cache.ErrInvalidEntry, "the last creator stays")
}
