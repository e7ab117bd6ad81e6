package redisstore

import (
	"context"
	"testing"
	"time"

	"devauth/internal/grant"
	"devauth/internal/grant/granttest"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := New(client, time.Minute)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestStore(t *testing.T) {
	granttest.Run(t, func(t *testing.T) grant.Store {
		store, _ := newTestStore(t)
		return store
	})
}

func TestStore_KeysCarryTTL(t *testing.T) {
	store, mr := newTestStore(t)
	g := granttest.NewGrant(t, time.Now())
	require.NoError(t, store.Create(context.Background(), g))

	dcTTL := mr.TTL(deviceCodeKeyPrefix + g.DeviceCode)
	ucTTL := mr.TTL(userCodeKeyPrefix + g.UserCode)
	assert.InDelta(t, (31 * time.Minute).Seconds(), dcTTL.Seconds(), 5)
	assert.InDelta(t, (31 * time.Minute).Seconds(), ucTTL.Seconds(), 5)
}

func TestStore_EvictedGrantIsNotFound(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	g := granttest.NewGrant(t, time.Now())
	require.NoError(t, store.Create(ctx, g))

	mr.FastForward(32 * time.Minute)

	_, err := store.GetByDeviceCode(ctx, g.DeviceCode)
	assert.ErrorIs(t, err, grant.ErrNotFound)
	_, err = store.Decide(ctx, g.UserCode, grant.StatusApproved, "u-1", time.Now())
	assert.ErrorIs(t, err, grant.ErrNotFound)
}

func TestStore_CorruptRecord(t *testing.T) {
	store, mr := newTestStore(t)
	require.NoError(t, mr.Set(deviceCodeKeyPrefix+"broken", "{not json"))

	_, err := store.GetByDeviceCode(context.Background(), "broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, grant.ErrNotFound)
}

func TestOpen_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Open(ctx, "127.0.0.1:1", "", 0)
	assert.Error(t, err)
}
