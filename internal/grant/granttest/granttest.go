// Package granttest holds a conformance suite run against every grant.Store
// implementation.
package granttest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"devauth/internal/grant"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewGrant returns a pending grant created at now with a unique device code
// and user code.
func NewGrant(t *testing.T, now time.Time) *grant.Grant {
	t.Helper()
	deviceCode, err := grant.GenerateDeviceCode()
	require.NoError(t, err)
	userCode, err := grant.GenerateUserCode()
	require.NoError(t, err)

	return &grant.Grant{
		ID:         uuid.NewString(),
		DeviceCode: deviceCode,
		UserCode:   userCode,
		ClientID:   "cli-1",
		Scope:      "openid profile email",
		Status:     grant.StatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(30 * time.Minute),
		Interval:   5 * time.Second,
	}
}

// Run exercises the grant.Store contract. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) grant.Store) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("CreateDuplicate", func(t *testing.T) { testCreateDuplicate(t, newStore(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
	t.Run("Approve", func(t *testing.T) { testApprove(t, newStore(t)) })
	t.Run("Deny", func(t *testing.T) { testDeny(t, newStore(t)) })
	t.Run("DecideAfterTerminalConflicts", func(t *testing.T) { testDecideAfterTerminal(t, newStore(t)) })
	t.Run("DecideExpiredIsNotFound", func(t *testing.T) { testDecideExpired(t, newStore(t)) })
	t.Run("ConcurrentDecisions", func(t *testing.T) { testConcurrentDecisions(t, newStore(t)) })
	t.Run("RecordPollSlowDown", func(t *testing.T) { testRecordPoll(t, newStore(t)) })
	t.Run("RedeemOnce", func(t *testing.T) { testRedeemOnce(t, newStore(t)) })
	t.Run("RedeemRequiresApproval", func(t *testing.T) { testRedeemRequiresApproval(t, newStore(t)) })
	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, newStore(t).Ping(context.Background()))
	})
}

func testCreateAndGet(t *testing.T, store grant.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	g := NewGrant(t, now)
	require.NoError(t, store.Create(ctx, g))

	byDevice, err := store.GetByDeviceCode(ctx, g.DeviceCode)
	require.NoError(t, err)
	assert.Equal(t, g.ID, byDevice.ID)
	assert.Equal(t, g.UserCode, byDevice.UserCode)
	assert.Equal(t, g.ClientID, byDevice.ClientID)
	assert.Equal(t, g.Scope, byDevice.Scope)
	assert.Equal(t, grant.StatusPending, byDevice.Status)
	assert.Equal(t, g.Interval, byDevice.Interval)
	assert.True(t, g.ExpiresAt.Equal(byDevice.ExpiresAt))

	byUser, err := store.GetByUserCode(ctx, g.UserCode)
	require.NoError(t, err)
	assert.Equal(t, g.DeviceCode, byUser.DeviceCode)
}

func testCreateDuplicate(t *testing.T, store grant.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	g := NewGrant(t, now)
	require.NoError(t, store.Create(ctx, g))

	sameUserCode := NewGrant(t, now)
	sameUserCode.UserCode = g.UserCode
	assert.ErrorIs(t, store.Create(ctx, sameUserCode), grant.ErrDuplicate)

	sameDeviceCode := NewGrant(t, now)
	sameDeviceCode.DeviceCode = g.DeviceCode
	assert.ErrorIs(t, store.Create(ctx, sameDeviceCode), grant.ErrDuplicate)
}

func testNotFound(t *testing.T, store grant.Store) {
	ctx := context.Background()
	_, err := store.GetByDeviceCode(ctx, "missing")
	assert.ErrorIs(t, err, grant.ErrNotFound)
	_, err = store.GetByUserCode(ctx, "BCDFGHJK")
	assert.ErrorIs(t, err, grant.ErrNotFound)
	_, err = store.Decide(ctx, "BCDFGHJK", grant.StatusApproved, "u-1", time.Now())
	assert.ErrorIs(t, err, grant.ErrNotFound)
	_, err = store.RecordPoll(ctx, "missing", time.Now())
	assert.ErrorIs(t, err, grant.ErrNotFound)
	_, err = store.Redeem(ctx, "missing", time.Now())
	assert.ErrorIs(t, err, grant.ErrNotFound)
}

func testApprove(t *testing.T, store grant.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	g := NewGrant(t, now)
	require.NoError(t, store.Create(ctx, g))

	decided, err := store.Decide(ctx, g.UserCode, grant.StatusApproved, "user-42", now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, grant.StatusApproved, decided.Status)
	assert.Equal(t, "user-42", decided.ApprovedUserID)

	stored, err := store.GetByDeviceCode(ctx, g.DeviceCode)
	require.NoError(t, err)
	assert.Equal(t, grant.StatusApproved, stored.Status)
	assert.Equal(t, "user-42", stored.ApprovedUserID)
	assert.False(t, stored.DecidedAt.IsZero())
}

func testDeny(t *testing.T, store grant.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	g := NewGrant(t, now)
	require.NoError(t, store.Create(ctx, g))

	decided, err := store.Decide(ctx, g.UserCode, grant.StatusDenied, "user-42", now)
	require.NoError(t, err)
	assert.Equal(t, grant.StatusDenied, decided.Status)
	assert.Empty(t, decided.ApprovedUserID)
}

func testDecideAfterTerminal(t *testing.T, store grant.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	g := NewGrant(t, now)
	require.NoError(t, store.Create(ctx, g))

	_, err := store.Decide(ctx, g.UserCode, grant.StatusApproved, "user-1", now)
	require.NoError(t, err)

	_, err = store.Decide(ctx, g.UserCode, grant.StatusApproved, "user-1", now)
	assert.ErrorIs(t, err, grant.ErrConflict)
	_, err = store.Decide(ctx, g.UserCode, grant.StatusDenied, "user-1", now)
	assert.ErrorIs(t, err, grant.ErrConflict)

	stored, err := store.GetByDeviceCode(ctx, g.DeviceCode)
	require.NoError(t, err)
	assert.Equal(t, grant.StatusApproved, stored.Status)
}

func testDecideExpired(t *testing.T, store grant.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	g := NewGrant(t, now)
	require.NoError(t, store.Create(ctx, g))

	_, err := store.Decide(ctx, g.UserCode, grant.StatusApproved, "user-1", g.ExpiresAt)
	assert.ErrorIs(t, err, grant.ErrNotFound)

	stored, err := store.GetByDeviceCode(ctx, g.DeviceCode)
	require.NoError(t, err)
	assert.Equal(t, grant.StatusPending, stored.Status)
	assert.Equal(t, grant.StatusExpired, stored.EffectiveStatus(g.ExpiresAt))
}

func testConcurrentDecisions(t *testing.T, store grant.Store) {
	ctx := context.Background()
	now := time.Now().UTC()

	for round := 0; round < 10; round++ {
		g := NewGrant(t, now)
		require.NoError(t, store.Create(ctx, g))

		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes []grant.Status
			failures  []error
		)
		startCh := make(chan struct{})
		for i := 0; i < workers; i++ {
			decision := grant.StatusApproved
			if i%2 == 1 {
				decision = grant.StatusDenied
			}
			wg.Add(1)
			go func(decision grant.Status) {
				defer wg.Done()
				<-startCh
				_, err := store.Decide(ctx, g.UserCode, decision, "user-1", now)
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					successes = append(successes, decision)
				} else {
					failures = append(failures, err)
				}
			}(decision)
		}
		close(startCh)
		wg.Wait()

		require.Len(t, successes, 1, "exactly one decision must win")
		for _, err := range failures {
			assert.True(t, errors.Is(err, grant.ErrConflict) || errors.Is(err, grant.ErrNotFound), "unexpected error: %v", err)
		}

		stored, err := store.GetByDeviceCode(ctx, g.DeviceCode)
		require.NoError(t, err)
		assert.Equal(t, successes[0], stored.Status)
	}
}

func testRecordPoll(t *testing.T, store grant.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	g := NewGrant(t, now)
	require.NoError(t, store.Create(ctx, g))

	res, err := store.RecordPoll(ctx, g.DeviceCode, now.Add(5*time.Second))
	require.NoError(t, err)
	assert.False(t, res.SlowDown, "first poll is never too fast")

	res, err = store.RecordPoll(ctx, g.DeviceCode, now.Add(7*time.Second))
	require.NoError(t, err)
	assert.True(t, res.SlowDown)
	assert.Equal(t, 10*time.Second, res.Grant.Interval)

	res, err = store.RecordPoll(ctx, g.DeviceCode, now.Add(17*time.Second))
	require.NoError(t, err)
	assert.False(t, res.SlowDown)
	assert.Equal(t, 10*time.Second, res.Grant.Interval)

	stored, err := store.GetByDeviceCode(ctx, g.DeviceCode)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, stored.Interval)
}

func testRedeemOnce(t *testing.T, store grant.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	g := NewGrant(t, now)
	require.NoError(t, store.Create(ctx, g))
	_, err := store.Decide(ctx, g.UserCode, grant.StatusApproved, "user-1", now)
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		redeemed int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Redeem(ctx, g.DeviceCode, now.Add(time.Second))
			if err == nil {
				mu.Lock()
				redeemed++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, grant.ErrAlreadyRedeemed)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, redeemed)

	stored, err := store.GetByDeviceCode(ctx, g.DeviceCode)
	require.NoError(t, err)
	assert.False(t, stored.RedeemedAt.IsZero())
}

func testRedeemRequiresApproval(t *testing.T, store grant.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	g := NewGrant(t, now)
	require.NoError(t, store.Create(ctx, g))

	_, err := store.Redeem(ctx, g.DeviceCode, now)
	assert.ErrorIs(t, err, grant.ErrNotApproved)

	_, err = store.Decide(ctx, g.UserCode, grant.StatusDenied, "", now)
	require.NoError(t, err)
	_, err = store.Redeem(ctx, g.DeviceCode, now)
	assert.ErrorIs(t, err, grant.ErrNotApproved)
}
