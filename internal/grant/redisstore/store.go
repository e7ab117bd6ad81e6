// Package redisstore implements grant.Store on Redis. Every state transition
// runs inside a WATCH/MULTI/EXEC transaction so concurrent decisions on the
// same grant resolve to exactly one winner.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"devauth/internal/grant"
	"devauth/pkg/logging"

	"github.com/redis/go-redis/v9"
)

const (
	deviceCodeKeyPrefix = "devauth:grant:dc:"
	userCodeKeyPrefix   = "devauth:grant:uc:"

	// maxTxRetries bounds optimistic-lock retries for a single operation.
	maxTxRetries = 50
)

// Store is a Redis-backed grant.Store.
type Store struct {
	client    *redis.Client
	retention time.Duration
}

// New wraps an existing client. retention keeps finished grants readable
// past their deadline.
func New(client *redis.Client, retention time.Duration) *Store {
	if retention <= 0 {
		retention = grant.DefaultRetention
	}
	return &Store{client: client, retention: retention}
}

// Open connects to addr and verifies the connection.
func Open(ctx context.Context, addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	logging.Info("GrantStore", "Connected to redis at %s (db %d)", addr, db)
	return New(client, 0), nil
}

func (s *Store) ttl(g *grant.Grant) time.Duration {
	ttl := time.Until(g.ExpiresAt) + s.retention
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	return ttl
}

func decode(data string) (*grant.Grant, error) {
	var g grant.Grant
	if err := json.Unmarshal([]byte(data), &g); err != nil {
		return nil, fmt.Errorf("failed to unmarshal grant: %w", err)
	}
	return &g, nil
}

func (s *Store) Create(ctx context.Context, g *grant.Grant) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to marshal grant: %w", err)
	}
	dcKey := deviceCodeKeyPrefix + g.DeviceCode
	ucKey := userCodeKeyPrefix + g.UserCode
	ttl := s.ttl(g)

	txf := func(tx *redis.Tx) error {
		if existing, err := getGrant(ctx, tx, dcKey); err == nil && existing.Live(g.CreatedAt) {
			return grant.ErrDuplicate
		} else if err != nil && !errors.Is(err, grant.ErrNotFound) {
			return err
		}

		otherDC, err := tx.Get(ctx, ucKey).Result()
		switch {
		case err == nil:
			existing, err := getGrant(ctx, tx, deviceCodeKeyPrefix+otherDC)
			if err == nil && existing.Live(g.CreatedAt) {
				return grant.ErrDuplicate
			}
		case !errors.Is(err, redis.Nil):
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, dcKey, data, ttl)
			pipe.Set(ctx, ucKey, g.DeviceCode, ttl)
			return nil
		})
		return err
	}

	if err := s.watch(ctx, txf, dcKey, ucKey); err != nil {
		if errors.Is(err, grant.ErrDuplicate) {
			return err
		}
		return fmt.Errorf("failed to store grant: %w", err)
	}
	logging.Debug("GrantStore", "Stored grant %s for client %s", g.ID, g.ClientID)
	return nil
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getGrant(ctx context.Context, c getter, key string) (*grant.Grant, error) {
	data, err := c.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, grant.ErrNotFound
		}
		return nil, err
	}
	return decode(data)
}

func (s *Store) GetByDeviceCode(ctx context.Context, deviceCode string) (*grant.Grant, error) {
	return getGrant(ctx, s.client, deviceCodeKeyPrefix+deviceCode)
}

func (s *Store) GetByUserCode(ctx context.Context, userCode string) (*grant.Grant, error) {
	deviceCode, err := s.lookupDeviceCode(ctx, userCode)
	if err != nil {
		return nil, err
	}
	return s.GetByDeviceCode(ctx, deviceCode)
}

func (s *Store) lookupDeviceCode(ctx context.Context, userCode string) (string, error) {
	deviceCode, err := s.client.Get(ctx, userCodeKeyPrefix+userCode).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", grant.ErrNotFound
		}
		return "", fmt.Errorf("failed to resolve user code: %w", err)
	}
	return deviceCode, nil
}

// watch runs txf under WATCH keys and retries when another client modified
// a watched key first.
func (s *Store) watch(ctx context.Context, txf func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("grant transaction aborted after %d retries: %w", maxTxRetries, redis.TxFailedErr)
}

// mutate loads the grant, applies fn and writes it back only if no one else
// touched it in between. The returned grant is the committed state, or the
// state fn rejected.
func (s *Store) mutate(ctx context.Context, deviceCode string, fn func(*grant.Grant) error) (*grant.Grant, error) {
	key := deviceCodeKeyPrefix + deviceCode
	var result *grant.Grant

	txf := func(tx *redis.Tx) error {
		g, err := getGrant(ctx, tx, key)
		if err != nil {
			return err
		}
		result = g
		if err := fn(g); err != nil {
			return err
		}
		data, err := json.Marshal(g)
		if err != nil {
			return fmt.Errorf("failed to marshal grant: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl(g))
			return nil
		})
		return err
	}

	if err := s.watch(ctx, txf, key); err != nil {
		return result, err
	}
	return result, nil
}

func (s *Store) Decide(ctx context.Context, userCode string, decision grant.Status, userID string, now time.Time) (*grant.Grant, error) {
	deviceCode, err := s.lookupDeviceCode(ctx, userCode)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, deviceCode, func(g *grant.Grant) error {
		if g.UserCode != userCode {
			return grant.ErrNotFound
		}
		return grant.ApplyDecision(g, decision, userID, now)
	})
}

func (s *Store) RecordPoll(ctx context.Context, deviceCode string, now time.Time) (grant.PollResult, error) {
	var slowDown bool
	g, err := s.mutate(ctx, deviceCode, func(g *grant.Grant) error {
		slowDown = grant.ApplyPoll(g, now)
		return nil
	})
	if err != nil {
		return grant.PollResult{}, err
	}
	return grant.PollResult{Grant: g, SlowDown: slowDown}, nil
}

func (s *Store) Redeem(ctx context.Context, deviceCode string, now time.Time) (*grant.Grant, error) {
	return s.mutate(ctx, deviceCode, func(g *grant.Grant) error {
		return grant.ApplyRedeem(g, now)
	})
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

var _ grant.Store = (*Store)(nil)
