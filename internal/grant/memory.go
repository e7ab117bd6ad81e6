package grant

import (
	"context"
	"sync"
	"time"

	"devauth/pkg/logging"

	"github.com/patrickmn/go-cache"
)

const (
	deviceCodeKeyPrefix = "dc:"
	userCodeKeyPrefix   = "uc:"

	// DefaultRetention keeps finished grants around after their deadline so
	// late polls get expired_token rather than invalid_grant.
	DefaultRetention = 10 * time.Minute

	memoryCleanupInterval = time.Minute
)

// MemoryStore keeps grants in process memory. Entries are evicted by go-cache
// once their deadline plus the retention window has passed.
type MemoryStore struct {
	// mu serializes compound read-modify-write operations; the cache's own
	// lock only covers single calls.
	mu        sync.Mutex
	items     *cache.Cache
	retention time.Duration
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(retention time.Duration) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryStore{
		items:     cache.New(cache.NoExpiration, memoryCleanupInterval),
		retention: retention,
	}
}

func (s *MemoryStore) ttl(g *Grant) time.Duration {
	ttl := time.Until(g.ExpiresAt) + s.retention
	if ttl <= 0 {
		// go-cache treats 0 as "default", which is NoExpiration here.
		ttl = time.Millisecond
	}
	return ttl
}

func (s *MemoryStore) Create(ctx context.Context, g *Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := g.CreatedAt
	if existing, ok := s.getLocked(deviceCodeKeyPrefix + g.DeviceCode); ok && existing.Live(now) {
		return ErrDuplicate
	}
	if dc, ok := s.items.Get(userCodeKeyPrefix + g.UserCode); ok {
		if existing, ok := s.getLocked(deviceCodeKeyPrefix + dc.(string)); ok && existing.Live(now) {
			return ErrDuplicate
		}
	}

	stored := g.Clone()
	ttl := s.ttl(stored)
	s.items.Set(deviceCodeKeyPrefix+stored.DeviceCode, stored, ttl)
	s.items.Set(userCodeKeyPrefix+stored.UserCode, stored.DeviceCode, ttl)

	logging.Debug("GrantStore", "Stored grant %s for client %s", stored.ID, stored.ClientID)
	return nil
}

func (s *MemoryStore) getLocked(key string) (*Grant, bool) {
	v, ok := s.items.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*Grant), true
}

func (s *MemoryStore) GetByDeviceCode(ctx context.Context, deviceCode string) (*Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.getLocked(deviceCodeKeyPrefix + deviceCode)
	if !ok {
		return nil, ErrNotFound
	}
	return g.Clone(), nil
}

func (s *MemoryStore) GetByUserCode(ctx context.Context, userCode string) (*Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dc, ok := s.items.Get(userCodeKeyPrefix + userCode)
	if !ok {
		return nil, ErrNotFound
	}
	g, ok := s.getLocked(deviceCodeKeyPrefix + dc.(string))
	if !ok {
		return nil, ErrNotFound
	}
	return g.Clone(), nil
}

// mutateLocked applies fn to a copy of the grant and commits it only if fn
// succeeds.
func (s *MemoryStore) mutateLocked(deviceCode string, fn func(*Grant) error) (*Grant, error) {
	key := deviceCodeKeyPrefix + deviceCode
	current, ok := s.getLocked(key)
	if !ok {
		return nil, ErrNotFound
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return current.Clone(), err
	}
	s.items.Set(key, next, s.ttl(next))
	return next.Clone(), nil
}

func (s *MemoryStore) Decide(ctx context.Context, userCode string, decision Status, userID string, now time.Time) (*Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dc, ok := s.items.Get(userCodeKeyPrefix + userCode)
	if !ok {
		return nil, ErrNotFound
	}
	return s.mutateLocked(dc.(string), func(g *Grant) error {
		return ApplyDecision(g, decision, userID, now)
	})
}

func (s *MemoryStore) RecordPoll(ctx context.Context, deviceCode string, now time.Time) (PollResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var slowDown bool
	g, err := s.mutateLocked(deviceCode, func(g *Grant) error {
		slowDown = ApplyPoll(g, now)
		return nil
	})
	if err != nil {
		return PollResult{}, err
	}
	return PollResult{Grant: g, SlowDown: slowDown}, nil
}

func (s *MemoryStore) Redeem(ctx context.Context, deviceCode string, now time.Time) (*Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mutateLocked(deviceCode, func(g *Grant) error {
		return ApplyRedeem(g, now)
	})
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close drops all grants.
func (s *MemoryStore) Close() error {
	s.items.Flush()
	return nil
}

var _ Store = (*MemoryStore)(nil)
