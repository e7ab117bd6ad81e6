// Package pgstore implements grant.Store on PostgreSQL. Transitions run in a
// transaction holding a row lock, so concurrent decisions on one grant
// serialize and exactly one of them wins.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"devauth/internal/grant"
	"devauth/pkg/logging"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

const grantColumns = `id, device_code, user_code, client_id, scope, status, created_at,
	expires_at, interval_ms, last_polled_at, approved_user_id, decided_at, redeemed_at`

// Store is a PostgreSQL-backed grant.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. Call Migrate before first use on a fresh
// database.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to dsn, verifies the connection and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logging.Info("GrantStore", "Connected to postgres")
	return s, nil
}

// Migrate creates the grants table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply grant schema: %w", err)
	}
	return nil
}

func scanGrant(row pgx.Row) (*grant.Grant, error) {
	var (
		g                                 grant.Grant
		status                            string
		intervalMS                        int64
		lastPolled, decidedAt, redeemedAt *time.Time
		approvedUserID                    *string
	)
	err := row.Scan(&g.ID, &g.DeviceCode, &g.UserCode, &g.ClientID, &g.Scope, &status,
		&g.CreatedAt, &g.ExpiresAt, &intervalMS, &lastPolled, &approvedUserID, &decidedAt, &redeemedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, grant.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan grant: %w", err)
	}
	g.Status = grant.Status(status)
	g.Interval = time.Duration(intervalMS) * time.Millisecond
	if lastPolled != nil {
		g.LastPolledAt = *lastPolled
	}
	if decidedAt != nil {
		g.DecidedAt = *decidedAt
	}
	if redeemedAt != nil {
		g.RedeemedAt = *redeemedAt
	}
	if approvedUserID != nil {
		g.ApprovedUserID = *approvedUserID
	}
	return &g, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *Store) Create(ctx context.Context, g *grant.Grant) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// Serialize creators of the same user code.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, g.UserCode); err != nil {
			return err
		}

		var live bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM device_grants
			  WHERE (user_code = $1 OR device_code = $2) AND expires_at > $3)`,
			g.UserCode, g.DeviceCode, g.CreatedAt).Scan(&live)
		if err != nil {
			return err
		}
		if live {
			return grant.ErrDuplicate
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO device_grants (`+grantColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			g.ID, g.DeviceCode, g.UserCode, g.ClientID, g.Scope, string(g.Status), g.CreatedAt,
			g.ExpiresAt, g.Interval.Milliseconds(), nullTime(g.LastPolledAt), nullString(g.ApprovedUserID),
			nullTime(g.DecidedAt), nullTime(g.RedeemedAt))
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.Is(err, grant.ErrDuplicate) || (errors.As(err, &pgErr) && pgErr.Code == "23505") {
			return grant.ErrDuplicate
		}
		return fmt.Errorf("failed to store grant: %w", err)
	}
	logging.Debug("GrantStore", "Stored grant %s for client %s", g.ID, g.ClientID)
	return nil
}

func (s *Store) GetByDeviceCode(ctx context.Context, deviceCode string) (*grant.Grant, error) {
	return scanGrant(s.pool.QueryRow(ctx,
		`SELECT `+grantColumns+` FROM device_grants WHERE device_code = $1`, deviceCode))
}

func (s *Store) GetByUserCode(ctx context.Context, userCode string) (*grant.Grant, error) {
	return scanGrant(s.pool.QueryRow(ctx,
		`SELECT `+grantColumns+` FROM device_grants WHERE user_code = $1
		 ORDER BY created_at DESC LIMIT 1`, userCode))
}

// mutate locks the selected row, applies fn and persists the result only if
// fn succeeds.
func (s *Store) mutate(ctx context.Context, query string, arg string, fn func(*grant.Grant) error) (*grant.Grant, error) {
	var result *grant.Grant
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		g, err := scanGrant(tx.QueryRow(ctx, query, arg))
		if err != nil {
			return err
		}
		result = g
		if err := fn(g); err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE device_grants SET status = $2, interval_ms = $3, last_polled_at = $4,
			 approved_user_id = $5, decided_at = $6, redeemed_at = $7 WHERE id = $1`,
			g.ID, string(g.Status), g.Interval.Milliseconds(), nullTime(g.LastPolledAt),
			nullString(g.ApprovedUserID), nullTime(g.DecidedAt), nullTime(g.RedeemedAt))
		return err
	})
	return result, err
}

const (
	lockByUserCode = `SELECT ` + grantColumns + ` FROM device_grants WHERE user_code = $1
		ORDER BY created_at DESC LIMIT 1 FOR UPDATE`
	lockByDeviceCode = `SELECT ` + grantColumns + ` FROM device_grants WHERE device_code = $1 FOR UPDATE`
)

func (s *Store) Decide(ctx context.Context, userCode string, decision grant.Status, userID string, now time.Time) (*grant.Grant, error) {
	return s.mutate(ctx, lockByUserCode, userCode, func(g *grant.Grant) error {
		return grant.ApplyDecision(g, decision, userID, now)
	})
}

func (s *Store) RecordPoll(ctx context.Context, deviceCode string, now time.Time) (grant.PollResult, error) {
	var slowDown bool
	g, err := s.mutate(ctx, lockByDeviceCode, deviceCode, func(g *grant.Grant) error {
		slowDown = grant.ApplyPoll(g, now)
		return nil
	})
	if err != nil {
		return grant.PollResult{}, err
	}
	return grant.PollResult{Grant: g, SlowDown: slowDown}, nil
}

func (s *Store) Redeem(ctx context.Context, deviceCode string, now time.Time) (*grant.Grant, error) {
	return s.mutate(ctx, lockByDeviceCode, deviceCode, func(g *grant.Grant) error {
		return grant.ApplyRedeem(g, now)
	})
}

// Purge deletes grants whose deadline passed before cutoff and returns how
// many rows were removed.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM device_grants WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge grants: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

var _ grant.Store = (*Store)(nil)
