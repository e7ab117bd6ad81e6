package grant

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a grant.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s != StatusPending
}

var (
	// ErrNotFound means no live grant matches. It deliberately covers both
	// unknown and expired grants.
	ErrNotFound = errors.New("grant not found")
	// ErrConflict means the grant has already left the pending state.
	ErrConflict = errors.New("grant already decided")
	// ErrAlreadyRedeemed means a token was already issued for the grant.
	ErrAlreadyRedeemed = errors.New("grant already redeemed")
	// ErrNotApproved means a redemption was attempted on a grant that is not approved.
	ErrNotApproved = errors.New("grant not approved")
	// ErrExpired means the grant passed its deadline before it could be redeemed.
	ErrExpired = errors.New("grant expired")
	// ErrDuplicate means the device code or user code is already in use.
	ErrDuplicate = errors.New("grant code already in use")
)

// SlowDownIncrement is added to a grant's interval when it is polled too fast.
const SlowDownIncrement = 5 * time.Second

// Grant tracks one device authorization attempt.
type Grant struct {
	ID         string `json:"id"`
	DeviceCode string `json:"device_code"`
	// UserCode is stored normalized: upper case, without separators.
	UserCode string `json:"user_code"`
	ClientID string `json:"client_id"`
	Scope    string `json:"scope"`

	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	Interval     time.Duration `json:"interval"`
	LastPolledAt time.Time     `json:"last_polled_at,omitempty"`

	ApprovedUserID string    `json:"approved_user_id,omitempty"`
	DecidedAt      time.Time `json:"decided_at,omitempty"`
	RedeemedAt     time.Time `json:"redeemed_at,omitempty"`
}

// EffectiveStatus returns the status at now. A pending or approved grant
// past its deadline is expired. An approved grant that was already redeemed
// keeps its status.
func (g *Grant) EffectiveStatus(now time.Time) Status {
	if g.Status == StatusDenied || g.Status == StatusExpired {
		return g.Status
	}
	if g.Status == StatusApproved && !g.RedeemedAt.IsZero() {
		return g.Status
	}
	if !now.Before(g.ExpiresAt) {
		return StatusExpired
	}
	return g.Status
}

// Live reports whether the grant still occupies its codes at now.
func (g *Grant) Live(now time.Time) bool {
	return now.Before(g.ExpiresAt)
}

// Clone returns a copy that can be handed out without aliasing store state.
func (g *Grant) Clone() *Grant {
	c := *g
	return &c
}

// PollResult is returned by Store.RecordPoll.
type PollResult struct {
	Grant *Grant
	// SlowDown is true when the poll arrived before the interval elapsed.
	// The grant's interval has then already been raised.
	SlowDown bool
}

// Store persists grants. Implementations must make Decide, RecordPoll and
// Redeem atomic per grant.
type Store interface {
	// Create stores a new pending grant. It returns ErrDuplicate if the
	// device code or user code belongs to another live grant.
	Create(ctx context.Context, g *Grant) error

	// GetByDeviceCode returns ErrNotFound if the code is unknown.
	GetByDeviceCode(ctx context.Context, deviceCode string) (*Grant, error)

	// GetByUserCode returns ErrNotFound if the code is unknown.
	GetByUserCode(ctx context.Context, userCode string) (*Grant, error)

	// Decide moves the pending grant identified by userCode to decision
	// (StatusApproved or StatusDenied). It returns ErrNotFound if no live
	// grant matches and ErrConflict if the grant is no longer pending.
	Decide(ctx context.Context, userCode string, decision Status, userID string, now time.Time) (*Grant, error)

	// RecordPoll registers a token request for deviceCode at now and raises
	// the interval when the client polls faster than allowed.
	RecordPoll(ctx context.Context, deviceCode string, now time.Time) (PollResult, error)

	// Redeem marks an approved grant as redeemed. It returns
	// ErrAlreadyRedeemed on a second call, ErrNotApproved if the grant is
	// not approved and ErrExpired past the deadline.
	Redeem(ctx context.Context, deviceCode string, now time.Time) (*Grant, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// validDecision reports whether d is a status Decide accepts.
func validDecision(d Status) bool {
	return d == StatusApproved || d == StatusDenied
}

// ApplyDecision performs the pending to decision transition on g in place.
// Stores call it inside their atomic section.
func ApplyDecision(g *Grant, decision Status, userID string, now time.Time) error {
	if !validDecision(decision) {
		return errors.New("decision must be approved or denied")
	}
	if !g.Live(now) {
		return ErrNotFound
	}
	if g.Status != StatusPending {
		return ErrConflict
	}
	g.Status = decision
	g.DecidedAt = now
	if decision == StatusApproved {
		g.ApprovedUserID = userID
	}
	return nil
}

// ApplyPoll records a poll at now on g in place.
func ApplyPoll(g *Grant, now time.Time) bool {
	slowDown := false
	if !g.LastPolledAt.IsZero() && now.Sub(g.LastPolledAt) < g.Interval {
		g.Interval += SlowDownIncrement
		slowDown = true
	}
	g.LastPolledAt = now
	return slowDown
}

// ApplyRedeem marks g as redeemed at now in place.
func ApplyRedeem(g *Grant, now time.Time) error {
	if g.Status != StatusApproved {
		return ErrNotApproved
	}
	if !g.RedeemedAt.IsZero() {
		return ErrAlreadyRedeemed
	}
	if !g.Live(now) {
		return ErrExpired
	}
	g.RedeemedAt = now
	return nil
}
