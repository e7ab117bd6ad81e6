package deviceflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"devauth/pkg/logging"

	"golang.org/x/oauth2"
)

// State is a state of the polling state machine.
type State int

const (
	StateAwaitingApproval State = iota
	StateTokenIssued
	StateDenied
	StateExpired
	StateFatalError
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateAwaitingApproval:
		return "AWAITING_APPROVAL"
	case StateTokenIssued:
		return "TOKEN_ISSUED"
	case StateDenied:
		return "DENIED"
	case StateExpired:
		return "EXPIRED"
	case StateFatalError:
		return "FATAL_ERROR"
	case StateCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the poller stops in this state.
func (s State) Terminal() bool {
	return s != StateAwaitingApproval
}

const (
	// SlowDownIncrement is added to the interval on every slow_down response.
	SlowDownIncrement = 5 * time.Second

	// DefaultMaxNetworkFailures is the consecutive transport failure budget.
	DefaultMaxNetworkFailures = 5
)

// Exchanger performs a single device access token request.
type Exchanger interface {
	Exchange(ctx context.Context, deviceCode string) (*oauth2.Token, error)
}

// PollRequest is the client side polling state of one login attempt.
type PollRequest struct {
	DeviceCode string
	Interval   time.Duration
	Deadline   time.Time
}

// PollRequestFromResponse derives a PollRequest from a device authorization response.
func PollRequestFromResponse(resp *oauth2.DeviceAuthResponse) PollRequest {
	interval := time.Duration(resp.Interval) * time.Second
	if interval <= 0 {
		interval = DefaultInterval
	}
	return PollRequest{
		DeviceCode: resp.DeviceCode,
		Interval:   interval,
		Deadline:   resp.Expiry,
	}
}

// Attempt describes one token exchange made by the poller.
type Attempt struct {
	Number   int
	At       time.Time
	Interval time.Duration // interval that preceded this attempt
	Err      error
}

// Result is the outcome of Poll.
type Result struct {
	State    State
	Token    *oauth2.Token
	Err      error
	Attempts int

	// Interval is the polling interval in effect when polling stopped.
	Interval time.Duration
}

// Poller drives the device token polling state machine.
type Poller struct {
	exchanger          Exchanger
	clock              Clock
	maxNetworkFailures int
	onAttempt          func(Attempt)
}

// PollerOption customizes a Poller.
type PollerOption func(*Poller)

// WithClock replaces the wall clock.
func WithClock(clock Clock) PollerOption {
	return func(p *Poller) {
		p.clock = clock
	}
}

// WithMaxNetworkFailures sets how many consecutive transport failures are
// tolerated before polling gives up.
func WithMaxNetworkFailures(n int) PollerOption {
	return func(p *Poller) {
		if n > 0 {
			p.maxNetworkFailures = n
		}
	}
}

// WithAttemptHook registers a callback invoked after every exchange attempt.
func WithAttemptHook(fn func(Attempt)) PollerOption {
	return func(p *Poller) {
		p.onAttempt = fn
	}
}

// NewPoller creates a poller using exchanger for token requests.
func NewPoller(exchanger Exchanger, opts ...PollerOption) *Poller {
	p := &Poller{
		exchanger:          exchanger,
		clock:              RealClock{},
		maxNetworkFailures: DefaultMaxNetworkFailures,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll waits req.Interval before every exchange and keeps polling until a
// terminal state is reached. Cancelling ctx yields StateCancelled, also
// while a wait is in progress.
func (p *Poller) Poll(ctx context.Context, req PollRequest) Result {
	interval := req.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	attempts := 0
	networkFailures := 0
	finish := func(state State, token *oauth2.Token, err error) Result {
		logging.Debug("DeviceFlow", "Polling finished in state %s after %d attempt(s)", state, attempts)
		return Result{State: state, Token: token, Err: err, Attempts: attempts, Interval: interval}
	}

	for {
		if err := p.clock.Sleep(ctx, interval); err != nil {
			return finish(StateCancelled, nil, ErrCancelled)
		}

		now := p.clock.Now()
		if !req.Deadline.IsZero() && !now.Before(req.Deadline) {
			return finish(StateExpired, nil, ErrTokenExpired)
		}

		attempts++
		token, err := p.exchanger.Exchange(ctx, req.DeviceCode)
		if p.onAttempt != nil {
			p.onAttempt(Attempt{Number: attempts, At: now, Interval: interval, Err: err})
		}

		if err == nil {
			if token == nil || token.AccessToken == "" {
				return finish(StateFatalError, nil, &ProtocolError{Message: "token response without access_token"})
			}
			return finish(StateTokenIssued, token, nil)
		}

		if ctx.Err() != nil {
			return finish(StateCancelled, nil, ErrCancelled)
		}

		if IsNetworkError(err) {
			networkFailures++
			logging.Debug("DeviceFlow", "Token exchange failed (%d/%d): %v", networkFailures, p.maxNetworkFailures, err)
			if networkFailures >= p.maxNetworkFailures {
				return finish(StateFatalError, nil,
					fmt.Errorf("giving up after %d consecutive network failures: %w", networkFailures, err))
			}
			continue
		}
		networkFailures = 0

		switch {
		case errors.Is(err, ErrAuthorizationPending):
			continue
		case errors.Is(err, ErrSlowDown):
			interval += SlowDownIncrement
			logging.Debug("DeviceFlow", "Server asked to slow down, polling every %s", interval)
			continue
		case errors.Is(err, ErrAccessDenied):
			return finish(StateDenied, nil, err)
		case errors.Is(err, ErrTokenExpired):
			return finish(StateExpired, nil, err)
		default:
			return finish(StateFatalError, nil, err)
		}
	}
}
