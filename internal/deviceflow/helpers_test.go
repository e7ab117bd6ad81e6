package deviceflow

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// fakeClock advances instantly on Sleep and records every requested wait.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration

	// cancelOnSleep cancels the context passed to the n-th Sleep (1-based).
	cancelOnSleep int
	cancel        context.CancelFunc
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	n := len(c.sleeps)
	c.mu.Unlock()

	if c.cancelOnSleep == n && c.cancel != nil {
		c.cancel()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type exchangeResult struct {
	token *oauth2.Token
	err   error
}

// scriptedExchanger replays results in order and records when it was called.
type scriptedExchanger struct {
	clock   *fakeClock
	script  []exchangeResult
	calls   []time.Time
	codes   []string
	onCall  func(n int)
	pending exchangeResult
}

func (e *scriptedExchanger) Exchange(ctx context.Context, deviceCode string) (*oauth2.Token, error) {
	e.calls = append(e.calls, e.clock.Now())
	e.codes = append(e.codes, deviceCode)
	if e.onCall != nil {
		e.onCall(len(e.calls))
	}

	if len(e.script) == 0 {
		return e.pending.token, e.pending.err
	}
	next := e.script[0]
	e.script = e.script[1:]
	return next.token, next.err
}

func pending() exchangeResult {
	return exchangeResult{err: &OAuthError{Code: ErrorCodeAuthorizationPending}}
}

func slowDown() exchangeResult {
	return exchangeResult{err: &OAuthError{Code: ErrorCodeSlowDown}}
}

func oauthErr(code, desc string) exchangeResult {
	return exchangeResult{err: &OAuthError{Code: code, Description: desc}}
}

func networkFailure() exchangeResult {
	return exchangeResult{err: &NetworkError{Endpoint: "http://auth.test/device/token", Err: context.DeadlineExceeded}}
}

func issued(access string) exchangeResult {
	return exchangeResult{token: &oauth2.Token{AccessToken: access, TokenType: "Bearer"}}
}
