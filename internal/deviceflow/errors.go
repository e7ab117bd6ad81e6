package deviceflow

import (
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// OAuth error codes returned by the token endpoint during device polling.
const (
	ErrorCodeAuthorizationPending = "authorization_pending"
	ErrorCodeSlowDown             = "slow_down"
	ErrorCodeAccessDenied         = "access_denied"
	ErrorCodeExpiredToken         = "expired_token"
)

var (
	// ErrAuthorizationPending signals that the user has not acted yet.
	ErrAuthorizationPending = errors.New("authorization pending")
	// ErrSlowDown signals that the client must increase its polling interval.
	ErrSlowDown = errors.New("slow down")
	// ErrAccessDenied means the user denied the request.
	ErrAccessDenied = errors.New("access denied")
	// ErrTokenExpired means the device code expired before it was approved.
	ErrTokenExpired = errors.New("device code expired")
	// ErrCancelled means the login was aborted by the operator.
	ErrCancelled = errors.New("login cancelled")
)

// NetworkError is a transport level failure talking to the authorization
// server. It is retryable within a bounded budget.
type NetworkError struct {
	Endpoint string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error calling %s: %v", e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ProtocolError is a malformed or unexpected response from the
// authorization server. It is not retryable.
type ProtocolError struct {
	Endpoint   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("unexpected response from %s", e.Endpoint)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// OAuthError is an error response carrying an RFC 6749 error code.
// errors.Is matches the sentinel for the well known device flow codes, and
// errors.As can reach the underlying *oauth2.RetrieveError.
type OAuthError struct {
	Code        string
	Description string
	Retrieve    *oauth2.RetrieveError
}

func (e *OAuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	}
	return e.Code
}

func (e *OAuthError) Unwrap() error {
	if e.Retrieve == nil {
		return nil
	}
	return e.Retrieve
}

func (e *OAuthError) Is(target error) bool {
	switch target {
	case ErrAuthorizationPending:
		return e.Code == ErrorCodeAuthorizationPending
	case ErrSlowDown:
		return e.Code == ErrorCodeSlowDown
	case ErrAccessDenied:
		return e.Code == ErrorCodeAccessDenied
	case ErrTokenExpired:
		return e.Code == ErrorCodeExpiredToken
	}
	return false
}

// IsNetworkError reports whether err is a retryable transport failure.
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}
