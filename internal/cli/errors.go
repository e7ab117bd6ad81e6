package cli

import (
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"devauth/internal/deviceflow"
	"devauth/internal/tokenstore"
)

// ConnectionErrorType categorizes the type of connection error.
type ConnectionErrorType int

const (
	// ConnectionErrorUnknown indicates an unclassified connection error.
	ConnectionErrorUnknown ConnectionErrorType = iota
	// ConnectionErrorTLS indicates a TLS/certificate verification error.
	ConnectionErrorTLS
	// ConnectionErrorNetwork indicates a network connectivity error (e.g., refused, unreachable).
	ConnectionErrorNetwork
	// ConnectionErrorTimeout indicates a connection timeout.
	ConnectionErrorTimeout
	// ConnectionErrorDNS indicates a DNS resolution failure.
	ConnectionErrorDNS
)

// String returns a human-readable name for the connection error type.
func (t ConnectionErrorType) String() string {
	switch t {
	case ConnectionErrorTLS:
		return "TLS certificate error"
	case ConnectionErrorNetwork:
		return "Network error"
	case ConnectionErrorTimeout:
		return "Connection timeout"
	case ConnectionErrorDNS:
		return "DNS resolution error"
	default:
		return "Connection error"
	}
}

// ConnectionError indicates the authorization server could not be reached.
type ConnectionError struct {
	// ServerURL is the server that could not be reached.
	ServerURL string
	Type      ConnectionErrorType
	Reason    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf(`%s while contacting %s: %v

Check that the server is running and that --server-url is correct.`, e.Type, e.ServerURL, e.Reason)
}

func (e *ConnectionError) Unwrap() error {
	return e.Reason
}

// ClassifyConnectionError wraps err in a ConnectionError of the matching
// type. It returns nil for a nil error.
func ClassifyConnectionError(err error, serverURL string) *ConnectionError {
	if err == nil {
		return nil
	}

	connErr := &ConnectionError{ServerURL: serverURL, Type: ConnectionErrorUnknown, Reason: err}

	var dnsErr *net.DNSError
	switch {
	case isTLSError(err):
		connErr.Type = ConnectionErrorTLS
	case errors.As(err, &dnsErr):
		connErr.Type = ConnectionErrorDNS
	case isTimeoutError(err):
		connErr.Type = ConnectionErrorTimeout
	case isNetworkError(err.Error()):
		connErr.Type = ConnectionErrorNetwork
	}
	return connErr
}

// isTLSError checks if the error is related to TLS/certificate issues.
func isTLSError(err error) bool {
	var certErr *x509.CertificateInvalidError
	var hostErr *x509.HostnameError
	var unknownAuthErr *x509.UnknownAuthorityError
	var systemRootsErr *x509.SystemRootsError

	if errors.As(err, &certErr) || errors.As(err, &hostErr) ||
		errors.As(err, &unknownAuthErr) || errors.As(err, &systemRootsErr) {
		return true
	}

	errStr := err.Error()
	for _, keyword := range []string{"x509:", "certificate", "tls:", "TLS handshake"} {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}
	return false
}

// isTimeoutError checks if the error is a timeout.
func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded")
}

// isNetworkError checks if the error string indicates a network connectivity issue.
func isNetworkError(errStr string) bool {
	networkKeywords := []string{
		"connection refused",
		"connection reset",
		"network is unreachable",
		"no route to host",
		"dial tcp",
		"connect:",
	}
	for _, keyword := range networkKeywords {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}
	return false
}

// AuthRequiredError indicates there is no stored credential.
type AuthRequiredError struct {
	ServerURL string
}

func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf(`Not logged in to %s

To authenticate, run:
  devauth login --server-url %s`, e.ServerURL, e.ServerURL)
}

// Is allows errors.Is() to work with wrapped errors.
func (e *AuthRequiredError) Is(target error) bool {
	_, ok := target.(*AuthRequiredError)
	return ok
}

// AuthExpiredError indicates the stored credential is past its expiry.
type AuthExpiredError struct {
	ServerURL string
}

func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf(`Your session for %s has expired

To log in again, run:
  devauth login --server-url %s`, e.ServerURL, e.ServerURL)
}

// Is allows errors.Is() to work with wrapped errors.
func (e *AuthExpiredError) Is(target error) bool {
	_, ok := target.(*AuthExpiredError)
	return ok
}

// AuthFailedError indicates the login flow failed for a reason outside the
// user's control.
type AuthFailedError struct {
	ServerURL string
	Reason    error
}

func (e *AuthFailedError) Error() string {
	return fmt.Sprintf(`Login to %s failed: %v

To retry, run:
  devauth login --server-url %s`, e.ServerURL, e.Reason, e.ServerURL)
}

func (e *AuthFailedError) Unwrap() error {
	return e.Reason
}

// Is allows errors.Is() to work with wrapped errors.
func (e *AuthFailedError) Is(target error) bool {
	_, ok := target.(*AuthFailedError)
	return ok
}

// AccessDeniedError indicates the user rejected the login request.
type AccessDeniedError struct {
	ServerURL string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf(`The login request was denied in the browser (%s).

No credential was stored. Run 'devauth login' to start over.`, e.ServerURL)
}

// Unwrap exposes the underlying device flow sentinel.
func (e *AccessDeniedError) Unwrap() error {
	return deviceflow.ErrAccessDenied
}

// LoginExpiredError indicates the code expired before it was approved.
type LoginExpiredError struct {
	ServerURL string
}

func (e *LoginExpiredError) Error() string {
	return fmt.Sprintf(`The login code for %s expired before it was approved.

Run 'devauth login' to get a new code.`, e.ServerURL)
}

// Unwrap exposes the underlying device flow sentinel.
func (e *LoginExpiredError) Unwrap() error {
	return deviceflow.ErrTokenExpired
}

// ClassifyLoginError turns a device flow failure into the typed error shown
// to the user. Cancellation is returned unchanged.
func ClassifyLoginError(err error, serverURL string) error {
	if err == nil {
		return nil
	}

	var netErr *deviceflow.NetworkError
	switch {
	case errors.Is(err, deviceflow.ErrCancelled):
		return err
	case errors.Is(err, deviceflow.ErrAccessDenied):
		return &AccessDeniedError{ServerURL: serverURL}
	case errors.Is(err, deviceflow.ErrTokenExpired):
		return &LoginExpiredError{ServerURL: serverURL}
	case errors.As(err, &netErr):
		return ClassifyConnectionError(err, serverURL)
	default:
		return &AuthFailedError{ServerURL: serverURL, Reason: err}
	}
}

// ClassifyCredentialError maps token store failures to AuthRequiredError and
// AuthExpiredError. Other errors are returned unchanged.
func ClassifyCredentialError(err error, serverURL string) error {
	switch {
	case errors.Is(err, tokenstore.ErrNotAuthenticated):
		return &AuthRequiredError{ServerURL: serverURL}
	case errors.Is(err, tokenstore.ErrSessionExpired):
		return &AuthExpiredError{ServerURL: serverURL}
	default:
		return err
	}
}
