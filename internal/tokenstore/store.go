package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"devauth/pkg/logging"

	"golang.org/x/oauth2"
)

var (
	// ErrNotAuthenticated is returned by RequireValid when no credential is stored.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrSessionExpired is returned by RequireValid when the stored credential has expired.
	ErrSessionExpired = errors.New("session expired")
	// ErrCorruptCredential is returned by Load when the credential file exists
	// but cannot be decoded.
	ErrCorruptCredential = errors.New("credential file is corrupt")
)

// Credential is the persisted result of a successful device flow.
type Credential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`

	// ExpiresAt is nil when the server did not report a lifetime.
	ExpiresAt *time.Time `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// NewCredential builds a Credential from a token response received at now.
// The expiry is taken from token.Expiry, or computed as now + expires_in.
func NewCredential(token *oauth2.Token, scope string, now time.Time) *Credential {
	cred := &Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.Type(),
		Scope:        scope,
		CreatedAt:    now.UTC(),
	}

	switch {
	case !token.Expiry.IsZero():
		exp := token.Expiry.UTC()
		cred.ExpiresAt = &exp
	case token.ExpiresIn > 0:
		exp := now.Add(time.Duration(token.ExpiresIn) * time.Second).UTC()
		cred.ExpiresAt = &exp
	}

	return cred
}

// IsExpired reports whether the credential should no longer be used at now.
// A credential without a known expiry is treated as expired.
func (c *Credential) IsExpired(now time.Time, skew time.Duration) bool {
	if c == nil || c.ExpiresAt == nil || c.ExpiresAt.IsZero() {
		return true
	}
	return !now.Before(c.ExpiresAt.Add(-skew))
}

// ToOAuth2Token converts the credential for use with an oauth2 token source.
func (c *Credential) ToOAuth2Token() *oauth2.Token {
	token := &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
	}
	if c.ExpiresAt != nil {
		token.Expiry = *c.ExpiresAt
	}
	return token
}

// Store reads and writes one credential file.
type Store struct {
	path string
	now  func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a store for the credential file at path. Nothing is touched on
// disk until Save is called.
func New(path string, opts ...Option) *Store {
	s := &Store{
		path: path,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the credential file location.
func (s *Store) Path() string {
	return s.path
}

// Save persists cred, replacing any existing credential.
// SECURITY: Token values are never logged. Only the file location is logged for audit purposes.
func (s *Store) Save(cred *Credential) error {
	if cred == nil || cred.AccessToken == "" {
		return fmt.Errorf("refusing to store an empty credential")
	}

	if err := s.writeFile(cred); err != nil {
		logging.Audit(logging.AuditEvent{
			Action:  "credential_stored",
			Outcome: "failure",
			Target:  s.path,
			Details: err.Error(),
		})
		return err
	}

	expiry := "unknown"
	if cred.ExpiresAt != nil {
		expiry = cred.ExpiresAt.Format(time.RFC3339)
	}
	logging.Audit(logging.AuditEvent{
		Action:  "credential_stored",
		Outcome: "success",
		Target:  s.path,
		Details: fmt.Sprintf("expiry=%s has_refresh_token=%t", expiry, cred.RefreshToken != ""),
	})
	return nil
}

// Load returns the stored credential, or nil and no error if none is stored.
func (s *Store) Load() (*Credential, error) {
	// #nosec G304 -- path comes from configuration, not request input
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptCredential, s.path, err)
	}
	return &cred, nil
}

// Clear removes the stored credential. Clearing an absent credential is not an error.
func (s *Store) Clear() error {
	err := os.Remove(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		logging.Audit(logging.AuditEvent{
			Action:  "credential_deleted",
			Outcome: "failure",
			Target:  s.path,
			Details: err.Error(),
		})
		return fmt.Errorf("failed to remove credential file: %w", err)
	}

	logging.Audit(logging.AuditEvent{
		Action:  "credential_deleted",
		Outcome: "success",
		Target:  s.path,
	})
	return nil
}

// IsExpired reports whether cred is expired according to the store's clock.
func (s *Store) IsExpired(cred *Credential, skew time.Duration) bool {
	return cred.IsExpired(s.now(), skew)
}

// RequireValid loads the credential and returns ErrNotAuthenticated when
// none is stored or the file is unreadable, or ErrSessionExpired when it has
// expired.
func (s *Store) RequireValid(skew time.Duration) (*Credential, error) {
	cred, err := s.Load()
	if errors.Is(err, ErrCorruptCredential) {
		logging.Warn("TokenStore", "Ignoring unreadable credential file: %v", err)
		return nil, ErrNotAuthenticated
	}
	if err != nil {
		return nil, err
	}
	if cred == nil || cred.AccessToken == "" {
		return nil, ErrNotAuthenticated
	}
	if s.IsExpired(cred, skew) {
		return cred, ErrSessionExpired
	}
	return cred, nil
}

// writeFile writes cred to a temporary file next to the target and renames
// it into place.
func (s *Store) writeFile(cred *Credential) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}

	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temporary credential file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op once the rename succeeded
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to restrict credential file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close credential file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace credential file: %w", err)
	}
	return nil
}
