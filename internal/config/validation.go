package config

import (
	"fmt"
	"net/url"
	"strings"
)

// minSigningKeyLength is the minimum HMAC key length accepted for access tokens.
const minSigningKeyLength = 32

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// ValidateServerURL checks that raw is an absolute http or https URL.
func ValidateServerURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("server URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid server URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server URL %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("server URL %q has no host", raw)
	}
	return nil
}

// Validate checks the client section.
func (c ClientConfig) Validate() error {
	var errs ValidationErrors

	if err := ValidateServerURL(c.ServerURL); err != nil {
		errs.Add("client.serverURL", err.Error(), c.ServerURL)
	}
	if strings.TrimSpace(c.ClientID) == "" {
		errs.Add("client.clientID", "is required")
	}
	if c.CredentialsFile == "" {
		errs.Add("client.credentialsFile", "is required")
	}
	if c.MaxNetworkFailures < 1 {
		errs.Add("client.maxNetworkFailures", "must be at least 1", c.MaxNetworkFailures)
	}
	if c.ExpirySkew < 0 {
		errs.Add("client.expirySkew", "must not be negative", c.ExpirySkew)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Validate checks the server section.
func (s ServerConfig) Validate() error {
	var errs ValidationErrors

	if s.Listen == "" {
		errs.Add("server.listen", "is required")
	}
	if s.PublicURL != "" {
		if err := ValidateServerURL(s.PublicURL); err != nil {
			errs.Add("server.publicURL", err.Error(), s.PublicURL)
		}
	}

	switch s.Store.Type {
	case StoreTypeMemory:
	case StoreTypeRedis:
		if s.Store.RedisAddr == "" {
			errs.Add("server.store.redisAddr", "is required for the redis store")
		}
	case StoreTypePostgres:
		if s.Store.PostgresDSN == "" {
			errs.Add("server.store.postgresDSN", "is required for the postgres store")
		}
	default:
		errs.Add("server.store.type", fmt.Sprintf("must be one of %s, %s, %s",
			StoreTypeMemory, StoreTypeRedis, StoreTypePostgres), s.Store.Type)
	}

	if s.DeviceCodeTTL <= 0 {
		errs.Add("server.deviceCodeTTL", "must be positive", s.DeviceCodeTTL)
	}
	if s.PollInterval <= 0 {
		errs.Add("server.pollInterval", "must be positive", s.PollInterval)
	}
	if s.AccessTokenTTL <= 0 {
		errs.Add("server.accessTokenTTL", "must be positive", s.AccessTokenTTL)
	}
	if s.SigningKey != "" && len(s.SigningKey) < minSigningKeyLength {
		errs.Add("server.signingKey", fmt.Sprintf("must be at least %d bytes", minSigningKeyLength))
	}

	if len(s.Clients) == 0 {
		errs.Add("server.clients", "at least one client must be registered")
	}
	clientIDs := make(map[string]bool, len(s.Clients))
	for i, c := range s.Clients {
		field := fmt.Sprintf("server.clients[%d].id", i)
		if c.ID == "" {
			errs.Add(field, "is required")
			continue
		}
		if clientIDs[c.ID] {
			errs.Add(field, "duplicate client id", c.ID)
		}
		clientIDs[c.ID] = true
	}

	userIDs := make(map[string]bool, len(s.Users))
	sessions := make(map[string]bool, len(s.Users))
	for i, u := range s.Users {
		if u.ID == "" {
			errs.Add(fmt.Sprintf("server.users[%d].id", i), "is required")
		} else if userIDs[u.ID] {
			errs.Add(fmt.Sprintf("server.users[%d].id", i), "duplicate user id", u.ID)
		}
		userIDs[u.ID] = true

		if u.SessionToken != "" {
			if sessions[u.SessionToken] {
				// never echo the token value
				errs.Add(fmt.Sprintf("server.users[%d].sessionToken", i), "duplicate session token")
			}
			sessions[u.SessionToken] = true
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
