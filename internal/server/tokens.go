package server

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ephemeralKeyLength is the size of the signing key generated when none is
// configured.
const ephemeralKeyLength = 32

// AccessClaims are the claims carried by issued access tokens.
type AccessClaims struct {
	jwt.RegisteredClaims
	ClientID string `json:"client_id"`
	Scope    string `json:"scope,omitempty"`
}

// TokenIssuer signs and verifies access tokens.
type TokenIssuer struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an issuer. An empty key is replaced by a random
// ephemeral key.
func NewTokenIssuer(key []byte, issuer string, ttl time.Duration, now func() time.Time) (*TokenIssuer, error) {
	if len(key) == 0 {
		key = make([]byte, ephemeralKeyLength)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
	}
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{key: key, issuer: issuer, ttl: ttl, now: now}, nil
}

// TTL returns the lifetime of issued tokens.
func (i *TokenIssuer) TTL() time.Duration {
	return i.ttl
}

// Issue returns a signed token for userID and its expiry.
func (i *TokenIssuer) Issue(userID, clientID, scope string) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    i.issuer,
			Subject:   userID,
			Audience:  jwt.ClaimStrings{clientID},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		ClientID: clientID,
		Scope:    scope,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses and validates raw and returns its claims.
func (i *TokenIssuer) Verify(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errors.New("invalid access token: missing subject")
	}
	return claims, nil
}
