package server

import (
	"crypto/subtle"
	"sync"

	"devauth/internal/config"
)

// UserDirectory resolves session tokens and user ids to configured users.
// It is safe for concurrent use and can be swapped wholesale on config reload.
type UserDirectory struct {
	mu    sync.RWMutex
	users []config.User
}

// NewUserDirectory creates a directory holding users.
func NewUserDirectory(users []config.User) *UserDirectory {
	d := &UserDirectory{}
	d.Replace(users)
	return d
}

// Replace swaps the full user list.
func (d *UserDirectory) Replace(users []config.User) {
	copied := make([]config.User, len(users))
	copy(copied, users)

	d.mu.Lock()
	d.users = copied
	d.mu.Unlock()
}

// Len returns the number of known users.
func (d *UserDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}

// BySessionToken returns the user owning token.
func (d *UserDirectory) BySessionToken(token string) (config.User, bool) {
	if token == "" {
		return config.User{}, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, u := range d.users {
		if u.SessionToken == "" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(u.SessionToken), []byte(token)) == 1 {
			return u, true
		}
	}
	return config.User{}, false
}

// ByID returns the user with id.
func (d *UserDirectory) ByID(id string) (config.User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, u := range d.users {
		if u.ID == id {
			return u, true
		}
	}
	return config.User{}, false
}
