// Package auth holds the logged-in user's credential for the lifetime of
// the process.
package auth

import (
	"errors"
	"sync"
)

// ErrNoCredential is returned when no user is logged in.
var ErrNoCredential = errors.New("auth: not logged in")

// Credential is the identity and bearer token returned by login.
type Credential struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}

// Valid reports whether both fields are set.
func (c Credential) Valid() bool {
	return c.Username != "" && c.Token != ""
}

// Store keeps the current credential. The zero value is empty and ready to use.
type Store struct {
	mu   sync.RWMutex
	cred Credential
}

// Set replaces the current credential.
func (s *Store) Set(c Credential) error {
	if !c.Valid() {
		return errors.New("auth: credential requires username and token")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = c
	return nil
}

// Current returns the credential, or false when logged out.
func (s *Store) Current() (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred, s.cred.Valid()
}

// Username returns the logged-in user or "".
func (s *Store) Username() string {
	c, _ := s.Current()
	return c.Username
}

// Clear forgets the credential.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = Credential{}
}
