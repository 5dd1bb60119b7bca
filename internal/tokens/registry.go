// Package tokens issues and checks single-use capability tokens scoped to a
// (user, artifact) pair.
//
// Per pair the registry moves through
//
//	NoToken -> Issued -> Revoked
//	             |  ^
//	             +--+ Reissued (previous value discarded)
//
// and never holds two valid values for the same pair.
package tokens

import (
	"crypto/subtle"
	"errors"
	"sync"
	"time"
)

var ErrEmptySecret = errors.New("token secret must not be empty")

type Registry struct {
	mu     sync.RWMutex
	secret []byte
	users  map[string]map[string]string
	now    func() time.Time
}

func NewRegistry(secret []byte) (*Registry, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	return &Registry{
		secret: append([]byte(nil), secret...),
		users:  make(map[string]map[string]string),
		now:    time.Now,
	}, nil
}

// Issue mints a fresh token for (userID, unique), replacing any previous one.
func (r *Registry) Issue(userID, unique string) (string, error) {
	token, err := generateToken(userID, unique, r.secret, r.now())
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	byArtifact, ok := r.users[userID]
	if !ok {
		byArtifact = make(map[string]string)
		r.users[userID] = byArtifact
	}
	byArtifact[unique] = token
	return token, nil
}

// Validate reports whether token is the currently registered value for
// (userID, unique). It never fails loudly: unknown users, unknown artifacts,
// forged or stale tokens all yield false.
func (r *Registry) Validate(userID, unique, token string) bool {
	if token == "" {
		return false
	}
	if err := verifyToken(token, userID, unique, r.secret); err != nil {
		return false
	}

	r.mu.RLock()
	current, ok := r.users[userID][unique]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(current), []byte(token)) == 1
}

// Redeem is Validate and Revoke in one critical section: it succeeds only if
// token is the registered value at that moment, and removes it.
func (r *Registry) Redeem(userID, unique, token string) bool {
	if token == "" {
		return false
	}
	if err := verifyToken(token, userID, unique, r.secret); err != nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	byArtifact, ok := r.users[userID]
	if !ok {
		return false
	}
	current, ok := byArtifact[unique]
	if !ok || subtle.ConstantTimeCompare([]byte(current), []byte(token)) != 1 {
		return false
	}
	delete(byArtifact, unique)
	if len(byArtifact) == 0 {
		delete(r.users, userID)
	}
	return true
}

// Revoke removes the registration for (userID, unique).
func (r *Registry) Revoke(userID, unique string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byArtifact, ok := r.users[userID]
	if !ok {
		return
	}
	delete(byArtifact, unique)
	if len(byArtifact) == 0 {
		delete(r.users, userID)
	}
}

// Forget drops every token registered for userID.
func (r *Registry) Forget(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, userID)
}

func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = make(map[string]map[string]string)
}

// Count returns the number of currently valid tokens.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, byArtifact := range r.users {
		n += len(byArtifact)
	}
	return n
}
