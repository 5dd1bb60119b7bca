// Package dedup keeps, per user, the set of content fingerprints that have
// already been turned into an artifact.
//
// RegisterIfNew is an atomic check-and-set. The first caller for a
// (user, fingerprint) pair receives a Claim and records a pending
// placeholder; everyone else arriving while the placeholder is pending blocks
// until the claim is committed (they then see AlreadyProcessed) or rolled
// back (they then race again for a fresh claim). The index lock is never held
// while the claim holder runs the pipeline.
package dedup

import (
	"context"
	"errors"
	"sync"
)

type Outcome int

const (
	New Outcome = iota
	AlreadyProcessed
)

func (o Outcome) String() string {
	if o == New {
		return "new"
	}
	return "already_processed"
}

var ErrClaimResolved = errors.New("dedup claim already resolved")

// Result of RegisterIfNew. Claim is set for New, Unique for AlreadyProcessed.
type Result struct {
	Outcome Outcome
	Unique  string
	Claim   *Claim
}

type entry struct {
	unique    string
	committed bool
	done      chan struct{}
}

type Index struct {
	mu    sync.Mutex
	users map[string]map[string]*entry
}

func NewIndex() *Index {
	return &Index{users: make(map[string]map[string]*entry)}
}

// RegisterIfNew classifies fingerprint for userID. It only returns an error
// when ctx ends while waiting on another caller's pending claim.
func (x *Index) RegisterIfNew(ctx context.Context, userID, fingerprint string) (Result, error) {
	for {
		x.mu.Lock()
		byFP, ok := x.users[userID]
		if !ok {
			byFP = make(map[string]*entry)
			x.users[userID] = byFP
		}
		e, ok := byFP[fingerprint]
		if !ok {
			e = &entry{done: make(chan struct{})}
			byFP[fingerprint] = e
			x.mu.Unlock()
			return Result{Outcome: New, Claim: &Claim{index: x, userID: userID, fingerprint: fingerprint, e: e}}, nil
		}
		if e.committed {
			unique := e.unique
			x.mu.Unlock()
			return Result{Outcome: AlreadyProcessed, Unique: unique}, nil
		}
		done := e.done
		x.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
}

// Forget drops userID's whole dedup history. A claim still pending for the
// user resolves without recording anything.
func (x *Index) Forget(userID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.users, userID)
}

// Reset drops every user's history.
func (x *Index) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.users = make(map[string]map[string]*entry)
}

// Claim is the right to run the pipeline for one (user, fingerprint) pair.
// Exactly one of Commit or Rollback must be called.
type Claim struct {
	index       *Index
	userID      string
	fingerprint string
	e           *entry
	resolved    bool
}

// Commit records unique as the artifact for the claimed pair and wakes
// waiters.
func (c *Claim) Commit(unique string) error {
	c.index.mu.Lock()
	defer c.index.mu.Unlock()
	if c.resolved {
		return ErrClaimResolved
	}
	c.resolved = true
	c.e.unique = unique
	c.e.committed = true
	close(c.e.done)
	return nil
}

// Rollback removes the pending placeholder so the pair is New again. It is a
// no-op after Commit, which makes it safe to defer.
func (c *Claim) Rollback() {
	c.index.mu.Lock()
	defer c.index.mu.Unlock()
	if c.resolved {
		return
	}
	c.resolved = true
	if byFP, ok := c.index.users[c.userID]; ok && byFP[c.fingerprint] == c.e {
		delete(byFP, c.fingerprint)
	}
	close(c.e.done)
}
