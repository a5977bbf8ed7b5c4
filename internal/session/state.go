// Package session holds the identity of one client session.
//
// A State is bound to a client session id. After Init it mirrors what the
// identity provider reports for that id: a user after sign-in, nil after
// sign-out. Readers poll Current or wait on Changes.
package session

import (
	"sync"

	"spendly/internal/identity"
)

// Source is the part of the identity provider a State listens to.
type Source interface {
	Subscribe(sid string, fn func(*identity.User)) (unsubscribe func())
}

type State struct {
	sid    string
	source Source

	mu          sync.RWMutex
	user        *identity.User
	initialized bool
	torndown    bool
	unsubscribe func()
	changes     chan *identity.User
}

// New returns a State for sid seeded with the identity already resolved for
// the request, if any. It reports nothing until Init.
func New(source Source, sid string, initial *identity.User) *State {
	return &State{
		sid:     sid,
		source:  source,
		user:    initial,
		changes: make(chan *identity.User, 1),
	}
}

// Init subscribes to identity changes and marks the state ready. Calling it
// again is a no-op.
func (s *State) Init() {
	s.mu.Lock()
	if s.initialized || s.torndown {
		s.mu.Unlock()
		return
	}
	s.initialized = true
	s.mu.Unlock()

	unsubscribe := s.source.Subscribe(s.sid, s.set)

	s.mu.Lock()
	if s.torndown {
		s.mu.Unlock()
		unsubscribe()
		return
	}
	s.unsubscribe = unsubscribe
	s.mu.Unlock()
}

func (s *State) set(u *identity.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.torndown {
		return
	}
	s.user = u

	// Only the latest identity matters to a reader.
	select {
	case <-s.changes:
	default:
	}
	select {
	case s.changes <- u:
	default:
	}
}

// Current returns the signed-in user and whether Init has run.
func (s *State) Current() (*identity.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user, s.initialized
}

// Changes delivers the newest identity after each change. Intermediate
// values may be dropped.
func (s *State) Changes() <-chan *identity.User { return s.changes }

// Teardown stops listening for changes. It is safe to call more than once.
func (s *State) Teardown() {
	s.mu.Lock()
	if s.torndown {
		s.mu.Unlock()
		return
	}
	s.torndown = true
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}
