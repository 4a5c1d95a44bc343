// Package session holds the per-domain state that lets the dispatcher learn
// when a plain HTTP request can stand in for a full browser render, and
// implements the two fetch pipelines (BrowserFlow, PlainFlow) that back it.
package session

import (
	"sync"

	"github.com/Rorqualx/alita/internal/cookieset"
)

// State is the learned context for one domain: the cookie jar a browser run
// last produced, whether a browser run has ever completed, and the request
// headers a real browser sent for the document — reused verbatim by
// PlainFlow so a plain HTTP client looks like the same browser to the
// origin.
//
// Every field is only ever read or written while Lock is held; the
// dispatcher serializes all work for a domain behind it so a single
// in-flight fetch can never race with another for the same state.
type State struct {
	Lock sync.Mutex

	Cookies        []cookieset.State
	Initialized    bool
	RequestHeaders map[string]string
}

// Store is a domain-keyed map of State, created lazily and retained for the
// life of the process.
type Store struct {
	mu     sync.Mutex
	states map[string]*State
}

// NewStore builds an empty Store.
func NewStore() *Store {
	return &Store{states: make(map[string]*State)}
}

// Get returns the State for domain, creating it on first use.
func (s *Store) Get(domain string) *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[domain]
	if !ok {
		state = &State{}
		s.states[domain] = state
	}
	return state
}
