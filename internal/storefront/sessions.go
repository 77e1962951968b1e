package storefront

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/joao-fontenele/storefront/internal/flow"
)

// Factory builds the controller of a session the first time it is seen.
type Factory func(ctx context.Context, sessionID string) (*flow.Controller, error)

type session struct {
	ctrl     *flow.Controller
	lastSeen time.Time
}

// Sessions keeps one checkout controller per shopper session in memory.
// Carts outlive their session entry through the cart repository; checkout
// progress does not.
type Sessions struct {
	mu       sync.Mutex
	factory  Factory
	now      func() time.Time
	sessions map[string]*session
	building singleflight.Group
}

func NewSessions(factory Factory) *Sessions {
	return &Sessions{
		factory:  factory,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// Get returns the controller of session id, building it on first use. The
// factory runs outside the registry lock and concurrent first requests for
// the same id share one build.
func (s *Sessions) Get(ctx context.Context, id string) (*flow.Controller, error) {
	if ctrl, ok := s.lookup(id); ok {
		return ctrl, nil
	}

	v, err, _ := s.building.Do(id, func() (any, error) {
		if ctrl, ok := s.lookup(id); ok {
			return ctrl, nil
		}
		ctrl, err := s.factory(ctx, id)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if sess, ok := s.sessions[id]; ok {
			sess.lastSeen = s.now()
			return sess.ctrl, nil
		}
		s.sessions[id] = &session{ctrl: ctrl, lastSeen: s.now()}
		return ctrl, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*flow.Controller), nil
}

func (s *Sessions) lookup(id string) (*flow.Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	sess.lastSeen = s.now()
	return sess.ctrl, true
}

// Sweep forgets sessions idle for longer than idle and returns how many went.
// Sessions with an order submission in flight are kept.
func (s *Sessions) Sweep(idle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-idle)
	n := 0
	for id, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) && !sess.ctrl.Checkout().IsProcessing() {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
