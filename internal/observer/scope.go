package observer

import (
	"context"
	"sync"
)

// State is the lifecycle state of a Scope. States are ordered; a
// registration is eligible while its scope is at or above its minimum.
type State int

const (
	Destroyed State = iota
	Initialized
	Created
	Started
	Resumed
)

func (s State) String() string {
	switch s {
	case Destroyed:
		return "destroyed"
	case Initialized:
		return "initialized"
	case Created:
		return "created"
	case Started:
		return "started"
	case Resumed:
		return "resumed"
	default:
		return "unknown"
	}
}

// AtLeast reports whether s is at or above min.
func (s State) AtLeast(min State) bool {
	return s >= min
}

type transitionFunc func(old, next State)

// Scope is an owner lifecycle that gates delivery and ends registrations.
// Destroyed is terminal.
type Scope struct {
	mu        sync.Mutex
	state     State
	listeners map[uint64]transitionFunc
	nextID    uint64
	done      chan struct{}
}

// NewScope returns a scope in the given state.
func NewScope(initial State) *Scope {
	s := &Scope{
		state:     initial,
		listeners: make(map[uint64]transitionFunc),
		done:      make(chan struct{}),
	}
	if initial == Destroyed {
		close(s.done)
	}
	return s
}

// ScopeFromContext returns a scope that is Resumed until ctx ends and then
// Destroyed.
func ScopeFromContext(ctx context.Context) *Scope {
	s := NewScope(Resumed)
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				s.End()
			case <-s.done:
			}
		}()
	}
	return s
}

// State returns the current state.
func (s *Scope) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the scope is destroyed.
func (s *Scope) Done() <-chan struct{} {
	return s.done
}

// SetState moves the scope to next and notifies watchers. Transitions out of
// Destroyed are ignored.
func (s *Scope) SetState(next State) {
	s.mu.Lock()
	old := s.state
	if old == Destroyed || old == next {
		s.mu.Unlock()
		return
	}
	s.state = next
	listeners := make([]transitionFunc, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	if next == Destroyed {
		s.listeners = make(map[uint64]transitionFunc)
		close(s.done)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(old, next)
	}
}

// End destroys the scope.
func (s *Scope) End() {
	s.SetState(Destroyed)
}

func (s *Scope) watch(fn transitionFunc) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}
