// Package observer fans identifier notifications out to lifecycle-scoped
// subscribers. Registrations end automatically when their Scope is
// destroyed, and each subscriber receives its notifications one at a time,
// in order, on a goroutine owned by the hub.
package observer

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"persistid/internal/logging"
)

// Callback receives identifier-ready notifications.
type Callback interface {
	OnReady(id string)
}

// ErrorHandler is optionally implemented by a Callback to learn that the
// initial resolution failed.
type ErrorHandler interface {
	OnError(err error)
}

// CallbackFunc adapts a function to Callback.
type CallbackFunc func(id string)

func (f CallbackFunc) OnReady(id string) { f(id) }

// Funcs adapts a pair of functions to Callback and ErrorHandler.
type Funcs struct {
	Ready func(id string)
	Error func(err error)
}

func (f *Funcs) OnReady(id string) {
	if f.Ready != nil {
		f.Ready(id)
	}
}

func (f *Funcs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

// Hub tracks the last known identifier and the registered subscribers.
type Hub struct {
	logger *slog.Logger

	mu    sync.Mutex
	last  string
	known bool
	regs  map[*registration]struct{}
}

// NewHub constructs an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logging.NewComponentLogger(logger, "observer"),
		regs:   make(map[*registration]struct{}),
	}
}

// Subscription is returned by Subscribe and may be cancelled early.
type Subscription struct {
	reg *registration
}

// Cancel removes the registration. It is safe to call more than once.
func (s *Subscription) Cancel() {
	if s == nil || s.reg == nil {
		return
	}
	s.reg.hub.remove(s.reg)
}

// Subscribe registers cb for scope at minState. When an identifier is
// already known and the scope is eligible it is delivered right away.
// Subscribing the same (comparable) callback again replaces the previous
// registration. A destroyed scope registers nothing.
func (h *Hub) Subscribe(scope *Scope, minState State, cb Callback) *Subscription {
	if scope == nil || cb == nil {
		return &Subscription{}
	}
	if minState < Initialized {
		minState = Initialized
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if isComparable(cb) {
		for existing := range h.regs {
			if isComparable(existing.cb) && existing.cb == cb {
				h.removeLocked(existing)
			}
		}
	}

	reg := &registration{hub: h, cb: cb, scope: scope, min: minState}
	h.regs[reg] = struct{}{}
	reg.stopWatch = scope.watch(func(_, next State) {
		h.onTransition(reg, next)
	})

	state := scope.State()
	if state == Destroyed {
		h.removeLocked(reg)
		return &Subscription{}
	}
	reg.eligible = state.AtLeast(minState)
	if reg.eligible && h.known {
		reg.enqueue(delivery{id: h.last})
	}
	return &Subscription{reg: reg}
}

// Ready records id as the known identifier. Subscribers are notified only
// when the hub did not know an identifier yet or it changed.
func (h *Hub) Ready(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.known && h.last == id {
		return
	}
	h.publishLocked(id)
}

// Update records id and notifies every currently eligible subscriber, even
// when the value is unchanged. Ineligible subscribers pick it up on their
// next transition into eligibility.
func (h *Hub) Update(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publishLocked(id)
}

// Reset forgets the known identifier.
func (h *Hub) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = ""
	h.known = false
}

// Fail notifies eligible subscribers implementing ErrorHandler.
func (h *Hub) Fail(err error) {
	if err == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for reg := range h.regs {
		if _, ok := reg.cb.(ErrorHandler); !ok {
			continue
		}
		if reg.eligible {
			reg.enqueue(delivery{err: err})
		}
	}
}

// Last returns the known identifier.
func (h *Hub) Last() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last, h.known
}

// Len reports the number of live registrations.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.regs)
}

func (h *Hub) publishLocked(id string) {
	h.last = id
	h.known = true
	for reg := range h.regs {
		if reg.eligible {
			reg.enqueue(delivery{id: id})
		}
	}
}

func (h *Hub) onTransition(reg *registration, next State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.regs[reg]; !ok {
		return
	}
	if next == Destroyed {
		h.removeLocked(reg)
		return
	}
	eligible := next.AtLeast(reg.min)
	if eligible && !reg.eligible && h.known {
		reg.enqueue(delivery{id: h.last})
	}
	reg.eligible = eligible
}

func (h *Hub) remove(reg *registration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(reg)
}

func (h *Hub) removeLocked(reg *registration) {
	if _, ok := h.regs[reg]; !ok {
		return
	}
	delete(h.regs, reg)
	reg.close()
	if reg.stopWatch != nil {
		go reg.stopWatch()
	}
}

func isComparable(cb Callback) bool {
	return reflect.TypeOf(cb).Comparable()
}

type delivery struct {
	id  string
	err error
}

// registration owns a serial mailbox. Fields below hub are guarded by the
// hub lock except the mailbox, which has its own.
type registration struct {
	hub       *Hub
	cb        Callback
	scope     *Scope
	min       State
	eligible  bool
	stopWatch func()

	mu      sync.Mutex
	pending []delivery
	running bool
	closed  bool
}

func (r *registration) enqueue(d delivery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.pending = append(r.pending, d)
	if !r.running {
		r.running = true
		go r.drain()
	}
}

func (r *registration) close() {
	r.mu.Lock()
	r.closed = true
	r.pending = nil
	r.mu.Unlock()
}

func (r *registration) drain() {
	for {
		r.mu.Lock()
		if len(r.pending) == 0 || r.closed {
			r.running = false
			r.pending = nil
			r.mu.Unlock()
			return
		}
		d := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()

		if !r.scope.State().AtLeast(r.min) {
			continue
		}
		r.deliver(d)
	}
}

func (r *registration) deliver(d delivery) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.WarnWithContext(r.hub.logger, "observer callback panicked", "observer_callback_panic",
				logging.String("panic", fmt.Sprint(rec)),
				logging.String(logging.FieldErrorHint, "fix the subscriber callback"),
				logging.String(logging.FieldImpact, "this notification was dropped for the subscriber"),
			)
		}
	}()
	if d.err != nil {
		if handler, ok := r.cb.(ErrorHandler); ok {
			handler.OnError(d.err)
		}
		return
	}
	r.cb.OnReady(d.id)
}
