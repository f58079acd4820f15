// Package broadcast provides a single-slot holder that always exposes the
// latest value and fans it out to any number of subscribers.
package broadcast

import (
	"context"
	"sync"
)

// Value holds the most recent T. Subscribers receive the current value on
// subscription and every later update; a slow subscriber only ever sees the
// newest value it has not consumed yet.
type Value[T any] struct {
	mu     sync.Mutex
	val    T
	set    bool
	subs   map[*subscriber[T]]struct{}
	closed bool
}

type subscriber[T any] struct {
	ch chan T
}

// New returns a Value with no current value.
func New[T any]() *Value[T] {
	return &Value[T]{subs: make(map[*subscriber[T]]struct{})}
}

// Load returns the current value and whether one is set.
func (v *Value[T]) Load() (T, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.val, v.set
}

// Store replaces the current value and notifies subscribers.
func (v *Value[T]) Store(val T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.val = val
	v.set = true
	for sub := range v.subs {
		offerLatest(sub.ch, val)
	}
}

// Subscribe returns a channel that receives the current value (if any) and
// every later update until ctx ends or the Value is closed, after which the
// channel is closed.
func (v *Value[T]) Subscribe(ctx context.Context) <-chan T {
	sub := &subscriber[T]{ch: make(chan T, 1)}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		close(sub.ch)
		return sub.ch
	}
	if v.set {
		sub.ch <- v.val
	}
	v.subs[sub] = struct{}{}
	v.mu.Unlock()

	if ctx.Done() == nil {
		return sub.ch
	}
	go func() {
		<-ctx.Done()
		v.mu.Lock()
		defer v.mu.Unlock()
		if _, ok := v.subs[sub]; ok {
			delete(v.subs, sub)
			close(sub.ch)
		}
	}()
	return sub.ch
}

// Subscribers reports the number of live subscriptions.
func (v *Value[T]) Subscribers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.subs)
}

// Close ends every subscription. Later Store calls are ignored.
func (v *Value[T]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	for sub := range v.subs {
		delete(v.subs, sub)
		close(sub.ch)
	}
}

// offerLatest replaces any unread value in ch with val. Callers hold the
// Value lock, so this is the only sender and the send cannot block.
func offerLatest[T any](ch chan T, val T) {
	select {
	case <-ch:
	default:
	}
	ch <- val
}
