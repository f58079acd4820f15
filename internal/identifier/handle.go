package identifier

import (
	"errors"
	"sync"
)

// Handle holds the process-wide Engine once it has been constructed.
type Handle struct {
	mu     sync.RWMutex
	engine *Engine
}

// Init installs e. A second Init without Reset fails.
func (h *Handle) Init(e *Engine) error {
	if e == nil {
		return errors.New("identifier: nil engine")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.engine != nil {
		return errors.New("identifier: handle already initialized")
	}
	h.engine = e
	return nil
}

// Engine returns the installed engine or an ErrUninitialized error.
func (h *Handle) Engine() (*Engine, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.engine == nil {
		return nil, uninitializedError("handle")
	}
	return h.engine, nil
}

// Initialized reports whether Init has been called.
func (h *Handle) Initialized() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.engine != nil
}

// Reset drops the installed engine so a later Init can install another.
func (h *Handle) Reset() {
	h.mu.Lock()
	h.engine = nil
	h.mu.Unlock()
}
