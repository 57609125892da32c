// Package hooks carries deploy lifecycle notifications to registered
// listeners. Three notifications exist: "before" fires when a run starts,
// "after" fires when it finishes (with the error, if any), and "error"
// fires on failure in addition to the after notification.
package hooks

import (
	"sync"

	"github.com/hookworks/deploygate/internal/githook"
)

// BeforeFunc receives the payload about to be deployed.
type BeforeFunc func(payload *githook.PushPayload)

// AfterFunc receives the deployed payload and the run error (nil on success).
type AfterFunc func(payload *githook.PushPayload, err error)

// ErrorFunc receives the run error.
type ErrorFunc func(err error)

// Registry is a listener registry for deploy lifecycle notifications.
// Registration is expected at startup; emission happens per run. Listeners
// are invoked synchronously in registration order on the run's goroutine,
// so a slow listener delays the run's completion accounting but never a
// concurrent request.
type Registry struct {
	mu     sync.RWMutex
	before []BeforeFunc
	after  []AfterFunc
	errs   []ErrorFunc
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// OnBefore registers a listener for the before notification.
func (r *Registry) OnBefore(fn BeforeFunc) {
	r.mu.Lock()
	r.before = append(r.before, fn)
	r.mu.Unlock()
}

// OnAfter registers a listener for the after notification.
func (r *Registry) OnAfter(fn AfterFunc) {
	r.mu.Lock()
	r.after = append(r.after, fn)
	r.mu.Unlock()
}

// OnError registers a listener for the error notification.
func (r *Registry) OnError(fn ErrorFunc) {
	r.mu.Lock()
	r.errs = append(r.errs, fn)
	r.mu.Unlock()
}

// EmitBefore notifies before listeners that a run is starting.
func (r *Registry) EmitBefore(payload *githook.PushPayload) {
	r.mu.RLock()
	listeners := r.before
	r.mu.RUnlock()

	for _, fn := range listeners {
		fn(payload)
	}
}

// EmitAfter notifies after listeners that a run finished. err is nil on
// success.
func (r *Registry) EmitAfter(payload *githook.PushPayload, err error) {
	r.mu.RLock()
	listeners := r.after
	r.mu.RUnlock()

	for _, fn := range listeners {
		fn(payload, err)
	}
}

// EmitError notifies error listeners of a failed run.
func (r *Registry) EmitError(err error) {
	r.mu.RLock()
	listeners := r.errs
	r.mu.RUnlock()

	for _, fn := range listeners {
		fn(err)
	}
}
