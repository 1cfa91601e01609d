package connection

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// UpdateListener receives decoded status envelopes.
type UpdateListener func(Envelope)

// ErrorListener receives error events.
type ErrorListener func(ErrorEvent)

// StateListener receives connection state transitions.
type StateListener func(old, new State)

// Subscription removes its listener when cancelled. Cancel is idempotent
// and safe to call after the owning Supervisor has been closed.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Cancel removes exactly the associated listener. Repeated calls are a
// no-op.
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// registry fans events out to three independent listener sets. A listener
// that panics is logged and skipped; it is neither removed nor allowed to
// interrupt delivery to the remaining listeners.
type registry struct {
	logger *slog.Logger

	mu      sync.Mutex
	updates map[uuid.UUID]UpdateListener
	errors  map[uuid.UUID]ErrorListener
	states  map[uuid.UUID]StateListener
}

func newRegistry(logger *slog.Logger) *registry {
	return &registry{
		logger:  logger,
		updates: make(map[uuid.UUID]UpdateListener),
		errors:  make(map[uuid.UUID]ErrorListener),
		states:  make(map[uuid.UUID]StateListener),
	}
}

func (r *registry) subscribeUpdates(fn UpdateListener) *Subscription {
	id := uuid.New()
	r.mu.Lock()
	r.updates[id] = fn
	r.mu.Unlock()

	return &Subscription{cancel: func() {
		r.mu.Lock()
		delete(r.updates, id)
		r.mu.Unlock()
	}}
}

func (r *registry) subscribeErrors(fn ErrorListener) *Subscription {
	id := uuid.New()
	r.mu.Lock()
	r.errors[id] = fn
	r.mu.Unlock()

	return &Subscription{cancel: func() {
		r.mu.Lock()
		delete(r.errors, id)
		r.mu.Unlock()
	}}
}

func (r *registry) subscribeStates(fn StateListener) *Subscription {
	id := uuid.New()
	r.mu.Lock()
	r.states[id] = fn
	r.mu.Unlock()

	return &Subscription{cancel: func() {
		r.mu.Lock()
		delete(r.states, id)
		r.mu.Unlock()
	}}
}

func (r *registry) emitUpdate(env Envelope) {
	r.mu.Lock()
	listeners := make([]UpdateListener, 0, len(r.updates))
	for _, fn := range r.updates {
		listeners = append(listeners, fn)
	}
	r.mu.Unlock()

	for _, fn := range listeners {
		r.invoke("update", func() { fn(env) })
	}
}

func (r *registry) emitError(ev ErrorEvent) {
	r.mu.Lock()
	listeners := make([]ErrorListener, 0, len(r.errors))
	for _, fn := range r.errors {
		listeners = append(listeners, fn)
	}
	r.mu.Unlock()

	for _, fn := range listeners {
		r.invoke("error", func() { fn(ev) })
	}
}

func (r *registry) emitState(old, new State) {
	r.mu.Lock()
	listeners := make([]StateListener, 0, len(r.states))
	for _, fn := range r.states {
		listeners = append(listeners, fn)
	}
	r.mu.Unlock()

	for _, fn := range listeners {
		r.invoke("state", func() { fn(old, new) })
	}
}

// invoke runs one listener with panic isolation.
func (r *registry) invoke(kind string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("listener panic", "kind", kind, "panic", rec)
		}
	}()
	fn()
}
