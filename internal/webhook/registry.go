package webhook

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Request is one inbound webhook delivery
type Request struct {
	Event      string
	Action     string
	Signature  string
	DeliveryID string
	Body       []byte
}

// Handler processes a verified delivery and returns a JSON-serializable result
type Handler func(ctx context.Context, req *Request) (any, error)

// Registry maps events, and optionally actions, to handlers. An event either
// has one catch-all handler or a set of per-action handlers, never both.
type Registry struct {
	mu     sync.RWMutex
	events map[string]*eventHandlers
}

type eventHandlers struct {
	catchAll Handler
	actions  map[string]Handler
}

// NewRegistry creates an empty handler registry
func NewRegistry() *Registry {
	return &Registry{
		events: make(map[string]*eventHandlers),
	}
}

// Register binds handler to event, or to event.action when action is non-empty.
// Names are case-insensitive. Mixing a catch-all and action handlers on one
// event fails with ErrConflictingHandler regardless of registration order.
func (r *Registry) Register(event, action string, handler Handler) error {
	if event == "" {
		return fmt.Errorf("register handler: event is required")
	}
	if handler == nil {
		return fmt.Errorf("register handler for %s: handler is nil", event)
	}

	event = strings.ToLower(event)
	action = strings.ToLower(action)

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.events[event]
	if !ok {
		entry = &eventHandlers{}
		r.events[event] = entry
	}

	if action == "" {
		if len(entry.actions) > 0 {
			return fmt.Errorf("%w: event %q already has action handlers", ErrConflictingHandler, event)
		}
		entry.catchAll = handler
		return nil
	}

	if entry.catchAll != nil {
		return fmt.Errorf("%w: event %q already has an event handler", ErrConflictingHandler, event)
	}
	if entry.actions == nil {
		entry.actions = make(map[string]Handler)
	}
	entry.actions[action] = handler
	return nil
}

// MustRegister is Register for startup wiring where a conflict is a programming error
func (r *Registry) MustRegister(event, action string, handler Handler) {
	if err := r.Register(event, action, handler); err != nil {
		panic(err)
	}
}

// Lookup resolves the handler for event and action
func (r *Registry) Lookup(event, action string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.events[strings.ToLower(event)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnhandledEvent, event)
	}
	if entry.catchAll != nil {
		return entry.catchAll, nil
	}
	if action == "" {
		return nil, fmt.Errorf("%w: %s has no action", ErrUnhandledAction, event)
	}

	handler, ok := entry.actions[strings.ToLower(action)]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnhandledAction, event, action)
	}
	return handler, nil
}

// Events returns the registered event names
func (r *Registry) Events() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := make([]string, 0, len(r.events))
	for event := range r.events {
		events = append(events, event)
	}
	return events
}
