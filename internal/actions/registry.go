package actions

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"testnerd/internal/logging"
)

// Registry maps action types to handlers. Lookups are normalized, so
// "dismiss overlay", "Dismiss-Overlay" and DISMISS_OVERLAY are the same key.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// NewRegistryWith registers every handler and fails on the first duplicate.
func NewRegistryWith(handlers ...Handler) (*Registry, error) {
	r := NewRegistry()
	for _, h := range handlers {
		if err := r.Register(h); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Default returns a registry holding the built-in handlers.
func Default() (*Registry, error) {
	return NewRegistryWith(Builtins()...)
}

// NormalizeActionType upper-cases name and maps spaces and dashes to single
// underscores.
func NormalizeActionType(name string) string {
	fields := strings.FieldsFunc(strings.ToUpper(strings.TrimSpace(name)), func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '\t'
	})
	return strings.Join(fields, "_")
}

// Register adds a handler. Registering a second handler for the same
// normalized action type is an error.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return ErrHandlerNil
	}
	key := NormalizeActionType(h.ActionType())
	if key == "" {
		return ErrActionTypeEmpty
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[key]; exists {
		return fmt.Errorf("%w: %s", ErrHandlerAlreadyRegistered, key)
	}
	r.handlers[key] = h
	logging.ActionsDebug("Registered handler: %s", key)
	return nil
}

// MustRegister registers a handler and panics on error.
// Use this for static registration at startup.
func (r *Registry) MustRegister(h Handler) {
	if err := r.Register(h); err != nil {
		panic(fmt.Sprintf("failed to register handler: %v", err))
	}
}

// Find returns the handler for actionType.
func (r *Registry) Find(actionType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[NormalizeActionType(actionType)]
	return h, ok
}

// Has reports whether a handler serves actionType.
func (r *Registry) Has(actionType string) bool {
	_, ok := r.Find(actionType)
	return ok
}

// Names returns the registered action types, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered handlers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
