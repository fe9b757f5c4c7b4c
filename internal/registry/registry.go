// Package registry is the catalogue of known backends: remote hosted APIs
// and launchable local model profiles. Read-mostly after startup; hot
// registration is allowed and never disturbs running instances.
package registry

import "sync"

// unknownBackendError signals an unresolvable backend name for 404 mapping.
type unknownBackendError struct{ name string }

func (e unknownBackendError) Error() string { return "unknown backend: " + e.name }

// ErrUnknownBackend constructs the error returned for unregistered names.
func ErrUnknownBackend(name string) error { return unknownBackendError{name: name} }

// IsUnknownBackend reports whether err indicates a missing backend name.
func IsUnknownBackend(err error) bool {
	_, ok := err.(unknownBackendError)
	return ok
}

// duplicateBackendError signals a name collision on registration.
type duplicateBackendError struct{ name string }

func (e duplicateBackendError) Error() string { return "backend already registered: " + e.name }

// IsDuplicateBackend reports whether err indicates a registration collision.
func IsDuplicateBackend(err error) bool {
	_, ok := err.(duplicateBackendError)
	return ok
}

// Registry holds descriptors by name.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Descriptor
	order  []string
}

func New() *Registry {
	return &Registry{byName: make(map[string]Descriptor)}
}

// Register adds a descriptor. Names are unique; re-registering an existing
// name fails so an already-running instance can never change profile
// underneath the scheduler.
func (r *Registry) Register(d Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	d = d.withDefaults()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[d.Name]; exists {
		return duplicateBackendError{name: d.Name}
	}
	r.byName[d.Name] = d
	r.order = append(r.order, d.Name)
	return nil
}

// Resolve looks up a descriptor by name.
func (r *Registry) Resolve(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	if !ok {
		return Descriptor{}, unknownBackendError{name: name}
	}
	return d, nil
}

// List returns descriptors in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}
