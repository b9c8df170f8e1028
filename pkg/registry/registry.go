// Package registry maps stable names onto record types. Names are what the
// element= tag option, queued job payloads, and exported schema components use
// to refer to a Go type across process boundaries.
package registry

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Registry stores record types by name, providing discovery and duplication
// safeguards. The zero value is not usable; call New.
type Registry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
	names map[reflect.Type]string
}

// New creates an empty registry instance.
func New() *Registry {
	return &Registry{
		types: make(map[string]reflect.Type),
		names: make(map[reflect.Type]string),
	}
}

var defaultRegistry = New()

// Default returns the shared registry backing the package-level facade.
func Default() *Registry {
	return defaultRegistry
}

// Register adds a record type under the given name. The type must be a struct
// or pointer to struct; pointers are stored as their element type. Registering
// the same type under the same name again is a no-op, while reusing a name for
// a different type returns an error.
func (r *Registry) Register(name string, rt reflect.Type) error {
	if name == "" {
		return fmt.Errorf("registry: name is required")
	}
	normalized, err := normalize(rt)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.types[name]; ok {
		if existing == normalized {
			return nil
		}
		return fmt.Errorf("registry: name %q already registered for %s", name, existing)
	}

	r.types[name] = normalized
	if _, ok := r.names[normalized]; !ok {
		r.names[normalized] = name
	}
	return nil
}

// MustRegister panics on registration failure. Useful for init-time wiring.
func (r *Registry) MustRegister(name string, rt reflect.Type) {
	if err := r.Register(name, rt); err != nil {
		panic(err)
	}
}

// Lookup retrieves a record type by name.
func (r *Registry) Lookup(name string) (reflect.Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rt, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("registry: type %q not found", name)
	}
	return rt, nil
}

// TypeName reports the name a type was first registered under. Pointer types
// resolve through their element type.
func (r *Registry) TypeName(rt reflect.Type) (string, bool) {
	normalized, err := normalize(rt)
	if err != nil {
		return "", false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.names[normalized]
	return name, ok
}

// List returns a sorted list of registered names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.types[name]
	return ok
}

// Reset removes every registration. Intended for test isolation.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.types = make(map[string]reflect.Type)
	r.names = make(map[reflect.Type]string)
}

// Add registers T under the supplied name, defaulting to the bare type name
// when omitted.
func Add[T any](r *Registry, name ...string) error {
	rt := reflect.TypeOf((*T)(nil)).Elem()
	target := ""
	if len(name) > 0 {
		target = name[0]
	}
	if target == "" {
		normalized, err := normalize(rt)
		if err != nil {
			return err
		}
		target = normalized.Name()
		if target == "" {
			return fmt.Errorf("registry: anonymous type %s needs an explicit name", rt)
		}
	}
	return r.Register(target, rt)
}

// MustAdd panics when Add fails.
func MustAdd[T any](r *Registry, name ...string) {
	if err := Add[T](r, name...); err != nil {
		panic(err)
	}
}

func normalize(rt reflect.Type) (reflect.Type, error) {
	if rt == nil {
		return nil, fmt.Errorf("registry: type is required")
	}
	if rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if rt.Kind() != reflect.Struct {
		return nil, fmt.Errorf("registry: %s is not a struct type", rt)
	}
	return rt, nil
}
