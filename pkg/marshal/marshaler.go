package marshal

import (
	"errors"
	"reflect"

	"github.com/goliatone/go-record/internal/resolve"
	"github.com/goliatone/go-record/pkg/field"
	"github.com/goliatone/go-record/pkg/registry"
)

// Option customises a Marshaler.
type Option func(*Marshaler)

// WithRegistry injects the registry used to resolve element= type names.
// Defaults to the shared registry.
func WithRegistry(reg *registry.Registry) Option {
	return func(m *Marshaler) {
		if reg != nil {
			m.registry = reg
		}
	}
}

// Marshaler converts records to generic maps and back using resolved field
// descriptors. It holds no per-call state: one instance serves any number of
// goroutines.
type Marshaler struct {
	registry *registry.Registry
}

// New constructs a Marshaler applying any provided options.
func New(options ...Option) *Marshaler {
	m := &Marshaler{}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(m)
	}
	if m.registry == nil {
		m.registry = registry.Default()
	}
	return m
}

var std = New()

// Default returns the marshaler behind the package-level functions.
func Default() *Marshaler {
	return std
}

// ToMap converts a record into a map keyed by each field's external key.
// Excluded fields are skipped; every other field contributes an entry, with
// nil standing in for unset optional values. Independent field failures are
// aggregated into one error.
func (m *Marshaler) ToMap(v any) (map[string]any, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, errors.New("marshal: cannot marshal nil record")
	}
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, errors.New("marshal: cannot marshal nil record")
		}
		rv = rv.Elem()
	}
	if _, err := resolve.Normalize(rv.Type()); err != nil {
		return nil, err
	}
	return m.structToMap(rv)
}

// FromMap hydrates target, a non-nil pointer to a record, from a generic
// map. Construction is all-or-nothing: on error the target is untouched.
// Unknown keys are ignored; missing keys fall back to defaults, then to the
// zero value for optional fields, and otherwise fail.
func (m *Marshaler) FromMap(data map[string]any, target any) error {
	rv := reflect.ValueOf(target)
	if !rv.IsValid() || rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.New("marshal: target must be a non-nil pointer to a record")
	}

	dest := rv.Elem()
	built, err := m.mapToStruct(dest.Type(), data)
	if err != nil {
		return err
	}

	if dest.Kind() == reflect.Pointer {
		ptr := reflect.New(built.Type())
		ptr.Elem().Set(built)
		dest.Set(ptr)
		return nil
	}
	dest.Set(built)
	return nil
}

// Describe returns the descriptor set for a record type. Accepts a value, a
// pointer, or a reflect.Type. The slice is shared with the resolver cache and
// must be treated as read-only.
func (m *Marshaler) Describe(v any) ([]field.Descriptor, error) {
	rt, ok := v.(reflect.Type)
	if !ok {
		rt = reflect.TypeOf(v)
	}
	return resolve.Type(rt)
}

func (m *Marshaler) structToMap(rv reflect.Value) (map[string]any, error) {
	descs, err := resolve.Type(rv.Type())
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(descs))
	var errs []error
	for _, desc := range descs {
		if desc.Excluded {
			continue
		}
		converted, err := m.toExternal(desc, rv.Field(desc.Index))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[desc.Key] = converted
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func (m *Marshaler) mapToStruct(rt reflect.Type, data map[string]any) (reflect.Value, error) {
	base, err := resolve.Normalize(rt)
	if err != nil {
		return reflect.Value{}, err
	}
	descs, err := resolve.Type(base)
	if err != nil {
		return reflect.Value{}, err
	}

	out := reflect.New(base).Elem()
	var errs []error
	for _, desc := range descs {
		raw, present := data[desc.Key]
		target := out.Field(desc.Index)
		switch {
		case present:
			if err := m.toInternal(desc, raw, target); err != nil {
				errs = append(errs, err)
			}
		case desc.HasDefault:
			setDefault(desc, target)
		case desc.Optional:
			// zero value stands
		default:
			errs = append(errs, &field.MissingFieldError{Type: desc.Record, Field: desc.Name, Key: desc.Key})
		}
	}
	if len(errs) > 0 {
		return reflect.Value{}, errors.Join(errs...)
	}
	return out, nil
}

func setDefault(desc field.Descriptor, target reflect.Value) {
	dv := reflect.ValueOf(desc.Default)
	if target.Kind() == reflect.Pointer {
		ptr := reflect.New(target.Type().Elem())
		ptr.Elem().Set(dv)
		target.Set(ptr)
		return
	}
	target.Set(dv)
}

// As converts a generic map into a typed record through m.
func As[T any](m *Marshaler, data map[string]any) (T, error) {
	var out T
	if err := m.FromMap(data, &out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// ToMap converts a record using the default marshaler.
func ToMap(v any) (map[string]any, error) {
	return std.ToMap(v)
}

// FromMap hydrates target using the default marshaler.
func FromMap(data map[string]any, target any) error {
	return std.FromMap(data, target)
}

// Describe resolves descriptors using the default marshaler.
func Describe(v any) ([]field.Descriptor, error) {
	return std.Describe(v)
}

// ClearCache drops every cached descriptor set. The cache is process-wide and
// shared by all marshalers; this exists for test isolation.
func ClearCache() {
	resolve.Reset()
}
