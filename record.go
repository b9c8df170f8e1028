// Package record converts between tagged Go structs and generic
// string-keyed maps. Field behavior is declared once, as struct tags under
// the record key, and resolved into cached descriptors that drive both
// directions of the conversion. The root package fronts the everyday
// operations; pkg/marshal, pkg/dispatch, pkg/schema, and pkg/prompt expose
// the full surfaces.
package record

import (
	"github.com/goliatone/go-record/pkg/field"
	"github.com/goliatone/go-record/pkg/marshal"
	"github.com/goliatone/go-record/pkg/registry"
)

// Descriptor is the resolved metadata of a single record field.
type Descriptor = field.Descriptor

// Kind is the value-family vocabulary descriptors use.
type Kind = field.Kind

// Error types surfaced by conversions; see pkg/marshal for details.
type (
	InvalidMetadataError = marshal.InvalidMetadataError
	MissingFieldError    = marshal.MissingFieldError
	TypeCoercionError    = marshal.TypeCoercionError
	DateFormatError      = marshal.DateFormatError
	PathError            = marshal.PathError
)

// Register adds T to the shared registry under the given name, defaulting to
// the bare type name. Registered types are addressable by element=
// declarations, dispatch arguments, and schema components.
func Register[T any](name ...string) error {
	return registry.Add[T](registry.Default(), name...)
}

// MustRegister is Register, panicking on error.
func MustRegister[T any](name ...string) {
	registry.MustAdd[T](registry.Default(), name...)
}

// ToMap converts a record into its generic map representation.
func ToMap(v any) (map[string]any, error) {
	return marshal.ToMap(v)
}

// FromMap fills the record pointed to by target from a generic map.
func FromMap(data map[string]any, target any) error {
	return marshal.FromMap(data, target)
}

// As builds a new T from a generic map.
func As[T any](data map[string]any) (T, error) {
	return marshal.As[T](marshal.Default(), data)
}

// Describe returns the resolved field descriptors of a record type, in
// declaration order.
func Describe(v any) ([]Descriptor, error) {
	return marshal.Describe(v)
}

// ClearCache drops all resolved descriptors. Intended for tests that change
// registration state between cases.
func ClearCache() {
	marshal.ClearCache()
}
