package field

import (
	"reflect"
	"time"
)

// Kind is the simplified enum of value families the conversion engine
// understands. Every declared Go type maps onto exactly one kind.
type Kind string

const (
	KindString  Kind = "string"
	KindInteger Kind = "integer"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindTime    Kind = "time"
	KindRecord  Kind = "record"
	KindList    Kind = "list"
	KindOpaque  Kind = "opaque"
)

// Scalar reports whether the kind converts element-wise without recursion.
func (k Kind) Scalar() bool {
	switch k {
	case KindString, KindInteger, KindNumber, KindBoolean:
		return true
	default:
		return false
	}
}

var timeType = reflect.TypeOf(time.Time{})

// KindOf maps a declared Go type onto the kind vocabulary. Pointers are
// unwrapped first: a pointer marks the field optional, it never changes the
// kind. Types with no conversion strategy (maps, interfaces, funcs, channels)
// are opaque and pass through untouched.
func KindOf(rt reflect.Type) Kind {
	if rt == nil {
		return KindOpaque
	}
	if rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if rt == timeType {
		return KindTime
	}
	switch rt.Kind() {
	case reflect.String:
		return KindString
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return KindInteger
	case reflect.Float32, reflect.Float64:
		return KindNumber
	case reflect.Bool:
		return KindBoolean
	case reflect.Struct:
		return KindRecord
	case reflect.Slice, reflect.Array:
		return KindList
	default:
		return KindOpaque
	}
}

// Elem carries the element metadata of a list field. For typed slices the
// element type is recovered by reflection; for []any fields it is declared
// through the element= tag option and resolved by name at conversion time.
type Elem struct {
	// Kind of a single element.
	Kind Kind

	// Type is the reflected element type. Nil when the element type is only
	// known by registered name (a []any field with element=).
	Type reflect.Type

	// TypeName is the registry name from an element= option, empty otherwise.
	TypeName string

	// Optional marks pointer-typed elements, which admit nil entries.
	Optional bool

	// TimeLayout applies the parent field's format to time elements.
	TimeLayout string
}

// Descriptor is the resolved metadata for a single exported struct field. The
// resolver computes descriptors once per record type and caches the slice;
// callers must not mutate a descriptor they did not build themselves.
type Descriptor struct {
	// Record is the type name of the struct the field belongs to. Carried so
	// errors raised far from the resolver can still name their origin.
	Record string

	// Name is the Go field name.
	Name string

	// Key is the external map key. Defaults to Name when the tag omits one.
	Key string

	// Kind drives conversion strategy selection.
	Kind Kind

	// Type is the declared field type with any pointer wrapper intact.
	Type reflect.Type

	// Index locates the field for reflect.Value.Field access.
	Index int

	// Optional fields tolerate absent and null input, yielding the zero
	// value. Pointer-typed fields are implicitly optional.
	Optional bool

	// Excluded fields never contribute to map output. Input handling is
	// unaffected: a supplied value is still converted and assigned.
	Excluded bool

	// HasDefault marks fields whose default literal fills absent input.
	HasDefault bool

	// Default holds the literal from the default= option, already coerced to
	// the field's internal representation at resolve time.
	Default any

	// TimeLayout is the reference-time layout for time fields. Required for
	// KindTime; empty for every other kind.
	TimeLayout string

	// Sanitize names the HTML sanitization policy applied to string input.
	// Empty disables sanitization.
	Sanitize string

	// Elem describes list elements. Nil unless Kind is KindList.
	Elem *Elem
}
