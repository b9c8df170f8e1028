// Package resolve turns record struct tags into descriptor sets. Resolution
// happens once per type: the first successful build is published to a
// process-wide cache and every later caller shares the same immutable slice.
// Failed resolutions are never cached, so a type that depends on late
// registrations can succeed on a later attempt.
package resolve

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/goliatone/go-record/internal/sanitize"
	"github.com/goliatone/go-record/pkg/field"
)

// TagName is the struct tag key the resolver reads.
const TagName = "record"

var (
	mu    sync.RWMutex
	cache = make(map[reflect.Type][]field.Descriptor)
)

// Type resolves the descriptor set for a record type. rt must be a struct or
// pointer to struct. The returned slice is shared: callers must not mutate it.
func Type(rt reflect.Type) ([]field.Descriptor, error) {
	base, err := Normalize(rt)
	if err != nil {
		return nil, err
	}

	mu.RLock()
	descs, ok := cache[base]
	mu.RUnlock()
	if ok {
		return descs, nil
	}

	built, err := build(base)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	if existing, ok := cache[base]; ok {
		// Another goroutine published first; both slices are equivalent, keep
		// the published one so every caller shares a single backing array.
		return existing, nil
	}
	cache[base] = built
	return built, nil
}

// Reset clears the descriptor cache. Intended for test isolation.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	cache = make(map[reflect.Type][]field.Descriptor)
}

// Normalize unwraps pointers and verifies rt is a struct type.
func Normalize(rt reflect.Type) (reflect.Type, error) {
	if rt == nil {
		return nil, &field.InvalidMetadataError{Type: "<nil>", Reason: "not a struct type"}
	}
	if rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if rt.Kind() != reflect.Struct {
		return nil, &field.InvalidMetadataError{Type: rt.String(), Reason: "not a struct type"}
	}
	return rt, nil
}

func build(rt reflect.Type) ([]field.Descriptor, error) {
	owner := typeName(rt)
	descs := make([]field.Descriptor, 0, rt.NumField())
	keys := make(map[string]string, rt.NumField())

	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag := sf.Tag.Get(TagName)
		if tag == "-" {
			continue
		}

		desc, err := buildField(owner, sf, i, tag)
		if err != nil {
			return nil, err
		}

		if prev, dup := keys[desc.Key]; dup {
			return nil, &field.InvalidMetadataError{
				Type:   owner,
				Field:  sf.Name,
				Reason: fmt.Sprintf("key %q already used by field %s", desc.Key, prev),
			}
		}
		keys[desc.Key] = sf.Name
		descs = append(descs, desc)
	}

	return descs, nil
}

func buildField(owner string, sf reflect.StructField, index int, tag string) (field.Descriptor, error) {
	key, opts, err := parseTag(tag)
	if err != nil {
		return field.Descriptor{}, &field.InvalidMetadataError{Type: owner, Field: sf.Name, Reason: err.Error()}
	}
	if key == "" {
		key = sf.Name
	}

	desc := field.Descriptor{
		Record:   owner,
		Name:     sf.Name,
		Key:      key,
		Kind:     field.KindOf(sf.Type),
		Type:     sf.Type,
		Index:    index,
		Optional: sf.Type.Kind() == reflect.Pointer,
	}

	fail := func(reason string) (field.Descriptor, error) {
		return field.Descriptor{}, &field.InvalidMetadataError{Type: owner, Field: sf.Name, Reason: reason}
	}

	var rawDefault string
	var hasRawDefault bool

	for _, opt := range opts {
		switch opt.name {
		case "format":
			if opt.value == "" {
				return fail("format option requires a value")
			}
			layout, err := layoutFor(opt.value)
			if err != nil {
				return fail(err.Error())
			}
			desc.TimeLayout = layout
		case "element":
			if opt.value == "" {
				return fail("element option requires a value")
			}
			if desc.Kind != field.KindList || !isAnySlice(sf.Type) {
				return fail("element option requires a []any field")
			}
			desc.Elem = &field.Elem{Kind: field.KindRecord, TypeName: opt.value}
		case "exclude":
			if opt.hasValue {
				return fail("exclude option takes no value")
			}
			desc.Excluded = true
		case "optional":
			if opt.hasValue {
				return fail("optional option takes no value")
			}
			desc.Optional = true
		case "default":
			if !opt.hasValue {
				return fail("default option requires a value")
			}
			rawDefault = opt.value
			hasRawDefault = true
		case "sanitize":
			policy := opt.value
			if policy == "" {
				policy = sanitize.PolicyStrict
			}
			if !sanitize.Known(policy) {
				return fail(fmt.Sprintf("unknown sanitize policy %q", policy))
			}
			if desc.Kind != field.KindString {
				return fail("sanitize option requires a string field")
			}
			desc.Sanitize = policy
		default:
			return fail(fmt.Sprintf("unknown option %q", opt.name))
		}
	}

	switch desc.Kind {
	case field.KindTime:
		if desc.TimeLayout == "" {
			return fail("time field requires a format option")
		}
	case field.KindList:
		if desc.Elem == nil {
			desc.Elem = ElemOf(sf.Type, desc.TimeLayout)
		}
		if desc.Elem.Kind == field.KindTime && desc.Elem.TimeLayout == "" {
			return fail("time elements require a format option")
		}
		if desc.TimeLayout != "" && desc.Elem.Kind != field.KindTime {
			return fail("format option requires a time field")
		}
	default:
		if desc.TimeLayout != "" {
			return fail("format option requires a time field")
		}
	}

	if hasRawDefault {
		value, err := parseDefault(rawDefault, desc)
		if err != nil {
			return fail(err.Error())
		}
		desc.HasDefault = true
		desc.Default = value
	}

	return desc, nil
}

// ElemOf recovers element metadata for typed slices and arrays. []any fields
// without an element declaration stay opaque and pass through untouched. The
// conversion engine reuses it to descend into nested lists.
func ElemOf(rt reflect.Type, layout string) *field.Elem {
	base := rt
	if base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	et := base.Elem()
	elem := &field.Elem{
		Kind:     field.KindOf(et),
		Type:     et,
		Optional: et.Kind() == reflect.Pointer,
	}
	if elem.Kind == field.KindTime {
		elem.TimeLayout = layout
	}
	return elem
}

func isAnySlice(rt reflect.Type) bool {
	if rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if rt.Kind() != reflect.Slice && rt.Kind() != reflect.Array {
		return false
	}
	et := rt.Elem()
	return et.Kind() == reflect.Interface && et.NumMethod() == 0
}

func typeName(rt reflect.Type) string {
	if name := rt.Name(); name != "" {
		return name
	}
	return rt.String()
}
