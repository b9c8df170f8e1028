// Package schema renders record metadata as OpenAPI 3 schemas, so the shape
// a record marshals to can be published to API consumers. Field keys become
// property names, optionality becomes nullable, excluded fields become
// writeOnly, and time layouts travel in an x-record-format extension.
//
// Recursive record types must be registered so cycles become component
// references; an unregistered cycle fails with an invalid metadata error.
package schema

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/goliatone/go-record/internal/resolve"
	"github.com/goliatone/go-record/pkg/field"
	"github.com/goliatone/go-record/pkg/registry"
)

const (
	// FormatExtension carries the Go time layout a field marshals with.
	FormatExtension = "x-record-format"
	// SanitizeExtension names the sanitization policy applied on input.
	SanitizeExtension = "x-record-sanitize"

	componentRefPrefix = "#/components/schemas/"
)

// Option customises the exporter configuration.
type Option func(*Exporter)

// WithRegistry injects the registry used to resolve declared element types
// and to emit component references for registered records. Defaults to the
// shared registry.
func WithRegistry(r *registry.Registry) Option {
	return func(e *Exporter) {
		e.registry = r
	}
}

// Exporter converts resolved record descriptors into OpenAPI schemas. Nested
// record fields whose types are registered are emitted as $ref entries;
// unregistered ones are inlined.
type Exporter struct {
	registry *registry.Registry
}

// New constructs an Exporter applying any provided options.
func New(options ...Option) *Exporter {
	e := &Exporter{}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(e)
	}
	if e.registry == nil {
		e.registry = registry.Default()
	}
	return e
}

// ForType exports the schema for a record type. rt must be a struct or
// pointer to struct; the root schema is always concrete, never a reference.
func (e *Exporter) ForType(rt reflect.Type) (*openapi3.Schema, error) {
	base, err := resolve.Normalize(rt)
	if err != nil {
		return nil, err
	}
	return e.object(base, &inlineStack{})
}

// Components exports every registered record keyed by its registered name,
// with cross-references between them.
func (e *Exporter) Components() (openapi3.Schemas, error) {
	names := e.registry.List()
	if len(names) == 0 {
		return nil, errors.New("schema: no registered records to export")
	}

	out := make(openapi3.Schemas, len(names))
	for _, name := range names {
		rt, err := e.registry.Lookup(name)
		if err != nil {
			return nil, err
		}
		schema, err := e.object(rt, &inlineStack{})
		if err != nil {
			return nil, fmt.Errorf("schema: component %q: %w", name, err)
		}
		out[name] = openapi3.NewSchemaRef("", schema)
	}
	return out, nil
}

// inlineStack records the types on the current inline expansion path.
// Registered types terminate as component references before reaching it.
type inlineStack struct {
	types []reflect.Type
}

func (s *inlineStack) contains(rt reflect.Type) bool {
	for _, t := range s.types {
		if t == rt {
			return true
		}
	}
	return false
}

func (s *inlineStack) push(rt reflect.Type) {
	s.types = append(s.types, rt)
}

func (s *inlineStack) pop() {
	s.types = s.types[:len(s.types)-1]
}

func (e *Exporter) object(rt reflect.Type, stack *inlineStack) (*openapi3.Schema, error) {
	if stack.contains(rt) {
		name := rt.Name()
		if name == "" {
			name = rt.String()
		}
		return nil, &field.InvalidMetadataError{
			Type:   name,
			Reason: "inline expansion cycles back to this type; register it so the cycle becomes a component reference",
		}
	}
	stack.push(rt)
	defer stack.pop()

	descs, err := resolve.Type(rt)
	if err != nil {
		return nil, err
	}

	out := &openapi3.Schema{
		Type:       &openapi3.Types{openapi3.TypeObject},
		Properties: make(openapi3.Schemas, len(descs)),
	}
	for i := range descs {
		desc := &descs[i]
		prop, err := e.property(desc, stack)
		if err != nil {
			return nil, err
		}
		out.Properties[desc.Key] = prop
		if !desc.Optional && !desc.HasDefault {
			out.Required = append(out.Required, desc.Key)
		}
	}
	return out, nil
}

// property renders one descriptor, folding the field decorations onto the
// value schema. Decorations beside a bare $ref would be ignored by OpenAPI
// tooling, so decorated references are wrapped in an allOf.
func (e *Exporter) property(desc *field.Descriptor, stack *inlineStack) (*openapi3.SchemaRef, error) {
	ref, err := e.valueSchema(desc, stack)
	if err != nil {
		return nil, err
	}

	decorated := desc.Optional || desc.Excluded || desc.HasDefault || desc.Sanitize != ""
	if !decorated {
		return ref, nil
	}

	target := ref.Value
	if ref.Ref != "" {
		target = &openapi3.Schema{AllOf: openapi3.SchemaRefs{ref}}
		ref = openapi3.NewSchemaRef("", target)
	}

	target.Nullable = desc.Optional
	target.WriteOnly = desc.Excluded
	if desc.HasDefault {
		target.Default = exportDefault(desc)
	}
	if desc.Sanitize != "" {
		setExtension(target, SanitizeExtension, desc.Sanitize)
	}
	return ref, nil
}

func (e *Exporter) valueSchema(desc *field.Descriptor, stack *inlineStack) (*openapi3.SchemaRef, error) {
	switch desc.Kind {
	case field.KindString:
		return concrete(&openapi3.Schema{Type: &openapi3.Types{openapi3.TypeString}}), nil
	case field.KindInteger:
		return concrete(integerSchema(desc.Type)), nil
	case field.KindNumber:
		return concrete(numberSchema(desc.Type)), nil
	case field.KindBoolean:
		return concrete(&openapi3.Schema{Type: &openapi3.Types{openapi3.TypeBoolean}}), nil
	case field.KindTime:
		return concrete(timeSchema(desc.TimeLayout)), nil
	case field.KindRecord:
		return e.recordSchema(desc.Type, "", stack)
	case field.KindList:
		items, err := e.elemSchema(desc, desc.Elem, stack)
		if err != nil {
			return nil, err
		}
		return concrete(&openapi3.Schema{
			Type:  &openapi3.Types{openapi3.TypeArray},
			Items: items,
		}), nil
	default:
		// Opaque fields accept any payload.
		return concrete(&openapi3.Schema{}), nil
	}
}

func (e *Exporter) elemSchema(desc *field.Descriptor, elem *field.Elem, stack *inlineStack) (*openapi3.SchemaRef, error) {
	switch elem.Kind {
	case field.KindString:
		return concrete(&openapi3.Schema{Type: &openapi3.Types{openapi3.TypeString}}), nil
	case field.KindInteger:
		return concrete(integerSchema(elem.Type)), nil
	case field.KindNumber:
		return concrete(numberSchema(elem.Type)), nil
	case field.KindBoolean:
		return concrete(&openapi3.Schema{Type: &openapi3.Types{openapi3.TypeBoolean}}), nil
	case field.KindTime:
		return concrete(timeSchema(elem.TimeLayout)), nil
	case field.KindRecord:
		ref, err := e.recordSchema(elem.Type, elem.TypeName, stack)
		if err != nil {
			return nil, &field.InvalidMetadataError{
				Type:   desc.Record,
				Field:  desc.Name,
				Reason: err.Error(),
			}
		}
		return ref, nil
	case field.KindList:
		items, err := e.elemSchema(desc, resolve.ElemOf(elem.Type, elem.TimeLayout), stack)
		if err != nil {
			return nil, err
		}
		return concrete(&openapi3.Schema{
			Type:  &openapi3.Types{openapi3.TypeArray},
			Items: items,
		}), nil
	default:
		return concrete(&openapi3.Schema{}), nil
	}
}

// recordSchema emits a component reference for registered types and inlines
// the rest. typeName is the declared element name when the record came from
// an element= option.
func (e *Exporter) recordSchema(rt reflect.Type, typeName string, stack *inlineStack) (*openapi3.SchemaRef, error) {
	if typeName != "" {
		if _, err := e.registry.Lookup(typeName); err != nil {
			return nil, err
		}
		return openapi3.NewSchemaRef(componentRefPrefix+typeName, nil), nil
	}

	base := rt
	if base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	if name, ok := e.registry.TypeName(base); ok {
		return openapi3.NewSchemaRef(componentRefPrefix+name, nil), nil
	}

	schema, err := e.object(base, stack)
	if err != nil {
		return nil, err
	}
	return concrete(schema), nil
}

func integerSchema(rt reflect.Type) *openapi3.Schema {
	out := &openapi3.Schema{Type: &openapi3.Types{openapi3.TypeInteger}}
	base := rt
	if base != nil && base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	if base == nil {
		out.Format = "int64"
		return out
	}

	if base.Bits() >= 64 || base.Kind() == reflect.Int || base.Kind() == reflect.Uint {
		out.Format = "int64"
	} else {
		out.Format = "int32"
	}
	switch base.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		zero := 0.0
		out.Min = &zero
	}
	return out
}

func numberSchema(rt reflect.Type) *openapi3.Schema {
	out := &openapi3.Schema{Type: &openapi3.Types{openapi3.TypeNumber}, Format: "double"}
	base := rt
	if base != nil && base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	if base != nil && base.Kind() == reflect.Float32 {
		out.Format = "float"
	}
	return out
}

func timeSchema(layout string) *openapi3.Schema {
	out := &openapi3.Schema{Type: &openapi3.Types{openapi3.TypeString}}
	switch layout {
	case time.DateOnly:
		out.Format = "date"
	case time.TimeOnly:
		out.Format = "time"
	default:
		out.Format = "date-time"
	}
	setExtension(out, FormatExtension, layout)
	return out
}

func exportDefault(desc *field.Descriptor) any {
	if desc.Kind == field.KindTime {
		if ts, ok := desc.Default.(time.Time); ok {
			return ts.Format(desc.TimeLayout)
		}
	}
	return desc.Default
}

func setExtension(schema *openapi3.Schema, key string, value any) {
	if schema.Extensions == nil {
		schema.Extensions = make(map[string]any, 1)
	}
	schema.Extensions[key] = value
}

func concrete(schema *openapi3.Schema) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("", schema)
}

// ForType exports the schema for a record type using a fresh exporter.
func ForType(rt reflect.Type, options ...Option) (*openapi3.Schema, error) {
	return New(options...).ForType(rt)
}

// For exports the schema for the record type T.
func For[T any](options ...Option) (*openapi3.Schema, error) {
	return New(options...).ForType(reflect.TypeOf((*T)(nil)).Elem())
}

// Components exports every record registered in reg, keyed by name.
func Components(reg *registry.Registry) (openapi3.Schemas, error) {
	return New(WithRegistry(reg)).Components()
}
