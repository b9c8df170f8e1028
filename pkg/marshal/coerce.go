package marshal

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/goliatone/go-record/internal/resolve"
	"github.com/goliatone/go-record/internal/sanitize"
	"github.com/goliatone/go-record/pkg/field"
)

// toExternal converts one field value into its map representation. Errors
// from nested records and lists carry path prefixes; scalar failures identify
// themselves through the field name and key they already hold.
func (m *Marshaler) toExternal(desc field.Descriptor, rv reflect.Value) (any, error) {
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}

	switch desc.Kind {
	case field.KindString:
		return rv.String(), nil
	case field.KindInteger:
		if isUnsignedKind(rv.Kind()) {
			return rv.Uint(), nil
		}
		return rv.Int(), nil
	case field.KindNumber:
		return rv.Float(), nil
	case field.KindBoolean:
		return rv.Bool(), nil
	case field.KindTime:
		return rv.Interface().(time.Time).Format(desc.TimeLayout), nil
	case field.KindRecord:
		out, err := m.structToMap(rv)
		if err != nil {
			return nil, field.PrefixPath(desc.Key, err)
		}
		return out, nil
	case field.KindList:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		return m.sliceToExternal(desc, desc.Elem, rv, desc.Key)
	default:
		return rv.Interface(), nil
	}
}

func (m *Marshaler) sliceToExternal(desc field.Descriptor, elem *field.Elem, rv reflect.Value, path string) (any, error) {
	out := make([]any, rv.Len())
	var errs []error
	for i := 0; i < rv.Len(); i++ {
		converted, err := m.elemToExternal(desc, elem, rv.Index(i))
		if err != nil {
			errs = append(errs, field.PrefixPath(fmt.Sprintf("%s[%d]", path, i), err))
			continue
		}
		out[i] = converted
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func (m *Marshaler) elemToExternal(desc field.Descriptor, elem *field.Elem, rv reflect.Value) (any, error) {
	if rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}

	switch elem.Kind {
	case field.KindString:
		return rv.String(), nil
	case field.KindInteger:
		if isUnsignedKind(rv.Kind()) {
			return rv.Uint(), nil
		}
		return rv.Int(), nil
	case field.KindNumber:
		return rv.Float(), nil
	case field.KindBoolean:
		return rv.Bool(), nil
	case field.KindTime:
		return rv.Interface().(time.Time).Format(elem.TimeLayout), nil
	case field.KindRecord:
		if elem.TypeName != "" {
			rt, err := m.registry.Lookup(elem.TypeName)
			if err != nil {
				return nil, &field.InvalidMetadataError{
					Type:   desc.Record,
					Field:  desc.Name,
					Reason: fmt.Sprintf("element type %q not registered", elem.TypeName),
				}
			}
			if rv.Kind() != reflect.Struct || rv.Type() != rt {
				return nil, coercionError(desc, valueOf(rv), field.KindRecord)
			}
		}
		if rv.Kind() != reflect.Struct {
			return nil, coercionError(desc, valueOf(rv), field.KindRecord)
		}
		return m.structToMap(rv)
	case field.KindList:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		child := resolve.ElemOf(rv.Type(), elem.TimeLayout)
		return m.sliceToExternal(desc, child, rv, "")
	default:
		return rv.Interface(), nil
	}
}

// toInternal converts one external value onto a settable field target.
func (m *Marshaler) toInternal(desc field.Descriptor, raw any, target reflect.Value) error {
	if raw == nil {
		if desc.Optional || isNilableKind(target.Kind()) {
			target.Set(reflect.Zero(target.Type()))
			return nil
		}
		return coercionError(desc, raw, desc.Kind)
	}

	if target.Kind() == reflect.Pointer {
		ptr := reflect.New(target.Type().Elem())
		if err := m.toInternalBase(desc, raw, ptr.Elem()); err != nil {
			return err
		}
		target.Set(ptr)
		return nil
	}
	return m.toInternalBase(desc, raw, target)
}

func (m *Marshaler) toInternalBase(desc field.Descriptor, raw any, target reflect.Value) error {
	switch desc.Kind {
	case field.KindString:
		return setString(desc, raw, target, desc.Sanitize)
	case field.KindInteger:
		return setInteger(desc, raw, target)
	case field.KindNumber:
		return setNumber(desc, raw, target)
	case field.KindBoolean:
		return setBoolean(desc, raw, target)
	case field.KindTime:
		return setTime(desc, raw, target, desc.TimeLayout)
	case field.KindRecord:
		return m.setRecord(desc, raw, target, "", desc.Key)
	case field.KindList:
		src := reflect.ValueOf(raw)
		if src.Kind() != reflect.Slice && src.Kind() != reflect.Array {
			return coercionError(desc, raw, field.KindList)
		}
		return m.sliceToInternal(desc, desc.Elem, src, target, desc.Key)
	default:
		return setOpaque(desc, raw, target)
	}
}

func (m *Marshaler) sliceToInternal(desc field.Descriptor, elem *field.Elem, src, target reflect.Value, path string) error {
	n := src.Len()

	var out reflect.Value
	switch target.Kind() {
	case reflect.Slice:
		out = reflect.MakeSlice(target.Type(), n, n)
	case reflect.Array:
		if target.Len() != n {
			return coercionError(desc, src.Interface(), field.KindList)
		}
		out = reflect.New(target.Type()).Elem()
	default:
		return coercionError(desc, src.Interface(), field.KindList)
	}

	var errs []error
	for i := 0; i < n; i++ {
		raw := src.Index(i).Interface()
		if err := m.elemToInternal(desc, elem, raw, out.Index(i)); err != nil {
			errs = append(errs, field.PrefixPath(fmt.Sprintf("%s[%d]", path, i), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	target.Set(out)
	return nil
}

func (m *Marshaler) elemToInternal(desc field.Descriptor, elem *field.Elem, raw any, target reflect.Value) error {
	if raw == nil {
		if elem.Optional || isNilableKind(target.Kind()) {
			target.Set(reflect.Zero(target.Type()))
			return nil
		}
		return coercionError(desc, raw, elem.Kind)
	}

	if target.Kind() == reflect.Pointer {
		ptr := reflect.New(target.Type().Elem())
		if err := m.elemToInternalBase(desc, elem, raw, ptr.Elem()); err != nil {
			return err
		}
		target.Set(ptr)
		return nil
	}
	return m.elemToInternalBase(desc, elem, raw, target)
}

func (m *Marshaler) elemToInternalBase(desc field.Descriptor, elem *field.Elem, raw any, target reflect.Value) error {
	switch elem.Kind {
	case field.KindString:
		return setString(desc, raw, target, "")
	case field.KindInteger:
		return setInteger(desc, raw, target)
	case field.KindNumber:
		return setNumber(desc, raw, target)
	case field.KindBoolean:
		return setBoolean(desc, raw, target)
	case field.KindTime:
		return setTime(desc, raw, target, elem.TimeLayout)
	case field.KindRecord:
		return m.setRecord(desc, raw, target, elem.TypeName, "")
	case field.KindList:
		src := reflect.ValueOf(raw)
		if src.Kind() != reflect.Slice && src.Kind() != reflect.Array {
			return coercionError(desc, raw, field.KindList)
		}
		child := resolve.ElemOf(target.Type(), elem.TimeLayout)
		return m.sliceToInternal(desc, child, src, target, "")
	default:
		return setOpaque(desc, raw, target)
	}
}

// setRecord hydrates a record-kind target from a generic map or an
// already-typed value. typeName overrides the target type through the
// registry for declared []any elements; prefix scopes recursion errors.
func (m *Marshaler) setRecord(desc field.Descriptor, raw any, target reflect.Value, typeName, prefix string) error {
	rt := target.Type()
	if typeName != "" {
		looked, err := m.registry.Lookup(typeName)
		if err != nil {
			return &field.InvalidMetadataError{
				Type:   desc.Record,
				Field:  desc.Name,
				Reason: fmt.Sprintf("element type %q not registered", typeName),
			}
		}
		rt = looked
	}

	if iv := reflect.ValueOf(raw); iv.Kind() == reflect.Struct && iv.Type() == baseType(rt) {
		target.Set(iv)
		return nil
	} else if iv.Kind() == reflect.Pointer && !iv.IsNil() && iv.Elem().Type() == baseType(rt) {
		target.Set(iv.Elem())
		return nil
	}

	data, ok := raw.(map[string]any)
	if !ok {
		return coercionError(desc, raw, field.KindRecord)
	}

	built, err := m.mapToStruct(rt, data)
	if err != nil {
		return field.PrefixPath(prefix, err)
	}
	target.Set(built)
	return nil
}

func setString(desc field.Descriptor, raw any, target reflect.Value, policy string) error {
	s, ok := coerceString(raw)
	if !ok {
		return coercionError(desc, raw, field.KindString)
	}
	if policy != "" {
		s = sanitize.Apply(policy, s)
	}
	target.SetString(s)
	return nil
}

func setInteger(desc field.Descriptor, raw any, target reflect.Value) error {
	if isUnsignedKind(target.Kind()) {
		u, ok := coerceUint(raw)
		if !ok || target.OverflowUint(u) {
			return coercionError(desc, raw, field.KindInteger)
		}
		target.SetUint(u)
		return nil
	}
	n, ok := coerceInt(raw)
	if !ok || target.OverflowInt(n) {
		return coercionError(desc, raw, field.KindInteger)
	}
	target.SetInt(n)
	return nil
}

func setNumber(desc field.Descriptor, raw any, target reflect.Value) error {
	f, ok := coerceFloat(raw)
	if !ok || target.OverflowFloat(f) {
		return coercionError(desc, raw, field.KindNumber)
	}
	target.SetFloat(f)
	return nil
}

func setBoolean(desc field.Descriptor, raw any, target reflect.Value) error {
	b, ok := coerceBool(raw)
	if !ok {
		return coercionError(desc, raw, field.KindBoolean)
	}
	target.SetBool(b)
	return nil
}

func setTime(desc field.Descriptor, raw any, target reflect.Value, layout string) error {
	switch v := raw.(type) {
	case time.Time:
		target.Set(reflect.ValueOf(v))
		return nil
	case string:
		t, err := time.Parse(layout, v)
		if err != nil {
			return &field.DateFormatError{Field: desc.Name, Key: desc.Key, Layout: layout, Value: v}
		}
		target.Set(reflect.ValueOf(t))
		return nil
	default:
		return coercionError(desc, raw, field.KindTime)
	}
}

func setOpaque(desc field.Descriptor, raw any, target reflect.Value) error {
	iv := reflect.ValueOf(raw)
	if !iv.Type().AssignableTo(target.Type()) {
		return coercionError(desc, raw, field.KindOpaque)
	}
	target.Set(iv)
	return nil
}

const (
	maxInt64Float  = float64(1 << 63)
	minInt64Float  = -float64(1 << 63)
	maxUint64Float = float64(1 << 64)
)

func coerceInt(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return intFromUint(uint64(v))
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return intFromUint(v)
	case float32:
		return intFromFloat(float64(v))
	case float64:
		return intFromFloat(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		if f, err := v.Float64(); err == nil {
			return intFromFloat(f)
		}
		return 0, false
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return intFromFloat(f)
		}
		return 0, false
	default:
		return 0, false
	}
}

func coerceUint(raw any) (uint64, bool) {
	switch v := raw.(type) {
	case uint:
		return uint64(v), true
	case uint8:
		return uint64(v), true
	case uint16:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case uint64:
		return v, true
	case int:
		return uintFromInt(int64(v))
	case int8:
		return uintFromInt(int64(v))
	case int16:
		return uintFromInt(int64(v))
	case int32:
		return uintFromInt(int64(v))
	case int64:
		return uintFromInt(v)
	case float32:
		return uintFromFloat(float64(v))
	case float64:
		return uintFromFloat(v)
	case json.Number:
		if n, err := strconv.ParseUint(v.String(), 10, 64); err == nil {
			return n, true
		}
		if f, err := v.Float64(); err == nil {
			return uintFromFloat(f)
		}
		return 0, false
	case string:
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return uintFromFloat(f)
		}
		return 0, false
	default:
		return 0, false
	}
}

func coerceFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func coerceBool(raw any) (bool, bool) {
	switch v := raw.(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(v)
		return b, err == nil
	case int:
		return boolFromInt(int64(v))
	case int64:
		return boolFromInt(v)
	case uint:
		return boolFromInt(int64(v))
	case uint64:
		if v > 1 {
			return false, false
		}
		return v == 1, true
	case float32:
		return boolFromFloat(float64(v))
	case float64:
		return boolFromFloat(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return boolFromInt(n)
		}
		return false, false
	default:
		return false, false
	}
}

func coerceString(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	default:
		return "", false
	}
}

func intFromUint(v uint64) (int64, bool) {
	if v > math.MaxInt64 {
		return 0, false
	}
	return int64(v), true
}

func intFromFloat(f float64) (int64, bool) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	if f < minInt64Float || f >= maxInt64Float {
		return 0, false
	}
	return int64(f), true
}

func uintFromInt(v int64) (uint64, bool) {
	if v < 0 {
		return 0, false
	}
	return uint64(v), true
}

func uintFromFloat(f float64) (uint64, bool) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	if f < 0 || f >= maxUint64Float {
		return 0, false
	}
	return uint64(f), true
}

func boolFromInt(v int64) (bool, bool) {
	switch v {
	case 0:
		return false, true
	case 1:
		return true, true
	default:
		return false, false
	}
}

func boolFromFloat(f float64) (bool, bool) {
	switch f {
	case 0:
		return false, true
	case 1:
		return true, true
	default:
		return false, false
	}
}

func isUnsignedKind(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	default:
		return false
	}
}

func isNilableKind(k reflect.Kind) bool {
	switch k {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		return true
	default:
		return false
	}
}

func baseType(rt reflect.Type) reflect.Type {
	if rt.Kind() == reflect.Pointer {
		return rt.Elem()
	}
	return rt
}

func coercionError(desc field.Descriptor, value any, want field.Kind) *field.TypeCoercionError {
	return &field.TypeCoercionError{
		Field: desc.Name,
		Key:   desc.Key,
		Value: value,
		Got:   typeDesc(value),
		Want:  want,
	}
}

func typeDesc(value any) string {
	if value == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", value)
}

func valueOf(rv reflect.Value) any {
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}
