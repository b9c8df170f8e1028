package resolve

import (
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/goliatone/go-record/pkg/field"
)

// parseDefault turns a default= literal into a value of the field's base
// type. Literals are parsed once at resolve time so malformed metadata fails
// the type, not individual conversion calls.
func parseDefault(raw string, desc field.Descriptor) (any, error) {
	base := desc.Type
	if base.Kind() == reflect.Pointer {
		base = base.Elem()
	}

	switch desc.Kind {
	case field.KindString:
		out := reflect.New(base).Elem()
		out.SetString(raw)
		return out.Interface(), nil

	case field.KindInteger:
		out := reflect.New(base).Elem()
		switch base.Kind() {
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			n, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("default %q is not a valid %s", raw, base)
			}
			if out.OverflowUint(n) {
				return nil, fmt.Errorf("default %q overflows %s", raw, base)
			}
			out.SetUint(n)
		default:
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("default %q is not a valid %s", raw, base)
			}
			if out.OverflowInt(n) {
				return nil, fmt.Errorf("default %q overflows %s", raw, base)
			}
			out.SetInt(n)
		}
		return out.Interface(), nil

	case field.KindNumber:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("default %q is not a valid %s", raw, base)
		}
		out := reflect.New(base).Elem()
		if out.OverflowFloat(f) {
			return nil, fmt.Errorf("default %q overflows %s", raw, base)
		}
		out.SetFloat(f)
		return out.Interface(), nil

	case field.KindBoolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("default %q is not a valid bool", raw)
		}
		out := reflect.New(base).Elem()
		out.SetBool(b)
		return out.Interface(), nil

	case field.KindTime:
		t, err := time.Parse(desc.TimeLayout, raw)
		if err != nil {
			return nil, fmt.Errorf("default %q does not match layout %q", raw, desc.TimeLayout)
		}
		return t, nil

	default:
		return nil, fmt.Errorf("default option not supported for %s fields", desc.Kind)
	}
}
