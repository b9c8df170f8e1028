// Package prompt fills records interactively: field descriptors drive a
// terminal prompt per field and the answers flow through the regular map
// conversion, so defaults, coercion, and sanitization behave exactly as they
// do for any other input map.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-record/internal/resolve"
	"github.com/goliatone/go-record/pkg/field"
	"github.com/goliatone/go-record/pkg/marshal"
	"github.com/goliatone/go-record/pkg/registry"
)

const skipChoice = "skip"

// Option configures a Filler.
type Option func(*Filler)

// WithDriver overrides the prompt driver. Defaults to a survey-backed
// terminal driver.
func WithDriver(driver Driver) Option {
	return func(f *Filler) {
		if driver != nil {
			f.driver = driver
		}
	}
}

// WithRegistry injects the registry used to resolve declared element types.
// Defaults to the shared registry.
func WithRegistry(r *registry.Registry) Option {
	return func(f *Filler) {
		f.registry = r
	}
}

// Filler collects record field values from an interactive prompt session.
type Filler struct {
	driver   Driver
	registry *registry.Registry
}

// New constructs a Filler applying any provided options.
func New(options ...Option) *Filler {
	f := &Filler{}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(f)
	}
	if f.driver == nil {
		f.driver = newSurveyDriver()
	}
	if f.registry == nil {
		f.registry = registry.Default()
	}
	return f
}

// Fill prompts for every field of the record type rt, in declaration order,
// and returns the collected values as a generic map. Skipped fields are
// absent from the map, so optional fields zero out and defaults apply during
// conversion. Unparseable answers reprompt; aborting the session returns
// ErrAborted.
func (f *Filler) Fill(ctx context.Context, rt reflect.Type) (map[string]any, error) {
	if ctx == nil {
		return nil, errors.New("prompt: context is required")
	}
	base, err := resolve.Normalize(rt)
	if err != nil {
		return nil, err
	}
	return f.fillRecord(ctx, base, "")
}

func (f *Filler) fillRecord(ctx context.Context, rt reflect.Type, prefix string) (map[string]any, error) {
	descs, err := resolve.Type(rt)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(descs))
	for i := range descs {
		desc := &descs[i]
		path := desc.Key
		if prefix != "" {
			path = fmt.Sprintf("%s.%s", prefix, desc.Key)
		}
		value, skipped, err := f.promptField(ctx, desc, path)
		if err != nil {
			return nil, err
		}
		if skipped {
			continue
		}
		out[desc.Key] = value
	}
	return out, nil
}

func (f *Filler) promptField(ctx context.Context, desc *field.Descriptor, path string) (any, bool, error) {
	switch desc.Kind {
	case field.KindBoolean:
		return f.promptBoolean(ctx, desc, path)
	case field.KindInteger:
		return f.promptInteger(ctx, desc, path)
	case field.KindNumber:
		return f.promptNumber(ctx, desc, path)
	case field.KindTime:
		return f.promptTime(ctx, desc, path)
	case field.KindRecord:
		return f.promptRecord(ctx, desc, path)
	case field.KindList:
		return f.promptList(ctx, desc, path)
	case field.KindOpaque:
		// No terminal syntax constructs arbitrary Go values.
		_ = f.driver.Info(ctx, fmt.Sprintf("Skipping %s: %s takes no prompt", path, desc.Type))
		return nil, true, nil
	default:
		return f.promptString(ctx, desc, path)
	}
}

func (f *Filler) promptString(ctx context.Context, desc *field.Descriptor, path string) (any, bool, error) {
	input, err := f.driver.Input(ctx, f.inputConfig(desc, path))
	if err != nil {
		return nil, false, err
	}
	if input == "" && skippable(desc) {
		return nil, true, nil
	}
	return input, false, nil
}

func (f *Filler) promptInteger(ctx context.Context, desc *field.Descriptor, path string) (any, bool, error) {
	base := concreteType(desc.Type)
	for {
		input, err := f.driver.Input(ctx, f.inputConfig(desc, path))
		if err != nil {
			return nil, false, err
		}
		input = strings.TrimSpace(input)
		if input == "" && skippable(desc) {
			return nil, true, nil
		}
		value, perr := parseInteger(input, base)
		if perr != nil {
			_ = f.driver.Info(ctx, fmt.Sprintf("Invalid %s: %v", path, perr))
			continue
		}
		return value, false, nil
	}
}

func (f *Filler) promptNumber(ctx context.Context, desc *field.Descriptor, path string) (any, bool, error) {
	base := concreteType(desc.Type)
	for {
		input, err := f.driver.Input(ctx, f.inputConfig(desc, path))
		if err != nil {
			return nil, false, err
		}
		input = strings.TrimSpace(input)
		if input == "" && skippable(desc) {
			return nil, true, nil
		}
		value, perr := strconv.ParseFloat(input, base.Bits())
		if perr != nil {
			_ = f.driver.Info(ctx, fmt.Sprintf("Invalid %s: %v", path, perr))
			continue
		}
		return value, false, nil
	}
}

func (f *Filler) promptBoolean(ctx context.Context, desc *field.Descriptor, path string) (any, bool, error) {
	// Confirm forces an answer, so optional booleans select between the two
	// values and an explicit skip entry.
	if desc.Optional {
		options := []string{"true", "false", skipChoice}
		defaultIdx := len(options) - 1
		if b, ok := desc.Default.(bool); ok {
			if b {
				defaultIdx = 0
			} else {
				defaultIdx = 1
			}
		}
		for {
			idx, err := f.driver.Select(ctx, SelectConfig{
				Message:      path,
				Options:      options,
				DefaultIndex: defaultIdx,
				Help:         helpFor(desc),
			})
			if err != nil {
				return nil, false, err
			}
			switch idx {
			case 0:
				return true, false, nil
			case 1:
				return false, false, nil
			case 2:
				return nil, true, nil
			default:
				_ = f.driver.Info(ctx, fmt.Sprintf("Invalid %s selection", path))
			}
		}
	}

	def, _ := desc.Default.(bool)
	value, err := f.driver.Confirm(ctx, ConfirmConfig{
		Message: path,
		Default: def,
		Help:    helpFor(desc),
	})
	if err != nil {
		return nil, false, err
	}
	return value, false, nil
}

func (f *Filler) promptTime(ctx context.Context, desc *field.Descriptor, path string) (any, bool, error) {
	for {
		input, err := f.driver.Input(ctx, f.inputConfig(desc, path))
		if err != nil {
			return nil, false, err
		}
		input = strings.TrimSpace(input)
		if input == "" && skippable(desc) {
			return nil, true, nil
		}
		if _, perr := time.Parse(desc.TimeLayout, input); perr != nil {
			_ = f.driver.Info(ctx, fmt.Sprintf("Invalid %s: %v", path, perr))
			continue
		}
		// Conversion reparses by layout; keep the validated text.
		return input, false, nil
	}
}

func (f *Filler) promptRecord(ctx context.Context, desc *field.Descriptor, path string) (any, bool, error) {
	if desc.Optional {
		fill, err := f.driver.Confirm(ctx, ConfirmConfig{
			Message: fmt.Sprintf("Fill %s?", path),
			Help:    helpFor(desc),
		})
		if err != nil {
			return nil, false, err
		}
		if !fill {
			return nil, true, nil
		}
	}
	value, err := f.fillRecord(ctx, concreteType(desc.Type), path)
	if err != nil {
		return nil, false, err
	}
	return value, false, nil
}

func (f *Filler) promptList(ctx context.Context, desc *field.Descriptor, path string) (any, bool, error) {
	if desc.Optional {
		add, err := f.driver.Confirm(ctx, ConfirmConfig{
			Message: fmt.Sprintf("Add %s?", path),
			Help:    helpFor(desc),
		})
		if err != nil {
			return nil, false, err
		}
		if !add {
			return nil, true, nil
		}
	}

	items := []any{}
	for {
		itemPath := fmt.Sprintf("%s[%d]", path, len(items))
		value, err := f.promptElem(ctx, desc.Elem, itemPath)
		if err != nil {
			return nil, false, err
		}
		items = append(items, value)

		more, err := f.driver.Confirm(ctx, ConfirmConfig{
			Message: fmt.Sprintf("Add another %s?", path),
		})
		if err != nil {
			return nil, false, err
		}
		if !more {
			break
		}
	}
	return items, false, nil
}

func (f *Filler) promptElem(ctx context.Context, elem *field.Elem, path string) (any, error) {
	switch elem.Kind {
	case field.KindString:
		return f.driver.Input(ctx, InputConfig{Message: path})
	case field.KindBoolean:
		return f.driver.Confirm(ctx, ConfirmConfig{Message: path})
	case field.KindInteger:
		base := concreteType(elem.Type)
		for {
			input, err := f.driver.Input(ctx, InputConfig{Message: path})
			if err != nil {
				return nil, err
			}
			value, perr := parseInteger(strings.TrimSpace(input), base)
			if perr != nil {
				_ = f.driver.Info(ctx, fmt.Sprintf("Invalid %s: %v", path, perr))
				continue
			}
			return value, nil
		}
	case field.KindNumber:
		base := concreteType(elem.Type)
		for {
			input, err := f.driver.Input(ctx, InputConfig{Message: path})
			if err != nil {
				return nil, err
			}
			value, perr := strconv.ParseFloat(strings.TrimSpace(input), base.Bits())
			if perr != nil {
				_ = f.driver.Info(ctx, fmt.Sprintf("Invalid %s: %v", path, perr))
				continue
			}
			return value, nil
		}
	case field.KindTime:
		for {
			input, err := f.driver.Input(ctx, InputConfig{
				Message: path,
				Help:    "layout " + elem.TimeLayout,
			})
			if err != nil {
				return nil, err
			}
			input = strings.TrimSpace(input)
			if _, perr := time.Parse(elem.TimeLayout, input); perr != nil {
				_ = f.driver.Info(ctx, fmt.Sprintf("Invalid %s: %v", path, perr))
				continue
			}
			return input, nil
		}
	case field.KindRecord:
		rt := elem.Type
		if rt == nil {
			var err error
			rt, err = f.registry.Lookup(elem.TypeName)
			if err != nil {
				return nil, err
			}
		}
		return f.fillRecord(ctx, concreteType(rt), path)
	case field.KindList:
		inner := resolve.ElemOf(elem.Type, elem.TimeLayout)
		items := []any{}
		for {
			value, err := f.promptElem(ctx, inner, fmt.Sprintf("%s[%d]", path, len(items)))
			if err != nil {
				return nil, err
			}
			items = append(items, value)

			more, err := f.driver.Confirm(ctx, ConfirmConfig{
				Message: fmt.Sprintf("Add another %s?", path),
			})
			if err != nil {
				return nil, err
			}
			if !more {
				return items, nil
			}
		}
	default:
		if elem.Type != nil && elem.Type.Kind() == reflect.Interface {
			return f.driver.Input(ctx, InputConfig{Message: path})
		}
		return nil, fmt.Errorf("prompt: %s: no prompt for %s elements", path, elem.Type)
	}
}

func (f *Filler) inputConfig(desc *field.Descriptor, path string) InputConfig {
	return InputConfig{
		Message: path,
		Default: defaultString(desc),
		Help:    helpFor(desc),
	}
}

// skippable fields drop out of the map on empty input: optional fields zero
// out and defaults fill in downstream.
func skippable(desc *field.Descriptor) bool {
	return desc.Optional || desc.HasDefault
}

func helpFor(desc *field.Descriptor) string {
	var hints []string
	if desc.Kind == field.KindTime {
		hints = append(hints, "layout "+desc.TimeLayout)
	}
	if desc.Optional {
		hints = append(hints, "empty skips")
	} else if desc.HasDefault {
		hints = append(hints, "empty keeps the default")
	}
	return strings.Join(hints, ", ")
}

func defaultString(desc *field.Descriptor) string {
	if !desc.HasDefault {
		return ""
	}
	if ts, ok := desc.Default.(time.Time); ok {
		return ts.Format(desc.TimeLayout)
	}
	return fmt.Sprint(desc.Default)
}

func parseInteger(input string, base reflect.Type) (any, error) {
	switch base.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.ParseUint(input, 10, base.Bits())
	default:
		return strconv.ParseInt(input, 10, base.Bits())
	}
}

func concreteType(rt reflect.Type) reflect.Type {
	if rt.Kind() == reflect.Pointer {
		return rt.Elem()
	}
	return rt
}

// Fill prompts for every field of the record type T and converts the
// answers into a new T.
func Fill[T any](ctx context.Context, options ...Option) (T, error) {
	var zero T
	f := New(options...)
	data, err := f.Fill(ctx, reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return zero, err
	}
	return marshal.As[T](marshal.New(marshal.WithRegistry(f.registry)), data)
}
