package field

import (
	"errors"
	"fmt"
	"strings"
)

// The error taxonomy lives beside the descriptor model so the resolver and
// the conversion engine share one vocabulary. pkg/marshal aliases these types
// for callers; errors.As matches either spelling.

// InvalidMetadataError reports a record type whose tags cannot produce a
// valid descriptor set. It surfaces on first resolution of the type, not per
// conversion call.
type InvalidMetadataError struct {
	Type   string // Go type name of the record
	Field  string // offending field, empty for type-level faults
	Reason string
}

func (e *InvalidMetadataError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("record: invalid metadata for %s: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("record: invalid metadata for %s.%s: %s", e.Type, e.Field, e.Reason)
}

// MissingFieldError reports input that omits a key the record requires.
// Optional fields and fields with defaults never produce it.
type MissingFieldError struct {
	Type  string
	Field string
	Key   string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("record: %s: missing required key %q (field %s)", e.Type, e.Key, e.Field)
}

// TypeCoercionError reports a value no conversion rule accepts for the
// field's kind.
type TypeCoercionError struct {
	Field string
	Key   string
	Value any    // offending input
	Got   string // description of the supplied type
	Want  Kind
}

func (e *TypeCoercionError) Error() string {
	return fmt.Sprintf("record: field %s: cannot coerce %s into %s", e.Field, e.Got, e.Want)
}

// DateFormatError reports a time value that does not satisfy the field's
// declared layout.
type DateFormatError struct {
	Field  string
	Key    string
	Layout string
	Value  string
}

func (e *DateFormatError) Error() string {
	return fmt.Sprintf("record: field %s: cannot parse %q with layout %q", e.Field, e.Value, e.Layout)
}

// PathError locates a failure inside a nested record or list, e.g.
// "items[2].product_id". Unwrap exposes the leaf error so errors.As keeps
// working through the prefix.
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return e.Path + ": " + e.Err.Error()
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// PrefixPath wraps err with a path segment, flattening nested PathErrors so a
// leaf failure carries one full path. Aggregates produced by errors.Join are
// prefixed element-wise.
func PrefixPath(prefix string, err error) error {
	if err == nil || prefix == "" {
		return err
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		inner := joined.Unwrap()
		out := make([]error, len(inner))
		for i, e := range inner {
			out[i] = PrefixPath(prefix, e)
		}
		return errors.Join(out...)
	}
	if pe, ok := err.(*PathError); ok {
		return &PathError{Path: joinPath(prefix, pe.Path), Err: pe.Err}
	}
	return &PathError{Path: prefix, Err: err}
}

func joinPath(parent, child string) string {
	if parent == "" {
		return child
	}
	if child == "" {
		return parent
	}
	if strings.HasPrefix(child, "[") {
		return parent + child
	}
	return parent + "." + child
}
