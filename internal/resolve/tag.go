package resolve

import (
	"fmt"
	"strings"
	"time"
)

type tagOption struct {
	name     string
	value    string
	hasValue bool
}

// parseTag splits a record tag into its key and option list. The first
// segment is always the key; option values cannot contain commas.
func parseTag(tag string) (string, []tagOption, error) {
	if tag == "" {
		return "", nil, nil
	}

	segments := strings.Split(tag, ",")
	key := segments[0]

	opts := make([]tagOption, 0, len(segments)-1)
	for _, segment := range segments[1:] {
		if segment == "" {
			return "", nil, fmt.Errorf("empty option segment")
		}
		name, value, found := strings.Cut(segment, "=")
		if name == "" {
			return "", nil, fmt.Errorf("option %q has no name", segment)
		}
		opts = append(opts, tagOption{name: name, value: value, hasValue: found})
	}

	return key, opts, nil
}

// Named layout aliases accepted by the format option alongside literal
// reference-time layouts.
var layoutAliases = map[string]string{
	"rfc3339":     time.RFC3339,
	"rfc3339nano": time.RFC3339Nano,
	"rfc1123":     time.RFC1123,
	"datetime":    time.DateTime,
	"dateonly":    time.DateOnly,
	"timeonly":    time.TimeOnly,
}

// layoutFor maps a format value onto a concrete layout and verifies the
// layout can round-trip a reference instant. A layout whose Format and Parse
// disagree would turn every conversion into a runtime failure, so it is
// rejected as metadata instead.
func layoutFor(value string) (string, error) {
	layout := value
	if alias, ok := layoutAliases[strings.ToLower(value)]; ok {
		layout = alias
	}

	ref := time.Date(2006, time.January, 2, 15, 4, 5, 0, time.UTC)
	if _, err := time.Parse(layout, ref.Format(layout)); err != nil {
		return "", fmt.Errorf("invalid time layout %q", value)
	}
	return layout, nil
}
