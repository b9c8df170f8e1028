// Package sanitize owns the HTML sanitization policies behind the sanitize
// tag option. Policies are built once and shared; bluemonday policies are safe
// for concurrent use after construction.
package sanitize

import (
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

// Policy names accepted by the sanitize tag option.
const (
	PolicyStrict = "strict"
	PolicyUGC    = "ugc"
)

var (
	strictOnce   sync.Once
	strictPolicy *bluemonday.Policy

	ugcOnce   sync.Once
	ugcPolicy *bluemonday.Policy
)

// Known reports whether name identifies a supported policy. The resolver
// rejects unknown names at metadata-resolution time.
func Known(name string) bool {
	switch name {
	case PolicyStrict, PolicyUGC:
		return true
	default:
		return false
	}
}

// Apply runs raw through the named policy and trims the result. Unknown names
// fall back to the strict policy, which strips all markup.
func Apply(name, raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(policyFor(name).Sanitize(raw))
}

func policyFor(name string) *bluemonday.Policy {
	if name == PolicyUGC {
		ugcOnce.Do(func() {
			ugcPolicy = bluemonday.UGCPolicy()
		})
		return ugcPolicy
	}
	strictOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}
