// Package field defines the descriptor model the marshaling engine consumes.
// Descriptors are resolved once per record type from `record` struct tags and
// shared across goroutines, so every type here is treated as read-only after
// publication. Resolution itself lives in internal/resolve but returns the
// types defined here.
package field
