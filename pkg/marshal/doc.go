// Package marshal converts records, plain structs carrying `record` tags,
// into generic maps and back. Field metadata is resolved once per type and
// cached; conversions are pure functions over that metadata, so a single
// Marshaler (or the package-level default) serves concurrent callers without
// locking.
//
// The map side of every conversion uses external keys, formatted dates, and
// recursively converted nested records, making the output safe to hand to
// JSON encoders, queue payloads, or HTTP layers. The struct side is built
// all-or-nothing: FromMap either delivers a fully converted record or an
// error aggregating every failed field.
package marshal
