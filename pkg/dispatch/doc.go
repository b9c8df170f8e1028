// Package dispatch runs command objects synchronously or hands them to a
// queue collaborator for deferred execution.
//
// A command is any struct with an exported Handle method. Run constructs the
// command through the configured container and invokes Handle on the caller's
// goroutine, passing arguments through untouched. Dispatch and DispatchOn
// instead build a transport-safe Job: arguments whose types are registered in
// the record registry are flattened with the marshaler at enqueue time and
// rebuilt on the worker side, everything else travels as-is. Results never
// cross the queue; failures reach the command's Failed hook before the queue
// applies its own redelivery policy.
package dispatch
