package dispatch

import "fmt"

// NotRunnableError reports a command type that cannot be executed because its
// Handle method is missing or has an unsupported shape.
type NotRunnableError struct {
	Command string
	Reason  string
}

func (e *NotRunnableError) Error() string {
	return fmt.Sprintf("dispatch: command %s is not runnable: %s", e.Command, e.Reason)
}

// NotDispatchableError reports a command type that was handed to Dispatch or
// DispatchOn without implementing Dispatchable.
type NotDispatchableError struct {
	Command string
}

func (e *NotDispatchableError) Error() string {
	return fmt.Sprintf("dispatch: command %s is not dispatchable", e.Command)
}

// ArgumentError reports an argument that cannot be passed to (or rebuilt for)
// a command's Handle method. Err carries the underlying failure when one
// exists, such as a marshaling error for a record argument.
type ArgumentError struct {
	Command  string
	Position int
	Reason   string
	Err      error
}

func (e *ArgumentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dispatch: %s.Handle argument %d: %v", e.Command, e.Position, e.Err)
	}
	return fmt.Sprintf("dispatch: %s.Handle argument %d: %s", e.Command, e.Position, e.Reason)
}

func (e *ArgumentError) Unwrap() error {
	return e.Err
}
