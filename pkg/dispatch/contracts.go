package dispatch

import (
	"context"
	"reflect"
)

// Container supplies constructed command instances. Implementations typically
// delegate to a dependency-injection framework so commands receive their
// collaborators; the built-in default simply allocates the type.
type Container interface {
	Construct(ctx context.Context, rt reflect.Type) (any, error)
}

// ContainerFunc adapts a plain function to the Container interface.
type ContainerFunc func(ctx context.Context, rt reflect.Type) (any, error)

// Construct calls f.
func (f ContainerFunc) Construct(ctx context.Context, rt reflect.Type) (any, error) {
	return f(ctx, rt)
}

// Queue accepts jobs for deferred execution. Implementations own delivery,
// ordering, and redelivery; the dispatcher only waits for Enqueue to return.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
}

// Executor rebuilds and runs a previously enqueued job. The dispatcher
// implements it; queue implementations call it once per delivery and treat a
// returned error as a failed attempt.
type Executor interface {
	Execute(ctx context.Context, job Job) error
}

// Dispatchable marks a command as safe to enqueue. Queue names the preferred
// destination; an empty string selects the dispatcher's default queue.
type Dispatchable interface {
	Queue() string
}

// FailureHandler receives asynchronous execution failures together with the
// rebuilt arguments. Queues apply their redelivery policy after the hook runs.
type FailureHandler interface {
	Failed(ctx context.Context, args []any, err error)
}
