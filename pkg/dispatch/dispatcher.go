package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-record/pkg/marshal"
	"github.com/goliatone/go-record/pkg/registry"
)

// DefaultQueueName receives jobs whose command declares no queue preference.
const DefaultQueueName = "default"

// Option customises the dispatcher configuration.
type Option func(*Dispatcher)

// WithContainer injects the dependency-injection collaborator used to
// construct command instances.
func WithContainer(c Container) Option {
	return func(d *Dispatcher) {
		d.container = c
	}
}

// WithQueue injects the queue collaborator that receives dispatched jobs.
func WithQueue(q Queue) Option {
	return func(d *Dispatcher) {
		d.queue = q
	}
}

// WithRegistry injects the registry used for command identity and record
// argument lookup. Defaults to the shared registry.
func WithRegistry(r *registry.Registry) Option {
	return func(d *Dispatcher) {
		d.registry = r
	}
}

// WithMarshaler injects the marshaler used to flatten and rebuild record
// arguments.
func WithMarshaler(m *marshal.Marshaler) Option {
	return func(d *Dispatcher) {
		d.marshaler = m
	}
}

// WithDefaultQueue overrides the queue used when neither the caller nor the
// command names one.
func WithDefaultQueue(name string) Option {
	return func(d *Dispatcher) {
		d.defaultQueue = name
	}
}

// WithLogger injects a structured logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithConfig applies queue routing settings from a loaded configuration.
func WithConfig(cfg Config) Option {
	return func(d *Dispatcher) {
		if cfg.DefaultQueue != "" {
			d.defaultQueue = cfg.DefaultQueue
		}
		if len(cfg.Queues) > 0 {
			d.queueNames = make(map[string]string, len(cfg.Queues))
			for command, queue := range cfg.Queues {
				d.queueNames[command] = queue
			}
		}
	}
}

// Dispatcher coordinates command execution. Run invokes a command's Handle
// method synchronously; Dispatch and DispatchOn flatten the arguments into a
// Job and hand it to the queue collaborator. The dispatcher also implements
// Executor so queue workers can rebuild and run delivered jobs.
type Dispatcher struct {
	container    Container
	queue        Queue
	registry     *registry.Registry
	marshaler    *marshal.Marshaler
	defaultQueue string
	queueNames   map[string]string
	logger       *slog.Logger
}

// New constructs a Dispatcher applying any provided options. Missing
// collaborators are initialised with the built-in implementations.
func New(options ...Option) *Dispatcher {
	d := &Dispatcher{}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(d)
	}
	d.applyDefaults()
	return d
}

func (d *Dispatcher) applyDefaults() {
	if d.container == nil {
		d.container = ContainerFunc(func(_ context.Context, rt reflect.Type) (any, error) {
			return reflect.New(rt).Interface(), nil
		})
	}
	if d.registry == nil {
		d.registry = registry.Default()
	}
	if d.marshaler == nil {
		d.marshaler = marshal.New(marshal.WithRegistry(d.registry))
	}
	if d.defaultQueue == "" {
		d.defaultQueue = DefaultQueueName
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
}

// Run invokes the command's Handle method on the caller's goroutine and
// returns its result directly. cmd may be a command instance, which is used
// as-is, or a reflect.Type, in which case the container constructs one.
// Arguments are passed through without marshaling.
func (d *Dispatcher) Run(ctx context.Context, cmd any, args ...any) (any, error) {
	if ctx == nil {
		return nil, errors.New("dispatch: context is required")
	}
	if cmd == nil {
		return nil, errors.New("dispatch: command is required")
	}

	rt, err := commandType(cmd)
	if err != nil {
		return nil, err
	}
	plan, err := planFor(rt)
	if err != nil {
		return nil, err
	}

	instance := cmd
	if _, isType := cmd.(reflect.Type); isType {
		instance, err = d.construct(ctx, rt)
		if err != nil {
			return nil, err
		}
	}
	recv, err := receiverFor(instance, rt)
	if err != nil {
		return nil, err
	}

	vals, err := d.callArgs(typeName(rt), plan, args)
	if err != nil {
		return nil, err
	}
	return plan.invoke(ctx, recv, vals)
}

// Dispatch enqueues the command on its preferred queue. See DispatchOn.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd any, args ...any) error {
	return d.DispatchOn(ctx, cmd, "", args...)
}

// DispatchOn flattens the arguments into a Job and hands it to the queue
// collaborator, returning as soon as the enqueue completes. cmd may be a
// command instance or a reflect.Type; only its identity travels, never its
// state. The queue is chosen in order: the queueName argument, a configured
// per-command override, the command's own Queue declaration, the default.
func (d *Dispatcher) DispatchOn(ctx context.Context, cmd any, queueName string, args ...any) error {
	if ctx == nil {
		return errors.New("dispatch: context is required")
	}
	if cmd == nil {
		return errors.New("dispatch: command is required")
	}
	if d.queue == nil {
		return errors.New("dispatch: no queue configured")
	}

	rt, err := commandType(cmd)
	if err != nil {
		return err
	}
	if !isDispatchable(rt) {
		return &NotDispatchableError{Command: typeName(rt)}
	}

	// The Handle shape and arity are checked before enqueue; a job that can
	// never execute should fail on the caller, not on a worker.
	plan, err := planFor(rt)
	if err != nil {
		return err
	}
	if len(args) != len(plan.params) {
		return fmt.Errorf("dispatch: %s.Handle takes %d arguments, got %d", typeName(rt), len(plan.params), len(args))
	}

	name, err := d.ensureRegistered(rt)
	if err != nil {
		return err
	}
	encoded, err := d.encodeArgs(name, args)
	if err != nil {
		return err
	}

	job := Job{
		ID:         uuid.New(),
		Command:    name,
		Queue:      d.queueFor(name, rt, queueName),
		Args:       encoded,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := d.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("dispatch: enqueue job: %w", err)
	}

	d.logger.Debug("dispatch: job enqueued", "command", name, "queue", job.Queue, "id", job.ID)
	return nil
}

// Execute rebuilds a delivered job and runs it. Record arguments are
// rehydrated through the marshaler, the command is constructed via the
// container, and Handle failures reach the command's Failed hook before the
// error returns to the queue for its redelivery policy.
func (d *Dispatcher) Execute(ctx context.Context, job Job) error {
	if ctx == nil {
		return errors.New("dispatch: context is required")
	}

	rt, err := d.registry.Lookup(job.Command)
	if err != nil {
		return fmt.Errorf("dispatch: resolve command %q: %w", job.Command, err)
	}
	plan, err := planFor(rt)
	if err != nil {
		return err
	}

	instance, err := d.construct(ctx, rt)
	if err != nil {
		return err
	}
	recv, err := receiverFor(instance, rt)
	if err != nil {
		return err
	}

	vals, err := d.decodeArgs(typeName(rt), plan, job.Args)
	if err != nil {
		return err
	}

	_, err = plan.invoke(ctx, recv, vals)
	if err != nil {
		if hook, ok := recv.Interface().(FailureHandler); ok {
			hook.Failed(ctx, rawArgs(vals), err)
		}
		d.logger.Error("dispatch: job failed", "command", job.Command, "id", job.ID, "error", err)
		return err
	}

	d.logger.Debug("dispatch: job executed", "command", job.Command, "id", job.ID)
	return nil
}

func (d *Dispatcher) construct(ctx context.Context, rt reflect.Type) (any, error) {
	instance, err := d.container.Construct(ctx, rt)
	if err != nil {
		return nil, fmt.Errorf("dispatch: construct %s: %w", typeName(rt), err)
	}
	if instance == nil {
		return nil, fmt.Errorf("dispatch: construct %s: container returned nil", typeName(rt))
	}
	return instance, nil
}

func (d *Dispatcher) ensureRegistered(rt reflect.Type) (string, error) {
	if name, ok := d.registry.TypeName(rt); ok {
		return name, nil
	}
	name := rt.Name()
	if name == "" {
		return "", fmt.Errorf("dispatch: anonymous command %s must be registered with an explicit name", rt)
	}
	if err := d.registry.Register(name, rt); err != nil {
		return "", err
	}
	return name, nil
}

func (d *Dispatcher) queueFor(name string, rt reflect.Type, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if queue, ok := d.queueNames[name]; ok && queue != "" {
		return queue
	}
	if declared, ok := reflect.New(rt).Interface().(Dispatchable); ok {
		if queue := declared.Queue(); queue != "" {
			return queue
		}
	}
	return d.defaultQueue
}

// encodeArgs flattens dispatch arguments for transport. Structs registered in
// the record registry are marshaled so workers can rebuild them by name;
// everything else passes through as an opaque value.
func (d *Dispatcher) encodeArgs(cmd string, args []any) ([]Argument, error) {
	if len(args) == 0 {
		return nil, nil
	}
	encoded := make([]Argument, len(args))
	for i, arg := range args {
		if arg == nil {
			continue
		}
		base := reflect.TypeOf(arg)
		if base.Kind() == reflect.Pointer {
			base = base.Elem()
		}
		if base.Kind() == reflect.Struct {
			if name, ok := d.registry.TypeName(base); ok {
				fields, err := d.marshaler.ToMap(arg)
				if err != nil {
					return nil, &ArgumentError{Command: cmd, Position: i, Err: err}
				}
				encoded[i] = Argument{Record: name, Fields: fields}
				continue
			}
		}
		encoded[i] = Argument{Value: arg}
	}
	return encoded, nil
}

// decodeArgs rebuilds job arguments against the Handle signature.
func (d *Dispatcher) decodeArgs(cmd string, plan *handlerPlan, args []Argument) ([]reflect.Value, error) {
	if len(args) != len(plan.params) {
		return nil, fmt.Errorf("dispatch: %s.Handle takes %d arguments, job carries %d", cmd, len(plan.params), len(args))
	}

	vals := make([]reflect.Value, len(args))
	for i, arg := range args {
		want := plan.params[i]
		if !arg.IsRecord() {
			val, err := convertArg(cmd, i, arg.Value, want)
			if err != nil {
				return nil, err
			}
			vals[i] = val
			continue
		}

		rt, err := d.registry.Lookup(arg.Record)
		if err != nil {
			return nil, &ArgumentError{Command: cmd, Position: i, Err: err}
		}
		instance := reflect.New(rt)
		if err := d.marshaler.FromMap(arg.Fields, instance.Interface()); err != nil {
			return nil, &ArgumentError{Command: cmd, Position: i, Err: err}
		}

		switch {
		case rt.AssignableTo(want):
			vals[i] = instance.Elem()
		case instance.Type().AssignableTo(want):
			vals[i] = instance
		default:
			return nil, &ArgumentError{
				Command:  cmd,
				Position: i,
				Reason:   fmt.Sprintf("record %s does not fit parameter type %s", arg.Record, want),
			}
		}
	}
	return vals, nil
}

func (d *Dispatcher) callArgs(cmd string, plan *handlerPlan, args []any) ([]reflect.Value, error) {
	if len(args) != len(plan.params) {
		return nil, fmt.Errorf("dispatch: %s.Handle takes %d arguments, got %d", cmd, len(plan.params), len(args))
	}
	vals := make([]reflect.Value, len(args))
	for i, arg := range args {
		val, err := convertArg(cmd, i, arg, plan.params[i])
		if err != nil {
			return nil, err
		}
		vals[i] = val
	}
	return vals, nil
}

// convertArg adapts one argument to a Handle parameter type. Beyond direct
// assignability, numeric arguments convert under the sign and range guards
// of convertNumericArg; values that would wrap or truncate are rejected.
func convertArg(cmd string, pos int, val any, want reflect.Type) (reflect.Value, error) {
	if val == nil {
		switch want.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
			return reflect.Zero(want), nil
		}
		return reflect.Value{}, &ArgumentError{
			Command:  cmd,
			Position: pos,
			Reason:   fmt.Sprintf("cannot use nil as %s", want),
		}
	}

	rv := reflect.ValueOf(val)
	if rv.Type().AssignableTo(want) {
		return rv, nil
	}
	if converted, ok := convertNumericArg(rv, want); ok {
		return converted, nil
	}
	if rv.Kind() == want.Kind() && (rv.Kind() == reflect.String || rv.Kind() == reflect.Bool) && rv.Type().ConvertibleTo(want) {
		return rv.Convert(want), nil
	}
	return reflect.Value{}, &ArgumentError{
		Command:  cmd,
		Position: pos,
		Reason:   fmt.Sprintf("cannot use %T as %s", val, want),
	}
}

const (
	maxInt64Float  = float64(1 << 63)
	minInt64Float  = -float64(1 << 63)
	maxUint64Float = float64(1 << 64)
)

// convertNumericArg moves a value between numeric kinds with explicit sign
// and range guards. Integer destinations reject fractional floats; float
// destinations tolerate rounding within range.
func convertNumericArg(rv reflect.Value, want reflect.Type) (reflect.Value, bool) {
	if !numericKind(rv.Kind()) || !numericKind(want.Kind()) {
		return reflect.Value{}, false
	}

	out := reflect.New(want).Elem()
	switch want.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, ok := argUint(rv)
		if !ok || out.OverflowUint(u) {
			return reflect.Value{}, false
		}
		out.SetUint(u)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, ok := argInt(rv)
		if !ok || out.OverflowInt(n) {
			return reflect.Value{}, false
		}
		out.SetInt(n)
	default:
		f := argFloat(rv)
		if out.OverflowFloat(f) {
			return reflect.Value{}, false
		}
		out.SetFloat(f)
	}
	return out, true
}

func argInt(rv reflect.Value) (int64, bool) {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	default:
		f := rv.Float()
		if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
			return 0, false
		}
		if f < minInt64Float || f >= maxInt64Float {
			return 0, false
		}
		return int64(f), true
	}
}

func argUint(rv reflect.Value) (uint64, bool) {
	switch rv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := rv.Int()
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	default:
		f := rv.Float()
		if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
			return 0, false
		}
		if f < 0 || f >= maxUint64Float {
			return 0, false
		}
		return uint64(f), true
	}
}

func argFloat(rv reflect.Value) float64 {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	default:
		return rv.Float()
	}
}

func numericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func rawArgs(vals []reflect.Value) []any {
	out := make([]any, len(vals))
	for i, val := range vals {
		out[i] = val.Interface()
	}
	return out
}

func receiverFor(instance any, rt reflect.Type) (reflect.Value, error) {
	rv := reflect.ValueOf(instance)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return reflect.Value{}, fmt.Errorf("dispatch: command instance is a nil %s", rv.Type())
		}
		if rv.Elem().Type() == rt {
			return rv, nil
		}
	} else if rv.IsValid() && rv.Type() == rt {
		ptr := reflect.New(rt)
		ptr.Elem().Set(rv)
		return ptr, nil
	}
	return reflect.Value{}, fmt.Errorf("dispatch: command instance is %T, want %s", instance, rt)
}

func commandType(cmd any) (reflect.Type, error) {
	rt, ok := cmd.(reflect.Type)
	if !ok {
		rt = reflect.TypeOf(cmd)
	}
	if rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if rt.Kind() != reflect.Struct {
		return nil, fmt.Errorf("dispatch: command must be a struct type, got %s", rt)
	}
	return rt, nil
}

func isDispatchable(rt reflect.Type) bool {
	return reflect.PointerTo(rt).Implements(reflect.TypeOf((*Dispatchable)(nil)).Elem())
}

// Register records the command's identity for asynchronous dispatch and
// validates its Handle shape up front. The name defaults to the bare type
// name.
func Register[C any](d *Dispatcher, name ...string) error {
	rt, err := commandType(typeFor[C]())
	if err != nil {
		return err
	}
	if _, err := planFor(rt); err != nil {
		return err
	}
	return registry.Add[C](d.registry, name...)
}

// Run constructs C through the container and invokes its Handle method
// synchronously, returning the business result directly.
func Run[C any](ctx context.Context, d *Dispatcher, args ...any) (any, error) {
	rt, err := commandType(typeFor[C]())
	if err != nil {
		return nil, err
	}
	return d.Run(ctx, rt, args...)
}

// Dispatch enqueues a C job on the command's preferred queue.
func Dispatch[C any](ctx context.Context, d *Dispatcher, args ...any) error {
	return DispatchOn[C](ctx, d, "", args...)
}

// DispatchOn enqueues a C job on the named queue.
func DispatchOn[C any](ctx context.Context, d *Dispatcher, queue string, args ...any) error {
	rt, err := commandType(typeFor[C]())
	if err != nil {
		return err
	}
	return d.DispatchOn(ctx, rt, queue, args...)
}

func typeFor[C any]() reflect.Type {
	return reflect.TypeOf((*C)(nil)).Elem()
}
