package dispatch

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

var (
	ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType = reflect.TypeOf((*error)(nil)).Elem()
)

// handlerPlan captures the discovered shape of a command's Handle method so
// invocation only pays the reflection cost once per type.
type handlerPlan struct {
	method   int // method index on *T
	takesCtx bool
	params   []reflect.Type // business arguments, context excluded
	hasValue bool
	hasErr   bool
}

var (
	planMu sync.RWMutex
	plans  = make(map[reflect.Type]*handlerPlan)
)

// planFor discovers Handle on the command type. Plans are published to a
// process-wide cache; discovery failures are never cached so a fixed type
// definition resolves cleanly after a rebuild.
func planFor(rt reflect.Type) (*handlerPlan, error) {
	planMu.RLock()
	plan, ok := plans[rt]
	planMu.RUnlock()
	if ok {
		return plan, nil
	}

	built, err := buildPlan(rt)
	if err != nil {
		return nil, err
	}

	planMu.Lock()
	defer planMu.Unlock()
	if existing, ok := plans[rt]; ok {
		return existing, nil
	}
	plans[rt] = built
	return built, nil
}

func resetPlans() {
	planMu.Lock()
	defer planMu.Unlock()
	plans = make(map[reflect.Type]*handlerPlan)
}

func buildPlan(rt reflect.Type) (*handlerPlan, error) {
	// The pointer method set contains value-receiver methods too, so a single
	// lookup covers both receiver flavors.
	method, ok := reflect.PointerTo(rt).MethodByName("Handle")
	if !ok {
		return nil, &NotRunnableError{Command: typeName(rt), Reason: "no Handle method"}
	}

	mt := method.Func.Type()
	if mt.IsVariadic() {
		return nil, &NotRunnableError{Command: typeName(rt), Reason: "variadic Handle methods are not supported"}
	}

	plan := &handlerPlan{method: method.Index}

	// Skip the receiver at input index 0.
	in := make([]reflect.Type, 0, mt.NumIn()-1)
	for i := 1; i < mt.NumIn(); i++ {
		in = append(in, mt.In(i))
	}
	if len(in) > 0 && in[0] == ctxType {
		plan.takesCtx = true
		in = in[1:]
	}
	plan.params = in

	switch mt.NumOut() {
	case 0:
	case 1:
		if mt.Out(0) == errType {
			plan.hasErr = true
		} else {
			plan.hasValue = true
		}
	case 2:
		if mt.Out(1) != errType {
			return nil, &NotRunnableError{Command: typeName(rt), Reason: "Handle second return value must be error"}
		}
		plan.hasValue = true
		plan.hasErr = true
	default:
		return nil, &NotRunnableError{
			Command: typeName(rt),
			Reason:  fmt.Sprintf("Handle returns %d values, want at most a result and an error", mt.NumOut()),
		}
	}

	return plan, nil
}

// invoke calls Handle on the command instance and splits the results into the
// optional business value and error.
func (p *handlerPlan) invoke(ctx context.Context, recv reflect.Value, args []reflect.Value) (any, error) {
	call := make([]reflect.Value, 0, len(args)+1)
	if p.takesCtx {
		call = append(call, reflect.ValueOf(ctx))
	}
	call = append(call, args...)

	out := recv.Method(p.method).Call(call)

	var result any
	var err error
	switch {
	case p.hasValue && p.hasErr:
		result = out[0].Interface()
		if !out[1].IsNil() {
			err = out[1].Interface().(error)
		}
	case p.hasErr:
		if !out[0].IsNil() {
			err = out[0].Interface().(error)
		}
	case p.hasValue:
		result = out[0].Interface()
	}
	return result, err
}

func typeName(rt reflect.Type) string {
	if name := rt.Name(); name != "" {
		return name
	}
	return rt.String()
}
