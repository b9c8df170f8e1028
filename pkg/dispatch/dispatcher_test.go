package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/goliatone/go-record/pkg/marshal"
	"github.com/goliatone/go-record/pkg/registry"
)

type invoice struct {
	Number string  `record:"number"`
	Total  float64 `record:"total"`
}

type totalOrder struct {
	prefix string
}

func (c *totalOrder) Handle(_ context.Context, inv invoice, factor int64) (string, error) {
	return fmt.Sprintf("%s%s:%.2f", c.prefix, inv.Number, inv.Total*float64(factor)), nil
}

type sendReceipt struct {
	got         []invoice
	fail        error
	failureArgs []any
	failureErr  error
}

func (c *sendReceipt) Handle(_ context.Context, inv invoice) error {
	if c.fail != nil {
		return c.fail
	}
	c.got = append(c.got, inv)
	return nil
}

func (c *sendReceipt) Queue() string { return "receipts" }

func (c *sendReceipt) Failed(_ context.Context, args []any, err error) {
	c.failureArgs = args
	c.failureErr = err
}

type captureQueue struct {
	jobs []Job
	err  error
}

func (q *captureQueue) Enqueue(_ context.Context, job Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher(t *testing.T, options ...Option) (*Dispatcher, *registry.Registry, *captureQueue) {
	t.Helper()

	reg := registry.New()
	registry.MustAdd[invoice](reg)

	queue := &captureQueue{}
	base := []Option{
		WithRegistry(reg),
		WithMarshaler(marshal.New(marshal.WithRegistry(reg))),
		WithQueue(queue),
		WithLogger(quietLogger()),
	}
	return New(append(base, options...)...), reg, queue
}

func TestRun(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	result, err := Run[totalOrder](context.Background(), d, invoice{Number: "INV-1", Total: 10}, 3)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result != "INV-1:30.00" {
		t.Fatalf("result: %q", result)
	}
}

func TestRun_InstanceKeepsState(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	cmd := &totalOrder{prefix: "order "}
	result, err := d.Run(context.Background(), cmd, invoice{Number: "INV-2", Total: 5}, int64(2))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result != "order INV-2:10.00" {
		t.Fatalf("result: %q", result)
	}
}

func TestRun_ConvertsCompatibleArguments(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	// int literal for an int64 parameter survives the lossless conversion.
	if _, err := Run[totalOrder](context.Background(), d, invoice{}, 7); err != nil {
		t.Fatalf("run: %v", err)
	}

	_, err := Run[totalOrder](context.Background(), d, invoice{}, "seven")
	var argErr *ArgumentError
	if !errors.As(err, &argErr) {
		t.Fatalf("expected ArgumentError, got %v", err)
	}
	if argErr.Position != 1 {
		t.Fatalf("position: %d", argErr.Position)
	}
}

func TestRun_PropagatesBusinessError(t *testing.T) {
	boom := errors.New("receipt printer on fire")
	cmd := &sendReceipt{fail: boom}
	d, _, _ := newTestDispatcher(t)

	_, err := d.Run(context.Background(), cmd, invoice{Number: "INV-3"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected business error, got %v", err)
	}
}

func TestRun_ArityMismatch(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	_, err := Run[sendReceipt](context.Background(), d, invoice{}, "extra")
	if err == nil || !strings.Contains(err.Error(), "takes 1 arguments, got 2") {
		t.Fatalf("expected arity error, got %v", err)
	}
}

func TestRun_RequiresContext(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	var missing context.Context
	if _, err := d.Run(missing, &sendReceipt{}, invoice{}); err == nil {
		t.Fatal("nil context should fail")
	}
}

type noHandle struct{}

type variadicHandle struct{}

func (variadicHandle) Handle(_ context.Context, _ ...string) error { return nil }

type threeReturns struct{}

func (threeReturns) Handle() (int, string, error) { return 0, "", nil }

type badSecondReturn struct{}

func (badSecondReturn) Handle() (int, string) { return 0, "" }

type bareHandle struct{ hits int }

func (h *bareHandle) Handle() { h.hits++ }

type valueOnly struct{}

func (valueOnly) Handle() int { return 7 }

func TestPlanDiscovery(t *testing.T) {
	cases := []struct {
		name   string
		rt     reflect.Type
		reason string
	}{
		{"missing handle", reflect.TypeOf(noHandle{}), "no Handle method"},
		{"variadic", reflect.TypeOf(variadicHandle{}), "variadic Handle methods are not supported"},
		{"three returns", reflect.TypeOf(threeReturns{}), "Handle returns 3 values"},
		{"bad second return", reflect.TypeOf(badSecondReturn{}), "second return value must be error"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := planFor(tc.rt)
			var notRunnable *NotRunnableError
			if !errors.As(err, &notRunnable) {
				t.Fatalf("expected NotRunnableError, got %v", err)
			}
			if !strings.Contains(notRunnable.Reason, tc.reason) {
				t.Fatalf("reason %q does not contain %q", notRunnable.Reason, tc.reason)
			}
		})
	}
}

func TestPlanCache(t *testing.T) {
	resetPlans()
	t.Cleanup(resetPlans)

	rt := reflect.TypeOf(sendReceipt{})

	const goroutines = 8
	plans := make([]*handlerPlan, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			plan, err := planFor(rt)
			if err != nil {
				t.Errorf("plan: %v", err)
				return
			}
			plans[slot] = plan
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		if plans[i] != plans[0] {
			t.Fatal("concurrent discovery should publish a single plan")
		}
	}

	resetPlans()
	rebuilt, err := planFor(rt)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if rebuilt == plans[0] {
		t.Fatal("reset should force a rebuild")
	}
}

func TestRun_HandleShapes(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	cmd := &bareHandle{}
	result, err := d.Run(ctx, cmd)
	if err != nil || result != nil {
		t.Fatalf("bare handle: result=%v err=%v", result, err)
	}
	if cmd.hits != 1 {
		t.Fatalf("bare handle not invoked: %d", cmd.hits)
	}

	result, err = Run[valueOnly](ctx, d)
	if err != nil {
		t.Fatalf("value only: %v", err)
	}
	if result != 7 {
		t.Fatalf("value only result: %v", result)
	}
}

func TestDispatch_BuildsJob(t *testing.T) {
	d, reg, queue := newTestDispatcher(t)

	err := Dispatch[sendReceipt](context.Background(), d, invoice{Number: "INV-9", Total: 42})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(queue.jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(queue.jobs))
	}

	job := queue.jobs[0]
	if job.Command != "sendReceipt" {
		t.Fatalf("command: %q", job.Command)
	}
	if job.Queue != "receipts" {
		t.Fatalf("queue: %q", job.Queue)
	}
	if job.ID == uuid.Nil {
		t.Fatal("job id not assigned")
	}
	if job.EnqueuedAt.IsZero() {
		t.Fatal("enqueued timestamp not assigned")
	}
	if !reg.Has("sendReceipt") {
		t.Fatal("command was not auto-registered")
	}

	wantArg := Argument{
		Record: "invoice",
		Fields: map[string]any{"number": "INV-9", "total": 42.0},
	}
	if diff := cmp.Diff(wantArg, job.Args[0]); diff != "" {
		t.Fatalf("argument mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatch_PrimitivePassthrough(t *testing.T) {
	d, _, queue := newTestDispatcher(t)

	cmd := &sendReceipt{}
	if err := d.DispatchOn(context.Background(), cmd, "billing", invoice{Number: "INV-4"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if queue.jobs[0].Queue != "billing" {
		t.Fatalf("explicit queue lost: %q", queue.jobs[0].Queue)
	}
}

func TestDispatch_QueueResolutionOrder(t *testing.T) {
	cfg := Config{Queues: map[string]string{"sendReceipt": "configured"}}
	d, _, queue := newTestDispatcher(t, WithConfig(cfg))
	ctx := context.Background()

	// Explicit beats configured beats declared.
	if err := DispatchOn[sendReceipt](ctx, d, "explicit", invoice{}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := Dispatch[sendReceipt](ctx, d, invoice{}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if queue.jobs[0].Queue != "explicit" {
		t.Fatalf("explicit: %q", queue.jobs[0].Queue)
	}
	if queue.jobs[1].Queue != "configured" {
		t.Fatalf("configured override: %q", queue.jobs[1].Queue)
	}
}

type archiveLogs struct{}

func (archiveLogs) Handle(_ context.Context) error { return nil }

func (archiveLogs) Queue() string { return "" }

func TestDispatch_DefaultQueue(t *testing.T) {
	d, _, queue := newTestDispatcher(t, WithDefaultQueue("fallback"))

	if err := Dispatch[archiveLogs](context.Background(), d); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if queue.jobs[0].Queue != "fallback" {
		t.Fatalf("empty declaration should use the default queue: %q", queue.jobs[0].Queue)
	}
}

func TestDispatch_RequiresDispatchable(t *testing.T) {
	d, _, queue := newTestDispatcher(t)

	err := Dispatch[totalOrder](context.Background(), d, invoice{}, int64(1))
	var notDispatchable *NotDispatchableError
	if !errors.As(err, &notDispatchable) {
		t.Fatalf("expected NotDispatchableError, got %v", err)
	}
	if len(queue.jobs) != 0 {
		t.Fatal("job should not be enqueued")
	}
}

func TestDispatch_ArityCheckedBeforeEnqueue(t *testing.T) {
	d, _, queue := newTestDispatcher(t)

	err := Dispatch[sendReceipt](context.Background(), d, invoice{}, "extra")
	if err == nil || !strings.Contains(err.Error(), "takes 1 arguments, got 2") {
		t.Fatalf("expected arity error, got %v", err)
	}
	if len(queue.jobs) != 0 {
		t.Fatal("job should not be enqueued")
	}
}

func TestDispatch_EnqueueFailureSurfaces(t *testing.T) {
	d, _, queue := newTestDispatcher(t)
	queue.err = errors.New("broker unavailable")

	err := Dispatch[sendReceipt](context.Background(), d, invoice{})
	if err == nil || !errors.Is(err, queue.err) {
		t.Fatalf("expected enqueue error, got %v", err)
	}
}

func TestDispatch_RecordMarshalFailure(t *testing.T) {
	type badClock struct {
		When string `record:"when,format=nope"`
	}

	reg := registry.New()
	registry.MustAdd[badClock](reg)
	d := New(
		WithRegistry(reg),
		WithMarshaler(marshal.New(marshal.WithRegistry(reg))),
		WithQueue(&captureQueue{}),
		WithLogger(quietLogger()),
	)

	err := Dispatch[sendReceipt](context.Background(), d, badClock{When: "now"})
	var argErr *ArgumentError
	if !errors.As(err, &argErr) {
		t.Fatalf("expected ArgumentError, got %v", err)
	}
	var invalid *marshal.InvalidMetadataError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected wrapped metadata error, got %v", err)
	}
}

func TestExecute_RebuildsRecordArguments(t *testing.T) {
	cmd := &sendReceipt{}
	d, _, queue := newTestDispatcher(t, WithContainer(ContainerFunc(
		func(_ context.Context, _ reflect.Type) (any, error) { return cmd, nil },
	)))
	ctx := context.Background()

	if err := Dispatch[sendReceipt](ctx, d, invoice{Number: "INV-7", Total: 12.5}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := d.Execute(ctx, queue.jobs[0]); err != nil {
		t.Fatalf("execute: %v", err)
	}

	want := []invoice{{Number: "INV-7", Total: 12.5}}
	if diff := cmp.Diff(want, cmd.got); diff != "" {
		t.Fatalf("rehydrated record mismatch (-want +got):\n%s", diff)
	}
}

func TestExecute_FailureHook(t *testing.T) {
	boom := errors.New("smtp timeout")
	cmd := &sendReceipt{fail: boom}
	d, _, queue := newTestDispatcher(t, WithContainer(ContainerFunc(
		func(_ context.Context, _ reflect.Type) (any, error) { return cmd, nil },
	)))
	ctx := context.Background()

	if err := Dispatch[sendReceipt](ctx, d, invoice{Number: "INV-8"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	err := d.Execute(ctx, queue.jobs[0])
	if !errors.Is(err, boom) {
		t.Fatalf("expected handle error back, got %v", err)
	}
	if !errors.Is(cmd.failureErr, boom) {
		t.Fatalf("failure hook error: %v", cmd.failureErr)
	}
	if len(cmd.failureArgs) != 1 {
		t.Fatalf("failure hook args: %v", cmd.failureArgs)
	}
	if inv, ok := cmd.failureArgs[0].(invoice); !ok || inv.Number != "INV-8" {
		t.Fatalf("failure hook should receive rehydrated args: %#v", cmd.failureArgs[0])
	}
}

func TestExecute_UnknownCommand(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	err := d.Execute(context.Background(), Job{Command: "ghost"})
	if err == nil || !strings.Contains(err.Error(), `resolve command "ghost"`) {
		t.Fatalf("expected resolution error, got %v", err)
	}
}

func TestExecute_UnregisteredRecordArgument(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	job := Job{
		Command: "sendReceipt",
		Args:    []Argument{{Record: "ghost", Fields: map[string]any{}}},
	}
	if err := Register[sendReceipt](d); err != nil {
		t.Fatalf("register: %v", err)
	}

	err := d.Execute(context.Background(), job)
	var argErr *ArgumentError
	if !errors.As(err, &argErr) {
		t.Fatalf("expected ArgumentError, got %v", err)
	}
}

func TestRegister_CustomName(t *testing.T) {
	d, reg, queue := newTestDispatcher(t)

	if err := Register[sendReceipt](d, "billing.receipt"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !reg.Has("billing.receipt") {
		t.Fatal("custom name not registered")
	}

	if err := Dispatch[sendReceipt](context.Background(), d, invoice{}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if queue.jobs[0].Command != "billing.receipt" {
		t.Fatalf("command identity: %q", queue.jobs[0].Command)
	}
}

func TestRegister_RejectsNonRunnable(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	err := Register[noHandle](d)
	var notRunnable *NotRunnableError
	if !errors.As(err, &notRunnable) {
		t.Fatalf("expected NotRunnableError, got %v", err)
	}
}

func TestConvertArg_NilHandling(t *testing.T) {
	if _, err := convertArg("cmd", 0, nil, reflect.TypeOf(0)); err == nil {
		t.Fatal("nil into int should fail")
	}
	val, err := convertArg("cmd", 0, nil, reflect.TypeOf(&invoice{}))
	if err != nil {
		t.Fatalf("nil into pointer: %v", err)
	}
	if !val.IsNil() {
		t.Fatal("expected nil pointer value")
	}
}

func TestConvertArg_RejectsLossyConversions(t *testing.T) {
	cases := []struct {
		name string
		val  any
		want reflect.Type
	}{
		{"fractional float to int", 1.5, reflect.TypeOf(0)},
		{"overflowing int to int8", 300, reflect.TypeOf(int8(0))},
		{"negative to uint", -1, reflect.TypeOf(uint(0))},
		// Equal-width sign flips wrap in two's complement rather than
		// overflow.
		{"negative int64 to uint64", int64(-1), reflect.TypeOf(uint64(0))},
		{"huge uint64 to int64", uint64(math.MaxUint64), reflect.TypeOf(int64(0))},
		{"negative float to uint", -2.0, reflect.TypeOf(uint8(0))},
		{"out of range float to int", 1e300, reflect.TypeOf(0)},
		{"nan to int", math.NaN(), reflect.TypeOf(0)},
		{"int to string", 65, reflect.TypeOf("")},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if _, err := convertArg("cmd", 0, tc.val, tc.want); err == nil {
				t.Fatalf("conversion of %v to %s should fail", tc.val, tc.want)
			}
		})
	}
}

func TestConvertArg_AcceptsExactConversions(t *testing.T) {
	cases := []struct {
		name string
		val  any
		want any
	}{
		{"int widens to int64", 7, int64(7)},
		{"non-negative int to uint16", 7, uint16(7)},
		{"integral float to int", 2.0, 2},
		{"uint8 to int", uint8(9), 9},
		{"uint widens to float", uint8(9), float64(9)},
		{"int to float", -3, -3.0},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, err := convertArg("cmd", 0, tc.val, reflect.TypeOf(tc.want))
			if err != nil {
				t.Fatalf("convert: %v", err)
			}
			if got.Interface() != tc.want {
				t.Fatalf("converted value: %#v, want %#v", got.Interface(), tc.want)
			}
		})
	}
}
