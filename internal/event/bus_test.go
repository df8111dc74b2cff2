package event

import (
	"errors"
	"sync"
	"testing"
)

// recorder collects handler invocations in order, safely across the
// scheduler goroutine.
type recorder struct {
	mu    sync.Mutex
	names []string
}

func (r *recorder) handler(name string) Handler {
	return HandlerFunc(func(Event) error {
		r.mu.Lock()
		r.names = append(r.names, name)
		r.mu.Unlock()
		return nil
	})
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func assertOrder(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestBus_PriorityOrdering(t *testing.T) {
	b := New()
	defer b.Close()

	rec := &recorder{}
	if _, err := b.On("data:change", rec.handler("low"), WithPriority(PriorityLow)); err != nil {
		t.Fatal(err)
	}
	if _, err := b.On("data:change", rec.handler("high"), WithPriority(PriorityHigh)); err != nil {
		t.Fatal(err)
	}
	if _, err := b.On("data:change", rec.handler("normal")); err != nil {
		t.Fatal(err)
	}

	if err := b.Emit("data:change", nil); err != nil {
		t.Fatal(err)
	}
	b.Drain()

	assertOrder(t, rec.got(), []string{"high", "normal", "low"})
}

func TestBus_ImmediateIsSynchronous(t *testing.T) {
	b := New()
	defer b.Close()

	rec := &recorder{}
	if _, err := b.On("state:update", rec.handler("handler")); err != nil {
		t.Fatal(err)
	}

	if err := b.Emit("state:update", nil, WithEmitPriority(PriorityImmediate)); err != nil {
		t.Fatal(err)
	}
	// No Drain: the handler must already have run in this stack frame.
	rec.mu.Lock()
	rec.names = append(rec.names, "after-emit")
	rec.mu.Unlock()

	assertOrder(t, rec.got(), []string{"handler", "after-emit"})
}

func TestBus_NonImmediateIsDeferred(t *testing.T) {
	b := New()
	defer b.Close()

	rec := &recorder{}
	if _, err := b.On("state:update", rec.handler("handler")); err != nil {
		t.Fatal(err)
	}

	// Hold the scheduler in a flush so the emission cannot run until
	// released; a deferred emission must not run in Emit's stack.
	gate := make(chan struct{})
	started := make(chan struct{})
	b.sched.schedule(PriorityHigh, func() {
		close(started)
		<-gate
	})
	<-started

	if err := b.Emit("state:update", nil); err != nil {
		t.Fatal(err)
	}
	rec.mu.Lock()
	rec.names = append(rec.names, "after-emit")
	rec.mu.Unlock()
	close(gate)
	b.Drain()

	assertOrder(t, rec.got(), []string{"after-emit", "handler"})
}

func TestBus_OnceDeliversOnce(t *testing.T) {
	b := New()
	defer b.Close()

	rec := &recorder{}
	if _, err := b.Once("row:add", rec.handler("once")); err != nil {
		t.Fatal(err)
	}

	if err := b.Emit("row:add", nil); err != nil {
		t.Fatal(err)
	}
	if err := b.Emit("row:add", nil); err != nil {
		t.Fatal(err)
	}
	b.Drain()

	assertOrder(t, rec.got(), []string{"once"})
	if b.HandlerCount("row:add") != 0 {
		t.Error("once subscription should be removed after delivery")
	}
}

// Two emissions queued before the first flush must still deliver a
// once subscription exactly one time.
func TestBus_OnceQueuedTwiceBeforeFlush(t *testing.T) {
	b := New()
	defer b.Close()

	rec := &recorder{}
	if _, err := b.Once("row:add", rec.handler("once"), WithPriority(PriorityLow)); err != nil {
		t.Fatal(err)
	}

	// Hold the scheduler so both snapshots are taken before either
	// flush thunk runs.
	gate := make(chan struct{})
	started := make(chan struct{})
	b.sched.schedule(PriorityHigh, func() {
		close(started)
		<-gate
	})
	<-started

	if err := b.Emit("row:add", nil, WithEmitPriority(PriorityLow)); err != nil {
		t.Fatal(err)
	}
	if err := b.Emit("row:add", nil, WithEmitPriority(PriorityLow)); err != nil {
		t.Fatal(err)
	}
	close(gate)
	b.Drain()

	assertOrder(t, rec.got(), []string{"once"})
}

func TestBus_WildcardMatching(t *testing.T) {
	b := New()
	defer b.Close()

	rec := &recorder{}
	if _, err := b.On("row:*", rec.handler("ns")); err != nil {
		t.Fatal(err)
	}
	if _, err := b.On("*", rec.handler("star")); err != nil {
		t.Fatal(err)
	}

	if err := b.Emit("row:add", nil, WithEmitPriority(PriorityImmediate)); err != nil {
		t.Fatal(err)
	}
	assertOrder(t, rec.got(), []string{"ns", "star"})

	if err := b.Emit("cell:change", nil, WithEmitPriority(PriorityImmediate)); err != nil {
		t.Fatal(err)
	}
	assertOrder(t, rec.got(), []string{"ns", "star", "star"})
}

func TestBus_MiddlewareCancelBlocksAll(t *testing.T) {
	b := New()
	defer b.Close()

	rec := &recorder{}
	if _, err := b.On("row:add", rec.handler("exact"), WithPriority(PriorityImmediate)); err != nil {
		t.Fatal(err)
	}
	if _, err := b.On("*", rec.handler("star")); err != nil {
		t.Fatal(err)
	}
	b.Use(func(ev Event) (Event, bool) {
		return ev, false
	})

	if err := b.Emit("row:add", nil, WithEmitPriority(PriorityImmediate)); err != nil {
		t.Fatal(err)
	}
	b.Drain()

	if got := rec.got(); len(got) != 0 {
		t.Errorf("cancelled emission reached handlers: %v", got)
	}
	if s := b.Stats(); s.EventsCancelled != 1 || s.EventsEmitted != 0 {
		t.Errorf("stats = %+v, want 1 cancelled, 0 emitted", s)
	}
}

func TestBus_MiddlewareTransformVisible(t *testing.T) {
	b := New()
	defer b.Close()

	var seen string
	if _, err := b.On("row:add", HandlerFunc(func(ev Event) error {
		seen = ev.Source
		return nil
	})); err != nil {
		t.Fatal(err)
	}
	b.Use(func(ev Event) (Event, bool) {
		ev.Source = "stamped"
		return ev, true
	})

	if err := b.Emit("row:add", nil, WithEmitPriority(PriorityImmediate)); err != nil {
		t.Fatal(err)
	}
	if seen != "stamped" {
		t.Errorf("handler saw Source %q, want %q", seen, "stamped")
	}
}

func TestBus_UnsubscribeIdempotent(t *testing.T) {
	b := New()
	defer b.Close()

	rec := &recorder{}
	unsub, err := b.On("row:add", rec.handler("h"))
	if err != nil {
		t.Fatal(err)
	}
	unsub()
	unsub()

	if err := b.Emit("row:add", nil, WithEmitPriority(PriorityImmediate)); err != nil {
		t.Fatal(err)
	}
	if got := rec.got(); len(got) != 0 {
		t.Errorf("unsubscribed handler ran: %v", got)
	}
}

func TestBus_OffByHandlerIdentity(t *testing.T) {
	b := New()
	defer b.Close()

	rec := &recorder{}
	keep := rec.handler("keep")
	drop := rec.handler("drop")
	if _, err := b.On("row:add", keep); err != nil {
		t.Fatal(err)
	}
	if _, err := b.On("row:add", drop); err != nil {
		t.Fatal(err)
	}

	if !b.Off("row:add", drop) {
		t.Fatal("Off() returned false for a registered handler")
	}
	if err := b.Emit("row:add", nil, WithEmitPriority(PriorityImmediate)); err != nil {
		t.Fatal(err)
	}
	assertOrder(t, rec.got(), []string{"keep"})
}

func TestBus_HandlerErrorContained(t *testing.T) {
	b := New()
	defer b.Close()

	rec := &recorder{}
	if _, err := b.On("row:add", HandlerFunc(func(Event) error {
		return errors.New("handler fault")
	}), WithPriority(PriorityHigh)); err != nil {
		t.Fatal(err)
	}
	if _, err := b.On("row:add", rec.handler("next")); err != nil {
		t.Fatal(err)
	}

	if err := b.Emit("row:add", nil, WithEmitPriority(PriorityImmediate)); err != nil {
		t.Fatal(err)
	}

	assertOrder(t, rec.got(), []string{"next"})
	if s := b.Stats(); s.HandlerErrors != 1 {
		t.Errorf("HandlerErrors = %d, want 1", s.HandlerErrors)
	}
}

func TestBus_HandlerPanicContained(t *testing.T) {
	b := New()
	defer b.Close()

	rec := &recorder{}
	if _, err := b.On("row:add", HandlerFunc(func(Event) error {
		panic("handler panic")
	}), WithPriority(PriorityHigh)); err != nil {
		t.Fatal(err)
	}
	if _, err := b.On("row:add", rec.handler("next")); err != nil {
		t.Fatal(err)
	}

	if err := b.Emit("row:add", nil, WithEmitPriority(PriorityImmediate)); err != nil {
		t.Fatal(err)
	}

	assertOrder(t, rec.got(), []string{"next"})
	if s := b.Stats(); s.HandlerPanics != 1 {
		t.Errorf("HandlerPanics = %d, want 1", s.HandlerPanics)
	}
}

func TestBus_SubscriptionFilter(t *testing.T) {
	b := New()
	defer b.Close()

	rec := &recorder{}
	if _, err := b.On("row:add", rec.handler("filtered"),
		WithFilter(SourceIs("trusted"))); err != nil {
		t.Fatal(err)
	}

	if err := b.Emit("row:add", nil,
		WithEmitPriority(PriorityImmediate), WithSource("other")); err != nil {
		t.Fatal(err)
	}
	if err := b.Emit("row:add", nil,
		WithEmitPriority(PriorityImmediate), WithSource("trusted")); err != nil {
		t.Fatal(err)
	}

	assertOrder(t, rec.got(), []string{"filtered"})
}

func TestBus_EmitValidation(t *testing.T) {
	b := New()
	defer b.Close()

	if err := b.Emit("", nil); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic: err = %v, want ErrInvalidTopic", err)
	}
	if err := b.Emit("row:*", nil); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("pattern topic: err = %v, want ErrInvalidTopic", err)
	}
	if err := b.Emit("row:add", nil, WithEmitPriority(Priority(9))); !errors.Is(err, ErrInvalidPriority) {
		t.Errorf("bad priority: err = %v, want ErrInvalidPriority", err)
	}
	if _, err := b.On("row:add", nil); !errors.Is(err, ErrNilHandler) {
		t.Errorf("nil handler: err = %v, want ErrNilHandler", err)
	}
}

func TestBus_EmitAfterClose(t *testing.T) {
	b := New()
	b.Close()

	if err := b.Emit("row:add", nil); !errors.Is(err, ErrBusClosed) {
		t.Errorf("err = %v, want ErrBusClosed", err)
	}
}

func TestBus_EmitBatchOrdering(t *testing.T) {
	b := New()
	defer b.Close()

	rec := &recorder{}
	if _, err := b.On("*", HandlerFunc(func(ev Event) error {
		rec.mu.Lock()
		rec.names = append(rec.names, ev.Type.String())
		rec.mu.Unlock()
		return nil
	})); err != nil {
		t.Fatal(err)
	}

	err := b.EmitBatch([]Emission{
		{Type: "row:add"},
		{Type: "row:update"},
		{Type: "row:remove"},
	})
	if err != nil {
		t.Fatal(err)
	}
	b.Drain()

	assertOrder(t, rec.got(), []string{"row:add", "row:update", "row:remove"})
}

func TestBus_StatsCounters(t *testing.T) {
	b := New()
	defer b.Close()

	if _, err := b.On("row:add", noopHandler()); err != nil {
		t.Fatal(err)
	}

	if err := b.Emit("row:add", nil); err != nil {
		t.Fatal(err)
	}
	if err := b.Emit("row:add", nil); err != nil {
		t.Fatal(err)
	}
	b.Drain()

	s := b.Stats()
	if s.EventsEmitted != 2 {
		t.Errorf("EventsEmitted = %d, want 2", s.EventsEmitted)
	}
	if s.EventsDelivered != 2 {
		t.Errorf("EventsDelivered = %d, want 2", s.EventsDelivered)
	}
	if s.HandlersExecuted != 2 {
		t.Errorf("HandlersExecuted = %d, want 2", s.HandlersExecuted)
	}
	if s.ActiveHandlers != 1 {
		t.Errorf("ActiveHandlers = %d, want 1", s.ActiveHandlers)
	}
}

func TestBus_ClearResets(t *testing.T) {
	b := New()
	defer b.Close()

	if _, err := b.On("row:add", noopHandler()); err != nil {
		t.Fatal(err)
	}
	b.Use(func(ev Event) (Event, bool) { return ev, true })
	if err := b.Emit("row:add", nil); err != nil {
		t.Fatal(err)
	}
	b.Drain()
	b.Clear()

	s := b.Stats()
	if s.EventsEmitted != 0 || s.ActiveHandlers != 0 {
		t.Errorf("stats after Clear = %+v, want zeroed", s)
	}
	if b.pipeline.Len() != 0 {
		t.Error("middleware should be cleared")
	}

	// Bus stays usable.
	rec := &recorder{}
	if _, err := b.On("row:add", rec.handler("fresh")); err != nil {
		t.Fatal(err)
	}
	if err := b.Emit("row:add", nil, WithEmitPriority(PriorityImmediate)); err != nil {
		t.Fatal(err)
	}
	assertOrder(t, rec.got(), []string{"fresh"})
}

func TestBus_ConcurrentEmit(t *testing.T) {
	b := New()
	defer b.Close()

	var count atomicCounterForTest
	if _, err := b.On("row:add", HandlerFunc(func(Event) error {
		count.add(1)
		return nil
	})); err != nil {
		t.Fatal(err)
	}

	const goroutines = 8
	const perGoroutine = 50
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				if err := b.Emit("row:add", nil); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
	b.Drain()

	if got := count.load(); got != goroutines*perGoroutine {
		t.Errorf("handler ran %d times, want %d", got, goroutines*perGoroutine)
	}
}

type atomicCounterForTest struct {
	mu sync.Mutex
	n  int
}

func (c *atomicCounterForTest) add(d int) {
	c.mu.Lock()
	c.n += d
	c.mu.Unlock()
}

func (c *atomicCounterForTest) load() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
