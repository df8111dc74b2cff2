package lua

import (
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/gridkit/gridbus/internal/event"
	"github.com/gridkit/gridbus/internal/event/topic"
	"github.com/gridkit/gridbus/internal/plugin/security"
)

// LocalBus is the plugin-facing slice of a sandbox's local bus. Both
// *event.Bus and the sandbox itself satisfy it.
type LocalBus interface {
	Emit(eventType topic.Topic, payload any, opts ...event.EmitOption) error
	On(pattern topic.Topic, h event.Handler, opts ...event.SubscribeOption) (func(), error)
	Once(pattern topic.Topic, h event.Handler, opts ...event.SubscribeOption) (func(), error)
}

// Runtime binds one Lua state to one plugin's local bus through an
// "events" module:
//
//	events.emit(type, payload, priority?)  -- priority "high"|"normal"|"low"
//	id = events.on(pattern, fn)            -- fn(type, payload)
//	id = events.once(pattern, fn)
//	events.off(id)
//
// Script callbacks run under the error boundary: a throwing callback
// is reported to the host and never disturbs dispatch. The immediate
// tier is deliberately not exposed to scripts; a synchronous dispatch
// re-entering the holder of the state mutex would deadlock.
type Runtime struct {
	state    *State
	bus      LocalBus
	boundary *security.ErrorBoundary
	logger   *zap.Logger

	mu      sync.Mutex
	nextSub int
	subs    map[int]func()
}

// NewRuntime creates a runtime and installs the events module into the
// state.
func NewRuntime(state *State, bus LocalBus, boundary *security.ErrorBoundary, logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runtime{
		state:    state,
		bus:      bus,
		boundary: boundary,
		logger:   logger,
		subs:     make(map[int]func()),
	}
	state.RegisterModule("events", map[string]lua.LGFunction{
		"emit": r.luaEmit,
		"on":   r.luaOn,
		"once": r.luaOnce,
		"off":  r.luaOff,
	})
	return r
}

// State returns the underlying Lua state.
func (r *Runtime) State() *State {
	return r.state
}

// LoadFile runs the plugin's main script. The error, if any, is
// reported through the boundary and returned.
func (r *Runtime) LoadFile(path string) error {
	return r.boundary.WrapAsync(func() error {
		return r.state.DoFile(path)
	})()
}

// CallIfPresent invokes a global lifecycle function when the script
// defines it. Missing functions are not an error.
func (r *Runtime) CallIfPresent(fn string) error {
	if !r.state.HasGlobal(fn) {
		return nil
	}
	return r.boundary.WrapAsync(func() error {
		return r.state.Call(fn)
	})()
}

// Close removes every script subscription and closes the state.
func (r *Runtime) Close() {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[int]func())
	r.mu.Unlock()

	for _, unsub := range subs {
		unsub()
	}
	r.state.Close()
}

func (r *Runtime) luaEmit(L *lua.LState) int {
	eventType := L.CheckString(1)
	var payload any
	if L.GetTop() >= 2 {
		payload = toGo(L.Get(2))
	}

	opts := []event.EmitOption{
		event.WithEmitPriority(scriptPriority(L.OptString(3, "normal"))),
	}
	if err := r.bus.Emit(topic.Topic(eventType), payload, opts...); err != nil {
		r.logger.Debug("script emit rejected",
			zap.String("topic", eventType),
			zap.Error(err))
	}
	return 0
}

func (r *Runtime) luaOn(L *lua.LState) int {
	return r.subscribe(L, r.bus.On)
}

func (r *Runtime) luaOnce(L *lua.LState) int {
	return r.subscribe(L, r.bus.Once)
}

type subscribeFunc func(topic.Topic, event.Handler, ...event.SubscribeOption) (func(), error)

func (r *Runtime) subscribe(L *lua.LState, sub subscribeFunc) int {
	pattern := L.CheckString(1)
	fn := L.CheckFunction(2)

	handler := r.boundary.WrapHandler(event.HandlerFunc(func(ev event.Event) error {
		return r.state.deliver(fn, ev.Type.String(), ev.Payload)
	}))

	unsub, err := sub(topic.Topic(pattern), handler)
	if err != nil {
		L.RaiseError("events: %s", err.Error())
		return 0
	}

	r.mu.Lock()
	r.nextSub++
	id := r.nextSub
	r.subs[id] = unsub
	r.mu.Unlock()

	L.Push(lua.LNumber(id))
	return 1
}

func (r *Runtime) luaOff(L *lua.LState) int {
	id := int(L.CheckNumber(1))

	r.mu.Lock()
	unsub, ok := r.subs[id]
	delete(r.subs, id)
	r.mu.Unlock()

	if ok {
		unsub()
	}
	L.Push(lua.LBool(ok))
	return 1
}

// scriptPriority maps a script-supplied priority name to a tier.
// "immediate" is not available to scripts and falls back to high.
func scriptPriority(name string) event.Priority {
	switch name {
	case "high", "immediate":
		return event.PriorityHigh
	case "low":
		return event.PriorityLow
	default:
		return event.PriorityNormal
	}
}
