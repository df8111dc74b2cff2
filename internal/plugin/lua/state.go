package lua

import (
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// Default limits for a plugin state.
const (
	// DefaultMemoryLimit is advisory; gopher-lua cannot enforce a hard
	// memory ceiling.
	DefaultMemoryLimit = 10 * 1024 * 1024

	// DefaultExecutionTimeout bounds one script call, best effort.
	DefaultExecutionTimeout = 5 * time.Second
)

// State wraps a sandboxed gopher-lua LState.
//
// gopher-lua's LState is not goroutine-safe; every entry point here
// takes the state mutex, so bus handlers delivering into Lua from the
// scheduler goroutine and host calls interleave safely.
type State struct {
	mu sync.Mutex
	L  *lua.LState

	memoryLimit      int64
	executionTimeout time.Duration
	closed           bool
}

// StateOption configures a State.
type StateOption func(*State)

// WithMemoryLimit sets the advisory memory limit.
func WithMemoryLimit(bytes int64) StateOption {
	return func(s *State) {
		s.memoryLimit = bytes
	}
}

// WithExecutionTimeout sets the best-effort per-call timeout.
func WithExecutionTimeout(d time.Duration) StateOption {
	return func(s *State) {
		s.executionTimeout = d
	}
}

// NewState creates a Lua state with only safe libraries opened.
// io, os, debug and package stay closed: plugins get no filesystem,
// system call or module loading surface.
func NewState(opts ...StateOption) *State {
	s := &State{
		memoryLimit:      DefaultMemoryLimit,
		executionTimeout: DefaultExecutionTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	L.SetTop(0)

	// The base library still carries loaders that reach the
	// filesystem or compile arbitrary chunks.
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		L.SetGlobal(name, lua.LNil)
	}

	s.L = L
	return s
}

// DoFile executes a Lua file synchronously.
func (s *State) DoFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}
	return s.recovered(func() error {
		return s.L.DoFile(path)
	})
}

// DoString executes Lua source synchronously.
func (s *State) DoString(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}
	return s.recovered(func() error {
		return s.L.DoString(code)
	})
}

// Call invokes a global Lua function by name.
func (s *State) Call(fn string, args ...lua.LValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}

	fnVal := s.L.GetGlobal(fn)
	if fnVal.Type() != lua.LTFunction {
		return fmt.Errorf("%w: %s", ErrNotFunction, fn)
	}

	return s.recovered(func() error {
		s.L.Push(fnVal)
		for _, arg := range args {
			s.L.Push(arg)
		}
		return s.L.PCall(len(args), 0, nil)
	})
}

// HasGlobal reports whether a global function of that name exists.
func (s *State) HasGlobal(fn string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	return s.L.GetGlobal(fn).Type() == lua.LTFunction
}

// RegisterModule installs a global table of Go functions.
func (s *State) RegisterModule(name string, funcs map[string]lua.LGFunction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	mod := s.L.SetFuncs(s.L.NewTable(), funcs)
	s.L.SetGlobal(name, mod)
}

// deliver invokes a Lua callback with an event name and payload. The
// payload is converted to Lua values under the state mutex; building
// tables on an LState outside the lock would race with script
// execution.
func (s *State) deliver(fn *lua.LFunction, eventType string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}
	return s.recovered(func() error {
		s.L.Push(fn)
		s.L.Push(lua.LString(eventType))
		s.L.Push(toLua(s.L, payload))
		return s.L.PCall(2, 0, nil)
	})
}

// recovered runs fn converting gopher-lua panics to errors. Caller
// holds mu.
func (s *State) recovered(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

// IsClosed reports whether Close has run.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the Lua state. Subsequent calls return ErrStateClosed.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.L.Close()
	s.closed = true
}
