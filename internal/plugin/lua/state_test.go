package lua

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func newTestState(t *testing.T) *State {
	t.Helper()
	s := NewState()
	t.Cleanup(s.Close)
	return s
}

func TestState_SafeLibrariesOnly(t *testing.T) {
	s := newTestState(t)

	// Present: base, table, string, math.
	if err := s.DoString(`
		assert(type(pairs) == "function")
		assert(type(table.insert) == "function")
		assert(type(string.format) == "function")
		assert(type(math.floor) == "function")
	`); err != nil {
		t.Fatal(err)
	}

	// Absent: filesystem, system and loader surfaces.
	if err := s.DoString(`
		assert(io == nil)
		assert(os == nil)
		assert(debug == nil)
		assert(require == nil)
		assert(dofile == nil)
		assert(loadfile == nil)
		assert(load == nil)
		assert(loadstring == nil)
	`); err != nil {
		t.Fatal(err)
	}
}

func TestState_DoFile(t *testing.T) {
	s := newTestState(t)

	path := filepath.Join(t.TempDir(), "init.lua")
	if err := os.WriteFile(path, []byte(`answer = 6 * 7`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.DoFile(path); err != nil {
		t.Fatal(err)
	}
	if err := s.DoString(`assert(answer == 42)`); err != nil {
		t.Error(err)
	}
}

func TestState_Call(t *testing.T) {
	s := newTestState(t)

	if err := s.DoString(`
		total = 0
		function add(a, b) total = a + b end
	`); err != nil {
		t.Fatal(err)
	}

	if err := s.Call("add", lua.LNumber(2), lua.LNumber(3)); err != nil {
		t.Fatal(err)
	}
	if err := s.DoString(`assert(total == 5)`); err != nil {
		t.Error(err)
	}

	if err := s.Call("missing"); !errors.Is(err, ErrNotFunction) {
		t.Errorf("Call missing = %v, want ErrNotFunction", err)
	}
	if err := s.Call("total"); !errors.Is(err, ErrNotFunction) {
		t.Errorf("Call non-function = %v, want ErrNotFunction", err)
	}
}

func TestState_HasGlobal(t *testing.T) {
	s := newTestState(t)

	if err := s.DoString(`function activate() end; version = 1`); err != nil {
		t.Fatal(err)
	}
	if !s.HasGlobal("activate") {
		t.Error("activate should be visible")
	}
	if s.HasGlobal("deactivate") || s.HasGlobal("version") {
		t.Error("only defined functions should count")
	}
}

func TestState_ScriptErrorIsReturned(t *testing.T) {
	s := newTestState(t)

	if err := s.DoString(`error("boom")`); err == nil {
		t.Error("script error should be returned")
	}

	// The state stays usable after a script error.
	if err := s.DoString(`ok = true`); err != nil {
		t.Errorf("state unusable after error: %v", err)
	}
}

func TestState_Close(t *testing.T) {
	s := NewState()
	s.Close()
	s.Close()

	if !s.IsClosed() {
		t.Error("IsClosed should report true")
	}
	if err := s.DoString(`x = 1`); !errors.Is(err, ErrStateClosed) {
		t.Errorf("DoString = %v, want ErrStateClosed", err)
	}
	if err := s.Call("f"); !errors.Is(err, ErrStateClosed) {
		t.Errorf("Call = %v, want ErrStateClosed", err)
	}
	if s.HasGlobal("f") {
		t.Error("HasGlobal on a closed state should be false")
	}
}

func TestState_RegisterModule(t *testing.T) {
	s := newTestState(t)

	called := false
	s.RegisterModule("host", map[string]lua.LGFunction{
		"ping": func(L *lua.LState) int {
			called = true
			L.Push(lua.LString("pong"))
			return 1
		},
	})

	if err := s.DoString(`assert(host.ping() == "pong")`); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Error("module function should have run")
	}
}
