package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gridkit/gridbus/internal/event"
	"github.com/gridkit/gridbus/internal/event/events"
	"github.com/gridkit/gridbus/internal/plugin/security"
)

func writePlugin(t *testing.T, name, script string) *Manifest {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "init.lua"), []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, `{
		"name": "`+name+`",
		"version": "1.0.0",
		"capabilities": ["emit:*", "receive:*"]
	}`)
	m, err := LoadManifestFromDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func newTestHost(t *testing.T) (*Host, *event.Bus, *PluginEventForwarder) {
	t.Helper()
	base := event.New()
	t.Cleanup(base.Close)
	perms := security.NewPermissionManager()
	f := NewPluginEventForwarder(base, perms)
	h := NewHost(base, f)
	t.Cleanup(h.Shutdown)
	return h, base, f
}

func TestHost_Lifecycle(t *testing.T) {
	h, base, _ := newTestHost(t)

	lifecycle := &capture{}
	if _, err := base.On("plugin:*", lifecycle.handler()); err != nil {
		t.Fatal(err)
	}

	m := writePlugin(t, "greeter", `
		activated = false
		function activate()
			activated = true
			events.emit("greeter:hello", {who = "world"})
		end
		function deactivate()
			activated = false
		end
	`)

	if err := h.Load(m); err != nil {
		t.Fatal(err)
	}
	if st, ok := h.Status("greeter"); !ok || st != StatusLoaded {
		t.Errorf("status = %v, %v", st, ok)
	}

	if err := h.Activate("greeter"); err != nil {
		t.Fatal(err)
	}
	if st, _ := h.Status("greeter"); st != StatusActive {
		t.Errorf("status = %v, want active", st)
	}

	if err := h.Deactivate("greeter"); err != nil {
		t.Fatal(err)
	}
	if err := h.Unload("greeter"); err != nil {
		t.Fatal(err)
	}
	if _, ok := h.Status("greeter"); ok {
		t.Error("unloaded plugin should have no status")
	}

	base.Drain()
	types := map[string]bool{}
	for _, ev := range lifecycle.events() {
		types[ev.Type.String()] = true
	}
	for _, want := range []string{
		events.TopicPluginLoaded.String(),
		events.TopicPluginActivated.String(),
		events.TopicPluginDeactivated.String(),
		events.TopicPluginUnloaded.String(),
	} {
		if !types[want] {
			t.Errorf("missing lifecycle event %s in %v", want, types)
		}
	}
}

func TestHost_ScriptEmissionReachesBase(t *testing.T) {
	h, base, f := newTestHost(t)

	rec := &capture{}
	if _, err := base.On("greeter:hello", rec.handler()); err != nil {
		t.Fatal(err)
	}

	m := writePlugin(t, "greeter", `
		function activate()
			events.emit("greeter:hello", {who = "world"})
		end
	`)
	if err := h.Load(m); err != nil {
		t.Fatal(err)
	}
	if err := h.Activate("greeter"); err != nil {
		t.Fatal(err)
	}

	s, _ := f.Sandbox("greeter")
	s.Local().Drain()
	base.Drain()

	evs := rec.events()
	if len(evs) != 1 {
		t.Fatalf("base received %d events, want 1", len(evs))
	}
	if evs[0].Source != "plugin:greeter" {
		t.Errorf("Source = %q", evs[0].Source)
	}
	payload, ok := evs[0].Payload.(map[string]any)
	if !ok || payload["who"] != "world" {
		t.Errorf("payload = %v", evs[0].Payload)
	}
}

func TestHost_ScriptReceivesBaseEvents(t *testing.T) {
	h, base, f := newTestHost(t)

	m := writePlugin(t, "listener", `
		seen = 0
		events.on("data:change", function(type, payload)
			seen = seen + 1
			events.emit("listener:saw", payload)
		end)
	`)
	if err := h.Load(m); err != nil {
		t.Fatal(err)
	}
	if err := h.Activate("listener"); err != nil {
		t.Fatal(err)
	}

	rec := &capture{}
	if _, err := base.On("listener:saw", rec.handler()); err != nil {
		t.Fatal(err)
	}

	if err := base.Emit("data:change", map[string]any{"rows": int64(3)}); err != nil {
		t.Fatal(err)
	}
	base.Drain()
	s, _ := f.Sandbox("listener")
	s.Local().Drain()
	base.Drain()
	s.Local().Drain()

	evs := rec.events()
	if len(evs) != 1 {
		t.Fatalf("base received %d listener:saw events, want 1", len(evs))
	}
	payload, ok := evs[0].Payload.(map[string]any)
	if !ok || payload["rows"] != int64(3) {
		t.Errorf("payload = %v", evs[0].Payload)
	}
}

func TestHost_ScriptFaultSurfacesAsPluginError(t *testing.T) {
	h, base, _ := newTestHost(t)

	rec := &capture{}
	if _, err := base.On(events.TopicPluginError, rec.handler()); err != nil {
		t.Fatal(err)
	}

	m := writePlugin(t, "broken", `
		function activate()
			error("activation exploded")
		end
	`)
	if err := h.Load(m); err != nil {
		t.Fatal(err)
	}
	if err := h.Activate("broken"); err == nil {
		t.Fatal("activation error should surface to the host")
	}

	base.Drain()
	evs := rec.events()
	if len(evs) == 0 {
		t.Fatal("expected a plugin:error event")
	}
	pe, ok := evs[0].Payload.(events.PluginError)
	if !ok || pe.PluginID != "broken" {
		t.Errorf("payload = %v", evs[0].Payload)
	}
}

func TestHost_LifecycleErrors(t *testing.T) {
	h, _, _ := newTestHost(t)

	if err := h.Activate("ghost"); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Activate err = %v, want ErrNotLoaded", err)
	}
	if err := h.Unload("ghost"); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Unload err = %v, want ErrNotLoaded", err)
	}

	m := writePlugin(t, "once", `x = 1`)
	if err := h.Load(m); err != nil {
		t.Fatal(err)
	}
	if err := h.Load(m); !errors.Is(err, ErrAlreadyLoaded) {
		t.Errorf("double Load err = %v, want ErrAlreadyLoaded", err)
	}
	if err := h.Deactivate("once"); !errors.Is(err, ErrNotActive) {
		t.Errorf("Deactivate err = %v, want ErrNotActive", err)
	}
}
