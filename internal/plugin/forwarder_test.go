package plugin

import (
	"errors"
	"testing"

	"github.com/gridkit/gridbus/internal/event"
	"github.com/gridkit/gridbus/internal/plugin/security"
)

func newTestForwarder(t *testing.T, opts ...ForwarderOption) (*PluginEventForwarder, *event.Bus, *security.PermissionManager) {
	t.Helper()
	base := event.New()
	t.Cleanup(base.Close)
	perms := security.NewPermissionManager()
	f := NewPluginEventForwarder(base, perms, opts...)
	t.Cleanup(f.Shutdown)
	return f, base, perms
}

func TestForwarder_CreateSandbox(t *testing.T) {
	f, _, perms := newTestForwarder(t)

	s, err := f.CreateSandbox("chart", "emit:row:add", "receive:*")
	if err != nil {
		t.Fatal(err)
	}
	if s.PluginID() != "chart" {
		t.Errorf("PluginID = %q", s.PluginID())
	}
	if !perms.Has("chart", "emit:row:add") {
		t.Error("capabilities should be granted on creation")
	}
	if f.Count() != 1 {
		t.Errorf("Count = %d, want 1", f.Count())
	}

	if got, ok := f.Sandbox("chart"); !ok || got != s {
		t.Error("Sandbox lookup should return the created sandbox")
	}
}

func TestForwarder_DuplicateIDFails(t *testing.T) {
	f, _, _ := newTestForwarder(t)

	if _, err := f.CreateSandbox("chart"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.CreateSandbox("chart"); !errors.Is(err, ErrSandboxExists) {
		t.Errorf("err = %v, want ErrSandboxExists", err)
	}
}

func TestForwarder_DestroySandbox(t *testing.T) {
	quotas := security.NewQuotaManager()
	f, _, perms := newTestForwarder(t, WithForwarderQuotas(quotas))

	if _, err := f.CreateSandbox("chart", "emit:*"); err != nil {
		t.Fatal(err)
	}
	quotas.SetQuota("chart", security.Quota{MaxEventsPerSecond: security.Limit(5)})

	if err := f.DestroySandbox("chart"); err != nil {
		t.Fatal(err)
	}
	if f.Count() != 0 {
		t.Errorf("Count = %d, want 0", f.Count())
	}
	if perms.Has("chart", "emit:row:add") {
		t.Error("permissions should be cleared on destroy")
	}
	if _, ok := f.Sandbox("chart"); ok {
		t.Error("destroyed sandbox should not be found")
	}

	if err := f.DestroySandbox("chart"); !errors.Is(err, ErrSandboxNotFound) {
		t.Errorf("second destroy err = %v, want ErrSandboxNotFound", err)
	}
}

func TestForwarder_Shutdown(t *testing.T) {
	f, _, _ := newTestForwarder(t)

	for _, id := range []string{"a", "b", "c"} {
		if _, err := f.CreateSandbox(id); err != nil {
			t.Fatal(err)
		}
	}
	f.Shutdown()
	if f.Count() != 0 {
		t.Errorf("Count after Shutdown = %d, want 0", f.Count())
	}
}

// Destroy and recreate cycles must not leak base bus subscriptions.
func TestForwarder_RecreateLeavesNoDeadListeners(t *testing.T) {
	f, base, _ := newTestForwarder(t)

	baseline := base.HandlerCount("*")
	for i := 0; i < 5; i++ {
		if _, err := f.CreateSandbox("chart"); err != nil {
			t.Fatal(err)
		}
		if err := f.DestroySandbox("chart"); err != nil {
			t.Fatal(err)
		}
	}
	if got := base.HandlerCount("*"); got != baseline {
		t.Errorf("base wildcard subscriptions = %d, want %d", got, baseline)
	}
}
