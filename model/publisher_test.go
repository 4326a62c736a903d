package model

import (
	"testing"

	"github.com/shaban/scuffgo/ids"
)

func TestSnapshot_CloneIsolatesMutations(t *testing.T) {
	base := Empty()
	base.Groups[1] = Group{ID: 1}

	next := AddSandboxToGroup(base, 1, 5)

	if len(base.Groups[1].Sandboxes) != 0 {
		t.Fatalf("original snapshot mutated: %+v", base.Groups[1])
	}
	if got := next.Groups[1].Sandboxes; len(got) != 1 || got[0] != 5 {
		t.Fatalf("want sandbox 5 added, got %+v", got)
	}
}

func TestPublisher_LoadSeesLatestAfterModify(t *testing.T) {
	p := NewPublisher(Empty())
	p.Modify(func(s *Snapshot) *Snapshot {
		s.Groups[1] = Group{ID: 1}
		return s
	})

	got := p.Load()
	if _, ok := got.Groups[1]; !ok {
		t.Fatal("want group 1 visible after Modify")
	}
}

func TestPublisher_RetiresOnlyAfterMinRetainedAndZeroRefs(t *testing.T) {
	p := NewPublisher(Empty())

	snap0, release0 := p.Acquire()
	_ = snap0
	retired := false
	p.Modify(func(s *Snapshot) *Snapshot { return s.clone() }, func() { retired = true })
	// Only one newer version published so far (minRetained=2), so this
	// old version must not retire yet.
	p.GC()
	if retired {
		t.Fatal("retired before minRetained versions published")
	}

	p.Modify(func(s *Snapshot) *Snapshot { return s.clone() })
	p.GC()
	if retired {
		t.Fatal("retired while a reader still holds a reference")
	}

	release0()
	p.GC()
	if !retired {
		t.Fatal("want retirement once minRetained satisfied and refcount zero")
	}
}

func TestModel_AddRemoveDeviceFromSandboxRoundTrip(t *testing.T) {
	base := Empty()
	base.Sandboxes[2] = Sandbox{ID: 2}

	added := AddDeviceToSandbox(base, 2, ids.Device(7), PluginUnknown, "")
	if len(added.Sandboxes[2].Devices) != 1 {
		t.Fatalf("want 1 device, got %+v", added.Sandboxes[2].Devices)
	}

	removed := RemoveDeviceFromSandbox(added, 2, ids.Device(7))
	if len(removed.Sandboxes[2].Devices) != 0 {
		t.Fatalf("want 0 devices after removal, got %+v", removed.Sandboxes[2].Devices)
	}
}
