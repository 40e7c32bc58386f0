package pathway

import (
	"sync/atomic"
	"testing"
)

func newTestGSA(active bool) (*GSA[string], *int) {
	softCalls := 0
	g := NewGSA[string](false, func(allow, onSet func() bool) bool {
		return allow() && onSet()
	}, func() { softCalls++ })
	return g, &softCalls
}

func TestSysRegisterInstallsHighestVersion(t *testing.T) {
	r := NewSysRegister[string]()
	g1, _ := newTestGSA(true)
	g2, soft2 := newTestGSA(true)

	if !r.Register(1, nil, g1, "a", true, false) {
		t.Fatalf("expected first registration to install")
	}
	if r.Current() != g1 {
		t.Fatalf("expected g1 to be current")
	}

	if !r.Register(2, nil, g2, "b", true, false) {
		t.Fatalf("expected a newer registration to supersede")
	}
	if r.Current() != g2 {
		t.Fatalf("expected g2 to be current after supersession")
	}
	if g1.State() != StateOff {
		t.Fatalf("expected superseded g1 to be shut off, got %s", g1.State())
	}
	_ = soft2
}

func TestSysRegisterRejectsStaleVersion(t *testing.T) {
	r := NewSysRegister[string]()
	g1, _ := newTestGSA(true)
	g2, _ := newTestGSA(true)

	if !r.Register(5, nil, g1, "a", true, false) {
		t.Fatalf("expected registration to install")
	}
	if r.Register(3, nil, g2, "b", true, false) {
		t.Fatalf("expected an older version to be rejected")
	}
	if r.Current() != g1 {
		t.Fatalf("expected g1 to remain current after a rejected stale install")
	}
	if g2.State() == StateActive {
		t.Fatalf("rejected registration must never have been activated")
	}
}

func TestSysRegisterRejectsWhenLiveCheckHasMoved(t *testing.T) {
	r := NewSysRegister[string]()
	g, _ := newTestGSA(true)
	live := func() int64 { return 99 } // already past version 1 by the time install runs
	if r.Register(1, live, g, "a", true, false) {
		t.Fatalf("expected a stale live() check to reject the install")
	}
	if r.Current() != nil {
		t.Fatalf("expected register to remain empty")
	}
}

func TestSysRegisterShutsOffWinnerWhenLiveMovesDuringInstall(t *testing.T) {
	r := NewSysRegister[string]()
	g, _ := newTestGSA(true)

	var movedOn atomic.Bool
	live := func() int64 {
		// Passes the pre-CAS check once, then simulates a newer
		// registration claiming the slot concurrently before this one's
		// CAS lands.
		if movedOn.Load() {
			return 2
		}
		movedOn.Store(true)
		return 1
	}

	if !r.Register(1, live, g, "a", true, false) {
		t.Fatalf("expected the CAS to win despite the post-install live() move")
	}
	if r.Current() != g {
		t.Fatalf("expected g to still be installed as current")
	}
	if g.State() != StateOff {
		t.Fatalf("expected the winning GSA to be shut off retroactively, got %s", g.State())
	}
}

func TestSysRegisterClearShutsOffCurrent(t *testing.T) {
	r := NewSysRegister[string]()
	g, _ := newTestGSA(true)
	r.Register(1, nil, g, "a", true, false)
	r.Clear()
	if r.Current() != nil {
		t.Fatalf("expected register to be empty after Clear")
	}
	if g.State() != StateOff {
		t.Fatalf("expected Clear to shut off the current GSA, got %s", g.State())
	}
}
