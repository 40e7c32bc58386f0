package pathway

import "testing"

func TestReceiversManagerFiresOnHotOnFirstAdd(t *testing.T) {
	var hot, cold int
	rm := NewReceiversManager(func() { hot++ }, func() { cold++ })

	id1 := rm.AddReceiver(func() {})
	if hot != 1 {
		t.Fatalf("expected onHot to fire exactly once on 0->1, got %d", hot)
	}
	id2 := rm.AddReceiver(func() {})
	if hot != 1 {
		t.Fatalf("expected onHot not to fire again on 1->2, got %d", hot)
	}
	if rm.Count() != 2 {
		t.Fatalf("expected count 2, got %d", rm.Count())
	}

	rm.Remove(id1)
	if cold != 0 {
		t.Fatalf("expected onCold not to fire while a receiver remains")
	}
	rm.Remove(id2)
	if cold != 1 {
		t.Fatalf("expected onCold to fire exactly once on 1->0, got %d", cold)
	}
}

func TestReceiversManagerDispatchInvokesEveryEntry(t *testing.T) {
	rm := NewReceiversManager(nil, nil)
	var calls int
	rm.AddReceiver(func() { calls++ })
	rm.AddReceiver(func() { calls++ })
	rm.Dispatch()
	if calls != 2 {
		t.Fatalf("expected dispatch to invoke both receivers, got %d calls", calls)
	}
}

func TestAddReceiverConditionalRollsBackOnAllowFailure(t *testing.T) {
	rm := NewReceiversManager(nil, nil)
	_, ok := rm.AddReceiverConditional(func() {}, func() bool { return false }, func() bool { return true })
	if ok {
		t.Fatalf("expected a failing allow() to fail the conditional add")
	}
	if rm.Count() != 0 {
		t.Fatalf("expected the rolled-back receiver to leave no trace, got count %d", rm.Count())
	}
}

func TestAddReceiverConditionalRollsBackOnSetFailure(t *testing.T) {
	rm := NewReceiversManager(nil, nil)
	_, ok := rm.AddReceiverConditional(func() {}, func() bool { return true }, func() bool { return false })
	if ok {
		t.Fatalf("expected a failing onSet() to fail the conditional add")
	}
	if rm.Count() != 0 {
		t.Fatalf("expected the rolled-back receiver to leave no trace, got count %d", rm.Count())
	}
}

func TestAddReceiverConditionalSucceeds(t *testing.T) {
	rm := NewReceiversManager(nil, nil)
	id, ok := rm.AddReceiverConditional(func() {}, func() bool { return true }, func() bool { return true })
	if !ok {
		t.Fatalf("expected conditional add to succeed")
	}
	if rm.Count() != 1 {
		t.Fatalf("expected count 1, got %d", rm.Count())
	}
	if !rm.Remove(id) {
		t.Fatalf("expected Remove to find the installed receiver")
	}
}

func TestHardRemove30ThrowTreatsMissAsSuccess(t *testing.T) {
	rm := NewReceiversManager(nil, nil)
	id := rm.AddReceiver(func() {})
	rm.Remove(id)
	if err := rm.HardRemove30Throw(id, false); err != nil {
		t.Fatalf("expected removing an already-gone id to succeed, got %v", err)
	}
}
