package pathway

import (
	"sync/atomic"

	"github.com/lucent-dataflow/pathway/pkg/errs"
)

// receiverEntry pairs a stable id (for later removal) with the push
// callback itself. fn takes no argument: every receiver re-reads whatever
// cache it closes over at dispatch time, so a single dispatch always
// delivers the latest value even if several versions raced past each
// other (the single-slot cache already guarantees that read is never
// stale relative to what was actually installed).
type receiverEntry struct {
	id uint64
	fn func()
}

// ReceiversManager is the lock-free copy-on-write demand tracker each Path
// keeps for the receivers subscribed to it. Its onHot/onCold
// hooks are the demand-driven activation wiring: 0->1 receivers calls
// onHot (the owning Path's BinaryState.BackProp, cascading upward through
// parents); the last receiver leaving calls onCold (Deactivate).
type ReceiversManager struct {
	entries atomic.Pointer[[]receiverEntry]
	idCtr   atomic.Uint64

	onHot  func()
	onCold func()
}

// NewReceiversManager constructs an empty manager. Either hook may be nil.
func NewReceiversManager(onHot func(), onCold func()) *ReceiversManager {
	rm := &ReceiversManager{onHot: onHot, onCold: onCold}
	empty := make([]receiverEntry, 0)
	rm.entries.Store(&empty)
	return rm
}

// Count returns the current receiver count.
func (rm *ReceiversManager) Count() int {
	return len(*rm.entries.Load())
}

// AddReceiver unconditionally installs fn and returns its id. If this is
// the first receiver, onHot fires after the install is visible.
func (rm *ReceiversManager) AddReceiver(fn func()) uint64 {
	id := rm.idCtr.Add(1)
	for {
		old := rm.entries.Load()
		next := make([]receiverEntry, len(*old)+1)
		copy(next, *old)
		next[len(*old)] = receiverEntry{id: id, fn: fn}
		if rm.entries.CompareAndSwap(old, &next) {
			if len(*old) == 0 && rm.onHot != nil {
				rm.onHot()
			}
			return id
		}
	}
}

// AddReceiverConditional installs fn, then checks allow() and onSet() (both
// supplied by the caller's own BinaryState transition in progress, not this
// manager's). If either fails, the install is rolled back via nonContRemove
// and AddReceiverConditional reports failure — this is how a child's
// activation race against a concurrent deactivation unwinds its parent
// subscription instead of leaving a dangling receiver.
func (rm *ReceiversManager) AddReceiverConditional(fn func(), allow func() bool, onSet func() bool) (uint64, bool) {
	id := rm.AddReceiver(fn)
	if allow != nil && !allow() {
		rm.nonContRemove(id)
		return 0, false
	}
	if onSet != nil && !onSet() {
		rm.nonContRemove(id)
		return 0, false
	}
	return id, true
}

// nonContRemove removes id if present. A miss (already removed by a
// concurrent caller) is not an error — that is the common, expected case
// this variant tolerates. Returns whether an entry was actually removed.
func (rm *ReceiversManager) nonContRemove(id uint64) bool {
	for {
		old := rm.entries.Load()
		idx := indexOfReceiver(*old, id)
		if idx < 0 {
			return false
		}
		next := spliceReceiver(*old, idx)
		if rm.entries.CompareAndSwap(old, &next) {
			if len(next) == 0 && rm.onCold != nil {
				rm.onCold()
			}
			return true
		}
	}
}

// Remove is the public, non-contentious removal entry point.
func (rm *ReceiversManager) Remove(id uint64) bool { return rm.nonContRemove(id) }

// HardRemove30Throw removes id, retrying up to 30 rounds against CAS
// contention before giving up with a ConcurrencyError. A miss (id already
// gone) is success, not contention — only losing the CAS race itself 30
// times running counts against the budget. No teardown path in this
// package calls it: Map, SwitchMap, Join and Publisher all release their
// receivers through Remove, which retries without a bound.
func (rm *ReceiversManager) HardRemove30Throw(id uint64, debug bool) error {
	for i := 0; i < 30; i++ {
		old := rm.entries.Load()
		idx := indexOfReceiver(*old, id)
		if idx < 0 {
			return nil
		}
		next := spliceReceiver(*old, idx)
		if rm.entries.CompareAndSwap(old, &next) {
			if len(next) == 0 && rm.onCold != nil {
				rm.onCold()
			}
			return nil
		}
	}
	return errs.NewConcurrencyViolation("pathway: receiver removal exceeded retry budget", debug)
}

// Dispatch invokes every currently-installed receiver against a single
// snapshot of the array, newest-add-last order. Receivers added or removed
// concurrently with a Dispatch may or may not be included, matching the
// no-mutex, best-effort fan-out semantics.
func (rm *ReceiversManager) Dispatch() {
	entries := *rm.entries.Load()
	for _, e := range entries {
		e.fn()
	}
}

func indexOfReceiver(entries []receiverEntry, id uint64) int {
	for i, e := range entries {
		if e.id == id {
			return i
		}
	}
	return -1
}

func spliceReceiver(entries []receiverEntry, idx int) []receiverEntry {
	next := make([]receiverEntry, 0, len(entries)-1)
	next = append(next, entries[:idx]...)
	next = append(next, entries[idx+1:]...)
	return next
}
