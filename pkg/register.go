package pathway

import "sync/atomic"

// registration is the payload SysRegister holds: a version, a liveness
// check re-evaluated at install time, and the GSA this version owns.
type registration[O comparable] struct {
	version int64
	live    func() int64
	gsa     *GSA[O]
}

// SysRegister is a versioned, at-most-one-active-GSA slot.
// It linearizes switch-map rebinding: when a newer selection supersedes an
// older one, the older GSA is shut off and only the newest registration's
// GSA is ever left owning the slot. Grounded on genring.Ring's "a newer
// generation supersedes and frees the older" rotation, generalized from a
// ring of byte-budgeted generations to a single versioned owner slot.
type SysRegister[O comparable] struct {
	current atomic.Pointer[registration[O]]
}

// NewSysRegister constructs an empty register.
func NewSysRegister[O comparable]() *SysRegister[O] {
	return &SysRegister[O]{}
}

// Register attempts to install gsa as the register's current owner under
// version. It is rejected (install is a no-op, gsa is left untouched) if:
//   - a registration with version >= the supplied version already holds
//     the slot, or
//   - live() no longer returns version by the time installation is
//     attempted (a fresher registration has already claimed a later
//     version and this one is stale).
//
// On successful install, the previous registration's GSA (if any) is shut
// off. owner/ownerActive are forwarded to gsa.SetOwner. The install is
// then re-validated against live() one more time: a registration can win
// the CAS against a stale witness in the gap between the pre-CAS live()
// check and the CompareAndSwap itself, racing a newer registration that
// is concurrently claiming the slot. If live() has moved on by the time
// the CAS lands, the just-installed gsa is shut off too, rather than
// left to linger until some later Register call happens to notice.
func (r *SysRegister[O]) Register(version int64, live func() int64, gsa *GSA[O], owner O, ownerActive, debug bool) bool {
	next := &registration[O]{version: version, live: live, gsa: gsa}
	for {
		prev := r.current.Load()
		if prev != nil && prev.version >= version {
			return false
		}
		if live != nil && live() != version {
			return false
		}
		if !r.current.CompareAndSwap(prev, next) {
			continue
		}
		_ = gsa.SetOwner(owner, ownerActive, debug)
		if prev != nil {
			prev.gsa.ShutOff()
		}
		if live != nil && live() != version {
			gsa.ShutOff()
		}
		return true
	}
}

// Current returns the GSA currently installed, or nil if the register is
// empty.
func (r *SysRegister[O]) Current() *GSA[O] {
	cur := r.current.Load()
	if cur == nil {
		return nil
	}
	return cur.gsa
}

// Clear shuts off and forgets the current registration, if any.
func (r *SysRegister[O]) Clear() {
	prev := r.current.Swap(nil)
	if prev != nil {
		prev.gsa.ShutOff()
	}
}
