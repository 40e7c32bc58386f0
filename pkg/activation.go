package pathway

import (
	"sync/atomic"
	"time"

	"github.com/lucent-dataflow/pathway/pkg/errs"
)

// stateValue enumerates BinaryState's five states: INIT is a
// pre-owned latch, QUEUEING a transient activation-in-progress gate, ACTIVE
// steady-on, INACTIVE steady-off, OFF a terminal shut-off.
type stateValue uint32

const (
	StateInit stateValue = iota
	StateInactive
	StateQueueing
	StateActive
	StateOff
)

func (s stateValue) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateInactive:
		return "INACTIVE"
	case StateQueueing:
		return "QUEUEING"
	case StateActive:
		return "ACTIVE"
	case StateOff:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

// BinaryState is the activation state machine shared by every Path kind
// (head, map child, switch-map selector, join side), parameterized by two
// closures — activate and softDeactivate — rather than a tagged variant
// per node role, since Go has no sum types and an interface+structs union
// would add a virtual-dispatch layer without changing behavior (see
// DESIGN.md). Each Path kind supplies its own pair of closures at
// construction; the closures are where node-role-specific behavior
// actually differs.
type BinaryState struct {
	state atomic.Uint32

	// activate is invoked exactly once per successful INACTIVE->QUEUEING or
	// INIT->QUEUEING transition. allow/onSet are supplied by BackProp/
	// ClaimInit and close over this BinaryState's own state.
	activate func(allow func() bool, onSet func() bool) bool

	// softDeactivate performs the per-node teardown: unsubscribe from the
	// parent and fire the node's onStateChange(false) hook. Invoked iff the
	// state being left was ACTIVE.
	softDeactivate func()

	// mappedEdge marks nodes with a parent subscription (map/switch-map/
	// join children): for these, Deactivate bounds-spins when it observes
	// INACTIVE instead of one of the three "owned" states, to absorb a
	// concurrent late activation racing in via the parent's push path.
	mappedEdge bool
}

// NewBinaryState constructs a BinaryState in INACTIVE. Head paths with no
// parent should pass mappedEdge=false; every other path kind passes true.
func NewBinaryState(mappedEdge bool, activate func(allow, onSet func() bool) bool, softDeactivate func()) *BinaryState {
	b := &BinaryState{activate: activate, softDeactivate: softDeactivate, mappedEdge: mappedEdge}
	b.state.Store(uint32(StateInactive))
	return b
}

// NewBinaryStateInit is identical to NewBinaryState but starts in INIT, the
// pre-owned latch state used by GSA.SetOwner.
func NewBinaryStateInit(mappedEdge bool, activate func(allow, onSet func() bool) bool, softDeactivate func()) *BinaryState {
	b := NewBinaryState(mappedEdge, activate, softDeactivate)
	b.state.Store(uint32(StateInit))
	return b
}

// State returns the current state atomically.
func (b *BinaryState) State() stateValue { return stateValue(b.state.Load()) }

// BackProp attempts INACTIVE->QUEUEING; on success it runs activate with
// allow/onSet bound to this BinaryState. Returns whether activation
// completed (i.e. the node reached, or is on its way to, ACTIVE).
func (b *BinaryState) BackProp() bool {
	if !b.state.CompareAndSwap(uint32(StateInactive), uint32(StateQueueing)) {
		return false
	}
	return b.runActivate()
}

// ClaimInit resolves the INIT latch: if active, it behaves like BackProp
// but starting from INIT; otherwise it settles directly into INACTIVE.
// Used by GSA.SetOwner.
func (b *BinaryState) ClaimInit(ownerActive bool) stateValue {
	if ownerActive {
		if b.state.CompareAndSwap(uint32(StateInit), uint32(StateQueueing)) {
			b.runActivate()
		}
		return b.State()
	}
	b.state.CompareAndSwap(uint32(StateInit), uint32(StateInactive))
	return b.State()
}

func (b *BinaryState) runActivate() bool {
	allow := func() bool { return b.State() == StateQueueing }
	onSet := func() bool { return b.state.CompareAndSwap(uint32(StateQueueing), uint32(StateActive)) }
	if b.activate == nil {
		return onSet()
	}
	return b.activate(allow, onSet)
}

// Deactivate: CAS any of {QUEUEING, ACTIVE, INIT} -> INACTIVE, firing
// softDeactivate iff the previous state was ACTIVE. For mapped edges
// observing INACTIVE already (a concurrent activator is mid-flight), it
// bounds-spins waiting for that activator to settle rather than silently
// racing past it.
func (b *BinaryState) Deactivate() error {
	for {
		cur := b.State()
		switch cur {
		case StateQueueing, StateActive, StateInit:
			if !b.state.CompareAndSwap(uint32(cur), uint32(StateInactive)) {
				continue // lost the race, re-read and retry
			}
			if cur == StateActive && b.softDeactivate != nil {
				b.softDeactivate()
			}
			return nil
		case StateInactive:
			if !b.mappedEdge {
				return nil
			}
			return b.spinForActivator()
		default: // StateOff
			return nil
		}
	}
}

// spinForActivator bounds-spins waiting for a concurrent BackProp (observed
// as INACTIVE->QUEUEING already in flight, or about to leave QUEUEING) to
// settle. Exceeding the spin budget raises a TimeoutError: this is a
// normative failure mode, not a temporary diagnostic.
func (b *BinaryState) spinForActivator() error {
	sp := currentSpin()
	for round := 0; round < sp.MaxRounds; round++ {
		for i := 0; i < sp.Tries; i++ {
			if b.State() != StateInactive {
				return nil
			}
		}
		time.Sleep(time.Duration(sp.ParkNanos))
	}
	return errs.NewTimeout("pathway: deactivate spin exceeded budget waiting for concurrent activation")
}

// ownerBox boxes an owner value so GSA can CAS a pointer to it (atomic.
// Pointer requires a pointer element, and an owner type parameter is not
// itself guaranteed to be a pointer).
type ownerBox[O comparable] struct{ v O }

// GSA (shuttable activator) wraps a BinaryState with single-owner
// enforcement and a terminal OFF.
type GSA[O comparable] struct {
	bs    *BinaryState
	owner atomic.Pointer[ownerBox[O]]
}

// NewGSA constructs a GSA in INIT, unowned.
func NewGSA[O comparable](mappedEdge bool, activate func(allow, onSet func() bool) bool, softDeactivate func()) *GSA[O] {
	return &GSA[O]{bs: NewBinaryStateInit(mappedEdge, activate, softDeactivate)}
}

// State returns the wrapped BinaryState's current state.
func (g *GSA[O]) State() stateValue { return g.bs.State() }

// SetOwner binds owner exactly once. If ownerActive is true the GSA
// immediately begins activation (INIT->QUEUEING->ACTIVE via the GSA's
// activate closure); otherwise it settles into INACTIVE. A duplicate
// SetOwner call is a usage error.
func (g *GSA[O]) SetOwner(owner O, ownerActive, debug bool) error {
	box := &ownerBox[O]{v: owner}
	if !g.owner.CompareAndSwap(nil, box) {
		return errs.NewUsageViolation("pathway: gsa already has an owner", debug)
	}
	g.bs.ClaimInit(ownerActive)
	return nil
}

// RemoveOwner unbinds owner (if it is the current owner) and shuts the GSA
// off. Returns false if expected was not the current owner.
func (g *GSA[O]) RemoveOwner(expected O) bool {
	cur := g.owner.Load()
	if cur == nil || cur.v != expected {
		return false
	}
	if !g.owner.CompareAndSwap(cur, nil) {
		return false
	}
	g.ShutOff()
	return true
}

// ShutOff unconditionally transitions to OFF, firing softDeactivate iff the
// previous state was ACTIVE and counting the shut-off in the engine
// metrics. Idempotent.
func (g *GSA[O]) ShutOff() {
	for {
		cur := g.bs.State()
		if cur == StateOff {
			return
		}
		if g.bs.state.CompareAndSwap(uint32(cur), uint32(StateOff)) {
			currentMetrics().incShutOff()
			if cur == StateActive && g.bs.softDeactivate != nil {
				g.bs.softDeactivate()
			}
			return
		}
	}
}
