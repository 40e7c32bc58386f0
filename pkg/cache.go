// cache.go is the versioned single-slot value holder every Path sits on
// top of. A Path never stores a value directly; it owns exactly one Cache
// and every read/write in the engine's hard core goes through it.
//
// Beyond the plain Get/Set/Update loop, Cache exposes five derived
// operation factories, each a distinct swap strategy for a distinct kind
// of writer:
//
//   - GetUpdater  — contentious: retries against the latest witness until
//     it wins. Nothing is ever dropped.
//   - GetSource   — non-contentious: exactly one CAS attempt, for a
//     caller that already guarantees it is the only writer. A concurrent
//     swap observed anyway is a usage bug, reported as a ConcurrencyError
//     rather than silently retried through.
//   - GetSourceDelayer/GetBackSource/GetComputable — backpressure-
//     dropping: every call claims a monotonic ticket, and a call whose
//     ticket has already been superseded by a newer one is dropped
//     instead of installed. This is the engine's literal "prefer the
//     most recent value under contention" policy.
//
// © 2025 pathway authors. MIT License.
package pathway

import (
	"fmt"
	"sync/atomic"

	"github.com/lucent-dataflow/pathway/internal/version"
	"github.com/lucent-dataflow/pathway/pkg/errs"
)

// Updater computes the next value for a Cache from its previous one.
// prevOk is false on the first call, before any value has ever been
// installed. Returning proceed=false aborts the update with no CAS
// attempted.
type Updater[T any] func(prev T, prevOk bool) (next T, proceed bool)

// Cache is the single-slot, versioned, lock-free value holder at the
// bottom of every Path. Every write is a compare-and-swap against
// internal/version.V[T]; there is never a mutex here or anywhere else in
// the engine's hard core.
type Cache[T comparable] struct {
	slot atomic.Pointer[version.V[T]]

	// excludeIn vetoes an incoming value before it is ever installed,
	// given the value about to be written and the one currently stored.
	// A true return aborts the CAS attempt entirely (no version is
	// consumed). nil means nothing is ever excluded.
	excludeIn func(next, prev T) bool

	// excludeOut vetoes dispatch of an already-installed value to
	// receivers, without un-installing it. nil means every successful
	// write also dispatches.
	excludeOut func(v T) bool

	// onSwapped fires after every successful CAS.
	onSwapped func(prev, next T)

	metrics metricsSink
}

// CacheOption configures a Cache at construction.
type CacheOption[T comparable] func(*Cache[T])

// WithExcludeIn sets the incoming-value veto.
func WithExcludeIn[T comparable](f func(next, prev T) bool) CacheOption[T] {
	return func(c *Cache[T]) { c.excludeIn = f }
}

// WithExcludeOut sets the dispatch veto.
func WithExcludeOut[T comparable](f func(v T) bool) CacheOption[T] {
	return func(c *Cache[T]) { c.excludeOut = f }
}

// WithOnSwapped sets the post-CAS hook.
func WithOnSwapped[T comparable](f func(prev, next T)) CacheOption[T] {
	return func(c *Cache[T]) { c.onSwapped = f }
}

// NewCache constructs an empty Cache (version 0, not yet consumable). A nil
// metrics sink falls back to the package-ambient one.
func NewCache[T comparable](metrics metricsSink, opts ...CacheOption[T]) *Cache[T] {
	if metrics == nil {
		metrics = currentMetrics()
	}
	c := &Cache[T]{metrics: metrics}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the currently stored value and whether one has ever been
// installed (version > 0).
func (c *Cache[T]) Get() (T, bool) {
	cur := c.slot.Load()
	if cur == nil {
		var zero T
		return zero, false
	}
	return cur.Value, true
}

// IsConsumable is an alias for Get: a cache is "consumable" once it holds
// a real, non-default value.
func (c *Cache[T]) IsConsumable() (T, bool) { return c.Get() }

// Version returns the current version, 0 if nothing has ever been
// installed.
func (c *Cache[T]) Version() int32 {
	cur := c.slot.Load()
	if cur == nil {
		return 0
	}
	return cur.Version
}

// GetVersioned returns the current value together with its version from
// a single slot read, for callers (hierarchical receivers) that need the
// two consistent with each other rather than read separately.
func (c *Cache[T]) GetVersioned() (T, int32, bool) {
	cur := c.slot.Load()
	if cur == nil {
		var zero T
		return zero, 0, false
	}
	return cur.Value, cur.Version, true
}

// Set installs next unconditionally, subject to excludeIn. Equivalent to
// Update with a constant updater. This is GetUpdater's degenerate case,
// not a distinct strategy of its own.
func (c *Cache[T]) Set(next T) bool {
	return c.Update(func(T, bool) (T, bool) { return next, true })
}

// Update runs GetUpdater's contentious retry loop: fn is re-invoked
// against the latest observed value on every lost race, so its decision
// is always made against current state, never stale state. Nothing is
// ever dropped here; a slow caller simply keeps retrying until it wins.
func (c *Cache[T]) Update(fn Updater[T]) bool {
	for {
		old := c.slot.Load()
		var prevVal T
		prevOk := false
		if old != nil {
			prevVal, prevOk = old.Value, true
		}

		nextVal, proceed := fn(prevVal, prevOk)
		if !proceed {
			return false
		}

		// equal-to-witness values never swap, matching T's == since T is
		// constrained to comparable.
		if prevOk && nextVal == prevVal {
			return false
		}

		if c.excludeIn != nil && c.excludeIn(nextVal, prevVal) {
			c.metrics.incDrop("exclude-in")
			return false
		}

		prevVersion := int32(0)
		if old != nil {
			prevVersion = old.Version
		}
		nv := version.NewValue(prevVersion, nextVal)

		if c.slot.CompareAndSwap(old, &nv) {
			c.metrics.incCAS()
			if c.onSwapped != nil {
				c.onSwapped(prevVal, nextVal)
			}
			return true
		}
		c.metrics.incRetry()
	}
}

// GetUpdater names Update as a derived operation factory: the contentious,
// blind-retry-until-win strategy ordinary map/join edges use.
func (c *Cache[T]) GetUpdater() func(Updater[T]) bool { return c.Update }

// GetSource returns the non-contentious push strategy: exactly one CAS
// attempt, with no retry. Intended for a caller that already guarantees
// it is the sole writer (a true single-threaded "source"). A concurrent
// swap observed during that one attempt means the no-contention
// assumption was violated; rather than silently retry through it like
// GetUpdater, the call reports a ConcurrencyError.
func (c *Cache[T]) GetSource(debug bool) func(v T) error {
	return func(v T) error {
		old := c.slot.Load()
		var prevVal T
		prevOk := false
		if old != nil {
			prevVal, prevOk = old.Value, true
		}
		if prevOk && v == prevVal {
			return nil
		}
		if c.excludeIn != nil && c.excludeIn(v, prevVal) {
			c.metrics.incDrop("exclude-in")
			return nil
		}
		prevVersion := int32(0)
		if old != nil {
			prevVersion = old.Version
		}
		nv := version.NewValue(prevVersion, v)
		if !c.slot.CompareAndSwap(old, &nv) {
			return errs.NewConcurrencyViolation("pathway: getSource observed a concurrent swap", debug)
		}
		c.metrics.incCAS()
		if c.onSwapped != nil {
			c.onSwapped(prevVal, v)
		}
		return nil
	}
}

// GetSourceDelayer returns the backpressure-dropping push strategy: every
// call claims a ticket via an atomic fetchAdd. The very first ticket ever
// claimed installs inline, on the calling goroutine; every later ticket
// is handed to exec. Once a task actually runs, it re-checks its ticket
// against the shared counter and aborts — dropping its value rather than
// installing it — if a newer ticket has since been claimed. This is the
// "prefer-newest, drop-older" policy behind the engine's headline
// backpressure characteristic.
func (c *Cache[T]) GetSourceDelayer(exec Executor, debug bool) func(v T) {
	var ver atomic.Uint64

	install := func(ticket uint64, v T) {
		if ver.Load() != ticket {
			c.metrics.incDrop("backpressure")
			return
		}
		c.Set(v)
	}

	return func(v T) {
		ticket := ver.Add(1)
		if ticket == 1 {
			install(ticket, v)
			return
		}
		exec.Execute(func() { install(ticket, v) })
	}
}

// GetBackSource is GetSourceDelayer's always-deferred twin: every call,
// including the first, is handed to exec rather than taking an inline
// fast path. Otherwise the ticket-claim-then-abort-if-superseded
// mechanism is identical.
func (c *Cache[T]) GetBackSource(exec Executor, debug bool) func(v T) {
	var ver atomic.Uint64

	return func(v T) {
		ticket := ver.Add(1)
		exec.Execute(func() {
			if ver.Load() != ticket {
				c.metrics.incDrop("backpressure")
				return
			}
			c.Set(v)
		})
	}
}

// GetComputable is GetSourceDelayer's lazily evaluated twin: the payload
// is a thunk, only ever invoked for the ticket that wins the version
// race, so a call dropped to backpressure never pays for computing a
// value nobody installs. A nil exec runs every non-first ticket inline
// instead of deferring, matching GetSourceDelayer's fast path for the
// very first call.
func (c *Cache[T]) GetComputable(exec Executor, debug bool) func(fn func() T) {
	var ver atomic.Uint64

	run := func(ticket uint64, fn func() T) {
		if ver.Load() != ticket {
			c.metrics.incDrop("backpressure")
			return
		}
		c.Set(fn())
	}

	return func(fn func() T) {
		ticket := ver.Add(1)
		if ticket == 1 || exec == nil {
			run(ticket, fn)
			return
		}
		exec.Execute(func() { run(ticket, fn) })
	}
}

// ShouldDispatch reports whether v, just installed, should also be pushed
// to receivers (excludeOut veto).
func (c *Cache[T]) ShouldDispatch(v T) bool {
	return c.excludeOut == nil || !c.excludeOut(v)
}

// recoverUserPanic turns a recovered panic value from a user-supplied
// map/merge/call function into a UserMapError, logs it, and re-panics
// with the wrapped error on the calling goroutine. The core has no error
// channel of its own for a fault surfacing deep inside an async CAS
// callback — the same reasoning SwitchMap's nil-path fault follows (see
// DESIGN.md). Silent drops (excludeIn/excludeOut vetoes, lost
// backpressure races, equal values) are never modeled this way; only an
// actual panic from user code is treated as this kind of reportable
// fault.
func recoverUserPanic(r any, debug bool) {
	var cause error
	if e, ok := r.(error); ok {
		cause = e
	} else {
		cause = fmt.Errorf("%v", r)
	}
	err := errs.NewUserMapError(cause, debug)
	currentLogger().Error(err.Error())
	panic(err)
}

// MappedReceiver wraps a downstream Cache with a pure transform, the
// building block of map edges. It is a free function rather than a
// Cache[T] method because it introduces a second type parameter P the
// receiver's T does not carry, and Go methods cannot add type parameters
// beyond those of their receiver.
type MappedReceiver[P comparable, T comparable] struct {
	target *Cache[T]
	f      func(P) T
	debug  bool
}

// ForMapped builds a MappedReceiver pushing f(p) into target on Accept.
func ForMapped[P, T comparable](target *Cache[T], f func(P) T, debug bool) *MappedReceiver[P, T] {
	return &MappedReceiver[P, T]{target: target, f: f, debug: debug}
}

// Accept computes f(p) and installs it into the target cache. A panic
// inside f is wrapped into a UserMapError, logged, and re-raised.
func (mr *MappedReceiver[P, T]) Accept(p P) bool {
	defer func() {
		if r := recover(); r != nil {
			recoverUserPanic(r, mr.debug)
		}
	}()
	return mr.target.Set(mr.f(p))
}

// Apply is Accept under the name used for initial-seed delivery; the two
// are behaviorally identical here since a single-slot Cache makes no
// distinction between a seed write and a steady-state one.
func (mr *MappedReceiver[P, T]) Apply(p P) bool { return mr.Accept(p) }

// hierarchicalState is the {parentVersion, value} pair a
// HierarchicalReceiver's cursor CAS guards as one unit, so a reader never
// observes a value whose parentVersion moved independently of it.
type hierarchicalState[T any] struct {
	parentVersion int32
	value         T
}

// HierarchicalReceiver is ForMapped's switch-map/join counterpart: it
// additionally maintains a per-edge parentVersion cursor, so that a push
// carrying an older parent version than one already applied is dropped
// rather than clobbering the newer value. This guards against a stale
// push from an already-superseded inner path (switch-map) or side
// (join) landing after a rebind, racing the register's own supersession.
//
// Invariant: after any successful Accept, the cursor satisfies
// cursor.parentVersion >= the parentVersion argument that call was given,
// and the cursor only ever increases.
type HierarchicalReceiver[P comparable, T comparable] struct {
	target *Cache[T]
	f      func(P) T
	debug  bool
	state  atomic.Pointer[hierarchicalState[T]]
}

// ForHierarchical builds a HierarchicalReceiver pushing f(p) into target,
// guarded by a parentVersion cursor.
func ForHierarchical[P, T comparable](target *Cache[T], f func(P) T, debug bool) *HierarchicalReceiver[P, T] {
	return &HierarchicalReceiver[P, T]{target: target, f: f, debug: debug}
}

// ForHierarchicalIdentity is ForHierarchical with the identity transform,
// the wiring switch-map uses to pull an inner path's value straight into
// the outer path's cache.
func ForHierarchicalIdentity[T comparable](target *Cache[T], debug bool) *HierarchicalReceiver[T, T] {
	return ForHierarchical[T, T](target, func(v T) T { return v }, debug)
}

// callF invokes f, wrapping and re-raising a panic as a UserMapError.
func (hr *HierarchicalReceiver[P, T]) callF(p P) (result T) {
	defer func() {
		if r := recover(); r != nil {
			recoverUserPanic(r, hr.debug)
		}
	}()
	return hr.f(p)
}

// Accept applies f(p) only if parentVersion is strictly greater than the
// cursor's currently recorded value. On a lost cursor CAS it re-reads the
// cursor and repeats the version check; f is not re-invoked on a retry. The
// cursor and the value it carries are guarded by the same CAS, so a retry
// always re-examines both together. A parentVersion at or below the
// recorded one when Accept starts is dropped without calling f.
func (hr *HierarchicalReceiver[P, T]) Accept(p P, parentVersion int32) bool {
	old := hr.state.Load()
	if old != nil && parentVersion <= old.parentVersion {
		hr.target.metrics.incDrop("stale-parent-version")
		return false
	}

	next := hr.callF(p)

	for {
		old := hr.state.Load()
		if old != nil && parentVersion <= old.parentVersion {
			hr.target.metrics.incDrop("stale-parent-version")
			return false
		}
		ns := &hierarchicalState[T]{parentVersion: parentVersion, value: next}
		if hr.state.CompareAndSwap(old, ns) {
			hr.target.Set(next)
			return true
		}
	}
}

// UpdaterReceiver is ForMapped's Update-based counterpart: its transform
// sees the downstream cache's previous value as well as the incoming one,
// for receivers that fold across rebinding rather than simply replacing.
type UpdaterReceiver[P comparable, T comparable] struct {
	target *Cache[T]
	f      func(prev T, prevOk bool, p P) (T, bool)
	debug  bool
}

// ForHierarchicalUpdater builds an UpdaterReceiver.
func ForHierarchicalUpdater[P, T comparable](target *Cache[T], f func(prev T, prevOk bool, p P) (T, bool), debug bool) *UpdaterReceiver[P, T] {
	return &UpdaterReceiver[P, T]{target: target, f: f, debug: debug}
}

// Accept folds p into the target cache via the wrapped updater. A panic
// inside f is wrapped into a UserMapError, logged, and re-raised.
func (ur *UpdaterReceiver[P, T]) Accept(p P) bool {
	return ur.target.Update(func(prev T, prevOk bool) (next T, proceed bool) {
		defer func() {
			if r := recover(); r != nil {
				recoverUserPanic(r, ur.debug)
			}
		}()
		return ur.f(prev, prevOk, p)
	})
}

// ForJoin wires two upstream caches of possibly-different types into one
// downstream cache of a third type. Two type parameters (L and R) beyond
// target's T rule out a method entirely. The returned closures are installed as the
// two sides' receivers; each re-reads the *other* side's current value
// before recomputing combine, so a push from either side always combines
// against the freshest pair available, never a stale snapshot taken when
// the join was built.
func ForJoin[L, R, T comparable](target *Cache[T], leftCache *Cache[L], rightCache *Cache[R], combine func(l L, lok bool, r R, rok bool) T, debug bool) (onLeft func(L) bool, onRight func(R) bool) {
	callCombine := func(l L, lok bool, r R, rok bool) (v T) {
		defer func() {
			if rec := recover(); rec != nil {
				recoverUserPanic(rec, debug)
			}
		}()
		return combine(l, lok, r, rok)
	}
	onLeft = func(l L) bool {
		r, rok := rightCache.IsConsumable()
		return target.Set(callCombine(l, true, r, rok))
	}
	onRight = func(r R) bool {
		l, lok := leftCache.IsConsumable()
		return target.Set(callCombine(l, lok, r, true))
	}
	return onLeft, onRight
}

// joinCursor is the per-side parentVersion pair ForHierarchicalJoin's CAS
// guards as a single unit, mirroring hierarchicalState for the two-parent
// case.
type joinCursor struct {
	leftVersion  int32
	rightVersion int32
}

// ForHierarchicalJoin is ForJoin's cursor-guarded counterpart: each side
// tracks its own parentVersion cursor, so a
// push carrying an older version of its own side than one already applied
// is dropped instead of clobbering a newer combined value — the same
// invariant HierarchicalReceiver enforces for switch-map, generalized to
// two independent parents instead of one.
func ForHierarchicalJoin[L, R, T comparable](target *Cache[T], leftCache *Cache[L], rightCache *Cache[R], combine func(l L, lok bool, r R, rok bool) T, debug bool) (onLeft func(l L, leftVersion int32) bool, onRight func(r R, rightVersion int32) bool) {
	var cursor atomic.Pointer[joinCursor]

	callCombine := func(l L, lok bool, r R, rok bool) (v T) {
		defer func() {
			if rec := recover(); rec != nil {
				recoverUserPanic(rec, debug)
			}
		}()
		return combine(l, lok, r, rok)
	}

	onLeft = func(l L, leftVersion int32) bool {
		for {
			old := cursor.Load()
			if old != nil && leftVersion <= old.leftVersion {
				target.metrics.incDrop("stale-parent-version")
				return false
			}
			ns := &joinCursor{leftVersion: leftVersion}
			if old != nil {
				ns.rightVersion = old.rightVersion
			}
			if !cursor.CompareAndSwap(old, ns) {
				continue
			}
			r, rok := rightCache.IsConsumable()
			return target.Set(callCombine(l, true, r, rok))
		}
	}
	onRight = func(r R, rightVersion int32) bool {
		for {
			old := cursor.Load()
			if old != nil && rightVersion <= old.rightVersion {
				target.metrics.incDrop("stale-parent-version")
				return false
			}
			ns := &joinCursor{rightVersion: rightVersion}
			if old != nil {
				ns.leftVersion = old.leftVersion
			}
			if !cursor.CompareAndSwap(old, ns) {
				continue
			}
			l, lok := leftCache.IsConsumable()
			return target.Set(callCombine(l, lok, r, true))
		}
	}
	return onLeft, onRight
}
