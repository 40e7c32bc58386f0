// path.go is the public surface of the engine: Path itself, and the four
// edge constructors (Input, Map, SwitchMap, Join) that wire a new Path's
// Cache, ReceiversManager and BinaryState together.
//
// Go cannot add type parameters to a method beyond those already bound by
// its receiver, so every constructor that introduces a new type (Map's S,
// SwitchMap's S, Join's L/R/T) is a free function taking the parent(s) as
// an explicit argument, not a Path[T] method. Expect is the one edge that
// keeps T unchanged end to end, so it can be (and is) a real method.
//
// © 2025 pathway authors. MIT License.
package pathway

import (
	"sync/atomic"

	"github.com/lucent-dataflow/pathway/pkg/errs"
	"github.com/lucent-dataflow/pathway/pkg/executor"
	"github.com/lucent-dataflow/pathway/pkg/ref"
	"github.com/lucent-dataflow/pathway/pkg/refstore"
)

// Path is a node in the reactive graph: exactly one Cache, one
// ReceiversManager, one BinaryState, and a Publisher for external
// observers.
type Path[T comparable] struct {
	cache     *Cache[T]
	rm        *ReceiversManager
	bs        *BinaryState
	publisher *Publisher[T]

	// emit is the push strategy Emit calls. A head built by Input uses
	// the backpressure-dropping getSource(delayer) strategy; every other
	// Path kind falls back to the cache's plain contentious Set.
	emit func(T) bool

	publisherExecSet atomic.Bool
	assignedRef      atomic.Pointer[ref.Ref]

	metrics metricsSink
	debug   bool
}

var globalRefStore = refstore.New[any]()

// Lookup resolves a Ref previously bound via (*Path[T]).Assign. The
// returned value must be type-asserted back to the concrete *Path[T]; Go
// has no existential generic that could do this for the caller.
func Lookup(r ref.Ref) (any, bool) { return globalRefStore.Lookup(r) }

func mustGet[T comparable](c *Cache[T]) T {
	v, _ := c.Get()
	return v
}

func (p *Path[T]) fireDispatch(v T) {
	if p.cache.ShouldDispatch(v) {
		p.rm.Dispatch()
	} else {
		p.metrics.incDrop("exclude-out")
	}
}

// newPath builds the shared skeleton (cache, receivers manager, publisher)
// common to every Path kind. bs is left nil; each constructor installs it
// with activate/softDeactivate closures specific to that edge kind.
func newPath[T comparable](opts []CacheOption[T]) *Path[T] {
	metrics := currentMetrics()
	p := &Path[T]{metrics: metrics, debug: Debug()}
	p.cache = NewCache[T](metrics, opts...)
	p.cache.onSwapped = func(_, next T) { p.fireDispatch(next) }
	p.emit = p.cache.Set
	p.rm = NewReceiversManager(
		func() { p.bs.BackProp() },
		func() { _ = p.bs.Deactivate() },
	)
	p.publisher = NewPublisher[T](p.cache, p.rm, nil, metrics)
	return p
}

// applySeed installs the builder's initial value, if any, as version 1.
// A seed vetoed by ExcludeIn is a UsageViolation: a seed is asserted to be
// acceptable, not silently dropped.
func applySeed[T comparable](p *Path[T], b Builder[T]) error {
	if !b.hasInitial {
		return nil
	}
	if !p.cache.Set(b.initial) {
		return errs.NewUsageViolation("pathway: initial value rejected by ExcludeIn", p.debug)
	}
	return nil
}

// Get returns the path's current value and whether one has ever been
// installed.
func (p *Path[T]) Get() (T, bool) { return p.cache.Get() }

// Emit pushes v into this path as if it were a head, triggering dispatch
// to every active receiver and subscriber. Any Path can be emitted into,
// not only ones built with Input, but only an Input head's Emit races
// through the backpressure-dropping getSource(delayer) strategy; every
// other Path kind falls back to a plain contentious Set.
func (p *Path[T]) Emit(v T) bool { return p.emit(v) }

// IsActive reports whether this path currently has a live demand path to
// a receiver.
func (p *Path[T]) IsActive() bool { return p.bs.State() == StateActive }

// Add installs obs as an external observer, returning a handle for later
// Remove/Contains calls.
func (p *Path[T]) Add(obs Observer[T]) Subscription { return p.publisher.Add(obs) }

// Remove uninstalls the observer named by sub.
func (p *Path[T]) Remove(sub Subscription) bool { return p.publisher.Remove(sub) }

// Contains reports whether sub names a currently installed observer.
func (p *Path[T]) Contains(sub Subscription) bool { return p.publisher.Contains(sub) }

// GetPublisher returns this path's Publisher, switching it onto exec the
// first time GetPublisher is called with a non-nil executor. Later calls
// do not change the executor already in effect.
func (p *Path[T]) GetPublisher(exec Executor) *Publisher[T] {
	if exec != nil && p.publisherExecSet.CompareAndSwap(false, true) {
		p.publisher.executor = exec
	}
	return p.publisher
}

// Assign pairs r with this path in the process-wide Ref table. Returns a
// UsageError if r is already assigned to some path.
func (p *Path[T]) Assign(r ref.Ref) error {
	if err := globalRefStore.Assign(r, any(p), p.debug); err != nil {
		return err
	}
	p.assignedRef.Store(&r)
	return nil
}

// DeReference removes this path's Ref assignment, if it has one. The path
// itself is untouched; only the name-to-path mapping is forgotten.
func (p *Path[T]) DeReference() {
	if r := p.assignedRef.Swap(nil); r != nil {
		globalRefStore.Delete(*r)
	}
}

// Expect filters values flowing through p: a value for which pred returns
// false is vetoed before it ever reaches the returned child's cache. It is
// implemented as an identity Map with an ExcludeIn option, since filtering
// introduces no new type and can stay a method.
func (p *Path[T]) Expect(pred func(T) bool, opts ...Option[T]) (*Path[T], error) {
	veto := ExcludeIn[T](func(next, _ T) bool { return !pred(next) })
	return Map[T, T](p, func(v T) T { return v }, append([]Option[T]{veto}, opts...)...)
}

// Input constructs a head Path: no parent, driven purely by Emit. Emit on
// a head races the cache's getSource(delayer) strategy: concurrent
// emitters compress onto whichever call claims the newest ticket, and a
// call superseded before its install runs is dropped rather than queued.
func Input[T comparable](opts ...Option[T]) (*Path[T], error) {
	b := newBuilder(opts...)
	p := newPath[T](b.cacheOptions())

	exec := b.emitExec
	if exec == nil {
		exec = executor.Inline{}
	}
	dropSource := p.cache.GetSourceDelayer(exec, p.debug)
	p.emit = func(v T) bool {
		dropSource(v)
		return true
	}

	activate := func(allow, onSet func() bool) bool {
		if !allow() {
			return false
		}
		ok := onSet()
		if ok {
			p.metrics.incActivate()
			p.metrics.setActivePaths(1)
		}
		return ok
	}
	softDeactivate := func() {
		p.metrics.incDeactivate()
		p.metrics.setActivePaths(-1)
	}
	p.bs = NewBinaryState(false, activate, softDeactivate)

	if err := applySeed(p, b); err != nil {
		return nil, err
	}
	return p, nil
}

// Map constructs a child that applies f to every value parent pushes.
func Map[T, S comparable](parent *Path[T], f func(T) S, opts ...Option[S]) (*Path[S], error) {
	b := newBuilder(opts...)
	child := newPath[S](b.cacheOptions())
	mr := ForMapped[T, S](child.cache, f, child.debug)

	var parentToken uint64
	activate := func(allow, onSet func() bool) bool {
		receiverFn := func() { mr.Accept(mustGet(parent.cache)) }
		tok, ok := parent.rm.AddReceiverConditional(receiverFn, allow, onSet)
		if !ok {
			return false
		}
		parentToken = tok
		if seed, okc := parent.cache.IsConsumable(); okc {
			mr.Apply(seed)
		}
		child.metrics.incActivate()
		child.metrics.setActivePaths(1)
		return true
	}
	softDeactivate := func() {
		parent.rm.Remove(parentToken)
		child.metrics.incDeactivate()
		child.metrics.setActivePaths(-1)
	}
	child.bs = NewBinaryState(true, activate, softDeactivate)

	if err := applySeed(child, b); err != nil {
		return nil, err
	}
	return child, nil
}

// OpenMap is Map without any builder options, for the common case.
func OpenMap[T, S comparable](parent *Path[T], f func(T) S) (*Path[S], error) {
	return Map(parent, f)
}

// SwitchMap constructs a child whose upstream is dynamically selected by
// f(T): every time f picks a different inner Path, the child rebinds onto
// it, superseding and shutting off the previous selection. f returning nil
// is a UsageViolation, raised as a panic from the goroutine that pushed
// the triggering value — the core has no error channel of its own for a
// fault surfacing deep inside an async CAS callback, and usage violations
// are meant to raise immediately on the offending thread (see DESIGN.md).
func SwitchMap[T, S comparable](parent *Path[T], f func(T) *Path[S], opts ...Option[S]) (*Path[S], error) {
	b := newBuilder(opts...)
	child := newPath[S](b.cacheOptions())

	register := NewSysRegister[*Path[S]]()
	var verCounter atomic.Int64
	innerCache := NewCache[*Path[S]](child.metrics)

	innerCache.onSwapped = func(_, nextInner *Path[S]) {
		if nextInner == nil {
			err := errs.NewUsageViolation("pathway: switch-map mapper returned a nil path", child.debug)
			currentLogger().Error(err.Error())
			panic(err)
		}

		selectionVersion := verCounter.Add(1)
		var innerToken uint64

		gsaActivate := func(allow, onSet func() bool) bool {
			hr := ForHierarchicalIdentity[S](child.cache, child.debug)
			receiverFn := func() {
				if v, ver, ok := nextInner.cache.GetVersioned(); ok {
					hr.Accept(v, ver)
				}
			}
			tok, ok := nextInner.rm.AddReceiverConditional(receiverFn, allow, onSet)
			if !ok {
				return false
			}
			innerToken = tok
			if seed, ver, okc := nextInner.cache.GetVersioned(); okc {
				hr.Accept(seed, ver)
			}
			return true
		}
		gsaSoftDeactivate := func() { nextInner.rm.Remove(innerToken) }

		gsa := NewGSA[*Path[S]](true, gsaActivate, gsaSoftDeactivate)
		live := func() int64 { return verCounter.Load() }
		ownerActive := child.bs.State() == StateActive

		hadPrior := register.Current() != nil
		installed := register.Register(selectionVersion, live, gsa, nextInner, ownerActive, child.debug)
		if installed && ownerActive && hadPrior {
			child.metrics.incSupersede()
		}
	}

	innerMR := ForMapped[T, *Path[S]](innerCache, f, child.debug)
	var parentToken uint64
	activate := func(allow, onSet func() bool) bool {
		receiverFn := func() { innerMR.Accept(mustGet(parent.cache)) }
		tok, ok := parent.rm.AddReceiverConditional(receiverFn, allow, onSet)
		if !ok {
			return false
		}
		parentToken = tok
		if seed, okc := parent.cache.IsConsumable(); okc {
			innerMR.Apply(seed)
		}
		child.metrics.incActivate()
		child.metrics.setActivePaths(1)
		return true
	}
	softDeactivate := func() {
		parent.rm.Remove(parentToken)
		register.Clear()
		child.metrics.incDeactivate()
		child.metrics.setActivePaths(-1)
	}
	child.bs = NewBinaryState(true, activate, softDeactivate)

	if err := applySeed(child, b); err != nil {
		return nil, err
	}
	return child, nil
}

// OpenSwitchMap is SwitchMap without any builder options.
func OpenSwitchMap[T, S comparable](parent *Path[T], f func(T) *Path[S]) (*Path[S], error) {
	return SwitchMap(parent, f)
}

// Join constructs a child whose value is combine(left, right), recomputed
// whenever either side pushes, always against the freshest value available
// on the other side (via ForHierarchicalJoin). Each side carries its own
// parentVersion cursor, so a push racing an older snapshot of its own
// side is dropped rather than clobbering one already applied.
func Join[L, R, T comparable](left *Path[L], right *Path[R], combine func(l L, lok bool, r R, rok bool) T, opts ...Option[T]) (*Path[T], error) {
	b := newBuilder(opts...)
	child := newPath[T](b.cacheOptions())
	onLeft, onRight := ForHierarchicalJoin[L, R, T](child.cache, left.cache, right.cache, combine, child.debug)

	var leftToken, rightToken uint64
	activate := func(allow, onSet func() bool) bool {
		if !allow() {
			return false
		}
		leftToken = left.rm.AddReceiver(func() {
			if v, ver, ok := left.cache.GetVersioned(); ok {
				onLeft(v, ver)
			}
		})
		rightToken = right.rm.AddReceiver(func() {
			if v, ver, ok := right.cache.GetVersioned(); ok {
				onRight(v, ver)
			}
		})
		if !onSet() {
			left.rm.Remove(leftToken)
			right.rm.Remove(rightToken)
			return false
		}
		if lv, lver, lok := left.cache.GetVersioned(); lok {
			onLeft(lv, lver)
		}
		if rv, rver, rok := right.cache.GetVersioned(); rok {
			onRight(rv, rver)
		}
		child.metrics.incActivate()
		child.metrics.setActivePaths(1)
		return true
	}
	softDeactivate := func() {
		left.rm.Remove(leftToken)
		right.rm.Remove(rightToken)
		child.metrics.incDeactivate()
		child.metrics.setActivePaths(-1)
	}
	child.bs = NewBinaryState(true, activate, softDeactivate)

	if err := applySeed(child, b); err != nil {
		return nil, err
	}
	return child, nil
}
