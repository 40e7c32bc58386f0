// publisher.go is the fan-out side of a Path: the copy-on-write array of
// external observer wrappers, plus sync and async (executor-backed)
// dispatch. Every wrapper tracks the last version it was handed and only
// ever delivers a strictly newer one, so a slow observer racing a fast
// producer never sees values go backwards even though nothing here takes a
// lock.
//
// © 2025 pathway authors. MIT License.
package pathway

import (
	"sync/atomic"

	"github.com/lucent-dataflow/pathway/pkg/executor"
)

// Executor is the scheduling capability a Publisher (and SwitchMap's
// internal rebind machinery) dispatches work through. Aliased here so
// callers can write pathway.Executor without an extra import.
type Executor = executor.Executor

// Observer consumes values pushed by a Path. Implementations must not
// block the calling goroutine for long; a slow observer under async
// dispatch holds up that Publisher's retry loop, and under sync dispatch
// holds up the CAS that triggered it.
type Observer[T any] func(T)

// Subscription is the opaque handle returned by Path.Add, used to Remove
// or Contains-check an observer later. It is deliberately not the
// Observer closure itself: observers need to be comparable for remove/
// contains checks, and a generated handle sidesteps having to compare
// func values, which Go does not allow at all.
type Subscription struct{ id uint64 }

// subEntry pairs a subscription id, its observer, and the last version
// delivered to it.
type subEntry[T any] struct {
	id          uint64
	obs         Observer[T]
	lastVersion atomic.Int32
}

// Publisher manages a Path's external observers and fans values out to
// them, synchronously or via an Executor.
type Publisher[T comparable] struct {
	cache *Cache[T]
	rm    *ReceiversManager

	subs  atomic.Pointer[[]*subEntry[T]]
	idCtr atomic.Uint64

	dispatchID atomic.Uint64 // rm receiver id for this publisher's demand, 0 = not registered

	executor Executor

	pendingVersion atomic.Int32
	dispatching    atomic.Bool

	metrics metricsSink
}

// NewPublisher constructs a Publisher with no subscribers. executor may be
// nil, meaning dispatch runs synchronously on the caller's goroutine.
func NewPublisher[T comparable](cache *Cache[T], rm *ReceiversManager, executor Executor, metrics metricsSink) *Publisher[T] {
	if metrics == nil {
		metrics = currentMetrics()
	}
	p := &Publisher[T]{cache: cache, rm: rm, executor: executor, metrics: metrics}
	empty := make([]*subEntry[T], 0)
	p.subs.Store(&empty)
	return p
}

// WithExecutor returns the same Publisher reconfigured to dispatch through
// exec. Intended to be called once, before any subscriber is added; later
// calls simply overwrite the prior executor. Path.GetPublisher does not go
// through this method: it sets the executor itself, only on the first call
// that passes a non-nil one.
func (p *Publisher[T]) WithExecutor(exec Executor) *Publisher[T] {
	p.executor = exec
	return p
}

// Count returns the current subscriber count.
func (p *Publisher[T]) Count() int { return len(*p.subs.Load()) }

// Add installs obs as a new subscriber. If this Publisher had none before,
// it registers exactly one demand receiver on the owning Path's
// ReceiversManager, cascading activation upward. If the cache already
// holds a consumable value, obs receives it immediately as a seed.
func (p *Publisher[T]) Add(obs Observer[T]) Subscription {
	id := p.idCtr.Add(1)
	se := &subEntry[T]{id: id, obs: obs}
	for {
		old := p.subs.Load()
		next := make([]*subEntry[T], len(*old)+1)
		copy(next, *old)
		next[len(*old)] = se
		if p.subs.CompareAndSwap(old, &next) {
			if len(*old) == 0 {
				p.registerDemand()
			}
			break
		}
	}
	if v, ok := p.cache.IsConsumable(); ok {
		p.deliverIfNewer(se, v, p.cache.Version())
	}
	return Subscription{id: id}
}

// Remove uninstalls the subscriber named by sub. If it was the last one,
// the demand receiver is removed from the owning Path's ReceiversManager,
// which may cascade deactivation upward.
func (p *Publisher[T]) Remove(sub Subscription) bool {
	for {
		old := p.subs.Load()
		idx := -1
		for i, e := range *old {
			if e.id == sub.id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return false
		}
		next := make([]*subEntry[T], 0, len(*old)-1)
		next = append(next, (*old)[:idx]...)
		next = append(next, (*old)[idx+1:]...)
		if p.subs.CompareAndSwap(old, &next) {
			if len(next) == 0 {
				p.unregisterDemand()
			}
			return true
		}
	}
}

// Contains reports whether sub currently names an installed subscriber.
func (p *Publisher[T]) Contains(sub Subscription) bool {
	for _, e := range *p.subs.Load() {
		if e.id == sub.id {
			return true
		}
	}
	return false
}

func (p *Publisher[T]) registerDemand() {
	id := p.rm.AddReceiver(p.Dispatch)
	p.dispatchID.Store(id)
}

func (p *Publisher[T]) unregisterDemand() {
	id := p.dispatchID.Swap(0)
	if id != 0 {
		p.rm.Remove(id)
	}
}

// Dispatch fans the cache's current value out to every subscriber. With no
// executor configured it runs inline (sync mode). With one configured, it
// is a VersionedExecutor: concurrent callers compress onto whichever
// claimed the highest version, and the single running task keeps
// re-checking the cache version after each delivery pass so it never
// stops one step behind the latest write.
func (p *Publisher[T]) Dispatch() {
	v, ok := p.cache.IsConsumable()
	if !ok {
		return
	}
	ver := p.cache.Version()

	if p.executor == nil {
		p.deliverAll(v, ver)
		return
	}

	for {
		old := p.pendingVersion.Load()
		if ver <= old {
			return
		}
		if p.pendingVersion.CompareAndSwap(old, ver) {
			break
		}
	}

	if !p.dispatching.CompareAndSwap(false, true) {
		return
	}

	p.executor.Execute(func() {
		for {
			target := p.pendingVersion.Load()
			if val, ok := p.cache.IsConsumable(); ok {
				p.deliverAll(val, p.cache.Version())
			}
			if p.pendingVersion.Load() == target {
				p.dispatching.Store(false)
				if p.pendingVersion.Load() == target {
					return
				}
				if !p.dispatching.CompareAndSwap(false, true) {
					return
				}
			}
		}
	})
}

func (p *Publisher[T]) deliverAll(v T, ver int32) {
	for _, se := range *p.subs.Load() {
		p.deliverIfNewer(se, v, ver)
	}
}

func (p *Publisher[T]) deliverIfNewer(se *subEntry[T], v T, ver int32) {
	for {
		old := se.lastVersion.Load()
		if ver <= old {
			return
		}
		if se.lastVersion.CompareAndSwap(old, ver) {
			se.obs(v)
			p.metrics.incDispatch()
			return
		}
	}
}
