package pathway

import (
	"strings"
	"sync"
	"testing"

	"github.com/lucent-dataflow/pathway/pkg/errs"
	"github.com/lucent-dataflow/pathway/pkg/executor"
)

func TestCacheFirstSetInstallsVersionOne(t *testing.T) {
	c := NewCache[int](noopMetrics{})
	if _, ok := c.Get(); ok {
		t.Fatalf("expected empty cache to report not-ok")
	}
	if !c.Set(7) {
		t.Fatalf("expected first Set to succeed")
	}
	v, ok := c.Get()
	if !ok || v != 7 || c.Version() != 1 {
		t.Fatalf("got v=%d ok=%v version=%d, want 7 true 1", v, ok, c.Version())
	}
}

func TestCacheEqualValueNeverSwaps(t *testing.T) {
	c := NewCache[int](noopMetrics{})
	c.Set(5)
	if c.Set(5) {
		t.Fatalf("expected equal-value set to be a no-op")
	}
	if c.Version() != 1 {
		t.Fatalf("version must not advance on a vetoed swap, got %d", c.Version())
	}
}

func TestCacheExcludeInVetoesEvenFirstValue(t *testing.T) {
	c := NewCache[int](noopMetrics{}, WithExcludeIn[int](func(next, _ int) bool { return next == 42 }))
	if c.Set(42) {
		t.Fatalf("expected ExcludeIn to veto the very first value")
	}
	if _, ok := c.Get(); ok {
		t.Fatalf("expected cache to remain empty after a vetoed first value")
	}
	if !c.Set(1) {
		t.Fatalf("expected a non-vetoed value to install")
	}
}

func TestCacheOnSwappedFiresOnSuccessOnly(t *testing.T) {
	var fired int
	c := NewCache[int](noopMetrics{}, WithOnSwapped[int](func(prev, next int) { fired++ }))
	c.Set(1)
	c.Set(1) // vetoed by equality
	c.Set(2)
	if fired != 2 {
		t.Fatalf("expected onSwapped to fire exactly twice, got %d", fired)
	}
}

func TestCacheVersionStrictlyIncreasesUnderConcurrency(t *testing.T) {
	c := NewCache[int](noopMetrics{})
	var wg sync.WaitGroup
	for i := 1; i <= 200; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Update(func(prev int, _ bool) (int, bool) { return prev + i, true })
		}()
	}
	wg.Wait()
	if c.Version() != 200 {
		t.Fatalf("expected 200 successful swaps, got version %d", c.Version())
	}
}

func TestForJoinRecombinesAgainstFreshestOtherSide(t *testing.T) {
	target := NewCache[int](noopMetrics{})
	left := NewCache[int](noopMetrics{})
	right := NewCache[int](noopMetrics{})
	onLeft, onRight := ForJoin[int, int, int](target, left, right, func(l int, lok bool, r int, rok bool) int {
		return l + r
	}, false)

	left.Set(1)
	onLeft(1)
	v, ok := target.Get()
	if !ok || v != 1 {
		t.Fatalf("expected 1+0=1 with right absent, got %d ok=%v", v, ok)
	}

	right.Set(2)
	onRight(2)
	v, ok = target.Get()
	if !ok || v != 3 {
		t.Fatalf("expected 1+2=3, got %d ok=%v", v, ok)
	}
}

func TestGetSourceAcceptsSingleShotWrite(t *testing.T) {
	c := NewCache[int](noopMetrics{})
	source := c.GetSource(false)
	if err := source(1); err != nil {
		t.Fatalf("expected uncontested write to succeed, got %v", err)
	}
	v, ok := c.Get()
	if !ok || v != 1 {
		t.Fatalf("expected value 1, got %d ok=%v", v, ok)
	}
}

func TestGetSourceReportsConcurrencyErrorOnLostRace(t *testing.T) {
	c := NewCache[int](noopMetrics{})
	source := c.GetSource(false)

	var wg sync.WaitGroup
	errs := make([]error, 50)
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = source(i)
		}()
	}
	wg.Wait()
	var failures int
	for _, err := range errs {
		if err != nil {
			failures++
		}
	}
	if failures == 0 {
		t.Fatalf("expected at least one of 50 concurrent GetSource callers to observe a concurrency error")
	}
}

func TestGetSourceDelayerKeepsOnlyNewestTicket(t *testing.T) {
	c := NewCache[int](noopMetrics{})
	source := c.GetSourceDelayer(executor.Inline{}, false)
	source(1)
	source(2)
	source(3)
	v, ok := c.Get()
	if !ok || v != 3 {
		t.Fatalf("expected the last ticket to win with an inline executor, got %d ok=%v", v, ok)
	}
	if c.Version() != 3 {
		t.Fatalf("expected three installs (an inline executor runs each ticket before a newer one is claimed), got version %d", c.Version())
	}
}

func TestGetSourceDelayerDropsSupersededTicket(t *testing.T) {
	c := NewCache[int](noopMetrics{})
	var captured func()
	capturing := executorFunc(func(task func()) { captured = task })
	source := c.GetSourceDelayer(capturing, false)

	source(1) // ticket 1, installs inline
	source(2) // ticket 2, deferred to capturing, not yet run
	source(3) // ticket 3, deferred to capturing, overwrites captured

	if captured == nil {
		t.Fatalf("expected a deferred task to be captured")
	}
	captured() // runs ticket 3's install, the only one ever executed
	v, ok := c.Get()
	if !ok || v != 3 {
		t.Fatalf("expected ticket 3 to install, got %d ok=%v", v, ok)
	}
}

func TestGetComputableOnlyEvaluatesWinningTicket(t *testing.T) {
	c := NewCache[int](noopMetrics{})
	var evaluated []int
	compute := c.GetComputable(nil, false)
	for i := 1; i <= 3; i++ {
		i := i
		compute(func() int {
			evaluated = append(evaluated, i)
			return i
		})
	}
	if len(evaluated) != 3 {
		t.Fatalf("expected a nil executor to run every ticket inline like GetSourceDelayer's first ticket, got %v", evaluated)
	}
	v, ok := c.Get()
	if !ok || v != 3 {
		t.Fatalf("expected the last value, got %d ok=%v", v, ok)
	}
}

func TestHierarchicalReceiverDropsStaleParentVersion(t *testing.T) {
	target := NewCache[int](noopMetrics{})
	hr := ForHierarchicalIdentity[int](target, false)

	if !hr.Accept(5, 3) {
		t.Fatalf("expected parentVersion 3 to install")
	}
	if hr.Accept(1, 2) {
		t.Fatalf("expected a stale parentVersion (2 after 3) to be dropped")
	}
	v, ok := target.Get()
	if !ok || v != 5 {
		t.Fatalf("expected the stale push to leave the target unchanged, got %d ok=%v", v, ok)
	}
	if !hr.Accept(9, 4) {
		t.Fatalf("expected a newer parentVersion to install")
	}
	v, ok = target.Get()
	if !ok || v != 9 {
		t.Fatalf("expected the newer push to install, got %d ok=%v", v, ok)
	}
}

func TestMappedReceiverWrapsUserPanicAsUserMapError(t *testing.T) {
	target := NewCache[int](noopMetrics{})
	mr := ForMapped[int, int](target, func(int) int { panic("boom") }, false)

	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected the panic to be re-raised")
		}
		err, ok := r.(*errs.UserMapError)
		if !ok {
			t.Fatalf("expected a *errs.UserMapError, got %T", r)
		}
		if !strings.Contains(err.Error(), "boom") {
			t.Fatalf("expected the wrapped error to mention the original panic value, got %q", err.Error())
		}
	}()
	mr.Accept(1)
}

type executorFunc func(task executor.Task)

func (f executorFunc) Execute(task executor.Task) { f(task) }
