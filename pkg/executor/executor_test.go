package executor

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestInlineRunsSynchronously(t *testing.T) {
	var ran bool
	Inline{}.Execute(func() { ran = true })
	if !ran {
		t.Fatalf("expected task to run synchronously")
	}
}

func TestPoolRunsWithinConcurrencyBound(t *testing.T) {
	p := NewPool(2)
	var inFlight, maxSeen atomic.Int32

	// Submissions made while both slots are busy are dropped, so there is
	// no fixed number of tasks to wait for; the accepted ones are given time
	// to finish instead.
	for i := 0; i < 8; i++ {
		p.Execute(func() {
			n := inFlight.Add(1)
			for {
				m := maxSeen.Load()
				if n <= m || maxSeen.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
		})
	}
	time.Sleep(50 * time.Millisecond)

	if maxSeen.Load() > 2 {
		t.Fatalf("expected at most 2 concurrent tasks, saw %d", maxSeen.Load())
	}
}

func TestPoolDropsWhenSaturated(t *testing.T) {
	p := NewPool(1)
	block := make(chan struct{})
	started := make(chan struct{})

	p.Execute(func() {
		close(started)
		<-block
	})
	<-started

	var secondRan atomic.Bool
	p.Execute(func() { secondRan.Store(true) })
	time.Sleep(10 * time.Millisecond)
	if secondRan.Load() {
		t.Fatalf("expected second task to be dropped while pool saturated")
	}
	close(block)
}
