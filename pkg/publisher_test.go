package pathway

import (
	"sync"
	"testing"
	"time"

	"github.com/lucent-dataflow/pathway/pkg/executor"
)

func TestPublisherAddDeliversImmediateSeed(t *testing.T) {
	cache := NewCache[int](noopMetrics{})
	rm := NewReceiversManager(nil, nil)
	cache.Set(9)
	pub := NewPublisher[int](cache, rm, nil, noopMetrics{})

	var got int
	pub.Add(func(v int) { got = v })
	if got != 9 {
		t.Fatalf("expected immediate seed delivery of 9, got %d", got)
	}
}

func TestPublisherSyncDispatchDeliversStrictlyNewerOnly(t *testing.T) {
	cache := NewCache[int](noopMetrics{})
	rm := NewReceiversManager(nil, nil)
	pub := NewPublisher[int](cache, rm, nil, noopMetrics{})

	var received []int
	pub.Add(func(v int) { received = append(received, v) })

	cache.Set(1)
	pub.Dispatch()
	cache.Set(1) // vetoed by equality, cache version unchanged
	pub.Dispatch()
	cache.Set(2)
	pub.Dispatch()

	if len(received) != 2 || received[0] != 1 || received[1] != 2 {
		t.Fatalf("expected [1 2], got %v", received)
	}
}

func TestPublisherRemoveStopsDelivery(t *testing.T) {
	cache := NewCache[int](noopMetrics{})
	rm := NewReceiversManager(nil, nil)
	pub := NewPublisher[int](cache, rm, nil, noopMetrics{})

	var calls int
	sub := pub.Add(func(v int) { calls++ })
	cache.Set(1)
	pub.Dispatch()
	if !pub.Remove(sub) {
		t.Fatalf("expected Remove to succeed")
	}
	if pub.Contains(sub) {
		t.Fatalf("expected sub to no longer be present")
	}
	cache.Set(2)
	pub.Dispatch()
	if calls != 1 {
		t.Fatalf("expected exactly one delivery before removal, got %d", calls)
	}
}

func TestPublisherRegistersAndUnregistersDemand(t *testing.T) {
	var hot, cold int
	rm := NewReceiversManager(func() { hot++ }, func() { cold++ })
	cache := NewCache[int](noopMetrics{})
	pub := NewPublisher[int](cache, rm, nil, noopMetrics{})

	sub := pub.Add(func(int) {})
	if hot != 1 {
		t.Fatalf("expected first subscriber to register demand, got hot=%d", hot)
	}
	pub.Remove(sub)
	if cold != 1 {
		t.Fatalf("expected last subscriber leaving to unregister demand, got cold=%d", cold)
	}
}

func TestPublisherAsyncDispatchCompressesToNewestVersion(t *testing.T) {
	cache := NewCache[int](noopMetrics{})
	rm := NewReceiversManager(nil, nil)
	pub := NewPublisher[int](cache, rm, executor.NewPool(4), noopMetrics{})

	var mu sync.Mutex
	var received []int
	done := make(chan struct{})
	pub.Add(func(v int) {
		mu.Lock()
		received = append(received, v)
		mu.Unlock()
		if v == 100 {
			close(done)
		}
	})

	for i := 1; i <= 100; i++ {
		cache.Set(i)
		pub.Dispatch()
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for final value to be delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(received); i++ {
		if received[i] <= received[i-1] {
			t.Fatalf("expected strictly increasing delivered versions, got %v", received)
		}
	}
	if received[len(received)-1] != 100 {
		t.Fatalf("expected the final delivered value to be 100, got %d", received[len(received)-1])
	}
}
