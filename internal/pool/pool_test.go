package pool

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitNeverBlocks(t *testing.T) {
	p := New(1)
	defer p.Close()

	release := make(chan struct{})
	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := p.Submit(func() { <-release }); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("submit blocked for %v", elapsed)
	}
	if p.Pending() != 100 {
		t.Fatalf("expected 100 pending, got %d", p.Pending())
	}
	close(release)
}

func TestWorkersBoundConcurrency(t *testing.T) {
	const size = 3
	p := New(size)

	var running, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		_ = p.Submit(func() {
			defer wg.Done()
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&running, -1)
		})
	}
	wg.Wait()
	p.Close()

	if peak > size {
		t.Fatalf("peak concurrency %d exceeds pool size %d", peak, size)
	}
}

func TestCloseDrainsQueue(t *testing.T) {
	p := New(2)

	var ran int32
	for i := 0; i < 20; i++ {
		_ = p.Submit(func() {
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&ran, 1)
		})
	}
	p.Close()

	if ran != 20 {
		t.Fatalf("expected 20 tasks to run before Close returned, got %d", ran)
	}
	if err := p.Submit(func() {}); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
	p.Close()
}

func TestPanickingTaskKeepsWorker(t *testing.T) {
	p := New(1)
	defer p.Close()

	_ = p.Submit(func() { panic("boom") })

	done := make(chan struct{})
	_ = p.Submit(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker died after panic")
	}
}

func TestNewClampsSize(t *testing.T) {
	p := New(0)
	defer p.Close()
	if p.Size() != 1 {
		t.Fatalf("expected size 1, got %d", p.Size())
	}
}
