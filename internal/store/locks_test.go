package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquire_Release(t *testing.T) {
	r := NewLockRegistry()

	release, err := r.Acquire(context.Background(), "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !r.IsLocked("s1") {
		t.Error("s1 should be locked")
	}
	if r.ActiveLockCount() != 1 {
		t.Errorf("expected 1 active lock, got %d", r.ActiveLockCount())
	}

	release()

	if r.IsLocked("s1") {
		t.Error("s1 should be released")
	}
}

func TestRelease_Idempotent(t *testing.T) {
	r := NewLockRegistry()

	release, _ := r.Acquire(context.Background(), "s1")
	release()
	release() // повторный вызов — no-op

	if r.IsLocked("s1") {
		t.Error("s1 should stay released")
	}
}

func TestWithLock_MutualExclusion(t *testing.T) {
	r := NewLockRegistry()

	var inside int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.WithLock(context.Background(), "s1", func() error {
				if atomic.AddInt32(&inside, 1) != 1 {
					t.Error("two goroutines inside critical section")
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
	}

	wg.Wait()
}

func TestWithLock_ReleasesOnPanic(t *testing.T) {
	r := NewLockRegistry()

	func() {
		defer func() { recover() }()
		_ = r.WithLock(context.Background(), "s1", func() error {
			panic("boom")
		})
	}()

	if r.IsLocked("s1") {
		t.Error("lock should be released after panic")
	}
}

func TestAcquire_FIFO(t *testing.T) {
	r := NewLockRegistry()

	first, _ := r.Acquire(context.Background(), "s1")

	const waiters = 5
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			// Регистрация в очереди в детерминированном порядке:
			// каждый ожидающий стартует после постановки предыдущего.
			release, err := r.Acquire(context.Background(), "s1")
			if err != nil {
				t.Errorf("waiter %d: %v", n, err)
				return
			}
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			release()
		}(i)

		// Даём горутине встать в очередь до запуска следующей.
		waitForQueue(t, r, "s1", i+1)
	}

	first()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, n := range order {
		if n != i {
			t.Errorf("position %d granted to waiter %d, expected %d", i, n, i)
		}
	}
}

// waitForQueue ждёт, пока очередь блокировки id не достигнет n ожидающих.
func waitForQueue(t *testing.T, r *LockRegistry, id string, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		st := r.locks[id]
		queued := 0
		if st != nil {
			queued = len(st.queue)
		}
		r.mu.Unlock()
		if queued >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("queue for %s never reached %d waiters", id, n)
}

func TestAcquire_ContextCancelled(t *testing.T) {
	r := NewLockRegistry()

	hold, _ := r.Acquire(context.Background(), "s1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.Acquire(ctx, "s1")
		done <- err
	}()

	waitForQueue(t, r, "s1", 1)
	cancel()

	if err := <-done; err == nil {
		t.Error("expected context error")
	}

	// Отменённый ожидающий не должен получить блокировку при release.
	hold()
	if r.IsLocked("s1") {
		t.Error("lock should be free after release with cancelled waiter")
	}
}

func TestTryAcquire(t *testing.T) {
	r := NewLockRegistry()

	release, ok := r.TryAcquire("s1")
	if !ok {
		t.Fatal("first TryAcquire should succeed")
	}

	if _, ok := r.TryAcquire("s1"); ok {
		t.Error("second TryAcquire should fail while held")
	}

	release()

	if _, ok := r.TryAcquire("s1"); !ok {
		t.Error("TryAcquire should succeed after release")
	}
}

func TestClearAll(t *testing.T) {
	r := NewLockRegistry()

	_, _ = r.Acquire(context.Background(), "s1")
	_, _ = r.Acquire(context.Background(), "s2")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Ожидающий должен быть выгнан ClearAll, а не висеть.
		release, err := r.Acquire(context.Background(), "s1")
		if err == nil && release != nil {
			release()
		}
	}()

	waitForQueue(t, r, "s1", 1)
	r.ClearAll()
	wg.Wait()

	if r.ActiveLockCount() != 0 {
		t.Errorf("expected 0 active locks after ClearAll, got %d", r.ActiveLockCount())
	}
}
