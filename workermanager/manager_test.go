package workermanager_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/evalforge/evalforge/workermanager"
)

func TestScheduleRunsWithinBudget(t *testing.T) {
	m := workermanager.New(2)
	var running int32
	var maxSeen int32
	var mu sync.Mutex
	block := make(chan struct{})

	task := func(ctx context.Context) error {
		n := atomic.AddInt32(&running, 1)
		mu.Lock()
		if n > maxSeen {
			maxSeen = n
		}
		mu.Unlock()
		<-block
		atomic.AddInt32(&running, -1)
		return nil
	}

	results := make([]<-chan error, 0, 3)
	for i := 0; i < 3; i++ {
		results = append(results, m.Schedule(context.Background(), 1, task))
	}

	// Give the two admissible tasks time to start; the third must stay
	// queued since the budget is 2.
	time.Sleep(50 * time.Millisecond)
	if got := m.Pending(); got != 1 {
		t.Fatalf("expected exactly one task queued, got %d", got)
	}

	close(block)
	for _, r := range results {
		if err := <-r; err != nil {
			t.Fatalf("task error: %v", err)
		}
	}
	m.Wait()

	mu.Lock()
	defer mu.Unlock()
	if maxSeen > 2 {
		t.Fatalf("budget of 2 cores exceeded: saw %d running at once", maxSeen)
	}
}

func TestScheduleAdmitsQueuedTaskOnceBudgetFrees(t *testing.T) {
	m := workermanager.New(1)
	first := make(chan struct{})

	r1 := m.Schedule(context.Background(), 1, func(ctx context.Context) error {
		<-first
		return nil
	})
	r2 := m.Schedule(context.Background(), 1, func(ctx context.Context) error {
		return nil
	})

	time.Sleep(20 * time.Millisecond)
	if got := m.Pending(); got != 1 {
		t.Fatalf("expected the second task to be queued, got pending=%d", got)
	}

	close(first)
	if err := <-r1; err != nil {
		t.Fatalf("first task error: %v", err)
	}
	if err := <-r2; err != nil {
		t.Fatalf("second task error: %v", err)
	}
	m.Wait()
}

func TestScheduleRejectsOnceQueueFull(t *testing.T) {
	m := workermanager.NewWithPendingBudget(1, 1)
	block := make(chan struct{})

	running := m.Schedule(context.Background(), 1, func(ctx context.Context) error {
		<-block
		return nil
	})
	queued := m.Schedule(context.Background(), 1, func(ctx context.Context) error {
		return nil
	})

	time.Sleep(20 * time.Millisecond)
	if got := m.Pending(); got != 1 {
		t.Fatalf("expected the second task to occupy the one pending slot, got %d", got)
	}

	rejected := m.Schedule(context.Background(), 1, func(ctx context.Context) error {
		t.Fatal("a rejected task must never run")
		return nil
	})
	if err := <-rejected; err != workermanager.ErrOverloaded {
		t.Fatalf("expected ErrOverloaded, got %v", err)
	}

	close(block)
	if err := <-running; err != nil {
		t.Fatalf("running task error: %v", err)
	}
	if err := <-queued; err != nil {
		t.Fatalf("queued task error: %v", err)
	}
	m.Wait()
}
