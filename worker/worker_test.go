package worker_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/evalforge/evalforge/localexec"
	"github.com/evalforge/evalforge/store"
	"github.com/evalforge/evalforge/wire"
	"github.com/evalforge/evalforge/worker"
	"github.com/evalforge/evalforge/workercache"
)

func newWorker(t *testing.T) *worker.Worker {
	t.Helper()
	return newWorkerWithBudget(t, 2, 0)
}

func newWorkerWithBudget(t *testing.T, numCores, maxPendingRequests int32) *worker.Worker {
	t.Helper()
	s, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	cache, err := workercache.New(workercache.Config{})
	if err != nil {
		t.Fatalf("workercache.New: %v", err)
	}
	exec := localexec.New(s, t.TempDir(), "echo", 4)
	return worker.New(exec, s, cache, numCores, maxPendingRequests)
}

func TestEvaluateCachesSuccessfulResponse(t *testing.T) {
	w := newWorker(t)
	req := wire.Request{ID: "a", Executable: "/bin/true"}

	resp1, err := w.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("first Evaluate: %v", err)
	}
	if resp1.Cached {
		t.Fatal("first evaluation should not be reported as cached")
	}

	req.ID = "b" // same fingerprint-relevant fields, different request id
	resp2, err := w.Evaluate(context.Background(), req)
	if err != nil {
		t.Fatalf("second Evaluate: %v", err)
	}
	if !resp2.Cached {
		t.Fatal("second evaluation of an identical request should be served from cache")
	}
	if resp2.RequestID != "b" {
		t.Fatalf("cached response should carry the new request's id, got %q", resp2.RequestID)
	}
}

func TestCancelRequestWithNoRunningRequestErrors(t *testing.T) {
	w := newWorker(t)
	if err := w.CancelRequest(context.Background(), "nonexistent"); err == nil {
		t.Fatal("expected an error canceling a request that is not running")
	}
}

func TestRequestFileStreamsAndTerminates(t *testing.T) {
	w := newWorker(t)
	data := []byte("file contents")
	h, err := w.Store.Write(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	chunks, err := w.RequestFile(context.Background(), h)
	if err != nil {
		t.Fatalf("RequestFile: %v", err)
	}
	var got []byte
	for c := range chunks {
		if len(c.Chunk) == 0 {
			break
		}
		got = append(got, c.Chunk...)
	}
	if string(got) != string(data) {
		t.Fatalf("got %q, want %q", got, data)
	}
}

func TestEvaluateReturnsOverloadedWhenPendingBudgetExhausted(t *testing.T) {
	w := newWorkerWithBudget(t, 1, 1)
	block := make(chan struct{})

	running := w.Manager.Schedule(context.Background(), 1, func(ctx context.Context) error {
		<-block
		return nil
	})
	queued := w.Manager.Schedule(context.Background(), 1, func(ctx context.Context) error {
		return nil
	})

	// Let both occupy the core and the one pending slot before asking
	// Evaluate to schedule a third.
	time.Sleep(20 * time.Millisecond)
	if got := w.Manager.Pending(); got != 1 {
		t.Fatalf("expected the pending budget to already be full, got %d", got)
	}

	resp, err := w.Evaluate(context.Background(), wire.Request{ID: "c", Executable: "/bin/true"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if resp.Status != wire.StatusOverloaded {
		t.Fatalf("expected StatusOverloaded, got %v", resp.Status)
	}

	close(block)
	if err := <-running; err != nil {
		t.Fatalf("running task error: %v", err)
	}
	if err := <-queued; err != nil {
		t.Fatalf("queued task error: %v", err)
	}
}
