package dispatcher_test

import (
	"context"
	"testing"
	"time"

	"github.com/evalforge/evalforge/dispatcher"
	"github.com/evalforge/evalforge/wire"
)

type fakeEvaluator struct {
	resp wire.Response
	err  error
}

func (f fakeEvaluator) Evaluate(ctx context.Context, req wire.Request) (wire.Response, error) {
	resp := f.resp
	resp.RequestID = req.ID
	return resp, f.err
}

func TestAddRequestThenAddEvaluator(t *testing.T) {
	d := dispatcher.New()
	done := make(chan struct{})
	var got wire.Response
	go func() {
		resp, err := d.AddRequest(context.Background(), wire.Request{ID: "r1"})
		if err != nil {
			t.Errorf("AddRequest: %v", err)
		}
		got = resp
		close(done)
	}()

	// Give the request time to enqueue before the evaluator arrives.
	time.Sleep(20 * time.Millisecond)
	if d.PendingRequests() != 1 {
		t.Fatalf("expected 1 pending request, got %d", d.PendingRequests())
	}

	d.AddEvaluator(context.Background(), fakeEvaluator{resp: wire.Response{Status: wire.StatusSuccess}})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for request to be served")
	}
	if got.RequestID != "r1" || got.Status != wire.StatusSuccess {
		t.Fatalf("got %+v", got)
	}
}

func TestAddEvaluatorThenAddRequest(t *testing.T) {
	d := dispatcher.New()
	d.AddEvaluator(context.Background(), fakeEvaluator{resp: wire.Response{Status: wire.StatusSuccess}})
	if d.IdleEvaluators() != 1 {
		t.Fatalf("expected 1 idle evaluator, got %d", d.IdleEvaluators())
	}

	resp, err := d.AddRequest(context.Background(), wire.Request{ID: "r2"})
	if err != nil {
		t.Fatalf("AddRequest: %v", err)
	}
	if resp.RequestID != "r2" {
		t.Fatalf("got %+v", resp)
	}
	if d.IdleEvaluators() != 0 {
		t.Fatalf("evaluator should have been consumed, got %d idle", d.IdleEvaluators())
	}
}

func TestAddRequestCanceledWhileQueued(t *testing.T) {
	d := dispatcher.New()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := d.AddRequest(ctx, wire.Request{ID: "r3"})
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected a context-canceled error")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for canceled AddRequest to return")
	}

	if d.PendingRequests() != 0 {
		t.Fatalf("canceled request should be removed from the queue, got %d pending", d.PendingRequests())
	}
}
