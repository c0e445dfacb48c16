// Package dispatcher pairs connected evaluator workers with pending
// requests on the server side. Grounded on
// cpp/server/dispatcher.hpp's Dispatcher: AddEvaluator and AddRequest each
// either complete immediately against a waiting counterpart or enqueue,
// maintaining the invariant that at most one of the two queues is
// non-empty at a time.
package dispatcher

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/evalforge/evalforge/wire"
)

// Evaluator is the server's view of one connected worker: something that
// can be handed a Request and asked to run it. rpcclient.Client
// implements this by forwarding to the worker over the wire
// protocol's evaluate RPC.
type Evaluator interface {
	Evaluate(ctx context.Context, req wire.Request) (wire.Response, error)
}

type requestEntry struct {
	req    wire.Request
	result chan<- requestOutcome
}

type requestOutcome struct {
	resp wire.Response
	err  error
}

// Dispatcher matches evaluators to requests in FIFO order on both sides.
type Dispatcher struct {
	mu         sync.Mutex
	evaluators []Evaluator
	requests   []requestEntry
}

// New returns an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{}
}

// AddEvaluator registers evaluator as available. If a request is already
// waiting, it is handed to evaluator immediately (run in its own
// goroutine so AddEvaluator itself never blocks on the request's
// execution); otherwise evaluator is queued for the next AddRequest.
func (d *Dispatcher) AddEvaluator(ctx context.Context, evaluator Evaluator) {
	d.mu.Lock()
	if len(d.requests) > 0 {
		next := d.requests[0]
		d.requests = d.requests[1:]
		d.mu.Unlock()
		go runRequest(ctx, evaluator, next)
		return
	}
	d.evaluators = append(d.evaluators, evaluator)
	d.mu.Unlock()
}

// AddRequest submits req for execution, blocking until some evaluator runs
// it (or ctx is canceled first). If an evaluator is already waiting, req
// is dispatched to it immediately; otherwise req is queued for the next
// AddEvaluator.
func (d *Dispatcher) AddRequest(ctx context.Context, req wire.Request) (wire.Response, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	d.mu.Lock()
	if len(d.evaluators) > 0 {
		evaluator := d.evaluators[0]
		d.evaluators = d.evaluators[1:]
		d.mu.Unlock()
		return evaluator.Evaluate(ctx, req)
	}

	result := make(chan requestOutcome, 1)
	d.requests = append(d.requests, requestEntry{req: req, result: result})
	d.mu.Unlock()

	select {
	case outcome := <-result:
		return outcome.resp, outcome.err
	case <-ctx.Done():
		d.removeRequest(req.ID)
		return wire.Response{}, ctx.Err()
	}
}

func runRequest(ctx context.Context, evaluator Evaluator, entry requestEntry) {
	resp, err := evaluator.Evaluate(ctx, entry.req)
	entry.result <- requestOutcome{resp: resp, err: err}
}

// removeRequest drops a still-queued request by id, used when its caller's
// context is canceled before an evaluator picked it up.
func (d *Dispatcher) removeRequest(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, e := range d.requests {
		if e.req.ID == id {
			d.requests = append(d.requests[:i], d.requests[i+1:]...)
			return
		}
	}
}

// PendingRequests reports how many requests are queued awaiting an
// evaluator.
func (d *Dispatcher) PendingRequests() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

// IdleEvaluators reports how many evaluators are queued awaiting a
// request.
func (d *Dispatcher) IdleEvaluators() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.evaluators)
}
