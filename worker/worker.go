// Package worker wires together localexec, workercache and workermanager
// into rpcserver.WorkerAPI: the process a machine actually runs to offer
// sandboxed execution over RPC. Grounded on
// cpp/worker/executor.hpp's Executor, which performs exactly this
// composition (LocalExecutor + Manager + Cache) behind the capnp
// Evaluator interface.
package worker

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/evalforge/evalforge/hashid"
	"github.com/evalforge/evalforge/localexec"
	"github.com/evalforge/evalforge/store"
	"github.com/evalforge/evalforge/wire"
	"github.com/evalforge/evalforge/workercache"
	"github.com/evalforge/evalforge/workermanager"
)

// FileSource is a peer a worker can pull a missing input blob from — in
// practice the server it is connected to, symmetric with rpcserver's own
// RequestFile method.
type FileSource interface {
	RequestFile(ctx context.Context, h hashid.H) (<-chan wire.FileContents, error)
}

// Worker serves rpcserver.WorkerAPI against a local sandbox backend.
type Worker struct {
	Executor   *localexec.LocalExecutor
	Store      *store.Store
	Cache      *workercache.Cache
	Manager    *workermanager.Manager
	Peer       FileSource // may be nil: then missing inputs are a hard error
	ExecutorID string     // non-empty enables CachingSameExecutor fingerprints

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New builds a Worker. numCores bounds the workermanager.Manager's core
// budget; maxPendingRequests additionally bounds how many requests may
// queue behind it before Evaluate starts returning StatusOverloaded
// (zero means unbounded, matching --pending-requests' default).
func New(exec *localexec.LocalExecutor, s *store.Store, cache *workercache.Cache, numCores, maxPendingRequests int32) *Worker {
	return &Worker{
		Executor: exec,
		Store:    s,
		Cache:    cache,
		Manager:  workermanager.NewWithPendingBudget(numCores, maxPendingRequests),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Evaluate implements rpcserver.WorkerAPI.
func (w *Worker) Evaluate(ctx context.Context, req wire.Request) (wire.Response, error) {
	fp := req.Fingerprint(w.ExecutorID)
	if cached, ok := w.Cache.GetResponse(fp); ok {
		cached.RequestID = req.ID
		cached.Cached = true
		return cached, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.setCancel(req.ID, cancel)
	defer w.clearCancel(req.ID)

	cost := int32(1)
	if req.Exclusive {
		cost = w.Manager.NumCores()
	}

	var resp wire.Response
	done := w.Manager.Schedule(runCtx, cost, func(ctx context.Context) error {
		var err error
		resp, err = w.Executor.Execute(req, w.fetch)
		return err
	})

	if err := <-done; err != nil {
		status := wire.StatusInternalError
		if err == workermanager.ErrOverloaded {
			status = wire.StatusOverloaded
		}
		return wire.Response{
			RequestID:    req.ID,
			Status:       status,
			ErrorMessage: err.Error(),
		}, nil
	}

	w.Cache.PutResponse(fp, resp)
	return resp, nil
}

// CancelRequest implements rpcserver.WorkerAPI. It cancels the context
// handed to the request's scheduled task; neither workermanager.Manager nor
// the Executor observes that context, so a queued request still runs and a
// running sandbox is not interrupted.
func (w *Worker) CancelRequest(ctx context.Context, requestID string) error {
	w.mu.Lock()
	cancel, ok := w.cancels[requestID]
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("worker: no running request %q", requestID)
	}
	cancel()
	return nil
}

// RequestFile implements rpcserver.WorkerAPI.
func (w *Worker) RequestFile(ctx context.Context, h hashid.H) (<-chan wire.FileContents, error) {
	out := make(chan wire.FileContents, 4)
	go func() {
		defer close(out)
		_ = w.Store.Read(h, func(c wire.FileContents) error {
			select {
			case out <- c:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		out <- wire.FileContents{}
	}()
	return out, nil
}

func (w *Worker) setCancel(id string, cancel context.CancelFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancels[id] = cancel
}

func (w *Worker) clearCancel(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.cancels, id)
}

// fetch satisfies localexec.Fetch by pulling a missing blob from w.Peer.
func (w *Worker) fetch(h hashid.H, dst io.Writer) error {
	if w.Peer == nil {
		return fmt.Errorf("worker: no peer configured to fetch missing blob %s", h)
	}
	chunks, err := w.Peer.RequestFile(context.Background(), h)
	if err != nil {
		return err
	}
	for c := range chunks {
		if len(c.Chunk) == 0 {
			break
		}
		if _, err := dst.Write(c.Chunk); err != nil {
			return err
		}
	}
	return nil
}
