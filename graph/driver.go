package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/evalforge/evalforge/hashid"
	"github.com/evalforge/evalforge/wire"
)

// Dispatcher is the subset of dispatcher.Dispatcher the Driver needs: a way
// to hand a Request to whichever Evaluator becomes free next.
type Dispatcher interface {
	AddRequest(ctx context.Context, req wire.Request) (wire.Response, error)
}

// ResponseCache is the subset of workercache.Cache the Driver needs to
// short-circuit a node whose fingerprint has already run somewhere.
type ResponseCache interface {
	GetResponse(fingerprint hashid.H) (wire.Response, bool)
	PutResponse(fingerprint hashid.H, resp wire.Response)
}

// Driver runs a Graph to completion: repeatedly dispatching ready nodes,
// threading output hashes back through the FileRef lattice, and propagating
// failure (a die_on_error node aborts the whole run; any other node's
// failure only strands its transitive dependents).
//
// Generalizes a task runner's buildGraph -> Sort -> run shape from "run
// every node in topological order, one at a time" to "run every layer
// concurrently": it walks g.Layers() in order, dispatching each layer's
// nodes concurrently and waiting for the whole layer before the next.
type Driver struct {
	Dispatcher  Dispatcher
	Cache       ResponseCache // optional; nil disables caching entirely
	ExecutorID  string        // non-empty enables CachingSameExecutor fingerprints
	Concurrency int           // max nodes dispatched at once per layer; <=0 means unbounded

	// BlobExists reports whether a hash is present in the store a cache hit
	// would be served from. Optional; when nil, cached responses are trusted
	// without verification.
	BlobExists func(hashid.H) bool
}

// NodeResult records what happened to one Execution during a Run, for
// callers that want to inspect outcomes beyond the returned error.
type NodeResult struct {
	ID          ExecutionID
	Response    wire.Response
	Unreachable bool
	Err         error
}

// Run drives g to completion, dispatching each topological layer's nodes
// concurrently. It returns the first die_on_error failure encountered, or
// the error for a cached response whose output blob is missing from the
// store, if any; other failures are recorded on the failing node and mark
// its transitive dependents unreachable, and do not stop the run.
func (d *Driver) Run(ctx context.Context, g *Graph) ([]NodeResult, error) {
	if g == nil {
		return nil, fmt.Errorf("graph: Run requires a non-nil Graph")
	}

	layers, err := g.Layers()
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		results []NodeResult
		unreach = make(map[ExecutionID]bool)
		aborted error
	)

	for _, layer := range layers {
		if aborted != nil {
			break
		}

		eg, egCtx := errgroup.WithContext(ctx)
		if d.Concurrency > 0 {
			eg.SetLimit(d.Concurrency)
		}

		for _, id := range layer {
			id := id
			exec, _ := g.Execution(id)

			mu.Lock()
			skip := false
			for _, dep := range exec.Deps() {
				if producer, ok := g.producedBy[dep]; ok && unreach[producer] {
					skip = true
					break
				}
			}
			mu.Unlock()

			if skip {
				mu.Lock()
				unreach[id] = true
				results = append(results, NodeResult{ID: id, Unreachable: true})
				mu.Unlock()
				continue
			}

			eg.Go(func() error {
				resp, runErr := d.runNode(egCtx, id, exec)

				mu.Lock()
				defer mu.Unlock()
				if runErr != nil {
					results = append(results, NodeResult{ID: id, Err: runErr})
					if exec.DieOnError || errors.Is(runErr, errMissingCachedBlob) {
						if aborted == nil {
							aborted = fmt.Errorf("graph: execution %d failed: %w", id, runErr)
						}
						return runErr
					}
					unreach[id] = true
					return nil
				}

				results = append(results, NodeResult{ID: id, Response: resp})
				if resp.Status != wire.StatusSuccess {
					if exec.DieOnError {
						if aborted == nil {
							aborted = fmt.Errorf("graph: execution %d returned %s: %s", id, resp.Status, resp.ErrorMessage)
						}
						return fmt.Errorf("execution %d: %s", id, resp.Status)
					}
					unreach[id] = true
					return nil
				}

				if err := exec.ApplyResponse(resp); err != nil {
					if exec.DieOnError {
						if aborted == nil {
							aborted = err
						}
						return err
					}
					unreach[id] = true
				}
				return nil
			})
		}

		if err := eg.Wait(); err != nil && aborted == nil {
			aborted = err
		}
	}

	if aborted != nil {
		return results, aborted
	}
	return results, nil
}

// runNode dispatches a single Execution, consulting the Response Cache
// first with the request's fingerprint when caching is enabled.
func (d *Driver) runNode(ctx context.Context, id ExecutionID, exec *Execution) (wire.Response, error) {
	req, err := exec.BuildRequest(id)
	if err != nil {
		return wire.Response{}, err
	}

	if d.Cache != nil && exec.CachingMode != wire.CachingNever {
		executorID := ""
		if exec.CachingMode == wire.CachingSameExecutor {
			executorID = d.ExecutorID
		}
		fp := req.Fingerprint(executorID)
		if cached, ok := d.Cache.GetResponse(fp); ok {
			if err := d.verifyCachedBlobs(cached); err != nil {
				return wire.Response{}, err
			}
			cached.RequestID = req.ID
			cached.Cached = true
			return cached, nil
		}

		resp, err := d.Dispatcher.AddRequest(ctx, req)
		if err != nil {
			return wire.Response{}, err
		}
		if resp.Status != wire.StatusInternalError {
			d.Cache.PutResponse(fp, resp)
		}
		return resp, nil
	}

	return d.Dispatcher.AddRequest(ctx, req)
}

// errMissingCachedBlob marks a cached response whose output blob is absent
// from the store; Run aborts on it whatever the node's DieOnError.
var errMissingCachedBlob = errors.New("graph: cached response references missing blob")

// verifyCachedBlobs checks that every output a cached response claims to
// have produced is actually present in the store: a cached response with
// an absent output blob is a runtime error.
func (d *Driver) verifyCachedBlobs(resp wire.Response) error {
	if d.BlobExists == nil {
		return nil
	}
	for _, out := range resp.Output {
		if out.Contents != nil {
			continue // inlined; nothing to look up in the store
		}
		if !d.BlobExists(out.Hash) {
			return fmt.Errorf("%w %s (output %q)", errMissingCachedBlob, out.Hash, out.Name)
		}
	}
	return nil
}
