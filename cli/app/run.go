package app

import (
	"context"
	"fmt"
	"sort"

	"github.com/evalforge/evalforge/graph"
	"github.com/evalforge/evalforge/localexec"
	"github.com/evalforge/evalforge/store"
	"github.com/evalforge/evalforge/wire"
	"github.com/evalforge/evalforge/workercache"

	"github.com/evalforge/evalforge/manifest"
)

// localDispatcher adapts a LocalExecutor to graph.Dispatcher, running every
// request in the same process with no RPC hop — the shape the run
// subcommand uses to exercise manifest+graph end to end without standing
// up a worker and server.
type localDispatcher struct {
	exec *localexec.LocalExecutor
}

func (d *localDispatcher) AddRequest(ctx context.Context, req wire.Request) (wire.Response, error) {
	return d.exec.Execute(req, nil)
}

// Run runs the run subcommand: load a manifest, run its graph to
// completion against an in-process LocalExecutor, and report the outcome
// of each execution. This is the local-testing counterpart to the
// worker+server pair: same graph.Driver, no RPC hop.
func (a *App) Run() error {
	cfg, err := a.setup()
	if err != nil {
		return err
	}
	defer a.logger.Sync() // nolint: errcheck

	if a.Options.Manifest == "" {
		return fmt.Errorf("app: run requires --manifest")
	}

	s, err := store.New(cfg.StoreDir)
	if err != nil {
		return err
	}

	result, err := manifest.Load(a.Options.Manifest, s)
	if err != nil {
		return err
	}

	cache, err := workercache.New(workercache.Config{})
	if err != nil {
		return err
	}
	defer cache.Close() // nolint: errcheck

	backend := a.Options.Backend
	if backend == "" {
		backend = "process"
	}

	numCores := a.Options.NumCores
	if numCores <= 0 {
		numCores = cfg.NumCores
	}

	exec := localexec.New(s, cfg.TempDir, backend, numCores)

	driver := &graph.Driver{
		Dispatcher:  &localDispatcher{exec: exec},
		Cache:       cache,
		Concurrency: a.Options.Concurrency,
		BlobExists:  s.Exists,
	}

	results, err := driver.Run(context.Background(), result.Graph)
	if err != nil {
		return err
	}

	names := make(map[graph.ExecutionID]string, len(result.ExecutionID))
	for name, id := range result.ExecutionID {
		names[id] = name
	}

	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	for _, r := range results {
		name := names[r.ID]
		switch {
		case r.Err != nil:
			a.printer.Errorf("%s: %v", name, r.Err)
		case r.Unreachable:
			a.printer.Warnf("%s: unreachable (a dependency failed)", name)
		default:
			a.printer.Goodf("%s: %s", name, r.Response.Status)
		}
	}

	return nil
}
