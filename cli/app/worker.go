package app

import (
	"net"
	"net/http"
	"strconv"

	"github.com/evalforge/evalforge/httpapi"
	"github.com/evalforge/evalforge/localexec"
	"github.com/evalforge/evalforge/rpcserver"
	"github.com/evalforge/evalforge/store"
	"github.com/evalforge/evalforge/worker"
	"github.com/evalforge/evalforge/workercache"
)

// Worker runs the worker subcommand: a standing process serving
// rpcserver.WorkerAPI over RPC and a status page over HTTP, exactly the
// composition worker.Worker documents.
func (a *App) Worker() error {
	cfg, err := a.setup()
	if err != nil {
		return err
	}
	defer a.logger.Sync() // nolint: errcheck

	s, err := store.New(cfg.StoreDir)
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
	w := worker.New(exec, s, cache, numCores, int32(a.Options.PendingRequests))
	w.ExecutorID = a.Options.Name

	host := a.Options.WorkerHost
	if host == "" {
		host = "127.0.0.1"
	}
	port := a.Options.WorkerPort
	if port == 0 {
		port = 9876
	}
	rpcAddr := net.JoinHostPort(host, strconv.Itoa(int(port)))

	httpPort := a.Options.HTTPPort
	if httpPort == 0 {
		httpPort = port + 1
	}
	httpAddr := net.JoinHostPort(host, strconv.Itoa(int(httpPort)))

	errs := make(chan error, 2)
	go func() { errs <- http.ListenAndServe(httpAddr, httpapi.NewWorkerHandler(w.Manager)) }()

	a.printer.Infof("worker %q listening at %s (status on %s, store %s, %d cores, pending budget %d)", w.ExecutorID, rpcAddr, httpAddr, absOrSame(cfg.StoreDir), numCores, a.Options.PendingRequests)

	go func() { errs <- http.ListenAndServe(rpcAddr, rpcserver.New(w)) }()

	return <-errs
}
