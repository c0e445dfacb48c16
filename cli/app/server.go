package app

import (
	"context"
	"net/http"
	"strings"

	jsonrpc "github.com/filecoin-project/go-jsonrpc"

	"github.com/evalforge/evalforge/dispatcher"
	"github.com/evalforge/evalforge/httpapi"
	"github.com/evalforge/evalforge/rpcclient"
	"github.com/evalforge/evalforge/wire"
)

// serverAPI is the tiny RPC surface a server exposes to submit requests,
// wrapping dispatcher.Dispatcher.AddRequest the same way rpcserver wraps
// worker.Worker: one adapter method per exported RPC call.
type serverAPI struct {
	d *dispatcher.Dispatcher
}

func (s *serverAPI) AddRequest(ctx context.Context, req wire.Request) (wire.Response, error) {
	return s.d.AddRequest(ctx, req)
}

// selfRequeuingEvaluator wraps a dispatcher.Evaluator so it re-advertises
// itself to the Dispatcher as soon as it finishes a job. dispatcher.Dispatcher
// itself is one-shot: AddEvaluator hands the evaluator to (at most) one
// request and forgets it. Without this, each --worker could serve exactly
// one request for the lifetime of the server.
type selfRequeuingEvaluator struct {
	dispatcher.Evaluator
	d   *dispatcher.Dispatcher
	ctx context.Context
}

func (e *selfRequeuingEvaluator) Evaluate(ctx context.Context, req wire.Request) (wire.Response, error) {
	resp, err := e.Evaluator.Evaluate(ctx, req)
	e.d.AddEvaluator(e.ctx, e)
	return resp, err
}

// serverRPCNamespace is the JSON-RPC namespace a server registers its
// request-submission method under.
const serverRPCNamespace = "Server"

// Server runs the server subcommand: a dispatcher.Dispatcher that dials out
// to every configured --worker address as an evaluator,
// and exposes both a submission RPC and a status HTTP surface.
func (a *App) Server() error {
	cfg, err := a.setup()
	if err != nil {
		return err
	}
	defer a.logger.Sync() // nolint: errcheck

	d := dispatcher.New()
	ctx := context.Background()

	var closers []func()
	defer func() {
		for _, closer := range closers {
			closer()
		}
	}()

	for _, workerAddr := range a.Options.Workers {
		workerURL := workerAddr
		if !strings.Contains(workerURL, "://") {
			workerURL = "ws://" + workerURL
		}
		client, closer, dialErr := rpcclient.Dial(ctx, workerURL, nil)
		if dialErr != nil {
			return dialErr
		}
		closers = append(closers, closer)
		evaluator := &selfRequeuingEvaluator{Evaluator: client, d: d, ctx: ctx}
		d.AddEvaluator(ctx, evaluator)
		a.printer.Infof("registered worker at %s", workerAddr)
	}

	rpc := jsonrpc.NewServer()
	rpc.Register(serverRPCNamespace, &serverAPI{d: d})

	rpcAddr := a.Options.ServerRPCAddress
	if rpcAddr == "" {
		rpcAddr = cfg.RPCAddress
	}
	httpAddr := a.Options.ServerHTTPAddress
	if httpAddr == "" {
		httpAddr = cfg.HTTPAddress
	}

	errs := make(chan error, 2)
	go func() { errs <- http.ListenAndServe(httpAddr, httpapi.NewServerHandler(d)) }()

	a.printer.Infof("server listening at %s (status on %s) with %d workers registered", rpcAddr, httpAddr, len(a.Options.Workers))

	go func() { errs <- http.ListenAndServe(rpcAddr, rpc) }()

	return <-errs
}
