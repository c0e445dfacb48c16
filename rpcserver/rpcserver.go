// Package rpcserver exposes a worker's three-method wire protocol
// (evaluate, cancelRequest, requestFile) over JSON-RPC via
// github.com/filecoin-project/go-jsonrpc, replacing the original's capnproto
// schema compiler with plain Go structs (wire package) and reflection-based
// dispatch. Grounded on cpp/worker/executor.hpp's Executor, which implements
// exactly these three methods against the capnp Evaluator interface.
package rpcserver

import (
	"context"
	"net/http"

	jsonrpc "github.com/filecoin-project/go-jsonrpc"

	"github.com/evalforge/evalforge/hashid"
	"github.com/evalforge/evalforge/wire"
)

// Namespace is the JSON-RPC method namespace every evalforge worker serves
// under, e.g. the wire method name for Evaluate is "Worker.Evaluate".
const Namespace = "Worker"

// WorkerAPI is what a worker exposes to the server/dispatcher over RPC.
// localexec.LocalExecutor plus workercache.Cache satisfy the bulk of this
// through a thin adapter, worker.Worker; see cli/app's App.Worker for the
// concrete wiring.
type WorkerAPI interface {
	// Evaluate runs req and returns its Response.
	Evaluate(ctx context.Context, req wire.Request) (wire.Response, error)
	// CancelRequest asks the worker to abort a still-running evaluation.
	// Grounded on Executor::cancelRequest/canceled_evaluations_.
	CancelRequest(ctx context.Context, requestID string) error
	// RequestFile streams a blob's chunks back to the caller, terminated
	// by an empty final chunk, implementing the server's FileSender
	// callback direction in reverse (a worker pulling a blob it is
	// missing calls this on its peer). Grounded on
	// util::File::HandleRequestFile.
	RequestFile(ctx context.Context, h hashid.H) (<-chan wire.FileContents, error)
}

// Server adapts a WorkerAPI to an http.Handler serving JSON-RPC requests,
// upgrading to a websocket per go-jsonrpc's transport when the client asks
// for one.
type Server struct {
	rpc *jsonrpc.RPCServer
}

// New registers api under Namespace.
func New(api WorkerAPI) *Server {
	rpc := jsonrpc.NewServer()
	rpc.Register(Namespace, api)
	return &Server{rpc: rpc}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.rpc.ServeHTTP(w, r)
}

var _ http.Handler = (*Server)(nil)
