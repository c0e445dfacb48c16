// Package rpcclient dials a worker's JSON-RPC endpoint and exposes the
// same three-method protocol (rpcserver.WorkerAPI) as a typed client,
// using go-jsonrpc's reflection-based client construction: an exported
// struct of function fields is filled in to match the server's methods.
package rpcclient

import (
	"context"
	"fmt"
	"net/http"

	jsonrpc "github.com/filecoin-project/go-jsonrpc"

	"github.com/evalforge/evalforge/hashid"
	"github.com/evalforge/evalforge/rpcserver"
	"github.com/evalforge/evalforge/wire"
)

// Client is a connected worker's RPC surface.
type Client struct {
	Internal struct {
		Evaluate      func(ctx context.Context, req wire.Request) (wire.Response, error)
		CancelRequest func(ctx context.Context, requestID string) error
		RequestFile   func(ctx context.Context, h hashid.H) (<-chan wire.FileContents, error)
	}
}

// Dial connects to a worker at addr (a ws:// or http:// URL) and returns a
// Client plus a closer to call once done with it.
func Dial(ctx context.Context, addr string, headers http.Header) (*Client, func(), error) {
	var c Client
	closer, err := jsonrpc.NewClient(ctx, addr, rpcserver.Namespace, &c.Internal, headers)
	if err != nil {
		return nil, nil, fmt.Errorf("rpcclient: could not dial %s: %w", addr, err)
	}
	return &c, closer, nil
}

// Evaluate runs req against the connected worker.
func (c *Client) Evaluate(ctx context.Context, req wire.Request) (wire.Response, error) {
	return c.Internal.Evaluate(ctx, req)
}

// CancelRequest asks the connected worker to abort requestID.
func (c *Client) CancelRequest(ctx context.Context, requestID string) error {
	return c.Internal.CancelRequest(ctx, requestID)
}

// RequestFile streams a blob's chunks from the connected worker.
func (c *Client) RequestFile(ctx context.Context, h hashid.H) (<-chan wire.FileContents, error) {
	return c.Internal.RequestFile(ctx, h)
}
