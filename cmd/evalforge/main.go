// Command evalforge is the entry point for the worker, server, sandbox and
// run subcommands. Grounded on spok's cmd/spok/main.go: build
// the root cobra command, execute it, print any error with msg and exit 2.
package main

import (
	"context"
	"os"

	"github.com/FollowTheProcess/msg"

	"github.com/evalforge/evalforge/cli/cmd"
)

func main() {
	if err := run(); err != nil {
		msg.Error("%s", err)
		os.Exit(2)
	}
}

func run() error {
	ctx := context.Background()
	root := cmd.BuildRootCmd()
	return root.ExecuteContext(ctx)
}
