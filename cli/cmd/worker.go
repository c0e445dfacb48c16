package cmd

import (
	"github.com/spf13/cobra"

	"github.com/evalforge/evalforge/cli/app"
)

func buildWorkerCmd(options *app.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a worker, serving sandboxed execution over RPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newApp(options).Worker()
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&options.WorkerHost, "server", "127.0.0.1", "Host to listen on.")
	flags.Uint16Var(&options.WorkerPort, "port", 9876, "Port to listen on.")
	flags.Uint16Var(&options.HTTPPort, "http-port", 9877, "Port to serve the status endpoint on.")
	flags.Int32Var(&options.NumCores, "num-cores", 0, "Core budget (0 = detect).")
	flags.IntVar(&options.PendingRequests, "pending-requests", 0, "Max requests allowed to queue for core budget before new ones are rejected (0 = unbounded).")
	flags.StringVar(&options.Name, "name", "", "This worker's executor id.")
	flags.StringVar(&options.Backend, "backend", "process", "Sandbox backend to run requests through.")

	return cmd
}
