package cmd

import (
	"github.com/spf13/cobra"

	"github.com/evalforge/evalforge/cli/app"
)

func buildServerCmd(options *app.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run a server, pairing pending requests with idle workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newApp(options).Server()
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&options.ServerRPCAddress, "rpc-address", "", "Address to serve the request-submission RPC on.")
	flags.StringVar(&options.ServerHTTPAddress, "http-address", "", "Address to serve the status endpoint on.")
	flags.StringArrayVar(&options.Workers, "worker", nil, "Address of a worker to dial as an evaluator (repeatable).")

	return cmd
}
