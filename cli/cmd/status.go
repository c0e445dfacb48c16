package cmd

import (
	"github.com/spf13/cobra"

	"github.com/evalforge/evalforge/cli/app"
)

func buildStatusCmd(options *app.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <address>",
		Short: "Query a worker or server's status endpoint and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newApp(options).Status(args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&options.StatusKind, "kind", "worker", `Which status shape to expect: "worker" or "server".`)

	return cmd
}
