package cmd

import (
	"github.com/spf13/cobra"

	"github.com/evalforge/evalforge/cli/app"
)

func buildSandboxCmd(options *app.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:                "sandbox -- <executable> [args...]",
		Short:              "Run one command through a sandbox backend directly, no store or RPC",
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return newApp(options).Sandbox(args)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&options.Backend, "backend", "process", "Sandbox backend to run the command through.")
	flags.BoolVar(&options.SandboxShell, "shell", false, "Interpret the command line as a shell one-liner.")

	return cmd
}
