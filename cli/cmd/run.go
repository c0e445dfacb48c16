package cmd

import (
	"github.com/spf13/cobra"

	"github.com/evalforge/evalforge/cli/app"
)

func buildRunCmd(options *app.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a manifest's graph of executions in-process, no server or workers needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newApp(options).Run()
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&options.Manifest, "manifest", "", "Path to a manifest YAML file.")
	flags.IntVar(&options.Concurrency, "concurrency", 0, "Maximum concurrent executions per layer (0 = unbounded).")
	flags.StringVar(&options.Backend, "backend", "process", "Sandbox backend to run executions through.")
	flags.Int32Var(&options.NumCores, "num-cores", 0, "Core budget (0 = detect).")

	return cmd
}
