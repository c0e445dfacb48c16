// Package cmd implements the evalforge CLI's cobra command tree.
package cmd

import (
	"os"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/evalforge/evalforge/cli/app"
)

var (
	version = "dev" // evalforge version, set at compile time by ldflags
	commit  = ""    // evalforge's commit hash, set at compile time by ldflags
)

// BuildRootCmd builds and returns the root evalforge CLI command, with the
// worker/server/sandbox/run/status subcommands attached.
func BuildRootCmd() *cobra.Command {
	options := &app.Options{}

	root := &cobra.Command{
		Use:           "evalforge",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Short:         "A distributed, sandboxed evaluation engine",
		Long: heredoc.Doc(`

		evalforge is a distributed evaluation engine: a content-addressed store
		of blobs, sandboxed workers that run requests concurrently within a
		core budget under resource limits, and a server that pairs pending requests with idle
		workers.

		It exposes two long-running subcommands (worker, server), one debugging
		subcommand (sandbox), and a run subcommand for exercising the whole
		pipeline locally from a manifest file.
		`),
		Example: heredoc.Doc(`

		# Start a worker listening on 127.0.0.1:9876
		$ evalforge worker --name worker-1 --port 9876

		# Start a server dialing two workers
		$ evalforge server --worker localhost:9876 --worker localhost:9877

		# Run one command through the default process backend, no store or RPC involved
		$ evalforge sandbox -- echo hello

		# Run a manifest's graph of executions in-process
		$ evalforge run --manifest ./evalforge.yaml

		# Check a running worker's status
		$ evalforge status localhost:9877
		`),
	}

	flags := root.PersistentFlags()
	flags.StringVar(&options.ConfigFile, "config", "", "Path to the config file (defaults to an upward search for evalforge.yaml).")
	flags.StringVar(&options.LogFile, "logfile", "", "Path to write logs to (defaults to stderr).")
	flags.BoolVar(&options.Daemon, "daemon", false, "Run in the background (stub; see DESIGN.md).")
	flags.StringVar(&options.PidFile, "pidfile", "", "Path to write the process id to.")
	flags.StringVar(&options.StoreDir, "store-dir", "", "Content-addressed store directory (overrides the config file).")
	flags.StringVar(&options.TempDir, "temp-dir", "", "Sandbox scratch directory (overrides the config file).")
	flags.BoolVarP(&options.Verbose, "verbose", "v", false, "Enable debug logging.")

	root.AddCommand(
		buildWorkerCmd(options),
		buildServerCmd(options),
		buildSandboxCmd(options),
		buildRunCmd(options),
		buildStatusCmd(options),
	)

	root.SetUsageTemplate(usageTemplate)
	root.SetVersionTemplate(versionTemplate())

	return root
}

// newApp builds an app.App sharing the process's real stdout/stderr.
func newApp(options *app.Options) *app.App {
	return app.New(os.Stdout, os.Stderr, options)
}
