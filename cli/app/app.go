// Package app implements evalforge's CLI functionality; the cli/cmd cobra
// tree defers execution to the exported methods on App, exactly as spok's
// cli/cmd defers to its own App.Run.
package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/FollowTheProcess/msg"

	"github.com/evalforge/evalforge/environment"
	"github.com/evalforge/evalforge/logger"
)

// Options holds every CLI flag across evalforge's subcommands, at
// their zero values if unset. One struct rather than one per subcommand
// keeps the cobra wiring in cli/cmd simple, mirroring spok's single
// app.Options for all of its flags.
type Options struct {
	// Global flags
	ConfigFile string // --config, overrides environment.Find
	LogFile    string // --logfile
	Daemon     bool   // --daemon (stub only, see SPEC_FULL.md Non-goals)
	PidFile    string // --pidfile
	StoreDir   string // --store-dir, overrides the config file
	TempDir    string // --temp-dir, overrides the config file
	Verbose    bool   // --verbose

	// worker flags
	WorkerHost      string // --server: host to listen on
	WorkerPort      uint16 // --port
	HTTPPort        uint16 // --http-port, status endpoint
	NumCores        int32  // --num-cores, 0 = detect
	PendingRequests int    // --pending-requests, max queued requests before Evaluate returns StatusOverloaded (0 = unbounded)
	Name            string // --name, this worker's executor id
	Backend         string // --backend, sandbox.Names() entry to run requests through

	// server flags
	ServerRPCAddress  string   // --rpc-address
	ServerHTTPAddress string   // --http-address
	Workers           []string // --worker, repeatable, workers to dial as evaluators

	// sandbox flags
	SandboxShell bool // --shell, run the command through the shell backend

	// run flags (manifest-driven local execution, see app/run.go)
	Manifest    string // --manifest, path to a manifest YAML file
	Concurrency int    // --concurrency, graph.Driver.Concurrency

	// status flags (see app/status.go)
	StatusKind string // "worker" or "server"
}

// App wires a logger and a pretty printer around Options.
type App struct {
	Stdout  io.Writer
	Stderr  io.Writer
	Options *Options

	logger  *logger.ZapLogger
	printer msg.Printer
}

// New creates a new App writing to stdout/stderr.
func New(stdout, stderr io.Writer, opts *Options) *App {
	printer := msg.Default()
	printer.Stdout = stdout
	printer.Stderr = stderr
	return &App{
		Stdout:  stdout,
		Stderr:  stderr,
		Options: opts,
		printer: printer,
	}
}

// setup builds the logger and resolves the effective environment.Config
// for this invocation: flags override whatever a config file says,
// following spok's app.setup() shape (logger first, then locate and load
// a config file, then auto-load its sibling .env).
func (a *App) setup() (environment.Config, error) {
	log, err := logger.NewZapLogger(a.Options.Verbose)
	if err != nil {
		return environment.Config{}, err
	}
	a.logger = log

	cwd, err := os.Getwd()
	if err != nil {
		return environment.Config{}, err
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return environment.Config{}, err
	}

	numCores := a.Options.NumCores
	if numCores <= 0 {
		numCores = int32(runtime.NumCPU())
	}

	cfg := environment.Default(cwd, numCores)

	configPath := a.Options.ConfigFile
	if configPath == "" {
		a.logger.Debug("looking for %s", environment.ConfigName)
		found, findErr := environment.Find(cwd, home)
		if findErr == nil {
			configPath = found
		}
	}

	if configPath != "" {
		loaded, loadErr := environment.Load(configPath)
		if loadErr != nil {
			return environment.Config{}, loadErr
		}
		a.logger.Debug("loaded config from %s", configPath)
		defaults := cfg
		cfg = loaded
		if cfg.NumCores <= 0 {
			cfg.NumCores = numCores
		}
		if cfg.StoreDir == "" {
			cfg.StoreDir = defaults.StoreDir
		}
		if cfg.TempDir == "" {
			cfg.TempDir = defaults.TempDir
		}
	}

	if a.Options.StoreDir != "" {
		cfg.StoreDir = a.Options.StoreDir
	}
	if a.Options.TempDir != "" {
		cfg.TempDir = a.Options.TempDir
	}
	if a.Options.Verbose {
		cfg.Verbose = true
	}

	for _, dir := range []string{cfg.StoreDir, cfg.TempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return environment.Config{}, fmt.Errorf("app: could not create %s: %w", dir, err)
		}
	}

	return cfg, nil
}

// absOrSame returns path made absolute, or path unchanged if that fails
// (used only for cosmetic log lines, never for behavior).
func absOrSame(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
