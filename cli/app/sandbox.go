package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/evalforge/evalforge/sandbox"
)

// Sandbox runs the sandbox subcommand: an ad-hoc invocation of one backend
// directly (no store, no RPC), for exercising or debugging a backend in
// isolation. args[0] is the executable, the rest its arguments; --shell
// reinterprets the whole line as a shell one-liner via the "shell" backend
// (mvdan.cc/sh/v3), letting `evalforge sandbox --shell` run on hosts with
// no shell binary at all.
func (a *App) Sandbox(args []string) error {
	cfg, err := a.setup()
	if err != nil {
		return err
	}
	defer a.logger.Sync() // nolint: errcheck

	if len(args) == 0 {
		return fmt.Errorf("app: sandbox requires a command to run")
	}

	backend := a.Options.Backend
	if a.Options.SandboxShell {
		backend = "shell"
	}
	if backend == "" {
		backend = "process"
	}

	sb, err := sandbox.New(backend)
	if err != nil {
		return err
	}

	root, err := os.MkdirTemp(cfg.TempDir, "sandbox-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(root)

	opts := sandbox.Options{
		Root:       root,
		Executable: args[0],
		Args:       args[1:],
		StdoutFile: filepath.Join(root, "stdout"),
		StderrFile: filepath.Join(root, "stderr"),
	}
	var info sandbox.Info

	ok, errMsg := sb.Execute(opts, &info)
	if !ok {
		return fmt.Errorf("app: sandbox backend %q failed: %s", backend, errMsg)
	}

	if out, readErr := os.Open(opts.StdoutFile); readErr == nil {
		_, _ = io.Copy(a.Stdout, out)
		out.Close()
	}
	if errOut, readErr := os.Open(opts.StderrFile); readErr == nil {
		_, _ = io.Copy(a.Stderr, errOut)
		errOut.Close()
	}

	a.printer.Infof(
		"exit=%d signal=%d wall=%dms cpu=%dms mem=%dKiB",
		info.StatusCode, info.Signal, info.WallTimeMillis, info.CPUTimeMillis, info.MemoryUsageKB,
	)
	return nil
}
