package sandbox

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// Shell is a Sandbox backend that interprets its command line as a shell
// one-liner using mvdan.cc/sh/v3's pure Go POSIX shell, an integrated
// interpreter that runs commands without depending on an external
// /bin/sh. It applies no resource isolation whatsoever; it exists
// so `evalforge sandbox --shell` can run ad-hoc shell snippets through the
// same Sandbox interface as every other backend, on hosts with no shell
// binary at all.
//
// opts.Executable and opts.Args are rejoined with spaces and reparsed as a
// single shell command; Shell does not exec opts.Executable directly.
type Shell struct{}

func init() {
	Register("shell", func() Sandbox { return &Shell{} })
}

// Execute implements Sandbox for Shell.
func (s *Shell) Execute(opts Options, info *Info) (ok bool, errMsg string) {
	line := opts.Executable
	if len(opts.Args) > 0 {
		line = strings.Join(append([]string{opts.Executable}, opts.Args...), " ")
	}

	parser := syntax.NewParser()
	prog, err := parser.Parse(strings.NewReader(line), "")
	if err != nil {
		return false, "not valid shell syntax: " + err.Error()
	}

	stdin, stdout, stderr, cleanup, err := redirections(opts)
	if err != nil {
		return false, err.Error()
	}
	defer cleanup()

	var in io.Reader = strings.NewReader("")
	if stdin != nil {
		in = stdin
	}

	runner, err := interp.New(
		interp.Params("-e"),
		interp.Env(expand.ListEnviron(os.Environ()...)),
		interp.ExecHandlers(func(interp.ExecHandlerFunc) interp.ExecHandlerFunc {
			return interp.DefaultExecHandler(0)
		}),
		interp.OpenHandler(interp.DefaultOpenHandler()),
		interp.StdIO(in, stdout, stderr),
		interp.Dir(opts.Root),
	)
	if err != nil {
		return false, ErrSetupFailed.Error() + ": " + err.Error()
	}

	ctx := context.Background()
	var cancel context.CancelFunc
	if opts.WallLimitMillis > 0 {
		wall := time.Duration(opts.WallLimitMillis)*time.Millisecond + time.Duration(opts.ExtraTimeSeconds*float64(time.Second))
		ctx, cancel = context.WithTimeout(ctx, wall)
		defer cancel()
	}

	start := time.Now()
	runErr := runner.Run(ctx, prog)
	wall := time.Since(start)

	*info = Info{WallTimeMillis: wall.Milliseconds(), CPUTimeMillis: wall.Milliseconds()}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		info.Signal = 9
		return true, ""
	}
	if runErr == nil {
		return true, ""
	}

	var status interp.ExitStatus
	if errors.As(runErr, &status) {
		info.StatusCode = int(status)
		return true, ""
	}

	return false, ErrSetupFailed.Error() + ": " + runErr.Error()
}
