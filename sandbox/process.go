package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Process is the one real default Sandbox backend: it runs the child via
// os/exec and applies resource limits with golang.org/x/sys/unix, but it is
// NOT an isolator. It shares the host's filesystem, network and process
// namespaces. A real ptrace/seccomp or Linux-namespaces isolator is treated
// as an external collaborator behind the same Sandbox interface — Process
// is the reference implementation of that interface, not a substitute for
// an isolator.
type Process struct{}

func init() {
	Register("process", func() Sandbox { return &Process{} })
}

// Execute implements Sandbox for Process.
func (p *Process) Execute(opts Options, info *Info) (ok bool, errMsg string) {
	wall := time.Duration(opts.WallLimitMillis) * time.Millisecond
	if opts.ExtraTimeSeconds > 0 {
		wall += time.Duration(opts.ExtraTimeSeconds * float64(time.Second))
	}
	ctx := context.Background()
	var cancel context.CancelFunc
	if wall > 0 {
		ctx, cancel = context.WithTimeout(ctx, wall)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, opts.Executable, opts.Args...)
	cmd.Dir = opts.Root

	stdin, stdout, stderr, cleanup, err := redirections(opts)
	if err != nil {
		return false, err.Error()
	}
	defer cleanup()
	cmd.Stdin, cmd.Stdout, cmd.Stderr = stdin, stdout, stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if strings.Contains(err.Error(), "exec format error") {
			return false, ErrExecFormat.Error()
		}
		return false, fmt.Sprintf("%s: %v", ErrSetupFailed, err)
	}

	// Best-effort: apply rlimits to the already-started child. There is an
	// unavoidable race between fork and this call since os/exec offers no
	// pre-exec hook; a real isolator would apply these before exec inside
	// the child itself. Acceptable for a non-isolating default backend.
	applyRlimits(cmd.Process.Pid, opts)

	waitErr := cmd.Wait()
	wall = time.Since(start)

	*info = Info{WallTimeMillis: wall.Milliseconds()}
	if state := cmd.ProcessState; state != nil {
		info.CPUTimeMillis = state.UserTime().Milliseconds()
		info.SysTimeMillis = state.SystemTime().Milliseconds()
		if usage, ok := state.SysUsage().(*syscall.Rusage); ok {
			info.MemoryUsageKB = maxRSSToKB(usage.Maxrss)
		}
	}

	if ctx.Err() == context.DeadlineExceeded {
		info.Signal = int(syscall.SIGKILL)
		return true, ""
	}

	if waitErr == nil {
		info.StatusCode = 0
		info.Signal = 0
		return true, ""
	}

	var exitErr *exec.ExitError
	if ok := asExitError(waitErr, &exitErr); ok {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				info.Signal = int(status.Signal())
			} else {
				info.StatusCode = status.ExitStatus()
			}
		}
		return true, ""
	}

	return false, fmt.Sprintf("%s: %v", ErrSetupFailed, waitErr)
}

func asExitError(err error, target **exec.ExitError) bool {
	exitErr, ok := err.(*exec.ExitError)
	if ok {
		*target = exitErr
	}
	return ok
}

// redirections opens the files named in opts and returns the readers/
// writers to attach to the child, plus a cleanup func to close them.
func redirections(opts Options) (stdin *os.File, stdout, stderr *os.File, cleanup func(), err error) {
	var opened []*os.File
	cleanup = func() {
		for _, f := range opened {
			f.Close()
		}
	}

	if opts.StdinFile != "" {
		stdin, err = os.Open(opts.StdinFile)
		if err != nil {
			return nil, nil, nil, cleanup, fmt.Errorf("could not open stdin file: %w", err)
		}
		opened = append(opened, stdin)
	}

	stdout, err = os.Create(opts.StdoutFile)
	if err != nil {
		cleanup()
		return nil, nil, nil, func() {}, fmt.Errorf("could not create stdout file: %w", err)
	}
	opened = append(opened, stdout)

	stderr, err = os.Create(opts.StderrFile)
	if err != nil {
		cleanup()
		return nil, nil, nil, func() {}, fmt.Errorf("could not create stderr file: %w", err)
	}
	opened = append(opened, stderr)

	return stdin, stdout, stderr, cleanup, nil
}

// applyRlimits sets the resource limits declared in opts on pid, ignoring
// individual failures: a limit of 0 means "unset" throughout evalforge, and
// not every limit is supported on every platform.
func applyRlimits(pid int, opts Options) {
	set := func(resource int, value int64) {
		if value <= 0 {
			return
		}
		rlim := unix.Rlimit{Cur: uint64(value), Max: uint64(value)}
		_ = unix.Prlimit(pid, resource, &rlim, nil)
	}

	if opts.CPULimitMillis > 0 {
		set(unix.RLIMIT_CPU, (opts.CPULimitMillis+999)/1000)
	}
	set(unix.RLIMIT_AS, opts.MemoryLimitKB*1024)
	set(unix.RLIMIT_NOFILE, opts.MaxFiles)
	set(unix.RLIMIT_NPROC, opts.MaxProcs)
	set(unix.RLIMIT_FSIZE, opts.MaxFileSizeKB*1024)
	set(unix.RLIMIT_MEMLOCK, opts.MaxMlockKB*1024)
	set(unix.RLIMIT_STACK, opts.MaxStackKB*1024)
}

// maxRSSToKB normalizes syscall.Rusage.Maxrss, which is already KB on
// Linux but bytes on Darwin, to KB.
func maxRSSToKB(maxrss int64) int64 {
	if maxrss <= 0 {
		return 0
	}
	if runtime.GOOS == "darwin" {
		return maxrss / 1024
	}
	return maxrss
}
