package sandbox

import (
	"fmt"
	"strings"
)

// Echo is a no-op Sandbox backend: it logs what it would have run and
// reports a trivial, always-successful Info, without touching the
// filesystem or spawning anything. Ported from cpp/sandbox/echo.cpp,
// useful for exercising the rest of the pipeline (staging, hashing,
// caching, RPC) without a real isolator.
type Echo struct {
	// Logf receives the "[FAKE] Executing ..." trace line. When left nil,
	// the line is discarded.
	Logf func(format string, args ...any)
}

func init() {
	Register("echo", func() Sandbox { return &Echo{} })
}

// Execute implements Sandbox for Echo.
func (e *Echo) Execute(opts Options, info *Info) (bool, string) {
	logf := e.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[FAKE] Executing %s", opts.Executable)
	for _, arg := range opts.Args {
		fmt.Fprintf(&b, " %s", arg)
	}
	logf("%s\nInside folder: %s", b.String(), opts.Root)

	*info = Info{}
	return true, ""
}
